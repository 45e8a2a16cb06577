package identity

import (
	"crypto"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
	"github.com/sgx-ra/sgxra/crypto/keys"
)

// PEMCodec implements crypto.KeyExporter and crypto.KeyImporter for this
// module's two key types, in the PEM format each already natively
// produces/consumes (crypto/keys/{p256,ed25519}.go). Only KeyFormatPEM is
// supported: there is no JWK consumer anywhere in this system.
// ExportPublic and ImportPublic handle P-256 keys only; an Ed25519 key
// pair passed to ExportPublic yields ErrInvalidKeyType.
type PEMCodec struct{}

func (PEMCodec) Export(keyPair sgxracrypto.KeyPair, format sgxracrypto.KeyFormat) ([]byte, error) {
	if format != sgxracrypto.KeyFormatPEM {
		return nil, sgxracrypto.ErrInvalidKeyFormat
	}
	return pemOf(keyPair)
}

func (PEMCodec) ExportPublic(keyPair sgxracrypto.KeyPair, format sgxracrypto.KeyFormat) ([]byte, error) {
	if format != sgxracrypto.KeyFormatPEM {
		return nil, sgxracrypto.ErrInvalidKeyFormat
	}
	switch kp := keyPair.(type) {
	case *keys.P256KeyPair:
		return kp.PublicKeyPEM()
	default:
		return nil, sgxracrypto.ErrInvalidKeyType
	}
}

func (PEMCodec) Import(data []byte, format sgxracrypto.KeyFormat) (sgxracrypto.KeyPair, error) {
	if format != sgxracrypto.KeyFormatPEM {
		return nil, sgxracrypto.ErrInvalidKeyFormat
	}
	if kp, err := keys.LoadP256PrivateKeyPEM(data); err == nil {
		return kp, nil
	}
	return keys.LoadEd25519PrivateKeyPEM(data)
}

func (PEMCodec) ImportPublic(data []byte, format sgxracrypto.KeyFormat) (crypto.PublicKey, error) {
	if format != sgxracrypto.KeyFormatPEM {
		return nil, sgxracrypto.ErrInvalidKeyFormat
	}
	return keys.ParseP256PublicKeyPEM(data)
}
