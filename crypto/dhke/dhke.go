// Package dhke implements the one-way authenticated Diffie-Hellman key
// exchange over NIST P-256 used to establish a session's KDK: the SP signs
// g_b‖g_a with its long-term identity key, and the enclave verifies that
// signature with the SP's known public key before trusting the derived
// secret. Ephemeral keypairs are consume-once: a key exchange that has
// already produced its shared secret must not be reused for a second
// derivation, mirroring the move-once semantics of the original
// implementation's Option::take().
package dhke

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/sgx-ra/sgxra/crypto/cmac"
	"github.com/sgx-ra/sgxra/crypto/keys"
)

// EphemeralKeyPair is a one-shot P-256 ECDH keypair (g_a or g_b on the
// wire). Calling Consume twice is a programming error and panics, the same
// way the original implementation panics on a double Option::take().
type EphemeralKeyPair struct {
	priv     *ecdh.PrivateKey
	consumed bool
}

// GenerateEphemeralKeyPair generates a new ephemeral P-256 ECDH keypair.
func GenerateEphemeralKeyPair() (*EphemeralKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("dhke: generate ephemeral key: %w", err)
	}
	return &EphemeralKeyPair{priv: priv}, nil
}

// PublicKeyBytes returns the 64-byte little-endian X‖Y wire encoding
// (DHKEPublicKey), safe to call any number of times.
func (e *EphemeralKeyPair) PublicKeyBytes() []byte {
	wireLE, err := keys.EncodeECPointLE(e.priv.PublicKey().Bytes())
	if err != nil {
		// e.priv.PublicKey().Bytes() is always a valid 65-byte SEC1 point
		// produced by crypto/ecdh for P256; this cannot fail.
		panic(err)
	}
	return wireLE
}

// Consume returns the private key for use in a single key-agreement
// operation. It panics if called a second time on the same keypair.
func (e *EphemeralKeyPair) Consume() *ecdh.PrivateKey {
	if e.consumed {
		panic("dhke: ephemeral keypair already consumed")
	}
	e.consumed = true
	return e.priv
}

func parseWirePublicKey(wireLE []byte) (*ecdh.PublicKey, error) {
	sec1, err := keys.DecodeECPointLE(wireLE)
	if err != nil {
		return nil, err
	}
	return ecdh.P256().NewPublicKey(sec1)
}

// SignAndDerive is the SP-side half of the exchange (process_msg_1): given
// the client's ephemeral public key g_a, it generates its own ephemeral
// g_b, signs g_b‖g_a with the SP's long-term P-256 identity key, derives
// the KDK from the ECDH shared secret, and consumes its ephemeral keypair.
// It returns g_b's public bytes, the 64-byte signature, and a CMAC context
// keyed on the KDK ready for DeriveSecretKeys.
func SignAndDerive(spIdentity *keys.P256KeyPair, gaBytes []byte) (gbBytes, signature []byte, kdkCmac *cmac.Context, err error) {
	ephemeral, err := GenerateEphemeralKeyPair()
	if err != nil {
		return nil, nil, nil, err
	}
	return SignAndDeriveWithEphemeral(spIdentity, gaBytes, ephemeral)
}

// SignAndDeriveWithEphemeral is SignAndDerive against a caller-supplied
// ephemeral keypair, for orchestrators (the SP) that generate g_b at
// session Init and consume it later during MSG1 processing rather than
// generating it fresh per call.
func SignAndDeriveWithEphemeral(spIdentity *keys.P256KeyPair, gaBytes []byte, ephemeral *EphemeralKeyPair) (gbBytes, signature []byte, kdkCmac *cmac.Context, err error) {
	gaPub, err := parseWirePublicKey(gaBytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dhke: invalid peer public key g_a: %w", err)
	}

	gbBytes = ephemeral.PublicKeyBytes()
	priv := ephemeral.Consume()

	shared, err := priv.ECDH(gaPub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dhke: ecdh: %w", err)
	}

	transcript := append(append([]byte{}, gbBytes...), gaBytes...)
	signature, err = spIdentity.Sign(transcript)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dhke: sign g_b||g_a: %w", err)
	}

	kdkCmac, err = kdkCmacFromSharedSecret(shared)
	if err != nil {
		return nil, nil, nil, err
	}
	return gbBytes, signature, kdkCmac, nil
}

// VerifyAndDerive is the enclave-side half of the exchange
// (process_msg_2): given its own consumed ephemeral keypair, the SP's
// ephemeral public key g_b, the signature over g_b‖g_a, and the SP's known
// long-term public key, it verifies the signature and derives the KDK. An
// invalid signature returns an error and no key material.
func VerifyAndDerive(ephemeral *EphemeralKeyPair, gbBytes, signature []byte, spPublicKey *ecdsa.PublicKey) (kdkCmac *cmac.Context, err error) {
	gaBytes := ephemeral.PublicKeyBytes()
	transcript := append(append([]byte{}, gbBytes...), gaBytes...)
	if err := keys.VerifyP256Signature(spPublicKey, transcript, signature); err != nil {
		return nil, fmt.Errorf("dhke: sign_gb_ga verification failed: %w", err)
	}

	gbPub, err := parseWirePublicKey(gbBytes)
	if err != nil {
		return nil, fmt.Errorf("dhke: invalid peer public key g_b: %w", err)
	}
	priv := ephemeral.Consume()
	shared, err := priv.ECDH(gbPub)
	if err != nil {
		return nil, fmt.Errorf("dhke: ecdh: %w", err)
	}

	return kdkCmacFromSharedSecret(shared)
}

// kdkCmacFromSharedSecret computes KDK = AES-128-CMAC(0^16, shared_secret)
// where shared_secret is the ECDH X-coordinate, per the SGX key-derivation
// convention, and returns a CMAC context keyed on it.
func kdkCmacFromSharedSecret(shared []byte) (*cmac.Context, error) {
	var zeroKey [16]byte
	kdk, err := cmac.Sum(zeroKey[:], shared)
	if err != nil {
		return nil, fmt.Errorf("dhke: derive kdk: %w", err)
	}
	return cmac.New(kdk)
}
