// Package seal provides at-rest encryption for long-term private key
// material, for sp/identity's file-backed key storage. It is a thin layer
// over crypto/keys' HPKE helpers (X25519KeyPair), itself adapted from the
// retrieval pack's crypto/vault sealing concern onto an HPKE (RFC 9180)
// base rather than a KMS/vault API, since nothing in this module talks to
// an external secrets manager.
package seal

import (
	"crypto/ecdh"
	"encoding/pem"
	"fmt"

	"github.com/sgx-ra/sgxra/crypto/keys"
)

// Sealer seals key material to a single X25519 recipient (the operator's
// offline unsealing key); opening is done by an Unsealer. Only the public
// half needs to be resident where keys are sealed; the private half lives
// offline and is only needed to open a sealed bundle back up.
type Sealer struct {
	recipient *ecdh.PublicKey
}

// NewSealer builds a Sealer that seals to recipientPub's X25519 public key.
func NewSealer(recipientPub *ecdh.PublicKey) *Sealer {
	return &Sealer{recipient: recipientPub}
}

// NewSealerFromPublicKeyPEM parses a PEM block whose body is a raw 32-byte
// X25519 public key, as written by keys.X25519KeyPair.PublicKeyPEM. The
// block type is not checked, and a PKIX-encoded key is not accepted.
func NewSealerFromPublicKeyPEM(data []byte) (*Sealer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("seal: no PEM block found")
	}
	pub, err := ecdh.X25519().NewPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("seal: parse x25519 public key: %w", err)
	}
	return &Sealer{recipient: pub}, nil
}

// Seal encrypts plaintext (typically a PEM-encoded private key) for the
// sealer's recipient, authenticating aad (typically the key's storage ID)
// without encrypting it.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	return keys.HPKESealToX25519Peer(s.recipient, plaintext, aad)
}

// Unsealer opens bundles a matching Sealer produced. It holds the X25519
// private key and is only ever instantiated where a key actually needs to
// be loaded for use, never where it is merely stored.
type Unsealer struct {
	key *keys.X25519KeyPair
}

// NewUnsealer wraps an X25519 key pair as an Unsealer.
func NewUnsealer(key *keys.X25519KeyPair) *Unsealer {
	return &Unsealer{key: key}
}

// Open decrypts a bundle Seal produced, checking aad against what was
// sealed in.
func (u *Unsealer) Open(sealed, aad []byte) ([]byte, error) {
	pt, err := u.key.HPKEOpenFromX25519Peer(sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("seal: open: %w", err)
	}
	return pt, nil
}
