// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"

	"github.com/cloudflare/circl/hpke"
)

// X25519KeyPair holds an X25519 private key and its corresponding public key.
// It is used by sp/identity to seal the SP's long-term signing key at rest,
// never in the attestation protocol's own key exchange (that uses NIST
// P-256, see crypto/dhke).
type X25519KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// GenerateX25519KeyPair generates a new X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	privateKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate X25519 key: %w", err)
	}
	publicKey := privateKey.PublicKey()
	hash := sha256.Sum256(publicKey.Bytes())
	id := hex.EncodeToString(hash[:8])

	return &X25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// NewX25519PrivateKeyFromBytes loads a raw 32-byte X25519 scalar.
func NewX25519PrivateKeyFromBytes(raw []byte) (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid X25519 private key: %w", err)
	}
	pub := priv.PublicKey()
	hash := sha256.Sum256(pub.Bytes())
	return &X25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         hex.EncodeToString(hash[:8]),
	}, nil
}

func (kp *X25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *X25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *X25519KeyPair) Type() sgxracrypto.KeyType      { return sgxracrypto.KeyTypeX25519 }
func (kp *X25519KeyPair) ID() string                     { return kp.id }
func (kp *X25519KeyPair) PublicBytes() []byte            { return kp.publicKey.Bytes() }

// PublicKeyPEM wraps the raw 32-byte public key in a PEM block, for
// distributing the operator's unsealing public key to wherever keys are
// sealed.
func (kp *X25519KeyPair) PublicKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "X25519 PUBLIC KEY", Bytes: kp.publicKey.Bytes()})
}

// Sign is unsupported: X25519 is a key-agreement-only curve.
func (kp *X25519KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, sgxracrypto.ErrSignNotSupported
}

// Verify is unsupported: X25519 is a key-agreement-only curve.
func (kp *X25519KeyPair) Verify(message, signature []byte) error {
	return sgxracrypto.ErrVerifyNotSupported
}

var hpkeSuite = hpke.NewSuite(
	hpke.KEM_X25519_HKDF_SHA256,
	hpke.KDF_HKDF_SHA256,
	hpke.AEAD_ChaCha20Poly1305,
)

// HPKESealToX25519Peer seals plaintext (the SP's PEM-encoded private key
// bundle) to the recipient's X25519 public key, returning enc||ciphertext.
func HPKESealToX25519Peer(peer *ecdh.PublicKey, plaintext, aad []byte) ([]byte, error) {
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(peer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("hpke unmarshal pub: %w", err)
	}
	sender, err := hpkeSuite.NewSender(rp, nil)
	if err != nil {
		return nil, fmt.Errorf("hpke new sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("hpke setup: %w", err)
	}
	ct, err := sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("hpke seal: %w", err)
	}
	return append(append([]byte{}, enc...), ct...), nil
}

// HPKEOpenFromX25519Peer reverses HPKESealToX25519Peer using the
// recipient's X25519 private key.
func (kp *X25519KeyPair) HPKEOpenFromX25519Peer(packet, aad []byte) ([]byte, error) {
	const encLen = 32
	if len(packet) < encLen {
		return nil, fmt.Errorf("sealed packet too short: %d bytes", len(packet))
	}
	enc, ct := packet[:encLen], packet[encLen:]

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(kp.privateKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("hpke unmarshal priv: %w", err)
	}
	receiver, err := hpkeSuite.NewReceiver(skR, nil)
	if err != nil {
		return nil, fmt.Errorf("hpke new receiver: %w", err)
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("hpke receiver setup: %w", err)
	}
	pt, err := opener.Open(ct, aad)
	if err != nil {
		return nil, fmt.Errorf("hpke open: %w", err)
	}
	return pt, nil
}
