// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
)

// P256KeyPair is the SP's long-term identity key. The enclave's trust in a
// session rests on verifying MSG2's signature with the corresponding public
// key (see crypto/dhke), so this key type, unlike the per-session ephemeral
// DHKE keypair, is long-lived and persisted to disk.
type P256KeyPair struct {
	privateKey *ecdsa.PrivateKey
	id         string
}

// GenerateP256KeyPair generates a new NIST P-256 ECDSA key pair.
func GenerateP256KeyPair() (*P256KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}
	return newP256KeyPair(priv), nil
}

func newP256KeyPair(priv *ecdsa.PrivateKey) *P256KeyPair {
	pub := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	hash := sha256.Sum256(pub)
	return &P256KeyPair{privateKey: priv, id: hex.EncodeToString(hash[:8])}
}

// LoadP256PrivateKeyPEM parses an EC PRIVATE KEY PEM block (SEC1, the
// format x509.MarshalECPrivateKey produces).
func LoadP256PrivateKeyPEM(data []byte) (*P256KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse EC private key: %w", err)
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("unsupported curve %s, want P-256", priv.Curve.Params().Name)
	}
	return newP256KeyPair(priv), nil
}

// PEM serializes the private key as a SEC1 "EC PRIVATE KEY" PEM block.
func (kp *P256KeyPair) PEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(kp.privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal EC private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyPEM serializes the public key as a PKIX "PUBLIC KEY" PEM block.
func (kp *P256KeyPair) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&kp.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func (kp *P256KeyPair) PublicKey() crypto.PublicKey   { return &kp.privateKey.PublicKey }
func (kp *P256KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *P256KeyPair) Type() sgxracrypto.KeyType      { return sgxracrypto.KeyTypeP256 }
func (kp *P256KeyPair) ID() string                     { return kp.id }

// Sign hashes message with SHA-256 and produces a 64-byte raw r‖s signature,
// matching the wire format the attestation protocol signs g_b‖g_a with.
func (kp *P256KeyPair) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, kp.privateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return serializeP256Signature(r, s), nil
}

// Verify checks a 64-byte raw r‖s signature over SHA-256(message).
func (kp *P256KeyPair) Verify(message, signature []byte) error {
	return VerifyP256Signature(&kp.privateKey.PublicKey, message, signature)
}

// VerifyP256Signature checks a 64-byte raw r‖s signature against an
// arbitrary P-256 public key (used by the enclave, which only ever holds
// the SP's public key, never its private key).
func VerifyP256Signature(pub *ecdsa.PublicKey, message, signature []byte) error {
	r, s, err := deserializeP256Signature(signature)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return sgxracrypto.ErrInvalidSignature
	}
	return nil
}

// serializeP256Signature encodes r and s as 32-byte little-endian values,
// the Signature wire convention this protocol uses throughout (SGX stores
// EC coordinates and signature components little-endian).
func serializeP256Signature(r, s *big.Int) []byte {
	out := make([]byte, 64)
	be := make([]byte, 32)
	r.FillBytes(be)
	reverseInto(out[0:32], be)
	s.FillBytes(be)
	reverseInto(out[32:64], be)
	return out
}

func deserializeP256Signature(data []byte) (*big.Int, *big.Int, error) {
	if len(data) != 64 {
		return nil, nil, fmt.Errorf("invalid signature length %d, want 64", len(data))
	}
	rBE := make([]byte, 32)
	sBE := make([]byte, 32)
	reverseInto(rBE, data[0:32])
	reverseInto(sBE, data[32:64])
	r := new(big.Int).SetBytes(rBE)
	s := new(big.Int).SetBytes(sBE)
	return r, s, nil
}

func reverseInto(dst, src []byte) {
	for i := range src {
		dst[i] = src[len(src)-1-i]
	}
}

// ParseP256PublicKeyPEM parses a PKIX "PUBLIC KEY" PEM block (the format
// PublicKeyPEM produces) into a P-256 public key, used by the enclave,
// which only ever holds the SP's public key.
func ParseP256PublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	if ecdsaPub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("unsupported curve %s, want P-256", ecdsaPub.Curve.Params().Name)
	}
	return ecdsaPub, nil
}

// ParseP256PublicKey parses a standard uncompressed SEC1 point (0x04‖X‖Y,
// 65 bytes, big-endian), the encoding PEM/PKIX keys use. This is distinct
// from the 64-byte little-endian DHKEPublicKey wire encoding the SGX
// convention uses for ephemeral points, handled by EncodeECPointLE /
// DecodeECPointLE below.
func ParseP256PublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return nil, fmt.Errorf("invalid P-256 point encoding")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// EncodeECPointLE converts a standard big-endian SEC1 uncompressed point
// (0x04‖X‖Y, 65 bytes) into the 64-byte little-endian X‖Y wire encoding
// DHKEPublicKey uses, per the SGX ISA convention for EC coordinates.
func EncodeECPointLE(sec1 []byte) ([]byte, error) {
	if len(sec1) != 65 || sec1[0] != 0x04 {
		return nil, fmt.Errorf("expected 65-byte uncompressed SEC1 point, got %d bytes", len(sec1))
	}
	out := make([]byte, 64)
	reverseInto(out[0:32], sec1[1:33])
	reverseInto(out[32:64], sec1[33:65])
	return out, nil
}

// DecodeECPointLE converts a 64-byte little-endian X‖Y wire encoding back
// into a standard big-endian SEC1 uncompressed point (0x04‖X‖Y, 65 bytes).
func DecodeECPointLE(wireLE []byte) ([]byte, error) {
	if len(wireLE) != 64 {
		return nil, fmt.Errorf("expected 64-byte DHKEPublicKey, got %d bytes", len(wireLE))
	}
	sec1 := make([]byte, 65)
	sec1[0] = 0x04
	reverseInto(sec1[1:33], wireLE[0:32])
	reverseInto(sec1[33:65], wireLE[32:64])
	return sec1, nil
}
