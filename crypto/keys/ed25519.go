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
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
)

// Ed25519KeyPair signs SP attestation audit records. It is never used in the
// attestation protocol itself, which is authenticated by the P-256 SP
// identity key (see p256.go) and the CMAC subkeys derived per session.
type Ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a new Ed25519 key pair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(publicKey)
	id := hex.EncodeToString(hash[:8])

	return &Ed25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

func (kp *Ed25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *Ed25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *Ed25519KeyPair) Type() sgxracrypto.KeyType     { return sgxracrypto.KeyTypeEd25519 }
func (kp *Ed25519KeyPair) ID() string                    { return kp.id }

func (kp *Ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *Ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return sgxracrypto.ErrInvalidSignature
	}
	return nil
}

// LoadEd25519PrivateKeyPEM parses a PKCS#8 "PRIVATE KEY" PEM block (the
// format PEM produces), used by sp/identity's key storage.
func LoadEd25519PrivateKeyPEM(data []byte) (*Ed25519KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("pem block does not contain an Ed25519 key")
	}
	hash := sha256.Sum256(priv.Public().(ed25519.PublicKey))
	return &Ed25519KeyPair{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
		id:         hex.EncodeToString(hash[:8]),
	}, nil
}

// PEM serializes the private key as a PKCS#8 "PRIVATE KEY" PEM block.
func (kp *Ed25519KeyPair) PEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.privateKey)
	if err != nil {
		return nil, fmt.Errorf("marshal pkcs8 private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
