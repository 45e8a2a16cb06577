// Package identity manages the SP's long-term P-256 identity key (and its
// audit-log Ed25519 sibling) outside of any single attestation session:
// generation, sealed-at-rest file storage, and rotation. Adapted from the
// retrieval pack's crypto/storage (in-memory key storage) and
// crypto/rotation (generic key rotator) onto this module's two concrete
// key types and its HPKE-based sealing (crypto/seal) instead of storing
// keys in the clear.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
	"github.com/sgx-ra/sgxra/crypto/keys"
	"github.com/sgx-ra/sgxra/crypto/seal"
)

// FileKeyStorage implements crypto.KeyStorage against a directory of
// HPKE-sealed files, one per key ID, sealed to an operator's X25519
// unsealing key so a stolen disk image does not also leak the SP's
// identity key.
type FileKeyStorage struct {
	dir      string
	sealer   *seal.Sealer
	unsealer *seal.Unsealer // nil if this process only ever stores, never loads

	mu sync.RWMutex
}

// NewFileKeyStorage creates (if needed) dir and returns a storage that
// seals every key it stores to sealer, and opens keys with unsealer.
// unsealer may be nil for a write-only deployment (e.g. a provisioning
// tool that never needs to load the key back).
func NewFileKeyStorage(dir string, sealer *seal.Sealer, unsealer *seal.Unsealer) (*FileKeyStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("identity: create storage dir: %w", err)
	}
	return &FileKeyStorage{dir: dir, sealer: sealer, unsealer: unsealer}, nil
}

func (s *FileKeyStorage) path(id string) string {
	return filepath.Join(s.dir, id+".sealed")
}

func pemOf(keyPair sgxracrypto.KeyPair) ([]byte, error) {
	switch kp := keyPair.(type) {
	case *keys.P256KeyPair:
		return kp.PEM()
	case *keys.Ed25519KeyPair:
		return kp.PEM()
	default:
		return nil, fmt.Errorf("%w: %s", sgxracrypto.ErrInvalidKeyType, keyPair.Type())
	}
}

func parsePEM(keyType sgxracrypto.KeyType, data []byte) (sgxracrypto.KeyPair, error) {
	switch keyType {
	case sgxracrypto.KeyTypeP256:
		return keys.LoadP256PrivateKeyPEM(data)
	case sgxracrypto.KeyTypeEd25519:
		return keys.LoadEd25519PrivateKeyPEM(data)
	default:
		return nil, fmt.Errorf("%w: %s", sgxracrypto.ErrInvalidKeyType, keyType)
	}
}

// Store seals keyPair's PEM encoding and writes it under id, prefixed with
// a one-line header recording its key type (read back by Load, since the
// sealed ciphertext itself carries no type information).
func (s *FileKeyStorage) Store(id string, keyPair sgxracrypto.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := pemOf(keyPair)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(plaintext, []byte(id))
	if err != nil {
		return fmt.Errorf("identity: seal key %s: %w", id, err)
	}

	out := append([]byte(string(keyPair.Type())+"\n"), sealed...)
	if err := os.WriteFile(s.path(id), out, 0600); err != nil {
		return fmt.Errorf("identity: write key %s: %w", id, err)
	}
	return nil
}

// Load opens and parses the key stored under id.
func (s *FileKeyStorage) Load(id string) (sgxracrypto.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.unsealer == nil {
		return nil, fmt.Errorf("identity: storage has no unsealing key configured")
	}

	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sgxracrypto.ErrKeyNotFound
		}
		return nil, fmt.Errorf("identity: read key %s: %w", id, err)
	}

	nl := strings.IndexByte(string(raw), '\n')
	if nl < 0 {
		return nil, fmt.Errorf("identity: key %s is malformed", id)
	}
	keyType := sgxracrypto.KeyType(raw[:nl])
	sealed := raw[nl+1:]

	plaintext, err := s.unsealer.Open(sealed, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("identity: unseal key %s: %w", id, err)
	}
	return parsePEM(keyType, plaintext)
}

// Delete removes the key stored under id.
func (s *FileKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return sgxracrypto.ErrKeyNotFound
		}
		return fmt.Errorf("identity: delete key %s: %w", id, err)
	}
	return nil
}

// List returns every stored key ID, sorted.
func (s *FileKeyStorage) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("identity: list storage dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".sealed"); ok {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a key is stored under id.
func (s *FileKeyStorage) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.path(id))
	return err == nil
}
