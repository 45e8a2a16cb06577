package identity

import (
	"fmt"
	"sync"
	"time"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
	"github.com/sgx-ra/sgxra/crypto/keys"
)

// Rotator rotates a stored key in place: generate a fresh key of the same
// type, store it under the same ID, and keep a history of the swap. The
// SP's own rotation caller (see Manager.RotateIdentity) is responsible for
// re-distributing the new public key to every enclave it attests, since
// unlike the session-scoped DHKE keys, the identity key's public half is
// long-lived and out-of-band trusted.
type Rotator struct {
	storage sgxracrypto.KeyStorage

	mu       sync.Mutex
	config   sgxracrypto.KeyRotationConfig
	history  map[string][]sgxracrypto.KeyRotationEvent
	rotating map[string]bool
}

// NewRotator builds a Rotator over storage, with old keys discarded by
// default.
func NewRotator(storage sgxracrypto.KeyStorage) *Rotator {
	return &Rotator{
		storage:  storage,
		history:  make(map[string][]sgxracrypto.KeyRotationEvent),
		rotating: make(map[string]bool),
	}
}

// SetRotationConfig updates the rotator's configuration.
func (r *Rotator) SetRotationConfig(config sgxracrypto.KeyRotationConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
}

// Rotate loads the key stored under id, generates a fresh key of the same
// type, stores it back under id, and (if configured) keeps the old key
// under a derived ID. Concurrent rotations of the same id are rejected
// rather than serialized, since a caller racing itself here is a bug.
func (r *Rotator) Rotate(id string) (sgxracrypto.KeyPair, error) {
	r.mu.Lock()
	if r.rotating[id] {
		r.mu.Unlock()
		return nil, fmt.Errorf("identity: key %s is already being rotated", id)
	}
	r.rotating[id] = true
	keepOld := r.config.KeepOldKeys
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.rotating, id)
		r.mu.Unlock()
	}()

	oldKeyPair, err := r.storage.Load(id)
	if err != nil {
		return nil, err
	}

	var newKeyPair sgxracrypto.KeyPair
	switch oldKeyPair.Type() {
	case sgxracrypto.KeyTypeP256:
		newKeyPair, err = keys.GenerateP256KeyPair()
	case sgxracrypto.KeyTypeEd25519:
		newKeyPair, err = keys.GenerateEd25519KeyPair()
	default:
		return nil, fmt.Errorf("identity: unsupported key type for rotation: %s", oldKeyPair.Type())
	}
	if err != nil {
		return nil, fmt.Errorf("identity: generate replacement key: %w", err)
	}

	if keepOld {
		oldID := fmt.Sprintf("%s.old.%s", id, oldKeyPair.ID())
		if err := r.storage.Store(oldID, oldKeyPair); err != nil {
			return nil, fmt.Errorf("identity: retain old key: %w", err)
		}
	}
	if err := r.storage.Store(id, newKeyPair); err != nil {
		return nil, fmt.Errorf("identity: store rotated key: %w", err)
	}

	r.mu.Lock()
	r.history[id] = append(r.history[id], sgxracrypto.KeyRotationEvent{
		Timestamp: time.Now(),
		OldKeyID:  oldKeyPair.ID(),
		NewKeyID:  newKeyPair.ID(),
		Reason:    "manual rotation",
	})
	r.mu.Unlock()

	return newKeyPair, nil
}

// GetRotationHistory returns id's rotation events, newest first.
func (r *Rotator) GetRotationHistory(id string) ([]sgxracrypto.KeyRotationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.history[id]
	out := make([]sgxracrypto.KeyRotationEvent, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out, nil
}
