package identity

import (
	"fmt"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
	"github.com/sgx-ra/sgxra/crypto/keys"
)

// Manager is the SP's key-management facade: it generates, persists, and
// rotates both keys an SP deployment holds long-term (its P-256 DHKE
// identity key and its Ed25519 audit-signing key), implementing
// crypto.KeyManager in full.
type Manager struct {
	storage sgxracrypto.KeyStorage
	rotator *Rotator
	codec   PEMCodec
}

// NewManager builds a Manager over an already-constructed storage backend
// (typically a FileKeyStorage).
func NewManager(storage sgxracrypto.KeyStorage) *Manager {
	return &Manager{storage: storage, rotator: NewRotator(storage), codec: PEMCodec{}}
}

func (m *Manager) GenerateKeyPair(keyType sgxracrypto.KeyType) (sgxracrypto.KeyPair, error) {
	switch keyType {
	case sgxracrypto.KeyTypeP256:
		return keys.GenerateP256KeyPair()
	case sgxracrypto.KeyTypeEd25519:
		return keys.GenerateEd25519KeyPair()
	default:
		return nil, fmt.Errorf("identity: %w: %s", sgxracrypto.ErrInvalidKeyType, keyType)
	}
}

func (m *Manager) GetExporter() sgxracrypto.KeyExporter { return m.codec }
func (m *Manager) GetImporter() sgxracrypto.KeyImporter { return m.codec }
func (m *Manager) GetStorage() sgxracrypto.KeyStorage    { return m.storage }
func (m *Manager) GetRotator() sgxracrypto.KeyRotator     { return m.rotator }

// ProvisionIdentity generates a fresh P-256 identity key, stores it under
// id, and returns it so the caller can publish its public half to every
// enclave (and, separately, the SP configuration's sp_public_key_pem_path)
// before the SP starts serving sessions.
func (m *Manager) ProvisionIdentity(id string) (*keys.P256KeyPair, error) {
	kp, err := keys.GenerateP256KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate identity key: %w", err)
	}
	if err := m.storage.Store(id, kp); err != nil {
		return nil, fmt.Errorf("identity: store identity key: %w", err)
	}
	return kp, nil
}

// LoadIdentity loads the P-256 identity key stored under id.
func (m *Manager) LoadIdentity(id string) (*keys.P256KeyPair, error) {
	kp, err := m.storage.Load(id)
	if err != nil {
		return nil, err
	}
	p256, ok := kp.(*keys.P256KeyPair)
	if !ok {
		return nil, fmt.Errorf("identity: key %s is a %s, not a P-256 identity key", id, kp.Type())
	}
	return p256, nil
}

// ProvisionAuditKey generates a fresh Ed25519 audit-signing key and stores
// it under id, for use with audit.NewSigner.
func (m *Manager) ProvisionAuditKey(id string) (*keys.Ed25519KeyPair, error) {
	kp, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate audit key: %w", err)
	}
	if err := m.storage.Store(id, kp); err != nil {
		return nil, fmt.Errorf("identity: store audit key: %w", err)
	}
	return kp, nil
}

// LoadAuditKey loads the Ed25519 audit-signing key stored under id.
func (m *Manager) LoadAuditKey(id string) (*keys.Ed25519KeyPair, error) {
	kp, err := m.storage.Load(id)
	if err != nil {
		return nil, err
	}
	ed25519, ok := kp.(*keys.Ed25519KeyPair)
	if !ok {
		return nil, fmt.Errorf("identity: key %s is a %s, not an Ed25519 audit key", id, kp.Type())
	}
	return ed25519, nil
}

// RotateIdentity rotates the P-256 identity key stored under id, returning
// the new key pair. Callers must re-distribute the new public key to every
// enclave before retiring the old one, since the enclave's trust in MSG2
// rests on a public key it already holds out-of-band.
func (m *Manager) RotateIdentity(id string) (*keys.P256KeyPair, error) {
	kp, err := m.rotator.Rotate(id)
	if err != nil {
		return nil, err
	}
	p256, ok := kp.(*keys.P256KeyPair)
	if !ok {
		return nil, fmt.Errorf("identity: rotated key %s is not a P-256 key", id)
	}
	return p256, nil
}
