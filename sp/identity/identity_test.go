package identity

import (
	"crypto/ecdh"
	"testing"

	"github.com/stretchr/testify/require"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
	"github.com/sgx-ra/sgxra/crypto/keys"
	"github.com/sgx-ra/sgxra/crypto/seal"
)

func operatorKeyPublic(t *testing.T, kp *keys.X25519KeyPair) *ecdh.PublicKey {
	t.Helper()
	pub, ok := kp.PublicKey().(*ecdh.PublicKey)
	require.True(t, ok)
	return pub
}

func TestFileKeyStorage_StoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	operatorKey, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	sealer := seal.NewSealer(operatorKeyPublic(t, operatorKey))
	unsealer := seal.NewUnsealer(operatorKey)

	store, err := NewFileKeyStorage(dir, sealer, unsealer)
	require.NoError(t, err)

	kp, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)
	require.NoError(t, store.Store("sp-identity", kp))

	require.True(t, store.Exists("sp-identity"))

	loaded, err := store.Load("sp-identity")
	require.NoError(t, err)
	require.Equal(t, sgxracrypto.KeyTypeP256, loaded.Type())
	require.Equal(t, kp.ID(), loaded.ID())

	ids, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []string{"sp-identity"}, ids)

	require.NoError(t, store.Delete("sp-identity"))
	require.False(t, store.Exists("sp-identity"))

	_, err = store.Load("sp-identity")
	require.ErrorIs(t, err, sgxracrypto.ErrKeyNotFound)
}

func TestFileKeyStorage_WriteOnlyHasNoUnsealer(t *testing.T) {
	dir := t.TempDir()
	operatorKey, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	sealer := seal.NewSealer(operatorKeyPublic(t, operatorKey))

	store, err := NewFileKeyStorage(dir, sealer, nil)
	require.NoError(t, err)

	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NoError(t, store.Store("audit-key", kp))

	_, err = store.Load("audit-key")
	require.Error(t, err)
}

func TestManager_ProvisionAndRotateIdentity(t *testing.T) {
	dir := t.TempDir()
	operatorKey, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	sealer := seal.NewSealer(operatorKeyPublic(t, operatorKey))
	unsealer := seal.NewUnsealer(operatorKey)

	store, err := NewFileKeyStorage(dir, sealer, unsealer)
	require.NoError(t, err)
	mgr := NewManager(store)

	original, err := mgr.ProvisionIdentity("sp-identity")
	require.NoError(t, err)

	loaded, err := mgr.LoadIdentity("sp-identity")
	require.NoError(t, err)
	require.Equal(t, original.ID(), loaded.ID())

	rotated, err := mgr.RotateIdentity("sp-identity")
	require.NoError(t, err)
	require.NotEqual(t, original.ID(), rotated.ID())

	history, err := mgr.GetRotator().GetRotationHistory("sp-identity")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, original.ID(), history[0].OldKeyID)
	require.Equal(t, rotated.ID(), history[0].NewKeyID)
}

func TestManager_RotateIdentity_KeepsOldWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	operatorKey, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	sealer := seal.NewSealer(operatorKeyPublic(t, operatorKey))
	unsealer := seal.NewUnsealer(operatorKey)

	store, err := NewFileKeyStorage(dir, sealer, unsealer)
	require.NoError(t, err)
	mgr := NewManager(store)

	original, err := mgr.ProvisionIdentity("sp-identity")
	require.NoError(t, err)

	mgr.GetRotator().SetRotationConfig(sgxracrypto.KeyRotationConfig{KeepOldKeys: true})
	_, err = mgr.RotateIdentity("sp-identity")
	require.NoError(t, err)

	ids, err := store.List()
	require.NoError(t, err)
	require.Contains(t, ids, "sp-identity")
	require.Contains(t, ids, "sp-identity.old."+original.ID())
}

func TestPEMCodec_ExportImportRoundTrip(t *testing.T) {
	kp, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)

	var codec PEMCodec
	der, err := codec.Export(kp, sgxracrypto.KeyFormatPEM)
	require.NoError(t, err)

	imported, err := codec.Import(der, sgxracrypto.KeyFormatPEM)
	require.NoError(t, err)
	require.Equal(t, kp.ID(), imported.ID())

	_, err = codec.Export(kp, "jwk")
	require.ErrorIs(t, err, sgxracrypto.ErrInvalidKeyFormat)
}
