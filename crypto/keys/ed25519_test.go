package keys

import (
	"testing"

	"github.com/stretchr/testify/require"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
)

func TestEd25519KeyPair_SignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.Equal(t, sgxracrypto.KeyTypeEd25519, kp.Type())
	require.NotEmpty(t, kp.ID())

	msg := []byte("audit record")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	require.NoError(t, kp.Verify(msg, sig))
	require.Error(t, kp.Verify([]byte("different record"), sig))
}

func TestEd25519KeyPair_PEMRoundTrip(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	pemBytes, err := kp.PEM()
	require.NoError(t, err)

	loaded, err := LoadEd25519PrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	require.Equal(t, kp.ID(), loaded.ID())

	msg := []byte("round trip")
	sig, err := loaded.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, kp.Verify(msg, sig))
}

func TestLoadEd25519PrivateKeyPEM_RejectsGarbage(t *testing.T) {
	_, err := LoadEd25519PrivateKeyPEM([]byte("not a pem block"))
	require.Error(t, err)
}
