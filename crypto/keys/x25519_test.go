package keys

import (
	"testing"

	"github.com/stretchr/testify/require"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
)

func TestX25519KeyPair_Generate(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	require.Equal(t, sgxracrypto.KeyTypeX25519, kp.Type())
	require.NotEmpty(t, kp.ID())
	require.Len(t, kp.PublicBytes(), 32)
}

func TestX25519KeyPair_SignVerifyUnsupported(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	_, err = kp.Sign([]byte("anything"))
	require.ErrorIs(t, err, sgxracrypto.ErrSignNotSupported)

	err = kp.Verify([]byte("anything"), []byte("sig"))
	require.ErrorIs(t, err, sgxracrypto.ErrVerifyNotSupported)
}

func TestNewX25519PrivateKeyFromBytes_RoundTrip(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	raw := kp.privateKey.Bytes()
	loaded, err := NewX25519PrivateKeyFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, kp.ID(), loaded.ID())
	require.Equal(t, kp.PublicBytes(), loaded.PublicBytes())
}

func TestHPKESealOpenRoundTrip(t *testing.T) {
	recipient, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	plaintext := []byte("sp long-term p256 private key PEM bundle")
	aad := []byte("sp-identity-key")

	sealed, err := HPKESealToX25519Peer(recipient.publicKey, plaintext, aad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := recipient.HPKEOpenFromX25519Peer(sealed, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestHPKEOpen_WrongAADFails(t *testing.T) {
	recipient, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	sealed, err := HPKESealToX25519Peer(recipient.publicKey, []byte("secret"), []byte("aad-a"))
	require.NoError(t, err)

	_, err = recipient.HPKEOpenFromX25519Peer(sealed, []byte("aad-b"))
	require.Error(t, err)
}

func TestX25519KeyPair_PublicKeyPEM(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	pemBytes := kp.PublicKeyPEM()
	require.Contains(t, string(pemBytes), "X25519 PUBLIC KEY")
}
