package keys

import (
	"crypto/elliptic"
	"testing"

	"github.com/stretchr/testify/require"

	sgxracrypto "github.com/sgx-ra/sgxra/crypto"
)

func TestP256KeyPair_SignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateP256KeyPair()
	require.NoError(t, err)
	require.Equal(t, sgxracrypto.KeyTypeP256, kp.Type())
	require.NotEmpty(t, kp.ID())

	msg := []byte("g_b || g_a")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	require.NoError(t, kp.Verify(msg, sig))
	require.Error(t, kp.Verify([]byte("tampered"), sig))
}

func TestP256KeyPair_PEMRoundTrip(t *testing.T) {
	kp, err := GenerateP256KeyPair()
	require.NoError(t, err)

	privPEM, err := kp.PEM()
	require.NoError(t, err)

	loaded, err := LoadP256PrivateKeyPEM(privPEM)
	require.NoError(t, err)
	require.Equal(t, kp.ID(), loaded.ID())

	msg := []byte("round trip check")
	sig, err := loaded.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, kp.Verify(msg, sig))
}

func TestP256KeyPair_PublicKeyPEMRoundTrip(t *testing.T) {
	kp, err := GenerateP256KeyPair()
	require.NoError(t, err)

	pubPEM, err := kp.PublicKeyPEM()
	require.NoError(t, err)

	pub, err := ParseP256PublicKeyPEM(pubPEM)
	require.NoError(t, err)

	msg := []byte("enclave verifies msg2")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, VerifyP256Signature(pub, msg, sig))
}

func TestEncodeDecodeECPointLE_RoundTrip(t *testing.T) {
	kp, err := GenerateP256KeyPair()
	require.NoError(t, err)

	pubPEM, err := kp.PublicKeyPEM()
	require.NoError(t, err)
	pub, err := ParseP256PublicKeyPEM(pubPEM)
	require.NoError(t, err)

	sec1 := elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
	le, err := EncodeECPointLE(sec1)
	require.NoError(t, err)
	require.Len(t, le, 64)

	back, err := DecodeECPointLE(le)
	require.NoError(t, err)
	require.Equal(t, sec1, back)
}

func TestDeserializeP256Signature_RejectsWrongLength(t *testing.T) {
	_, _, err := deserializeP256Signature(make([]byte, 10))
	require.Error(t, err)
}
