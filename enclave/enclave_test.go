package enclave

import (
	"crypto/ecdsa"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgx-ra/sgxra/aesm"
	"github.com/sgx-ra/sgxra/crypto/cmac"
	"github.com/sgx-ra/sgxra/crypto/dhke"
	"github.com/sgx-ra/sgxra/crypto/kdf"
	"github.com/sgx-ra/sgxra/crypto/keys"
	"github.com/sgx-ra/sgxra/internal/stream"
	"github.com/sgx-ra/sgxra/localattest"
	"github.com/sgx-ra/sgxra/wire"
)

// driveFakeSession plays both the Client-relay and SP roles against the
// enclave under test, so the enclave's cryptographic work can be checked
// end to end without the client/sp packages.
func driveFakeSession(t *testing.T, them *stream.Stream, spIdentity *keys.P256KeyPair, sim *aesm.Simulator, trusted bool) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- func() error {
			gaRaw, err := them.Receive()
			if err != nil {
				return err
			}

			gbBytes, signature, kdkCmac, err := dhke.SignAndDerive(spIdentity, gaRaw)
			if err != nil {
				return err
			}
			secrets, err := kdf.DeriveSecretKeys(kdkCmac)
			if err != nil {
				return err
			}
			smk, err := cmac.New(secrets.SMK[:])
			if err != nil {
				return err
			}

			var msg2 wire.RaMsg2
			copy(msg2.Gb[:], gbBytes)
			msg2.QuoteType = 1
			msg2.KdfID = 1
			copy(msg2.SignGbGa[:], signature)
			msg2.SigRl = []byte{}
			mac, err := smk.Sign(msg2.MacBody())
			if err != nil {
				return err
			}
			copy(msg2.Mac[:], mac)

			if err := them.Send(msg2.Encode()); err != nil {
				return err
			}

			qi, err := sim.InitQuote()
			if err != nil {
				return err
			}
			if err := them.Send(qi.Targetinfo[:]); err != nil {
				return err
			}

			reportRaw, err := them.Receive()
			if err != nil {
				return err
			}
			var report localattest.Report
			copy(report[:], reportRaw)

			quote, qeReport, err := sim.GetQuote(qi, report, wire.Spid{}, nil)
			if err != nil {
				return err
			}
			if err := them.Send(quote[:]); err != nil {
				return err
			}
			if err := them.Send(qeReport[:]); err != nil {
				return err
			}

			if _, err := them.Receive(); err != nil { // msg3 mac
				return err
			}

			msg4 := wire.RaMsg4{IsEnclaveTrusted: trusted}
			return them.Send(msg4.Encode())
		}()
	}()
	return done
}

func publicKeyOf(t *testing.T, kp *keys.P256KeyPair) *ecdsa.PublicKey {
	t.Helper()
	pub, ok := kp.PublicKey().(*ecdsa.PublicKey)
	require.True(t, ok)
	return pub
}

func TestDoAttestation_HappyPath(t *testing.T) {
	spIdentity, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)

	var reportKey [16]byte
	reportKey[0] = 0x5a

	identity := aesm.Identity{MrEnclave: [32]byte{1}, MrSigner: [32]byte{2}, IsvProdID: 1, IsvSvn: 1}
	sim := aesm.NewSimulator(identity, reportKey)

	c1, c2 := net.Pipe()
	here := stream.New(c1, 5*time.Second)
	them := stream.New(c2, 5*time.Second)

	done := driveFakeSession(t, them, spIdentity, sim, true)

	realCtx, err := Init(publicKeyOf(t, spIdentity), reportKey)
	require.NoError(t, err)

	sk, mk, err := realCtx.DoAttestation(here)
	require.NoError(t, err)
	require.NotZero(t, sk)
	require.NotZero(t, mk)
	require.NoError(t, <-done)
}

func TestDoAttestation_EnclaveNotTrusted(t *testing.T) {
	spIdentity, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)

	var reportKey [16]byte
	reportKey[1] = 0x77

	identity := aesm.Identity{MrEnclave: [32]byte{3}, MrSigner: [32]byte{4}, IsvProdID: 2, IsvSvn: 2}
	sim := aesm.NewSimulator(identity, reportKey)

	c1, c2 := net.Pipe()
	here := stream.New(c1, 5*time.Second)
	them := stream.New(c2, 5*time.Second)

	done := driveFakeSession(t, them, spIdentity, sim, false)

	realCtx, err := Init(publicKeyOf(t, spIdentity), reportKey)
	require.NoError(t, err)

	_, _, err = realCtx.DoAttestation(here)
	require.ErrorIs(t, err, ErrEnclaveNotTrusted)
	require.NoError(t, <-done)
}
