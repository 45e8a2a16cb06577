package sp

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgx-ra/sgxra/aesm"
	"github.com/sgx-ra/sgxra/crypto/cmac"
	"github.com/sgx-ra/sgxra/crypto/dhke"
	"github.com/sgx-ra/sgxra/crypto/kdf"
	"github.com/sgx-ra/sgxra/crypto/keys"
	"github.com/sgx-ra/sgxra/ias"
	"github.com/sgx-ra/sgxra/internal/stream"
	"github.com/sgx-ra/sgxra/localattest"
	"github.com/sgx-ra/sgxra/sigstruct"
	"github.com/sgx-ra/sgxra/wire"
)

func baseConfig(t *testing.T) Config {
	t.Helper()
	var spid [16]byte
	return Config{
		Spid:                   hex.EncodeToString(spid[:]),
		Linkable:               true,
		PrimarySubscriptionKey: "test-key",
		QuoteTrustOptions:      []string{"GROUP_OUT_OF_DATE"},
		PseTrustOptions:        []string{"GROUP_OUT_OF_DATE"},
	}
}

func publicKeyOf(t *testing.T, kp *keys.P256KeyPair) *ecdsa.PublicKey {
	t.Helper()
	pub, ok := kp.PublicKey().(*ecdsa.PublicKey)
	require.True(t, ok)
	return pub
}

func TestProcessMsg1_BuildsMsg2(t *testing.T) {
	spPriv, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)

	sig := &sigstruct.SigStruct{}
	stub := &ias.StubClient{SigRl: []byte{0xaa}}

	ctx, err := Init(baseConfig(t), spPriv, sig, stub)
	require.NoError(t, err)

	enclaveEphemeral, err := dhke.GenerateEphemeralKeyPair()
	require.NoError(t, err)
	ga := enclaveEphemeral.PublicKeyBytes()
	var msg1 wire.RaMsg1
	copy(msg1.Ga[:], ga)

	msg2, err := ctx.processMsg1(context.Background(), msg1)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, msg2.SigRl)
	require.Equal(t, uint16(1), msg2.QuoteType)
	require.NotNil(t, ctx.pending)

	ok, err := ctx.pending.smk.Verify(msg2.MacBody(), msg2.Mac[:])
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDoAttestation_HappyPath(t *testing.T) {
	spPriv, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)

	identity := aesm.Identity{MrEnclave: [32]byte{9}, MrSigner: [32]byte{8}, IsvProdID: 5, IsvSvn: 6}
	var modulus [384]byte
	modulusHash := sha256.Sum256(modulus[:])
	sig := &sigstruct.SigStruct{
		EnclaveHash: identity.MrEnclave,
		Modulus:     modulus,
		IsvProdID:   identity.IsvProdID,
		IsvSvn:      identity.IsvSvn,
	}

	stub := &ias.StubClient{
		SigRl: []byte{},
		Report: ias.AttestationReport{
			IsvEnclaveQuoteStatus: "OK",
		},
	}

	ctx, err := Init(baseConfig(t), spPriv, sig, stub)
	require.NoError(t, err)

	c1, c2 := net.Pipe()
	here := stream.New(c1, 5*time.Second)
	them := stream.New(c2, 5*time.Second)

	clientDone := make(chan error, 1)
	go func() {
		clientDone <- func() error {
			msg0 := wire.RaMsg0{Exgid: 0}
			if err := them.Send(msg0.Encode()); err != nil {
				return err
			}

			enclaveEphemeral, err := dhke.GenerateEphemeralKeyPair()
			if err != nil {
				return err
			}
			ga := enclaveEphemeral.PublicKeyBytes()
			var msg1 wire.RaMsg1
			copy(msg1.Ga[:], ga)
			if err := them.Send(msg1.Encode()); err != nil {
				return err
			}

			msg2Raw, err := them.Receive()
			if err != nil {
				return err
			}
			msg2, err := wire.DecodeRaMsg2(msg2Raw)
			if err != nil {
				return err
			}

			kdkCmac, err := dhke.VerifyAndDerive(enclaveEphemeral, msg2.Gb[:], msg2.SignGbGa[:], publicKeyOf(t, spPriv))
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
			ok, err := smk.Verify(msg2.MacBody(), msg2.Mac[:])
			if err != nil {
				return err
			}
			if !ok {
				return err
			}

			vd := localattest.BindingDigest(ga, msg2.Gb[:], secrets.VK[:])

			var quote wire.Quote
			copy(quote.MrEnclave(), identity.MrEnclave[:])
			copy(quote.MrSigner(), modulusHash[:])
			copy(quote[wire.QuoteReportDataOffset:wire.QuoteReportDataOffset+32], vd[:])
			quote[wire.QuoteIsvProdIDOffset] = byte(identity.IsvProdID)
			quote[wire.QuoteIsvSvnOffset] = byte(identity.IsvSvn)

			var msg3 wire.RaMsg3
			copy(msg3.Ga[:], ga)
			msg3.Quote = quote
			mac, err := smk.Sign(msg3.MacBody())
			if err != nil {
				return err
			}
			copy(msg3.Mac[:], mac)

			if err := them.Send(msg3.Encode()); err != nil {
				return err
			}

			msg4Raw, err := them.Receive()
			if err != nil {
				return err
			}
			msg4, err := wire.DecodeRaMsg4(msg4Raw)
			if err != nil {
				return err
			}
			if !msg4.IsEnclaveTrusted {
				return err
			}
			return nil
		}()
	}()

	result, err := ctx.DoAttestation(context.Background(), here)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NoError(t, <-clientDone)
}
