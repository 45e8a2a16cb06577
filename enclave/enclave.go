// Package enclave implements the Enclave orchestrator: the verifier role
// that authenticates the SP's DHKE contribution, derives session secrets,
// binds the transcript into a local-attestation REPORTDATA, and relays the
// resulting quote through the Client to the SP. Grounded on the reference
// ra-enclave context state machine (INIT -> SENT_GA -> GOT_MSG2 ->
// SENT_REPORT -> GOT_QUOTE -> SENT_MSG3_MAC -> GOT_MSG4 -> DONE, §4.5).
package enclave

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/sgx-ra/sgxra/crypto/cmac"
	"github.com/sgx-ra/sgxra/crypto/dhke"
	"github.com/sgx-ra/sgxra/crypto/kdf"
	"github.com/sgx-ra/sgxra/crypto/keys"
	"github.com/sgx-ra/sgxra/internal/metrics"
	"github.com/sgx-ra/sgxra/internal/stream"
	"github.com/sgx-ra/sgxra/localattest"
	"github.com/sgx-ra/sgxra/wire"
)

// Sentinel errors surfaced by the Enclave orchestrator, per §4.5/§7.
var (
	ErrEnclaveNotTrusted = errors.New("enclave: enclave not trusted")
	ErrPseNotTrusted     = errors.New("enclave: pse manifest not trusted")
	ErrIntegrityError    = errors.New("enclave: msg2 mac verification failed")
)

// RaContext drives one attestation session as the Enclave role.
type RaContext struct {
	keyExchange *dhke.EphemeralKeyPair
	spPublicKey *ecdsa.PublicKey
	reportKey   [16]byte // shared out-of-band with the QE collaborator (see aesm.Simulator)
}

// Init generates the enclave's ephemeral DHKE keypair and loads the SP's
// known long-term public key, used to verify MSG2's signature.
func Init(spPublicKey *ecdsa.PublicKey, reportKey [16]byte) (*RaContext, error) {
	ephemeral, err := dhke.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, fmt.Errorf("enclave: init: %w", err)
	}
	return &RaContext{keyExchange: ephemeral, spPublicKey: spPublicKey, reportKey: reportKey}, nil
}

// InitFromPEM is a convenience wrapper that parses the SP's public key from
// a PKIX PEM block before constructing the context.
func InitFromPEM(spPublicKeyPEM []byte, reportKey [16]byte) (*RaContext, error) {
	pub, err := keys.ParseP256PublicKeyPEM(spPublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("enclave: parse sp public key: %w", err)
	}
	return Init(pub, reportKey)
}

// DoAttestation runs MSG2 processing to completion, then waits for MSG4
// (forwarded by the Client) and enforces its verdict. On success it
// returns the session's SK and MK.
func (e *RaContext) DoAttestation(clientStream *stream.Stream) (sk, mk [16]byte, err error) {
	metrics.AttestationAttempts.WithLabelValues("enclave").Inc()
	defer metrics.ObserveSession("enclave")()
	defer func() {
		metrics.AttestationOutcomes.WithLabelValues("enclave", outcomeLabel(err)).Inc()
	}()

	sk, mk, err = e.processMsg2(clientStream)
	if err != nil {
		return sk, mk, err
	}

	stopMsg4 := metrics.ObserveRoundTrip("msg4")
	msg4Raw, err := clientStream.Receive()
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: receive msg4: %w", err)
	}
	stopMsg4()
	msg4, err := wire.DecodeRaMsg4(msg4Raw)
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: decode msg4: %w", err)
	}

	if !msg4.IsEnclaveTrusted {
		return sk, mk, ErrEnclaveNotTrusted
	}
	if msg4.IsPseManifestTrusted != nil && !*msg4.IsPseManifestTrusted {
		return sk, mk, ErrPseNotTrusted
	}
	return sk, mk, nil
}

// outcomeLabel maps a DoAttestation result to a metrics outcome label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "trusted"
	case errors.Is(err, ErrEnclaveNotTrusted):
		return "enclave_not_trusted"
	case errors.Is(err, ErrPseNotTrusted):
		return "pse_not_trusted"
	default:
		return "error"
	}
}

// processMsg2 publishes g_a, verifies MSG2's signature and MAC, derives the
// session's secret material, drives the local-attestation quote exchange,
// and sends MSG3's MAC back to the client.
func (e *RaContext) processMsg2(clientStream *stream.Stream) (sk, mk [16]byte, err error) {
	ga := e.keyExchange.PublicKeyBytes()
	stopMsg2 := metrics.ObserveRoundTrip("msg2")
	if err := clientStream.Send(ga); err != nil {
		return sk, mk, fmt.Errorf("enclave: send g_a: %w", err)
	}

	msg2Raw, err := clientStream.Receive()
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: receive msg2: %w", err)
	}
	stopMsg2()
	msg2, err := wire.DecodeRaMsg2(msg2Raw)
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: decode msg2: %w", err)
	}

	kdkCmac, err := dhke.VerifyAndDerive(e.keyExchange, msg2.Gb[:], msg2.SignGbGa[:], e.spPublicKey)
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: verify_and_derive: %w", err)
	}
	secrets, err := kdf.DeriveSecretKeys(kdkCmac)
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: derive secret keys: %w", err)
	}
	smk, err := cmac.New(secrets.SMK[:])
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: smk context: %w", err)
	}

	ok, err := smk.Verify(msg2.MacBody(), msg2.Mac[:])
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: verify msg2 mac: %w", err)
	}
	if !ok {
		return sk, mk, ErrIntegrityError
	}

	verificationDigest := localattest.BindingDigest(ga, msg2.Gb[:], secrets.VK[:])

	quote, err := e.getQuote(verificationDigest, clientStream)
	if err != nil {
		return sk, mk, err
	}

	msg3 := wire.RaMsg3{PsSecProp: nil, Quote: quote}
	mac, err := smk.Sign(msg3.MacBody())
	if err != nil {
		return sk, mk, fmt.Errorf("enclave: sign msg3 mac: %w", err)
	}
	if err := clientStream.Send(mac); err != nil {
		return sk, mk, fmt.Errorf("enclave: send msg3 mac: %w", err)
	}

	return secrets.SK, secrets.MK, nil
}

// getQuote exchanges TARGETINFO/REPORT with the Client (on behalf of the
// QE) to obtain a quote whose REPORTDATA is bound to reportDigest, then
// verifies the QE's own attesting report before trusting the quote.
func (e *RaContext) getQuote(reportDigest [32]byte, clientStream *stream.Stream) (wire.Quote, error) {
	var quote wire.Quote

	targetinfoRaw, err := clientStream.Receive()
	if err != nil {
		return quote, fmt.Errorf("enclave: receive target info: %w", err)
	}
	if len(targetinfoRaw) != localattest.TargetinfoSize {
		return quote, fmt.Errorf("enclave: target info has %d bytes, want %d", len(targetinfoRaw), localattest.TargetinfoSize)
	}
	var targetinfo localattest.Targetinfo
	copy(targetinfo[:], targetinfoRaw)

	report, err := localattest.BuildReport(targetinfo, reportDigest, e.reportKey[:])
	if err != nil {
		return quote, fmt.Errorf("enclave: build report: %w", err)
	}
	if err := clientStream.Send(report[:]); err != nil {
		return quote, fmt.Errorf("enclave: send report: %w", err)
	}

	quoteRaw, err := clientStream.Receive()
	if err != nil {
		return quote, fmt.Errorf("enclave: receive quote: %w", err)
	}
	if len(quoteRaw) != wire.QuoteSize {
		return quote, fmt.Errorf("enclave: quote has %d bytes, want %d", len(quoteRaw), wire.QuoteSize)
	}
	copy(quote[:], quoteRaw)

	qeReportRaw, err := clientStream.Receive()
	if err != nil {
		return quote, fmt.Errorf("enclave: receive qe report: %w", err)
	}
	if len(qeReportRaw) != localattest.ReportSize {
		return quote, fmt.Errorf("enclave: qe report has %d bytes, want %d", len(qeReportRaw), localattest.ReportSize)
	}
	var qeReport localattest.Report
	copy(qeReport[:], qeReportRaw)

	if err := localattest.VerifyReport(qeReport, e.reportKey[:]); err != nil {
		return quote, fmt.Errorf("enclave: %w", err)
	}
	return quote, nil
}
