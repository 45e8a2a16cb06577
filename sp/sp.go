// Package sp implements the Service Provider orchestrator: the verifier
// who owns the long-term identity key, consults IAS, and renders the
// trust verdict in MSG4. Grounded on the reference ra-sp context state
// machine (INIT -> GOT_MSG01 -> SENT_MSG2 -> GOT_MSG3 -> SENT_MSG4 -> DONE,
// §4.6), including its PendingSession state threading between MSG1 and
// MSG3 processing.
package sp

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/sgx-ra/sgxra/crypto/cmac"
	"github.com/sgx-ra/sgxra/crypto/dhke"
	"github.com/sgx-ra/sgxra/crypto/kdf"
	"github.com/sgx-ra/sgxra/crypto/keys"
	"github.com/sgx-ra/sgxra/ias"
	"github.com/sgx-ra/sgxra/internal/metrics"
	"github.com/sgx-ra/sgxra/internal/stream"
	"github.com/sgx-ra/sgxra/localattest"
	"github.com/sgx-ra/sgxra/sigstruct"
	"github.com/sgx-ra/sgxra/sp/audit"
	"github.com/sgx-ra/sgxra/wire"
)

// Sentinel errors surfaced by the SP orchestrator, per §4.6/§7.
var (
	ErrIntegrityError      = errors.New("sp: integrity check failed")
	ErrSigstructMismatched = errors.New("sp: quote identity does not match sigstruct")
	ErrEnclaveInDebugMode  = errors.New("sp: enclave attributes have DEBUG set in a release build")
	ErrEnclaveNotTrusted   = errors.New("sp: enclave not trusted")
	ErrPseNotTrusted       = errors.New("sp: pse manifest not trusted")
)

// AttestationResult is returned to the SP's caller once a session
// completes with a positive trust verdict.
type AttestationResult struct {
	EpidPseudonym *string
	SigningKey    [16]byte
	MasterKey     [16]byte
}

// pendingSession carries the state produced while processing MSG1 that
// MSG3 processing needs: the MAC key, the application subkeys, and the
// transcript digest the quote's REPORTDATA must match. It belongs
// exclusively to one RaContext/session; concurrent sessions each own
// their own RaContext and therefore their own pendingSession.
type pendingSession struct {
	smk                *cmac.Context
	sk, mk             [16]byte
	verificationDigest [32]byte
	ga                 wire.DHKEPublicKey
}

// RaContext drives one attestation session as the SP role.
type RaContext struct {
	config       Config
	sigstruct    *sigstruct.SigStruct
	iasClient    ias.Client
	spPrivateKey *keys.P256KeyPair
	keyExchange  *dhke.EphemeralKeyPair
	pending      *pendingSession

	auditStore  audit.Store
	auditSigner *audit.Signer
}

// SetAudit attaches an audit log to the context: every completed session
// (trusted or not) is signed and persisted after MSG4 is sent. signer may
// be nil to store unsigned records.
func (s *RaContext) SetAudit(store audit.Store, signer *audit.Signer) {
	s.auditStore = store
	s.auditSigner = signer
}

// Init validates the configuration against this implementation's
// supported subset, generates the session's ephemeral DHKE keypair, and
// sorts the trust-option lists for binary search.
func Init(config Config, spPrivateKey *keys.P256KeyPair, sig *sigstruct.SigStruct, iasClient ias.Client) (*RaContext, error) {
	if !config.Linkable {
		return nil, fmt.Errorf("sp: only linkable quotes are supported")
	}
	if config.RandomNonce {
		return nil, fmt.Errorf("sp: random nonces are not supported")
	}
	if config.UsePlatformService {
		return nil, fmt.Errorf("sp: platform service is not supported")
	}

	sort.Strings(config.QuoteTrustOptions)
	sort.Strings(config.PseTrustOptions)

	ephemeral, err := dhke.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, fmt.Errorf("sp: init: %w", err)
	}

	return &RaContext{
		config:       config,
		sigstruct:    sig,
		iasClient:    iasClient,
		spPrivateKey: spPrivateKey,
		keyExchange:  ephemeral,
	}, nil
}

// DoAttestation runs the full five-message protocol against clientStream
// and returns the negotiated session keys on a positive trust verdict.
func (s *RaContext) DoAttestation(ctx context.Context, clientStream *stream.Stream) (result *AttestationResult, err error) {
	metrics.AttestationAttempts.WithLabelValues("sp").Inc()
	defer metrics.ObserveSession("sp")()
	defer func() {
		metrics.AttestationOutcomes.WithLabelValues("sp", outcomeLabel(err)).Inc()
	}()

	msg0Raw, err := clientStream.Receive()
	if err != nil {
		return nil, fmt.Errorf("sp: receive msg0: %w", err)
	}
	if _, err := wire.DecodeRaMsg0(msg0Raw); err != nil {
		return nil, fmt.Errorf("sp: decode msg0: %w", err)
	}

	msg1Raw, err := clientStream.Receive()
	if err != nil {
		return nil, fmt.Errorf("sp: receive msg1: %w", err)
	}
	msg1, err := wire.DecodeRaMsg1(msg1Raw)
	if err != nil {
		return nil, fmt.Errorf("sp: decode msg1: %w", err)
	}

	stopMsg2 := metrics.ObserveRoundTrip("msg2")
	msg2, err := s.processMsg1(ctx, msg1)
	if err != nil {
		return nil, err
	}
	if err := clientStream.Send(msg2.Encode()); err != nil {
		return nil, fmt.Errorf("sp: send msg2: %w", err)
	}
	stopMsg2()

	msg3Raw, err := clientStream.Receive()
	if err != nil {
		return nil, fmt.Errorf("sp: receive msg3: %w", err)
	}
	msg3, err := wire.DecodeRaMsg3(msg3Raw)
	if err != nil {
		return nil, fmt.Errorf("sp: decode msg3: %w", err)
	}

	stopMsg4 := metrics.ObserveRoundTrip("msg4")
	msg4, report, err := s.processMsg3(ctx, msg3)
	if err != nil {
		return nil, err
	}
	if err := clientStream.Send(msg4.Encode()); err != nil {
		return nil, fmt.Errorf("sp: send msg4: %w", err)
	}
	stopMsg4()

	s.recordAudit(ctx, msg1.Gid, msg4, report)

	if !msg4.IsEnclaveTrusted {
		return nil, ErrEnclaveNotTrusted
	}
	if msg4.IsPseManifestTrusted != nil && !*msg4.IsPseManifestTrusted {
		return nil, ErrPseNotTrusted
	}

	return &AttestationResult{
		EpidPseudonym: report.EpidPseudonym,
		SigningKey:    s.pending.sk,
		MasterKey:     s.pending.mk,
	}, nil
}

// recordAudit signs and persists an audit record for the session, if an
// audit store was attached with SetAudit. Audit failures never fail the
// protocol: the attestation verdict has already been decided and sent.
func (s *RaContext) recordAudit(ctx context.Context, gid wire.Gid, msg4 wire.RaMsg4, report ias.AttestationReport) {
	if s.auditStore == nil {
		return
	}

	pseStatus := ""
	pseTrusted := false
	if report.PseManifestStatus != nil {
		pseStatus = *report.PseManifestStatus
	}
	if msg4.IsPseManifestTrusted != nil {
		pseTrusted = *msg4.IsPseManifestTrusted
	}
	epidPseudonym := ""
	if report.EpidPseudonym != nil {
		epidPseudonym = *report.EpidPseudonym
	}

	rec := audit.NewRecord([4]byte(gid), report.IsvEnclaveQuoteStatus, pseStatus, msg4.IsEnclaveTrusted, pseTrusted, epidPseudonym)
	if s.auditSigner != nil {
		_ = s.auditSigner.Sign(rec)
	}
	_ = s.auditStore.Put(ctx, rec)
}

// processMsg1 signs and derives the session's secret material, launches
// the SigRl fetch early per §5's scheduling note, and assembles MSG2.
func (s *RaContext) processMsg1(ctx context.Context, msg1 wire.RaMsg1) (wire.RaMsg2, error) {
	type sigRlResult struct {
		data []byte
		err  error
	}
	sigRlCh := make(chan sigRlResult, 1)
	go func() {
		data, err := s.iasClient.GetSigRl(ctx, msg1.Gid, s.config.PrimarySubscriptionKey)
		sigRlCh <- sigRlResult{data, err}
	}()

	gbBytes, signature, kdkCmac, err := dhke.SignAndDeriveWithEphemeral(s.spPrivateKey, msg1.Ga[:], s.keyExchange)
	if err != nil {
		return wire.RaMsg2{}, fmt.Errorf("sp: sign_and_derive: %w", err)
	}
	secrets, err := kdf.DeriveSecretKeys(kdkCmac)
	if err != nil {
		return wire.RaMsg2{}, fmt.Errorf("sp: derive secret keys: %w", err)
	}
	smk, err := cmac.New(secrets.SMK[:])
	if err != nil {
		return wire.RaMsg2{}, fmt.Errorf("sp: smk context: %w", err)
	}

	verificationDigest := localattest.BindingDigest(msg1.Ga[:], gbBytes, secrets.VK[:])

	s.pending = &pendingSession{
		smk:                smk,
		sk:                 secrets.SK,
		mk:                 secrets.MK,
		verificationDigest: verificationDigest,
		ga:                 msg1.Ga,
	}

	spidRaw, err := hex.DecodeString(s.config.Spid)
	if err != nil || len(spidRaw) != wire.SpidSize {
		return wire.RaMsg2{}, fmt.Errorf("sp: invalid configured spid")
	}
	var spid wire.Spid
	copy(spid[:], spidRaw)

	result := <-sigRlCh
	if result.err != nil {
		return wire.RaMsg2{}, fmt.Errorf("sp: get_sig_rl: %w", result.err)
	}

	var quoteType uint16
	if s.config.Linkable {
		quoteType = 1
	}

	msg2 := wire.RaMsg2{
		Spid:      spid,
		QuoteType: quoteType,
		KdfID:     1,
		SigRl:     result.data,
	}
	copy(msg2.Gb[:], gbBytes)
	copy(msg2.SignGbGa[:], signature)

	mac, err := smk.Sign(msg2.MacBody())
	if err != nil {
		return wire.RaMsg2{}, fmt.Errorf("sp: sign msg2 mac: %w", err)
	}
	copy(msg2.Mac[:], mac)

	return msg2, nil
}

// processMsg3 checks MSG3's integrity, submits the quote to IAS, verifies
// the enclave's identity against the loaded SIGSTRUCT, and renders the
// trust verdict.
func (s *RaContext) processMsg3(ctx context.Context, msg3 wire.RaMsg3) (wire.RaMsg4, ias.AttestationReport, error) {
	ok, err := s.pending.smk.Verify(msg3.MacBody(), msg3.Mac[:])
	if err != nil {
		return wire.RaMsg4{}, ias.AttestationReport{}, fmt.Errorf("sp: verify msg3 mac: %w", err)
	}
	if !ok {
		return wire.RaMsg4{}, ias.AttestationReport{}, ErrIntegrityError
	}

	quoteDigest := msg3.Quote.ReportDataBinding()
	if !bytes.Equal(quoteDigest, s.pending.verificationDigest[:]) {
		return wire.RaMsg4{}, ias.AttestationReport{}, ErrIntegrityError
	}

	if msg3.Ga != s.pending.ga {
		return wire.RaMsg4{}, ias.AttestationReport{}, ErrIntegrityError
	}

	report, err := s.iasClient.VerifyAttestationEvidence(ctx, msg3.Quote, s.config.PrimarySubscriptionKey)
	if err != nil {
		return wire.RaMsg4{}, ias.AttestationReport{}, fmt.Errorf("sp: verify_attestation_evidence: %w", err)
	}
	metrics.IasQuoteStatus.WithLabelValues(report.IsvEnclaveQuoteStatus).Inc()

	modulusHash := s.sigstruct.ModulusHash()
	if !bytes.Equal(msg3.Quote.MrEnclave(), s.sigstruct.EnclaveHash[:]) ||
		!bytes.Equal(msg3.Quote.MrSigner(), modulusHash[:]) ||
		msg3.Quote.IsvProdID() != s.sigstruct.IsvProdID ||
		msg3.Quote.IsvSvn() != s.sigstruct.IsvSvn {
		return wire.RaMsg4{}, report, ErrSigstructMismatched
	}

	const debugFlagBit = 0x02
	if !s.config.DebugBuild && s.sigstruct.Flags&debugFlagBit != 0 {
		return wire.RaMsg4{}, report, ErrEnclaveInDebugMode
	}

	isEnclaveTrusted := report.IsvEnclaveQuoteStatus == "OK" ||
		sortedContains(s.config.QuoteTrustOptions, report.IsvEnclaveQuoteStatus)

	var isPseManifestTrusted *bool
	if report.PseManifestStatus != nil {
		trusted := *report.PseManifestStatus == "OK" ||
			sortedContains(s.config.PseTrustOptions, *report.PseManifestStatus)
		isPseManifestTrusted = &trusted
	}

	msg4 := wire.RaMsg4{
		IsEnclaveTrusted:     isEnclaveTrusted,
		IsPseManifestTrusted: isPseManifestTrusted,
		Pib:                  report.PlatformInfoBlob,
	}
	return msg4, report, nil
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

func sortedContains(sorted []string, v string) bool {
	i := sort.SearchStrings(sorted, v)
	return i < len(sorted) && sorted[i] == v
}
