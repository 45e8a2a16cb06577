// Package aesm defines the collaborator interface to the local Application
// Enclave Service Manager daemon and a Simulator test double. Real AESM
// bindings are out of scope (§1): this package only specifies the thin RPC
// surface the Client orchestrator calls, grounded in the same
// quote-simulation idiom other attestor implementations in the retrieval
// pack use (hash-derived synthetic quote fields rather than real EPID
// signing, which requires provisioned hardware).
package aesm

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/sgx-ra/sgxra/localattest"
	"github.com/sgx-ra/sgxra/wire"
)

// AesmError wraps any failure surfaced by the AESM collaborator.
type AesmError struct {
	Op  string
	Err error
}

func (e *AesmError) Error() string { return fmt.Sprintf("aesm: %s: %v", e.Op, e.Err) }
func (e *AesmError) Unwrap() error { return e.Err }

// QuoteInfo is the Client's cached handle on the local platform's quoting
// identity, obtained once from InitQuote and reused across sessions.
type QuoteInfo struct {
	Targetinfo localattest.Targetinfo
	Gid        wire.Gid
}

// Client is the AESM collaborator surface the Client orchestrator depends
// on.
type Client interface {
	// InitQuote returns the QE's target info and the platform's EPID
	// group id.
	InitQuote() (QuoteInfo, error)

	// GetQuote submits a REPORT targeted at the QE, along with the SP's
	// spid and optional signature-revocation list, and returns the
	// resulting quote and the QE's own attesting report.
	GetQuote(info QuoteInfo, report localattest.Report, spid wire.Spid, sigRl []byte) (wire.Quote, localattest.Report, error)
}

// Identity is the enclave measurement and versioning the Simulator embeds
// into generated quotes, standing in for a real EPID-signed quote body.
type Identity struct {
	MrEnclave [32]byte
	MrSigner  [32]byte
	IsvProdID uint16
	IsvSvn    uint16
	Debug     bool
}

// Simulator is a software stand-in for AESM plus the Quoting Enclave. It
// and the Enclave orchestrator under test must be configured with the same
// ReportKey -- on real hardware this key is derived independently by both
// parties via EGETKEY with no message exchange; here it is shared
// out-of-band as test/deployment configuration.
type Simulator struct {
	Gid        wire.Gid
	Targetinfo localattest.Targetinfo
	Identity   Identity
	ReportKey  [16]byte
}

// NewSimulator builds a Simulator with a target info and gid derived
// deterministically from identity, so repeated runs against the same
// identity are reproducible.
func NewSimulator(identity Identity, reportKey [16]byte) *Simulator {
	s := &Simulator{Identity: identity, ReportKey: reportKey}
	seed := sha256.Sum256(append(append([]byte{}, identity.MrEnclave[:]...), identity.MrSigner[:]...))
	copy(s.Gid[:], seed[:4])
	copy(s.Targetinfo[:], seed[:])
	return s
}

func (s *Simulator) InitQuote() (QuoteInfo, error) {
	return QuoteInfo{Targetinfo: s.Targetinfo, Gid: s.Gid}, nil
}

func (s *Simulator) GetQuote(info QuoteInfo, report localattest.Report, spid wire.Spid, sigRl []byte) (wire.Quote, localattest.Report, error) {
	var q wire.Quote
	copy(q.MrEnclave(), s.Identity.MrEnclave[:])
	copy(q.MrSigner(), s.Identity.MrSigner[:])
	binary.LittleEndian.PutUint16(q[wire.QuoteIsvProdIDOffset:], s.Identity.IsvProdID)
	binary.LittleEndian.PutUint16(q[wire.QuoteIsvSvnOffset:], s.Identity.IsvSvn)
	if s.Identity.Debug {
		q[wire.QuoteAttributesFlagsOffset] |= wire.QuoteDebugFlagBit
	}
	copy(q[wire.QuoteReportDataOffset:wire.QuoteReportDataOffset+64], report.ReportData())

	qeReportData := sha256.Sum256(q[:])
	qeReport, err := localattest.BuildReport(info.Targetinfo, qeReportData, s.ReportKey[:])
	if err != nil {
		return q, qeReport, &AesmError{Op: "get_quote", Err: err}
	}
	return q, qeReport, nil
}
