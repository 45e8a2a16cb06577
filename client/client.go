// Package client implements the Client orchestrator: the AESM-host role
// that relays messages between the Enclave and the Service Provider and
// drives the AESM/QE quote-generation dance, grounded on the reference
// ra-client context state machine (INIT -> SENT_MSG0 -> SENT_MSG1 ->
// GOT_MSG2 -> SENT_MSG3 -> GOT_MSG4 -> DONE, §4.4).
package client

import (
	"errors"
	"fmt"

	"github.com/sgx-ra/sgxra/aesm"
	"github.com/sgx-ra/sgxra/internal/metrics"
	"github.com/sgx-ra/sgxra/internal/stream"
	"github.com/sgx-ra/sgxra/localattest"
	"github.com/sgx-ra/sgxra/wire"
)

// Sentinel errors surfaced by DoAttestation, per §4.4's verdict handling.
var (
	ErrEnclaveNotTrusted = errors.New("client: enclave not trusted")
	ErrPseNotTrusted     = errors.New("client: pse manifest not trusted")
)

// RaContext drives one attestation session as the Client role. It owns the
// platform's cached quoting identity (QuoteInfo), obtained once from AESM
// at Init and reused for every session.
type RaContext struct {
	aesmClient aesm.Client
	quoteInfo  aesm.QuoteInfo
	ga         wire.DHKEPublicKey // cached from MSG1, echoed into MSG3
}

// Init queries AESM once for the platform's target info and EPID group id.
func Init(aesmClient aesm.Client) (*RaContext, error) {
	qi, err := aesmClient.InitQuote()
	if err != nil {
		return nil, fmt.Errorf("client: init_quote: %w", err)
	}
	return &RaContext{aesmClient: aesmClient, quoteInfo: qi}, nil
}

// DoAttestation runs the full five-message protocol, relaying between
// enclaveStream and spStream, and returns nil only if the SP's MSG4 verdict
// trusts both the enclave and (if present) the PSE manifest.
func (c *RaContext) DoAttestation(enclaveStream, spStream *stream.Stream) (err error) {
	metrics.AttestationAttempts.WithLabelValues("client").Inc()
	defer metrics.ObserveSession("client")()
	defer func() {
		metrics.AttestationOutcomes.WithLabelValues("client", outcomeLabel(err)).Inc()
	}()

	msg0 := wire.RaMsg0{Exgid: 0}
	if err := spStream.Send(msg0.Encode()); err != nil {
		return fmt.Errorf("client: send msg0: %w", err)
	}

	msg1, err := c.getMsg1(enclaveStream)
	if err != nil {
		return err
	}
	stopMsg1 := metrics.ObserveRoundTrip("msg1")
	if err := spStream.Send(msg1.Encode()); err != nil {
		return fmt.Errorf("client: send msg1: %w", err)
	}

	msg2Raw, err := spStream.Receive()
	if err != nil {
		return fmt.Errorf("client: receive msg2: %w", err)
	}
	stopMsg1()
	msg2, err := wire.DecodeRaMsg2(msg2Raw)
	if err != nil {
		return fmt.Errorf("client: decode msg2: %w", err)
	}

	msg3, err := c.processMsg2(msg2, enclaveStream)
	if err != nil {
		return err
	}
	stopMsg3 := metrics.ObserveRoundTrip("msg3")
	if err := spStream.Send(msg3.Encode()); err != nil {
		return fmt.Errorf("client: send msg3: %w", err)
	}

	msg4Raw, err := spStream.Receive()
	if err != nil {
		return fmt.Errorf("client: receive msg4: %w", err)
	}
	stopMsg3()
	msg4, err := wire.DecodeRaMsg4(msg4Raw)
	if err != nil {
		return fmt.Errorf("client: decode msg4: %w", err)
	}

	if err := enclaveStream.Send(msg4.Encode()); err != nil {
		return fmt.Errorf("client: forward msg4 to enclave: %w", err)
	}

	if !msg4.IsEnclaveTrusted {
		return ErrEnclaveNotTrusted
	}
	if msg4.IsPseManifestTrusted != nil && !*msg4.IsPseManifestTrusted {
		return ErrPseNotTrusted
	}
	return nil
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

// getMsg1 reads g_a from the enclave and pairs it with the platform's
// cached gid.
func (c *RaContext) getMsg1(enclaveStream *stream.Stream) (wire.RaMsg1, error) {
	gaRaw, err := enclaveStream.Receive()
	if err != nil {
		return wire.RaMsg1{}, fmt.Errorf("client: receive g_a: %w", err)
	}
	if len(gaRaw) != wire.DHKEPublicKeySize {
		return wire.RaMsg1{}, fmt.Errorf("client: g_a has %d bytes, want %d", len(gaRaw), wire.DHKEPublicKeySize)
	}
	copy(c.ga[:], gaRaw)

	var m wire.RaMsg1
	m.Gid = c.quoteInfo.Gid
	m.Ga = c.ga
	return m, nil
}

// processMsg2 forwards MSG2 to the enclave, drives the local-attestation
// quote exchange with AESM, and assembles MSG3 around the resulting quote.
func (c *RaContext) processMsg2(msg2 wire.RaMsg2, enclaveStream *stream.Stream) (wire.RaMsg3, error) {
	if err := enclaveStream.Send(msg2.Encode()); err != nil {
		return wire.RaMsg3{}, fmt.Errorf("client: forward msg2 to enclave: %w", err)
	}

	quote, err := c.getQuote(msg2.Spid, msg2.SigRl, enclaveStream)
	if err != nil {
		return wire.RaMsg3{}, err
	}

	macRaw, err := enclaveStream.Receive()
	if err != nil {
		return wire.RaMsg3{}, fmt.Errorf("client: receive msg3 mac: %w", err)
	}
	if len(macRaw) != wire.MacTagSize {
		return wire.RaMsg3{}, fmt.Errorf("client: msg3 mac has %d bytes, want %d", len(macRaw), wire.MacTagSize)
	}
	var m wire.RaMsg3
	copy(m.Mac[:], macRaw)
	m.Ga = c.ga
	m.PsSecProp = nil
	m.Quote = quote
	return m, nil
}

// getQuote runs the AESM/QE local-attestation handshake: forward the QE's
// target info to the enclave, relay its REPORT to AESM for quoting, and
// hand the resulting quote and QE report back to the enclave to verify.
func (c *RaContext) getQuote(spid wire.Spid, sigRl []byte, enclaveStream *stream.Stream) (wire.Quote, error) {
	var quote wire.Quote
	quoteInfo := c.quoteInfo

	if err := enclaveStream.Send(quoteInfo.Targetinfo[:]); err != nil {
		return quote, fmt.Errorf("client: send target info: %w", err)
	}

	reportRaw, err := enclaveStream.Receive()
	if err != nil {
		return quote, fmt.Errorf("client: receive report: %w", err)
	}
	if len(reportRaw) != localattest.ReportSize {
		return quote, fmt.Errorf("client: report has %d bytes, want %d", len(reportRaw), localattest.ReportSize)
	}
	var report localattest.Report
	copy(report[:], reportRaw)

	gotQuote, qeReport, err := c.aesmClient.GetQuote(quoteInfo, report, spid, sigRl)
	if err != nil {
		return quote, fmt.Errorf("client: get_quote: %w", err)
	}

	if err := enclaveStream.Send(gotQuote[:]); err != nil {
		return quote, fmt.Errorf("client: send quote: %w", err)
	}
	if err := enclaveStream.Send(qeReport[:]); err != nil {
		return quote, fmt.Errorf("client: send qe report: %w", err)
	}
	return gotQuote, nil
}
