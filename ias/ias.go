// Package ias defines the collaborator interface to Intel's Attestation
// Service, a stub test double for the S1-S6 scenarios, and a minimal HTTPS
// client with certificate pinning. The real IAS protocol (request/response
// JSON shapes, retry policy) is out of scope (§1); only the two operations
// the SP orchestrator calls are specified here.
package ias

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sgx-ra/sgxra/wire"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// IasError wraps any failure surfaced by the IAS collaborator.
type IasError struct {
	Op  string
	Err error
}

func (e *IasError) Error() string { return fmt.Sprintf("ias: %s: %v", e.Op, e.Err) }
func (e *IasError) Unwrap() error { return e.Err }

// AttestationReport is IAS's verdict on a submitted quote.
type AttestationReport struct {
	IsvEnclaveQuoteStatus string
	PseManifestStatus     *string
	PlatformInfoBlob      *[256]byte
	EpidPseudonym         *string
}

// Client is the IAS collaborator surface the SP orchestrator depends on.
type Client interface {
	GetSigRl(ctx context.Context, gid wire.Gid, subscriptionKey string) ([]byte, error)
	VerifyAttestationEvidence(ctx context.Context, quote wire.Quote, subscriptionKey string) (AttestationReport, error)
}

// StubClient is a scripted test double for the S1-S6 scenarios: it returns
// a fixed SigRl and AttestationReport regardless of input, or the
// configured error.
type StubClient struct {
	SigRl       []byte
	Report      AttestationReport
	SigRlErr    error
	VerifyErr   error
}

func (s *StubClient) GetSigRl(ctx context.Context, gid wire.Gid, subscriptionKey string) ([]byte, error) {
	if s.SigRlErr != nil {
		return nil, &IasError{Op: "get_sig_rl", Err: s.SigRlErr}
	}
	return s.SigRl, nil
}

func (s *StubClient) VerifyAttestationEvidence(ctx context.Context, quote wire.Quote, subscriptionKey string) (AttestationReport, error) {
	if s.VerifyErr != nil {
		return AttestationReport{}, &IasError{Op: "verify_attestation_evidence", Err: s.VerifyErr}
	}
	return s.Report, nil
}

// HTTPClient is a minimal real IAS client, pinned to a root certificate
// loaded from the SP's configured ias_root_cert_pem_path.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient builds an HTTPClient whose TLS transport trusts only the
// given root certificate, per the certificate-pinning requirement.
func NewHTTPClient(baseURL string, rootCertPEM []byte) (*HTTPClient, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootCertPEM) {
		return nil, fmt.Errorf("ias: no certificates found in root cert PEM")
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Transport: transport},
	}, nil
}

func (c *HTTPClient) GetSigRl(ctx context.Context, gid wire.Gid, subscriptionKey string) ([]byte, error) {
	url := fmt.Sprintf("%s/attestation/v4/sigrl/%08x", c.BaseURL, gid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &IasError{Op: "get_sig_rl", Err: err}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", subscriptionKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &IasError{Op: "get_sig_rl", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &IasError{Op: "get_sig_rl", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &IasError{Op: "get_sig_rl", Err: err}
	}
	return body, nil
}

type verifyRequest struct {
	IsvEnclaveQuote string `json:"isvEnclaveQuote"`
}

type verifyResponse struct {
	IsvEnclaveQuoteStatus string  `json:"isvEnclaveQuoteStatus"`
	PseManifestStatus     *string `json:"pseManifestStatus,omitempty"`
	PlatformInfoBlob      *string `json:"platformInfoBlob,omitempty"`
	EpidPseudonym         *string `json:"epidPseudonym,omitempty"`
}

func (c *HTTPClient) VerifyAttestationEvidence(ctx context.Context, quote wire.Quote, subscriptionKey string) (AttestationReport, error) {
	body, err := json.Marshal(verifyRequest{IsvEnclaveQuote: base64Encode(quote[:])})
	if err != nil {
		return AttestationReport{}, &IasError{Op: "verify_attestation_evidence", Err: err}
	}

	url := c.BaseURL + "/attestation/v4/report"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return AttestationReport{}, &IasError{Op: "verify_attestation_evidence", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", subscriptionKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return AttestationReport{}, &IasError{Op: "verify_attestation_evidence", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AttestationReport{}, &IasError{Op: "verify_attestation_evidence", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return AttestationReport{}, &IasError{Op: "verify_attestation_evidence", Err: fmt.Errorf("malformed response: %w", err)}
	}

	report := AttestationReport{
		IsvEnclaveQuoteStatus: vr.IsvEnclaveQuoteStatus,
		PseManifestStatus:     vr.PseManifestStatus,
		EpidPseudonym:         vr.EpidPseudonym,
	}
	if vr.PlatformInfoBlob != nil {
		raw, err := hex.DecodeString(*vr.PlatformInfoBlob)
		if err != nil || len(raw) != 256 {
			return AttestationReport{}, &IasError{Op: "verify_attestation_evidence", Err: fmt.Errorf("malformed platformInfoBlob")}
		}
		var pib [256]byte
		copy(pib[:], raw)
		report.PlatformInfoBlob = &pib
	}
	return report, nil
}
