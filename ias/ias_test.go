package ias

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgx-ra/sgxra/wire"
)

func TestStubClient_ReturnsConfiguredValues(t *testing.T) {
	want := AttestationReport{IsvEnclaveQuoteStatus: "OK"}
	stub := &StubClient{SigRl: []byte{0x01, 0x02}, Report: want}

	sigRl, err := stub.GetSigRl(context.Background(), wire.Gid{}, "key")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, sigRl)

	report, err := stub.VerifyAttestationEvidence(context.Background(), wire.Quote{}, "key")
	require.NoError(t, err)
	require.Equal(t, want, report)
}

func TestStubClient_ReturnsConfiguredErrors(t *testing.T) {
	stub := &StubClient{
		SigRlErr:  errors.New("sigrl unavailable"),
		VerifyErr: errors.New("verify unavailable"),
	}

	_, err := stub.GetSigRl(context.Background(), wire.Gid{}, "key")
	require.Error(t, err)
	var iasErr *IasError
	require.ErrorAs(t, err, &iasErr)
	require.Equal(t, "get_sig_rl", iasErr.Op)

	_, err = stub.VerifyAttestationEvidence(context.Background(), wire.Quote{}, "key")
	require.Error(t, err)
	require.ErrorAs(t, err, &iasErr)
	require.Equal(t, "verify_attestation_evidence", iasErr.Op)
}

// selfSignedCert generates an ephemeral self-signed certificate/key pair for
// a pinned-TLS test server, returning the certificate's PEM encoding to feed
// back into NewHTTPClient as the trusted root.
func selfSignedCert(t *testing.T) (tlsCertPEM, tlsKeyPEM, certPEM []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ias-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	tlsKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, tlsKeyPEM, certPEM
}

func TestNewHTTPClient_RejectsEmptyRootCert(t *testing.T) {
	_, err := NewHTTPClient("https://example.invalid", []byte("not a cert"))
	require.Error(t, err)
}

func TestHTTPClient_VerifyAttestationEvidence(t *testing.T) {
	certPEM, keyPEM, rootPEM := selfSignedCert(t)
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/attestation/v4/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"isvEnclaveQuoteStatus":"GROUP_OUT_OF_DATE"}`))
	})

	srv := httptest.NewUnstartedServer(mux)
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	srv.StartTLS()
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, rootPEM)
	require.NoError(t, err)

	report, err := client.VerifyAttestationEvidence(context.Background(), wire.Quote{}, "sub-key")
	require.NoError(t, err)
	require.Equal(t, "GROUP_OUT_OF_DATE", report.IsvEnclaveQuoteStatus)
}
