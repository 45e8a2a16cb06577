package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAttestationCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(AttestationAttempts.WithLabelValues("sp"))
	AttestationAttempts.WithLabelValues("sp").Inc()
	AttestationOutcomes.WithLabelValues("sp", "trusted").Inc()
	IasQuoteStatus.WithLabelValues("OK").Inc()

	require.Equal(t, before+1, testutil.ToFloat64(AttestationAttempts.WithLabelValues("sp")))
}

func TestObserveRoundTrip_RecordsSample(t *testing.T) {
	done := ObserveRoundTrip("msg1")
	done()
	// no panic and the histogram accepted an observation is sufficient
	// here; exact bucket placement is exercised by promhttp/e2e checks.
}

func TestObserveSession_RecordsSample(t *testing.T) {
	done := ObserveSession("client")
	done()
}
