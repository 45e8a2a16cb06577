// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package metrics instruments the three attestation roles with Prometheus
// collectors: attempt/outcome counters per role, IAS quote status
// breakdown, and per-message round-trip latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the collector registry served by Handler/StartServer. A
// dedicated registry (rather than prometheus.DefaultRegisterer) keeps a
// role process's metrics free of the client_golang process/go collectors
// it doesn't care to expose unless explicitly registered.
var Registry = prometheus.NewRegistry()

var (
	// AttestationAttempts counts DoAttestation calls by role
	// ("client", "enclave", "sp").
	AttestationAttempts = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "sgxra",
		Name:      "attestation_attempts_total",
		Help:      "Total number of attestation sessions attempted, by role.",
	}, []string{"role"})

	// AttestationOutcomes counts completed sessions by role and outcome
	// ("trusted", "enclave_not_trusted", "pse_not_trusted", "error").
	AttestationOutcomes = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "sgxra",
		Name:      "attestation_outcomes_total",
		Help:      "Total number of completed attestation sessions, by role and outcome.",
	}, []string{"role", "outcome"})

	// IasQuoteStatus counts the isvEnclaveQuoteStatus IAS returns per
	// verification request.
	IasQuoteStatus = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "sgxra",
		Name:      "ias_quote_status_total",
		Help:      "Count of isvEnclaveQuoteStatus values returned by IAS.",
	}, []string{"status"})

	// MessageRoundTrip observes the latency of each protocol message
	// exchange (send+receive a reply over a stream.Stream), by message
	// name ("msg0", "msg1", "msg2", "msg3", "msg4").
	MessageRoundTrip = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sgxra",
		Name:      "message_round_trip_seconds",
		Help:      "Round-trip latency of each RA protocol message exchange.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"message"})

	// SessionDuration observes the wall-clock time of a full
	// DoAttestation call, by role.
	SessionDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sgxra",
		Name:      "session_duration_seconds",
		Help:      "Duration of a full attestation session, by role.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"role"})
)

// ObserveRoundTrip is a convenience wrapper for timing one message
// exchange: defer metrics.ObserveRoundTrip("msg1")().
func ObserveRoundTrip(message string) func() {
	start := time.Now()
	return func() {
		MessageRoundTrip.WithLabelValues(message).Observe(time.Since(start).Seconds())
	}
}

// ObserveSession is the same pattern for a full session, by role.
func ObserveSession(role string) func() {
	start := time.Now()
	return func() {
		SessionDuration.WithLabelValues(role).Observe(time.Since(start).Seconds())
	}
}
