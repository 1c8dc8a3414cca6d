// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Retry and Circuit Breaking
// =============================================================================

var (
	// retriesTotal counts waits between attempts.
	// Labels: policy
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assist",
		Subsystem: "resilience",
		Name:      "retries_total",
		Help:      "Total retry waits by policy",
	}, []string{"policy"})

	// retryOutcomesTotal counts operations that needed retries.
	// Labels: policy, outcome (recovered, exhausted)
	retryOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assist",
		Subsystem: "resilience",
		Name:      "retry_outcomes_total",
		Help:      "Outcomes of operations that needed at least one retry",
	}, []string{"policy", "outcome"})

	// breakerState reports the current breaker status (0 closed, 1 open, 2 half-open).
	// Labels: breaker
	breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "assist",
		Subsystem: "resilience",
		Name:      "breaker_state",
		Help:      "Circuit breaker status (0=closed, 1=open, 2=half_open)",
	}, []string{"breaker"})

	// breakerTransitionsTotal counts state changes.
	// Labels: breaker, to
	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assist",
		Subsystem: "resilience",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions by target state",
	}, []string{"breaker", "to"})

	// breakerRejectionsTotal counts calls refused without reaching the dependency.
	// Labels: breaker
	breakerRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assist",
		Subsystem: "resilience",
		Name:      "breaker_rejections_total",
		Help:      "Calls rejected by an open circuit breaker",
	}, []string{"breaker"})
)

func recordRetry(policy string) {
	retriesTotal.WithLabelValues(policy).Inc()
}

func recordRetryOutcome(policy, outcome string) {
	retryOutcomesTotal.WithLabelValues(policy, outcome).Inc()
}

func setBreakerState(breaker string, status BreakerStatus) {
	breakerStateGauge.WithLabelValues(breaker).Set(float64(status))
}

func recordBreakerTransition(breaker string, to BreakerStatus) {
	breakerTransitionsTotal.WithLabelValues(breaker, to.String()).Inc()
}

func recordBreakerRejection(breaker string) {
	breakerRejectionsTotal.WithLabelValues(breaker).Inc()
}
