// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gatewayTracerName is the OTel tracer name for completion calls.
const gatewayTracerName = "assist.llm"

var (
	// gatewayCallDuration measures Complete calls end to end, retries included.
	//
	// Labels:
	//   - model: the model requested
	//   - status: "success" or "error"
	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assist",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of completion calls in seconds, retries included.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model", "status"},
	)

	// gatewayCallsTotal counts Complete calls.
	gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of completion calls.",
		},
		[]string{"model", "status"},
	)

	// gatewayAttemptsTotal counts HTTP attempts, so retries show as the
	// difference from calls_total.
	gatewayAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Total HTTP attempts against the completion endpoint.",
		},
		[]string{"model"},
	)

	// gatewayTokensTotal counts tokens reported by the endpoint.
	//
	// Labels:
	//   - direction: "input" or "output"
	gatewayTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens consumed by completion calls.",
		},
		[]string{"model", "direction"},
	)

	// gatewayErrorsTotal counts failed calls by error class.
	//
	// Labels:
	//   - error_type: "timeout", "canceled", "auth", "rate_limit", "server",
	//     "client", "transport", "malformed", "unknown"
	gatewayErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total completion errors by type.",
		},
		[]string{"model", "error_type"},
	)

	// gatewayActiveRequests tracks in-flight Complete calls.
	gatewayActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assist",
			Subsystem: "llm",
			Name:      "active_requests",
			Help:      "Number of completion calls currently in flight.",
		},
	)
)

// classifyError maps an error to a bounded label value.
//
// Description:
//
//	Uses the gateway's typed errors rather than message matching so that
//	label cardinality stays fixed.
//
// Outputs:
//
//	string - One of the error_type values listed on gatewayErrorsTotal, or
//	         "" for nil.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 401 || se.StatusCode == 403:
			return "auth"
		case se.StatusCode == 429:
			return "rate_limit"
		case se.StatusCode >= 500:
			return "server"
		default:
			return "client"
		}
	}
	var te *TransportError
	if errors.As(err, &te) {
		return "transport"
	}
	return "unknown"
}

// recordCallMetrics records metrics for one finished Complete call.
func recordCallMetrics(model string, duration time.Duration, attempts int, usage Usage, err error) {
	status := "success"
	if err != nil {
		status = "error"
		gatewayErrorsTotal.WithLabelValues(model, classifyError(err)).Inc()
	}
	gatewayCallDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	gatewayCallsTotal.WithLabelValues(model, status).Inc()
	gatewayAttemptsTotal.WithLabelValues(model).Add(float64(attempts))
	if err == nil {
		gatewayTokensTotal.WithLabelValues(model, "input").Add(float64(usage.PromptTokens))
		gatewayTokensTotal.WithLabelValues(model, "output").Add(float64(usage.CompletionTokens))
	}
}
