// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package consult

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const consultTracerName = "assist.consult"

var (
	// personaRunsTotal counts persona runs inside consultations.
	//
	// Labels:
	//   - persona: persona ID, or "unknown"
	//   - outcome: "success", "failed", "panic"
	personaRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "consult",
			Name:      "persona_runs_total",
			Help:      "Total persona runs by persona and outcome.",
		},
		[]string{"persona", "outcome"},
	)

	personaRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assist",
			Subsystem: "consult",
			Name:      "persona_run_duration_seconds",
			Help:      "Duration of persona runs in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"persona"},
	)

	consultationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assist",
			Subsystem: "consult",
			Name:      "in_flight",
			Help:      "Number of consultations currently running.",
		},
	)
)
