// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const storeTracerName = "assist.graphstore"

var (
	// storeCallDuration measures Client calls, retries included.
	//
	// Labels:
	//   - operation: "read" or "write"
	//   - status: "success", "query_error", "unavailable", "rejected", "canceled"
	storeCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assist",
			Subsystem: "graphstore",
			Name:      "call_duration_seconds",
			Help:      "Duration of graph store calls in seconds, retries included.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation", "status"},
	)

	storeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "graphstore",
			Name:      "calls_total",
			Help:      "Total graph store calls by operation and status.",
		},
		[]string{"operation", "status"},
	)

	storeRowsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assist",
			Subsystem: "graphstore",
			Name:      "rows_returned",
			Help:      "Rows returned per read query.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 500},
		},
	)
)
