// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const loopTracerName = "assist.agent"

var (
	// loopRunsTotal counts finished runs.
	//
	// Labels:
	//   - outcome: "done", "limit_reached", "error", "canceled"
	loopRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Total tool-calling loop runs by outcome.",
		},
		[]string{"outcome"},
	)

	// loopIterations observes tool rounds per finished run.
	loopIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assist",
			Subsystem: "agent",
			Name:      "iterations",
			Help:      "Tool rounds per loop run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
	)

	// toolExecutionsTotal counts tool invocations.
	//
	// Labels:
	//   - tool: registered tool name, or "unknown"
	//   - status: "success", "error", "panic"
	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "agent",
			Name:      "tool_executions_total",
			Help:      "Total tool executions by tool and status.",
		},
		[]string{"tool", "status"},
	)

	toolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assist",
			Subsystem: "agent",
			Name:      "tool_execution_duration_seconds",
			Help:      "Duration of tool executions in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)
