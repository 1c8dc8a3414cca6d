// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs the bounded tool-calling loop: ask the model, execute
// any tools it requests, feed results back, and stop on a plain answer or
// when the iteration limit is reached.
//
// Thread Safety:
//
//	A Loop holds no per-run state and is safe for concurrent use.
package agent

import (
	"context"
	"time"

	"github.com/AleutianAI/SectorWiki/services/assist/tools"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

// DefaultMaxIterations bounds tool rounds per run.
const DefaultMaxIterations = 10

// State is the loop's position in its state machine.
type State string

const (
	StateAwaitingModel         State = "AWAITING_MODEL"
	StateExecutingTools        State = "EXECUTING_TOOLS"
	StateDone                  State = "DONE"
	StateIterationLimitReached State = "ITERATION_LIMIT_REACHED"
)

// Completer is the slice of the gateway the loop depends on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions, tools []llm.ToolDef) (*llm.CompletionResult, error)
}

// RunRequest describes one loop run.
type RunRequest struct {
	// Messages is the initial conversation. It is copied, never modified.
	Messages []llm.Message

	// Tools may be nil, in which case the model is asked without tools.
	Tools *tools.Registry

	Options llm.CompletionOptions

	// MaxIterations overrides the loop default when > 0.
	MaxIterations int
}

// ToolTrace records one tool execution.
type ToolTrace struct {
	ToolName   string        `json:"tool_name"`
	ToolCallID string        `json:"tool_call_id"`
	Input      any           `json:"input"`
	Output     string        `json:"output"`
	IsError    bool          `json:"is_error"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// RunResult is the outcome of a run.
type RunResult struct {
	FinalAnswer  string      `json:"final_answer"`
	ToolTraces   []ToolTrace `json:"tool_traces"`
	Iterations   int         `json:"iterations"`
	LimitReached bool        `json:"limit_reached"`
	FinishReason string      `json:"finish_reason,omitempty"`
	State        State       `json:"state"`

	// Messages is the full conversation including the final answer.
	Messages []llm.Message `json:"-"`
}
