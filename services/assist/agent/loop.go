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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SectorWiki/services/assist/tools"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

// ErrNoMessages is returned when a run starts with an empty conversation.
var ErrNoMessages = errors.New("agent: run requires at least one message")

// Option configures a Loop.
type Option func(*Loop)

// WithMaxIterations sets the default tool-round limit. Values < 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loop drives the model/tool conversation.
//
// Description:
//
//	Each run moves through AWAITING_MODEL and EXECUTING_TOOLS until the
//	model answers without tool calls (DONE) or MaxIterations tool rounds
//	have run (ITERATION_LIMIT_REACHED). In the latter case one more
//	completion is issued without tools and its text becomes the answer.
//
//	Tool failures never end the run. They are reported back to the model
//	as {"error": "..."} tool results. Completer errors end the run and are
//	returned as-is.
//
// Thread Safety: Safe for concurrent use.
type Loop struct {
	completer     Completer
	maxIterations int
	logger        *slog.Logger
}

// NewLoop creates a loop over completer.
func NewLoop(completer Completer, opts ...Option) *Loop {
	l := &Loop{
		completer:     completer,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxIterations returns the loop's default tool-round limit.
func (l *Loop) MaxIterations() int { return l.maxIterations }

// Run executes one conversation to completion.
//
// Inputs:
//   - ctx: Checked between steps. A tool that is already running finishes.
//   - req: Initial messages, tools, options, and an optional iteration limit.
//
// Outputs:
//   - *RunResult: The final answer, traces, and the grown conversation.
//   - error: Completer errors and context errors. The partial result is
//     not returned.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	maxIterations := l.maxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
	}

	ctx, span := otel.Tracer(loopTracerName).Start(ctx, "agent.Loop.Run",
		trace.WithAttributes(
			attribute.Int("agent.max_iterations", maxIterations),
			attribute.Int("agent.tool_count", req.Tools.Len()),
			attribute.Int("agent.initial_messages", len(req.Messages)),
		),
	)
	defer span.End()

	conversation := make([]llm.Message, len(req.Messages), len(req.Messages)+4)
	copy(conversation, req.Messages)

	var defs []llm.ToolDef
	if req.Tools.Len() > 0 {
		defs = req.Tools.Definitions()
	}

	result := &RunResult{ToolTraces: []ToolTrace{}, State: StateAwaitingModel}

	for {
		if err := ctx.Err(); err != nil {
			return nil, l.fail(span, result, err)
		}

		resp, err := l.completer.Complete(ctx, conversation, req.Options, defs)
		if err != nil {
			return nil, l.fail(span, result, err)
		}

		if !resp.HasToolCalls() {
			conversation = append(conversation, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return l.finish(span, result, resp, conversation, StateDone), nil
		}

		result.State = StateExecutingTools
		conversation = append(conversation, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, l.fail(span, result, err)
			}
			tt := l.executeTool(ctx, req.Tools, call)
			result.ToolTraces = append(result.ToolTraces, tt)
			conversation = append(conversation, llm.Message{
				Role:       llm.RoleTool,
				Content:    tt.Output,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
		result.Iterations++
		result.State = StateAwaitingModel

		if result.Iterations >= maxIterations {
			l.logger.Info("tool loop reached iteration limit",
				slog.Int("iterations", result.Iterations),
				slog.Int("tool_calls", len(result.ToolTraces)),
			)
			if err := ctx.Err(); err != nil {
				return nil, l.fail(span, result, err)
			}
			final, err := l.completer.Complete(ctx, conversation, req.Options, nil)
			if err != nil {
				return nil, l.fail(span, result, err)
			}
			conversation = append(conversation, llm.Message{Role: llm.RoleAssistant, Content: final.Content})
			result.LimitReached = true
			return l.finish(span, result, final, conversation, StateIterationLimitReached), nil
		}
	}
}

func (l *Loop) finish(span trace.Span, result *RunResult, resp *llm.CompletionResult, conversation []llm.Message, state State) *RunResult {
	result.FinalAnswer = resp.Content
	result.FinishReason = resp.FinishReason
	result.Messages = conversation
	result.State = state

	outcome := "done"
	if state == StateIterationLimitReached {
		outcome = "limit_reached"
	}
	loopRunsTotal.WithLabelValues(outcome).Inc()
	loopIterations.Observe(float64(result.Iterations))

	span.SetAttributes(
		attribute.String("agent.state", string(state)),
		attribute.Int("agent.iterations", result.Iterations),
		attribute.Int("agent.tool_calls", len(result.ToolTraces)),
	)
	span.SetStatus(codes.Ok, "")
	return result
}

func (l *Loop) fail(span trace.Span, result *RunResult, err error) error {
	outcome := "error"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = "canceled"
	}
	loopRunsTotal.WithLabelValues(outcome).Inc()
	loopIterations.Observe(float64(result.Iterations))

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String("agent.state", string(result.State)),
		attribute.Int("agent.iterations", result.Iterations),
	)
	return err
}

// executeTool runs one tool call and always produces a trace.
func (l *Loop) executeTool(ctx context.Context, registry *tools.Registry, call llm.ToolCall) ToolTrace {
	ctx, span := otel.Tracer(loopTracerName).Start(ctx, "agent.Loop.executeTool",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		),
	)
	defer span.End()

	start := time.Now()
	args := parseArguments(call.Arguments)
	tt := ToolTrace{ToolName: call.Name, ToolCallID: call.ID, Input: args}

	status := "success"
	metricName := call.Name
	handler, ok := registry.Handler(call.Name)
	if !ok {
		metricName = "unknown"
		status = "error"
		tt.Output = errorPayload(fmt.Sprintf("Unknown tool: %s", call.Name))
		tt.IsError = true
	} else {
		value, panicked, err := invoke(ctx, handler, args)
		switch {
		case panicked:
			status = "panic"
			tt.Output = errorPayload(err.Error())
			tt.IsError = true
		case err != nil:
			status = "error"
			tt.Output = errorPayload(llm.SafeLogString(err.Error()))
			tt.IsError = true
		default:
			out, serr := serializeResult(value)
			if serr != nil {
				status = "error"
				tt.Output = errorPayload(fmt.Sprintf("serializing result: %v", serr))
				tt.IsError = true
			} else {
				tt.Output = out
			}
		}
	}

	tt.Duration = time.Since(start)
	tt.DurationMs = tt.Duration.Milliseconds()

	toolExecutionsTotal.WithLabelValues(metricName, status).Inc()
	toolExecutionDuration.WithLabelValues(metricName).Observe(tt.Duration.Seconds())
	span.SetAttributes(attribute.String("tool.status", status), attribute.Int64("tool.duration_ms", tt.DurationMs))
	if tt.IsError {
		span.SetStatus(codes.Error, status)
		l.logger.Warn("tool execution failed",
			slog.String("tool", call.Name),
			slog.String("tool_call_id", call.ID),
			slog.String("status", status),
			slog.String("output", llm.SafeLogString(tt.Output)),
		)
	} else {
		l.logger.Debug("tool executed",
			slog.String("tool", call.Name),
			slog.Int64("duration_ms", tt.DurationMs),
		)
	}
	return tt
}

// invoke calls handler, converting a panic into an error.
func invoke(ctx context.Context, handler tools.Handler, args map[string]any) (value any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("tool panicked: %v", r)
			panicked = true
		}
	}()
	value, err = handler(ctx, args)
	return value, false, err
}

// parseArguments decodes the model's argument text. Anything that is not a
// JSON object is passed through as {"raw": text}.
func parseArguments(text string) map[string]any {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err != nil || args == nil {
		return map[string]any{"raw": text}
	}
	return args
}

// serializeResult renders a handler value as JSON text. Strings that are
// already valid JSON pass through unchanged.
func serializeResult(value any) (string, error) {
	switch v := value.(type) {
	case string:
		if json.Valid([]byte(v)) {
			return v, nil
		}
	case json.RawMessage:
		if json.Valid(v) {
			return string(v), nil
		}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func errorPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
