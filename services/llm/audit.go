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
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// CallAuditor writes one structured record before and one after every
// completion call. Content is never logged, only its SHA256 digest.
//
// Thread Safety: Safe for concurrent use (slog.Logger is concurrent-safe).
type CallAuditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewCallAuditor creates an auditor. A nil logger uses slog.Default().
func NewCallAuditor(logger *slog.Logger, enabled bool) *CallAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallAuditor{logger: logger.With(slog.String("component", "llm_audit")), enabled: enabled}
}

// callRecord is what the gateway knows about a call before it is sent.
type callRecord struct {
	RequestID   string
	Model       string
	Messages    int
	Tools       int
	ContentHash string
}

// LogBefore records an outbound call.
func (a *CallAuditor) LogBefore(ctx context.Context, rec callRecord) {
	if a == nil || !a.enabled {
		return
	}
	a.loggerWithTrace(ctx).Info("completion request",
		slog.String("event", "completion_before"),
		slog.String("request_id", rec.RequestID),
		slog.String("model", rec.Model),
		slog.Int("messages", rec.Messages),
		slog.Int("tools", rec.Tools),
		slog.String("content_hash", rec.ContentHash),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	)
}

// LogAfter records the outcome of a call.
func (a *CallAuditor) LogAfter(ctx context.Context, rec callRecord, attempts int, usage Usage, duration time.Duration, callErr error) {
	if a == nil || !a.enabled {
		return
	}
	status := "success"
	if callErr != nil {
		status = "error"
	}
	attrs := []any{
		slog.String("event", "completion_after"),
		slog.String("request_id", rec.RequestID),
		slog.String("model", rec.Model),
		slog.String("status", status),
		slog.Int("attempts", attempts),
		slog.Int("input_tokens", usage.PromptTokens),
		slog.Int("output_tokens", usage.CompletionTokens),
		slog.Int64("duration_ms", duration.Milliseconds()),
	}
	if callErr != nil {
		attrs = append(attrs, slog.String("error", SafeLogString(callErr.Error())))
	}
	a.loggerWithTrace(ctx).Info("completion response", attrs...)
}

func (a *CallAuditor) loggerWithTrace(ctx context.Context) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return a.logger
	}
	return a.logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// HashContent returns the hex SHA256 of content, or "" for empty input.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
