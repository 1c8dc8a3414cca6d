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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/SectorWiki/services/resilience"
)

// =============================================================================
// Gateway
// =============================================================================

const (
	// DefaultBaseURL is the chat-completions endpoint used when none is configured.
	DefaultBaseURL = "https://api.openai.com/v1/chat/completions"

	defaultTimeout = 120 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20
)

// CredentialSource lends the API key to a callback without exposing it as a
// long-lived string.
type CredentialSource interface {
	WithSecret(fn func(secret string) error) error
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// BaseURL is the full chat-completions URL. Defaults to DefaultBaseURL.
	BaseURL string

	// Model is used when CompletionOptions.Model is empty. Required.
	Model string

	// Timeout bounds each HTTP attempt. Defaults to 120s.
	Timeout time.Duration

	// MaxAttempts and BaseDelay feed the retry policy. Defaults 3 and 2s.
	MaxAttempts int
	BaseDelay   time.Duration

	// RequestsPerSecond paces outbound attempts. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// Headers are added to every request (e.g. HTTP-Referer, X-Title).
	Headers map[string]string

	// AuditEnabled turns on before/after audit records.
	AuditEnabled bool

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Sleep replaces the wait between attempts in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Gateway sends chat-completion requests with bounded retry.
//
// Description:
//
//	Builds the wire request from messages, options, and tool definitions
//	(tool_choice is always "auto" when tools are present), sends it over
//	net/http, and retries 429, 5xx, and transport failures with linear
//	backoff. Any other non-2xx status or an unparseable body fails at once.
//	Every failure is reported as a *GatewayError.
//
// Thread Safety: Gateway is safe for concurrent use.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	model      string
	headers    map[string]string
	credential CredentialSource
	limiter    *rate.Limiter
	retry      resilience.RetryPolicy
	auditor    *CallAuditor
	logger     *slog.Logger
}

// NewGateway creates a Gateway.
//
// Inputs:
//   - cfg: Gateway configuration. Model is required.
//   - credential: API key source. May be nil for endpoints without auth.
//
// Outputs:
//   - *Gateway: The configured gateway.
//   - error: Non-nil if the configuration is unusable.
func NewGateway(cfg GatewayConfig, credential CredentialSource) (*Gateway, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm gateway: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	policy := resilience.DefaultRetryPolicy("llm_gateway")
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	policy.Retryable = isRetryable
	policy.Sleep = cfg.Sleep
	policy.Logger = cfg.Logger

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Gateway{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		headers:    cfg.Headers,
		credential: credential,
		limiter:    limiter,
		retry:      policy,
		auditor:    NewCallAuditor(cfg.Logger, cfg.AuditEnabled),
		logger:     cfg.Logger,
	}, nil
}

// Model returns the default model name.
func (g *Gateway) Model() string { return g.model }

// Complete sends one chat-completion request.
//
// Description:
//
//	Returns the first choice's content, tool calls, finish reason, and usage.
//	Retries are logged with attempt number and cause.
//
// Inputs:
//   - ctx: Context for cancellation. Cancellation is never retried.
//   - messages: The conversation. Must not be empty.
//   - opts: Sampling options. Zero values are omitted from the request.
//   - tools: Tool definitions. When non-empty the request sets tool_choice "auto".
//
// Outputs:
//   - *CompletionResult: The parsed first choice.
//   - error: A *GatewayError on any failure.
//
// Thread Safety: This method is safe for concurrent use.
func (g *Gateway) Complete(ctx context.Context, messages []Message, opts CompletionOptions, tools []ToolDef) (*CompletionResult, error) {
	if len(messages) == 0 {
		return nil, &GatewayError{Cause: errors.New("no messages to send")}
	}
	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}

	body, err := json.Marshal(buildChatRequest(model, messages, opts, tools))
	if err != nil {
		return nil, &GatewayError{Cause: fmt.Errorf("marshaling request: %w", err)}
	}

	ctx, span := otel.Tracer(gatewayTracerName).Start(ctx, "llm.Gateway.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(tools)),
	)

	rec := callRecord{
		RequestID:   uuid.NewString(),
		Model:       model,
		Messages:    len(messages),
		Tools:       len(tools),
		ContentHash: HashContent(body),
	}
	g.auditor.LogBefore(ctx, rec)

	gatewayActiveRequests.Inc()
	defer gatewayActiveRequests.Dec()

	start := time.Now()
	attempts := 0
	var result *CompletionResult
	err = g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if g.limiter != nil {
			if werr := g.limiter.Wait(ctx); werr != nil {
				return resilience.Permanent(werr)
			}
		}
		res, serr := g.send(ctx, body)
		if serr != nil {
			return serr
		}
		result = res
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		gerr := &GatewayError{Attempts: attempts, Cause: err}
		var exhausted *resilience.ExhaustedError
		if errors.As(err, &exhausted) {
			gerr.Exhausted = true
			gerr.Cause = exhausted.Last
		}
		recordCallMetrics(model, duration, attempts, Usage{}, gerr)
		g.auditor.LogAfter(ctx, rec, attempts, Usage{}, duration, gerr)
		span.RecordError(gerr)
		span.SetStatus(codes.Error, "completion failed")
		return nil, gerr
	}

	result.Attempts = attempts
	if result.Model == "" {
		result.Model = model
	}
	recordCallMetrics(model, duration, attempts, result.Usage, nil)
	g.auditor.LogAfter(ctx, rec, attempts, result.Usage, duration, nil)
	span.SetAttributes(
		attribute.Int("llm.attempts", attempts),
		attribute.Int("llm.tool_calls", len(result.ToolCalls)),
		attribute.String("llm.finish_reason", result.FinishReason),
	)

	g.logger.Debug("completion received",
		slog.String("model", result.Model),
		slog.String("finish_reason", result.FinishReason),
		slog.Int("content_len", len(result.Content)),
		slog.Int("tool_calls", len(result.ToolCalls)),
		slog.Int("attempts", attempts),
	)
	return result, nil
}

// send performs a single HTTP attempt.
func (g *Gateway) send(ctx context.Context, body []byte) (*CompletionResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("creating HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range g.headers {
		httpReq.Header.Set(k, v)
	}
	if g.credential != nil {
		err := g.credential.WithSecret(func(secret string) error {
			httpReq.Header.Set("Authorization", "Bearer "+secret)
			return nil
		})
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("loading credential: %w", err))
		}
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Permanent(ctx.Err())
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Permanent(ctx.Err())
		}
		return nil, &TransportError{Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(SafeLogString(string(bodyBytes)), maxLoggedBody),
		}
	}

	return parseChatResponse(bodyBytes)
}

// parseChatResponse converts a 2xx body into a CompletionResult.
func parseChatResponse(body []byte) (*CompletionResult, error) {
	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%w: api error %s: %s", ErrMalformedResponse,
			apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	choice := apiResp.Choices[0]
	result := &CompletionResult{
		Content:      parseContent(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Model:        apiResp.Model,
	}
	if apiResp.Usage != nil {
		result.Usage = *apiResp.Usage
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}
