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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type staticCredential string

func (s staticCredential) WithSecret(fn func(string) error) error { return fn(string(s)) }

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func newTestGateway(t *testing.T, url string, sleeper *sleepRecorder) *Gateway {
	t.Helper()
	g, err := NewGateway(GatewayConfig{
		BaseURL: url,
		Model:   "test-model",
		Sleep:   sleeper.Sleep,
	}, staticCredential("sk-testkeyabcdefghijklmnopqrstuv"))
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	return g
}

const okBody = `{"id":"c1","model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`

func TestGateway_Complete_Success(t *testing.T) {
	var captured map[string]any
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, &sleepRecorder{})
	res, err := g.Complete(context.Background(),
		[]Message{SystemMessage("be brief"), UserMessage("hi")},
		CompletionOptions{Temperature: Float(0.2), MaxTokens: 64, ResponseFormat: ResponseFormatJSON},
		nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Content != "hello" || res.FinishReason != "stop" {
		t.Errorf("result = %+v", res)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Usage.TotalTokens != 9 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if authHeader != "Bearer sk-testkeyabcdefghijklmnopqrstuv" {
		t.Errorf("Authorization = %q", authHeader)
	}
	if captured["model"] != "test-model" {
		t.Errorf("model = %v", captured["model"])
	}
	if captured["temperature"] != 0.2 {
		t.Errorf("temperature = %v", captured["temperature"])
	}
	if captured["max_tokens"] != float64(64) {
		t.Errorf("max_tokens = %v", captured["max_tokens"])
	}
	rf, _ := captured["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", captured["response_format"])
	}
	if _, ok := captured["tools"]; ok {
		t.Error("tools should be omitted when none are given")
	}
	if _, ok := captured["tool_choice"]; ok {
		t.Error("tool_choice should be omitted when no tools are given")
	}
}

func TestGateway_Complete_ToolCalls(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"search_graph","arguments":"{\"term\":\"pump\"}"}},
			{"id":"call_2","type":"function","function":{"name":"web_search","arguments":"not json"}}
		]},"finish_reason":"tool_calls"}]}`))
	}))
	defer server.Close()

	tools := []ToolDef{{Function: ToolFunction{Name: "search_graph", Description: "query the graph"}}}
	history := []Message{
		UserMessage("find pumps"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "search_graph", Arguments: ""}}},
		{Role: RoleTool, Content: `{"rows":[]}`, ToolCallID: "call_0", ToolName: "search_graph"},
	}
	res, err := newTestGateway(t, server.URL, &sleepRecorder{}).Complete(context.Background(), history, CompletionOptions{}, tools)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if captured.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q, want auto", captured.ToolChoice)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Type != "function" || captured.Tools[0].Function.Parameters.Type != "object" {
		t.Errorf("tools = %+v", captured.Tools)
	}
	assistant := captured.Messages[1]
	if assistant.Content != nil {
		t.Errorf("assistant tool-call turn content = %q, want null", *assistant.Content)
	}
	if assistant.ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("empty arguments serialized as %q, want {}", assistant.ToolCalls[0].Function.Arguments)
	}
	if captured.Messages[2].ToolCallID != "call_0" {
		t.Errorf("tool message tool_call_id = %q", captured.Messages[2].ToolCallID)
	}

	if res.Content != "" {
		t.Errorf("Content = %q, want empty for null content", res.Content)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %+v", res.ToolCalls)
	}
	if res.ToolCalls[0].Name != "search_graph" || res.ToolCalls[0].Arguments != `{"term":"pump"}` {
		t.Errorf("first tool call = %+v", res.ToolCalls[0])
	}
	if res.ToolCalls[1].Arguments != "not json" {
		t.Errorf("arguments should pass through verbatim, got %q", res.ToolCalls[1].Arguments)
	}
	if res.ToolCalls[1].ArgumentsJSON() != nil {
		t.Error("ArgumentsJSON should be nil for unparseable arguments")
	}
}

func TestGateway_Complete_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch n {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(okBody))
		}
	}))
	defer server.Close()

	sleeper := &sleepRecorder{}
	res, err := newTestGateway(t, server.URL, sleeper).Complete(context.Background(), []Message{UserMessage("hi")}, CompletionOptions{}, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("attempts = %d, server calls = %d, want 3", res.Attempts, calls.Load())
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != 2*time.Second || sleeper.delays[1] != 4*time.Second {
		t.Errorf("delays = %v, want [2s 4s]", sleeper.delays)
	}
}

func TestGateway_Complete_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`overloaded`))
	}))
	defer server.Close()

	_, err := newTestGateway(t, server.URL, &sleepRecorder{}).Complete(context.Background(), []Message{UserMessage("hi")}, CompletionOptions{}, nil)
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("error = %T, want *GatewayError", err)
	}
	if !gerr.Exhausted || gerr.Attempts != 3 {
		t.Errorf("GatewayError = %+v, want exhausted after 3", gerr)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("cause = %v, want 503 StatusError", gerr.Cause)
	}
	if calls.Load() != 3 {
		t.Errorf("server calls = %d, want 3", calls.Load())
	}
}

func TestGateway_Complete_FatalStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key Bearer sk-testkeyabcdefghijklmnopqrstuv"}`))
	}))
	defer server.Close()

	_, err := newTestGateway(t, server.URL, &sleepRecorder{}).Complete(context.Background(), []Message{UserMessage("hi")}, CompletionOptions{}, nil)
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("error = %T, want *GatewayError", err)
	}
	if gerr.Exhausted || gerr.Attempts != 1 || calls.Load() != 1 {
		t.Errorf("GatewayError = %+v, calls = %d, want single fatal attempt", gerr, calls.Load())
	}
	if strings.Contains(err.Error(), "sk-testkey") {
		t.Errorf("error leaks credential: %v", err)
	}
	if classifyError(err) != "auth" {
		t.Errorf("classifyError = %q, want auth", classifyError(err))
	}
}

func TestGateway_Complete_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"no choices", `{"choices":[]}`},
		{"error object", `{"error":{"type":"invalid_request","message":"bad"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestGateway(t, server.URL, &sleepRecorder{}).Complete(context.Background(), []Message{UserMessage("hi")}, CompletionOptions{}, nil)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("error = %v, want ErrMalformedResponse", err)
			}
			if calls.Load() != 1 {
				t.Errorf("server calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestGateway_Complete_TransportErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sleeper := &sleepRecorder{}
	_, err := newTestGateway(t, url, sleeper).Complete(context.Background(), []Message{UserMessage("hi")}, CompletionOptions{}, nil)
	var gerr *GatewayError
	if !errors.As(err, &gerr) || !gerr.Exhausted {
		t.Fatalf("error = %v, want exhausted GatewayError", err)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("cause = %T, want *TransportError", gerr.Cause)
	}
	if len(sleeper.delays) != 2 {
		t.Errorf("delays = %v, want 2 waits", sleeper.delays)
	}
}

func TestGateway_Complete_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sleeper := &sleepRecorder{}
	_, err := newTestGateway(t, server.URL, sleeper).Complete(ctx, []Message{UserMessage("hi")}, CompletionOptions{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("cancellation was retried: %v", sleeper.delays)
	}
}

func TestGateway_Complete_ContentParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"part one, "},{"type":"text","text":"part two"}]},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	res, err := newTestGateway(t, server.URL, &sleepRecorder{}).Complete(context.Background(), []Message{UserMessage("hi")}, CompletionOptions{}, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Content != "part one, part two" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestNewGateway_RequiresModel(t *testing.T) {
	if _, err := NewGateway(GatewayConfig{}, nil); err == nil {
		t.Error("NewGateway() without model should fail")
	}
}

func TestGateway_Complete_EmptyMessages(t *testing.T) {
	g, _ := NewGateway(GatewayConfig{Model: "m"}, nil)
	_, err := g.Complete(context.Background(), nil, CompletionOptions{}, nil)
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Errorf("error = %v, want *GatewayError", err)
	}
}
