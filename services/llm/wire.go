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
	"encoding/json"
	"strings"
)

// =============================================================================
// Chat Completions Wire Types
// =============================================================================

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Tools          []ToolDef       `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatMessage serializes content as null for assistant turns that only
// carry tool calls.
type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatCallFunction `json:"function"`
}

type chatCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int                 `json:"index"`
	Message      chatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

// chatResponseMessage keeps content raw: some providers return a string,
// some null, some an array of typed parts.
type chatResponseMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	ToolCalls []chatToolCall  `json:"tool_calls,omitempty"`
}

type chatError struct {
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
	Message string `json:"message"`
}

// buildChatRequest converts gateway types to the wire request.
func buildChatRequest(model string, messages []Message, opts CompletionOptions, tools []ToolDef) chatRequest {
	req := chatRequest{
		Model:       model,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
	}
	if opts.ResponseFormat != "" && opts.ResponseFormat != ResponseFormatText {
		req.ResponseFormat = &responseFormat{Type: opts.ResponseFormat}
	}
	if len(tools) > 0 {
		req.Tools = make([]ToolDef, len(tools))
		for i, td := range tools {
			if td.Type == "" {
				td.Type = "function"
			}
			if td.Function.Parameters.Type == "" {
				td.Function.Parameters.Type = "object"
			}
			req.Tools[i] = td
		}
		req.ToolChoice = "auto"
	}

	for _, m := range messages {
		wm := chatMessage{Role: m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			content := m.Content
			wm.Content = &content
		}
		if m.Role == RoleTool {
			wm.ToolCallID = m.ToolCallID
			wm.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		req.Messages = append(req.Messages, wm)
	}
	return req
}

// parseContent accepts a string, null, or an array of {type, text} parts.
func parseContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" || p.Type == "output_text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}
