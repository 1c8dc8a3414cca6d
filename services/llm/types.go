// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the remote call gateway to the chat-completions endpoint.
package llm

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Response format values accepted by CompletionOptions.ResponseFormat.
const (
	ResponseFormatText = "text"
	ResponseFormatJSON = "json_object"
)

// Message is one turn of a conversation.
//
// Description:
//
//	System, user, and plain assistant turns use Role + Content. Assistant
//	turns that request tools carry ToolCalls. Tool result turns carry the
//	ToolCallID they answer and the ToolName that produced them.
//
// Thread Safety: Message is safe for concurrent read access.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// SystemMessage builds a system turn.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user turn.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// ToolCall is one tool invocation requested by the model.
//
// Arguments holds the model's argument text verbatim. It is usually a JSON
// object but callers must not assume it parses.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a tool to the model using the function-calling schema.
//
// Thread Safety: ToolDef is immutable and safe for concurrent read access.
type ToolDef struct {
	// Type is always "function".
	Type string `json:"type"`

	Function ToolFunction `json:"function"`
}

// ToolFunction contains the function name, description, and parameter schema.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is the JSON Schema object describing the arguments.
type ToolParameters struct {
	// Type is always "object".
	Type       string                  `json:"type"`
	Properties map[string]ToolParamDef `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

// ToolParamDef defines a single parameter in JSON Schema format.
type ToolParamDef struct {
	// Type is the JSON Schema type (string, integer, number, boolean, array, object).
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Enum        []any         `json:"enum,omitempty"`
	Default     any           `json:"default,omitempty"`
	Items       *ToolParamDef `json:"items,omitempty"`
}

// CompletionOptions tunes a single completion request.
type CompletionOptions struct {
	// Model overrides the gateway's default model when set.
	Model string `json:"model,omitempty"`

	// Temperature is omitted from the request when nil.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens is omitted from the request when zero.
	MaxTokens int `json:"max_tokens,omitempty"`

	// ResponseFormat is "text" (or empty) or "json_object".
	ResponseFormat string `json:"response_format,omitempty"`

	Stop []string `json:"stop,omitempty"`
}

// Float returns a pointer to v, for CompletionOptions.Temperature.
func Float(v float64) *float64 { return &v }

// Usage reports token accounting returned by the endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is the outcome of one successful Complete call.
//
// Thread Safety: CompletionResult is safe for concurrent read access.
type CompletionResult struct {
	// Content is the assistant text. Empty when the model only requested tools.
	Content string `json:"content"`

	// ToolCalls lists tool requests in the order the model issued them.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// FinishReason is the endpoint's finish_reason ("stop", "tool_calls", "length").
	FinishReason string `json:"finish_reason"`

	Usage Usage `json:"usage"`

	// Model is the model that served the request.
	Model string `json:"model"`

	// Attempts is the number of HTTP attempts it took, including the successful one.
	Attempts int `json:"attempts"`
}

// HasToolCalls reports whether the model requested any tools.
func (r *CompletionResult) HasToolCalls() bool { return r != nil && len(r.ToolCalls) > 0 }

// ArgumentsJSON returns the arguments as raw JSON when they parse, or nil.
func (t ToolCall) ArgumentsJSON() json.RawMessage {
	if !json.Valid([]byte(t.Arguments)) {
		return nil
	}
	return json.RawMessage(t.Arguments)
}
