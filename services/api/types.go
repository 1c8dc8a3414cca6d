// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/SectorWiki/services/assist/agent"
	"github.com/AleutianAI/SectorWiki/services/assist/consult"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/llm"
	"github.com/AleutianAI/SectorWiki/services/resilience"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeUnknownPersona   = "UNKNOWN_PERSONA"
	CodeGatewayError     = "GATEWAY_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// HealthResponse reports process and dependency health.
type HealthResponse struct {
	Status  string                      `json:"status"`
	Model   string                      `json:"model,omitempty"`
	Breaker *resilience.BreakerSnapshot `json:"breaker,omitempty"`
}

// PersonaInfo describes one persona for clients.
type PersonaInfo struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	ResponseFormat string   `json:"response_format,omitempty"`
	AllowedTools   []string `json:"allowed_tools"`
}

// PersonasResponse lists personas.
type PersonasResponse struct {
	Personas []PersonaInfo `json:"personas"`
}

// ToolsResponse lists configured tools.
type ToolsResponse struct {
	Tools []llm.ToolDef `json:"tools"`
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Persona string           `json:"persona" binding:"required"`
	Query   string           `json:"query" binding:"required"`
	Context *persona.Context `json:"context,omitempty"`
}

// ConsultRequest is the body of POST /consult.
type ConsultRequest struct {
	Query string `json:"query" binding:"required"`
	// Personas defaults to the configured consultation set when empty.
	Personas   []string         `json:"personas,omitempty"`
	Context    *persona.Context `json:"context,omitempty"`
	Synthesize bool             `json:"synthesize,omitempty"`
}

// ConsultResponse carries per-persona results and an optional synthesis.
type ConsultResponse struct {
	Results   map[string]consult.Result `json:"results"`
	Synthesis *SynthesisResponse        `json:"synthesis,omitempty"`
}

// SynthesisResponse is the synthesizer's answer, or why there is none.
type SynthesisResponse struct {
	Answer     string            `json:"answer,omitempty"`
	ToolTraces []agent.ToolTrace `json:"tool_traces,omitempty"`
	Error      string            `json:"error,omitempty"`
}
