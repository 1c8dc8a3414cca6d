// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflows composes the tool loop and the consultation coordinator
// into the assistant's user-facing operations.
//
// Description:
//
//	Every workflow that interprets model output defines an explicit
//	fallback, so callers always receive a structurally valid result. A
//	result produced from a fallback is marked Degraded.
package workflows

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/SectorWiki/services/assist/agent"
	"github.com/AleutianAI/SectorWiki/services/assist/consult"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/graphstore"
)

// GraphStore is the subset of the graph client the workflows use.
// *graphstore.Client satisfies it.
type GraphStore interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]graphstore.Row, error)
	Write(ctx context.Context, cypher string, params map[string]any) (*graphstore.WriteSummary, error)
}

// Service runs the assistant workflows.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	coordinator *consult.Coordinator
	graph       GraphStore
	logger      *slog.Logger
}

// NewService creates a Service. graph may be nil, which disables
// persistence and graph-backed coverage lookups.
func NewService(coordinator *consult.Coordinator, graph GraphStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{coordinator: coordinator, graph: graph, logger: logger}
}

// Coordinator returns the underlying consultation coordinator.
func (s *Service) Coordinator() *consult.Coordinator { return s.coordinator }

// AskResult is a single persona's answer.
type AskResult struct {
	Persona      string            `json:"persona"`
	Answer       string            `json:"answer"`
	ToolTraces   []agent.ToolTrace `json:"tool_traces"`
	Iterations   int               `json:"iterations"`
	LimitReached bool              `json:"limit_reached"`
}

// Ask runs one persona over query.
//
// Outputs:
//   - *AskResult: The persona's answer.
//   - error: *persona.UnknownPersonaError or the loop's error. Unlike the
//     other workflows, Ask has no fallback.
func (s *Service) Ask(ctx context.Context, name, query string, pctx *persona.Context) (*AskResult, error) {
	id, err := persona.Parse(name)
	if err != nil {
		return nil, err
	}
	run, err := s.coordinator.RunPersona(ctx, string(id), query, pctx)
	if err != nil {
		return nil, err
	}
	return &AskResult{
		Persona:      string(id),
		Answer:       run.FinalAnswer,
		ToolTraces:   run.ToolTraces,
		Iterations:   run.Iterations,
		LimitReached: run.LimitReached,
	}, nil
}

// Consult fans query out to personas. It never fails.
func (s *Service) Consult(ctx context.Context, query string, personas []string, pctx *persona.Context) map[string]consult.Result {
	return s.coordinator.Consult(ctx, query, personas, pctx)
}

// contextFor builds a persona context, leaving out empty fields.
func contextFor(sector, subSector, equipmentClass, instructions string) *persona.Context {
	pctx := &persona.Context{
		Sector:                 strings.TrimSpace(sector),
		SubSector:              strings.TrimSpace(subSector),
		EquipmentClass:         strings.TrimSpace(equipmentClass),
		AdditionalInstructions: strings.TrimSpace(instructions),
	}
	if *pctx == (persona.Context{}) {
		return nil
	}
	return pctx
}

// clampScore bounds a model-reported score to [0, 100].
func clampScore(v float64) int {
	switch {
	case v != v || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}

// nonEmpty trims entries and drops blanks and duplicates, keeping order.
func nonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
