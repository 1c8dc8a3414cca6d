// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/SectorWiki/services/assist/consult"
	"github.com/AleutianAI/SectorWiki/services/assist/extract"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/graphstore"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

// researchPersonas are consulted in parallel for every research request.
var researchPersonas = []string{
	string(persona.Researcher),
	string(persona.SecurityAnalyst),
	string(persona.StandardsExpert),
}

const persistResearchQuery = `MERGE (e:Equipment {name: $name})
ON CREATE SET e.created_at = datetime()
SET e.manufacturer = $manufacturer,
    e.model = $model,
    e.sector = $sector,
    e.equipment_class = $equipment_class,
    e.summary = $summary,
    e.vulnerabilities = $vulnerabilities,
    e.standards = $standards,
    e.sources = $sources,
    e.updated_at = datetime()`

// ResearchRequest asks for a researched equipment draft.
type ResearchRequest struct {
	Equipment      string `json:"equipment" validate:"required"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	Model          string `json:"model,omitempty"`
	Sector         string `json:"sector,omitempty"`
	SubSector      string `json:"sub_sector,omitempty"`
	EquipmentClass string `json:"equipment_class,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	// Persist writes the synthesis to the graph.
	Persist bool `json:"persist,omitempty"`
}

// ResearchSynthesis is the structured research draft.
type ResearchSynthesis struct {
	Summary         string            `json:"summary"`
	Specifications  map[string]string `json:"specifications"`
	Vulnerabilities []string          `json:"vulnerabilities"`
	Standards       []string          `json:"standards"`
	Sources         []string          `json:"sources"`
}

// ResearchResult is the outcome of ResearchEquipment.
type ResearchResult struct {
	Synthesis     ResearchSynthesis         `json:"synthesis"`
	Consultations map[string]consult.Result `json:"consultations"`
	Degraded      bool                      `json:"degraded"`
	Warnings      []string                  `json:"warnings,omitempty"`
	Persisted     *graphstore.WriteSummary  `json:"persisted,omitempty"`
}

// synthesisWire tolerates non-string specification values.
type synthesisWire struct {
	Summary         string         `json:"summary"`
	Specifications  map[string]any `json:"specifications"`
	Vulnerabilities []string       `json:"vulnerabilities"`
	Standards       []string       `json:"standards"`
	Sources         []string       `json:"sources"`
}

// ResearchEquipment consults the research personas, synthesizes their
// answers, and optionally persists the draft.
//
// Outputs:
//   - *ResearchResult: Always non-nil for a valid request. Degraded when the
//     synthesis failed or could not be parsed.
//   - error: Only for an invalid request.
func (s *Service) ResearchEquipment(ctx context.Context, req ResearchRequest) (*ResearchResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	pctx := contextFor(req.Sector, req.SubSector, req.EquipmentClass, req.Instructions)
	query := researchQuery(req)

	result := &ResearchResult{
		Synthesis:     emptySynthesis(),
		Consultations: s.coordinator.Consult(ctx, query, researchPersonas, pctx),
	}

	run, err := s.coordinator.Synthesize(ctx, query, result.Consultations, pctx)
	if err != nil {
		s.logger.Warn("research synthesis failed",
			slog.String("equipment", req.Equipment),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		result.Degraded = true
		result.Warnings = append(result.Warnings, "synthesis unavailable: "+llm.SafeLogString(err.Error()))
		result.Synthesis.Summary = fallbackSummary(result.Consultations)
		return result, nil
	}

	wire := extract.Into[*synthesisWire](run.FinalAnswer, nil)
	if wire == nil {
		result.Degraded = true
		result.Warnings = append(result.Warnings, "synthesis was not structured; returning raw text")
		result.Synthesis.Summary = strings.TrimSpace(run.FinalAnswer)
	} else {
		result.Synthesis = normalizeSynthesis(*wire)
	}

	if req.Persist {
		s.persistResearch(ctx, req, result)
	}
	return result, nil
}

func (s *Service) persistResearch(ctx context.Context, req ResearchRequest, result *ResearchResult) {
	if s.graph == nil {
		result.Warnings = append(result.Warnings, "persistence requested but no graph store is configured")
		return
	}
	syn := result.Synthesis
	summary, err := s.graph.Write(ctx, persistResearchQuery, map[string]any{
		"name":            req.Equipment,
		"manufacturer":    req.Manufacturer,
		"model":           req.Model,
		"sector":          req.Sector,
		"equipment_class": req.EquipmentClass,
		"summary":         syn.Summary,
		"vulnerabilities": syn.Vulnerabilities,
		"standards":       syn.Standards,
		"sources":         syn.Sources,
	})
	if err != nil {
		s.logger.Warn("persisting research failed",
			slog.String("equipment", req.Equipment),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		result.Warnings = append(result.Warnings, "persistence failed: "+llm.SafeLogString(err.Error()))
		return
	}
	result.Persisted = summary
}

func researchQuery(req ResearchRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research the equipment %q.", req.Equipment)
	if req.Manufacturer != "" {
		fmt.Fprintf(&sb, "\nManufacturer: %s", req.Manufacturer)
	}
	if req.Model != "" {
		fmt.Fprintf(&sb, "\nModel: %s", req.Model)
	}
	sb.WriteString("\nCover technical specifications, known vulnerabilities, applicable standards, and sources.")
	return sb.String()
}

func emptySynthesis() ResearchSynthesis {
	return ResearchSynthesis{
		Specifications:  map[string]string{},
		Vulnerabilities: []string{},
		Standards:       []string{},
		Sources:         []string{},
	}
}

func normalizeSynthesis(w synthesisWire) ResearchSynthesis {
	out := emptySynthesis()
	out.Summary = strings.TrimSpace(w.Summary)
	for k, v := range w.Specifications {
		k = strings.TrimSpace(k)
		if k == "" || v == nil {
			continue
		}
		out.Specifications[k] = strings.TrimSpace(fmt.Sprint(v))
	}
	out.Vulnerabilities = nonEmpty(w.Vulnerabilities)
	out.Standards = nonEmpty(w.Standards)
	out.Sources = nonEmpty(w.Sources)
	return out
}

// fallbackSummary joins the successful consultation answers.
func fallbackSummary(results map[string]consult.Result) string {
	names := make([]string, 0, len(results))
	for name, r := range results {
		if !r.Failed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("[%s] %s", name, strings.TrimSpace(results[name].Content)))
	}
	return strings.Join(parts, "\n\n")
}
