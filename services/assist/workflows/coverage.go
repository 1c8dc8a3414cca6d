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
	"strings"

	"github.com/AleutianAI/SectorWiki/services/assist/extract"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

const knownClassesQuery = `MATCH (e:Equipment)
WHERE toLower(coalesce(e.sector, '')) = toLower($sector)
  AND e.equipment_class IS NOT NULL
RETURN DISTINCT e.equipment_class AS equipment_class
ORDER BY equipment_class
LIMIT 500`

// CoverageRequest asks which equipment classes a sector is missing.
type CoverageRequest struct {
	Sector    string `json:"sector" validate:"required"`
	SubSector string `json:"sub_sector,omitempty"`
	// KnownClasses are classes the wiki already covers. They are merged
	// with classes loaded from the graph when LoadFromGraph is set.
	KnownClasses  []string `json:"known_classes,omitempty"`
	LoadFromGraph bool     `json:"load_from_graph,omitempty"`
}

// CoverageGap is one missing equipment class.
type CoverageGap struct {
	EquipmentClass string `json:"equipment_class"`
	Priority       string `json:"priority"`
	Rationale      string `json:"rationale"`
}

// CoverageResult is the outcome of AnalyzeCoverage.
type CoverageResult struct {
	Sector        string        `json:"sector"`
	CoverageScore int           `json:"coverage_score"`
	Gaps          []CoverageGap `json:"gaps"`
	KnownClasses  []string      `json:"known_classes"`
	Degraded      bool          `json:"degraded"`
	Warnings      []string      `json:"warnings,omitempty"`
}

type coverageWire struct {
	CoverageScore float64       `json:"coverage_score"`
	Gaps          []CoverageGap `json:"gaps"`
}

// AnalyzeCoverage asks the coverage analyst for gaps in a sector.
//
// Outputs:
//   - *CoverageResult: Score 0 and no gaps when the analysis failed.
//   - error: Only for an invalid request.
func (s *Service) AnalyzeCoverage(ctx context.Context, req CoverageRequest) (*CoverageResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	result := &CoverageResult{Sector: req.Sector, Gaps: []CoverageGap{}}

	known := append([]string(nil), req.KnownClasses...)
	if req.LoadFromGraph {
		loaded, err := s.loadKnownClasses(ctx, req.Sector)
		if err != nil {
			result.Warnings = append(result.Warnings, "could not load existing classes: "+llm.SafeLogString(err.Error()))
		}
		known = append(known, loaded...)
	}
	result.KnownClasses = nonEmpty(known)

	pctx := contextFor(req.Sector, req.SubSector, "", "")
	run, err := s.coordinator.RunPersona(ctx, string(persona.CoverageAnalyst), coverageQuery(req, result.KnownClasses), pctx)
	if err != nil {
		s.logger.Warn("coverage analysis failed",
			slog.String("sector", req.Sector),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		result.Degraded = true
		result.Warnings = append(result.Warnings, "analysis unavailable: "+llm.SafeLogString(err.Error()))
		return result, nil
	}

	parsed := extract.Into[*coverageWire](run.FinalAnswer, nil)
	if parsed == nil {
		result.Degraded = true
		result.Warnings = append(result.Warnings, "analysis returned no structured result")
		return result, nil
	}
	result.CoverageScore = clampScore(parsed.CoverageScore)
	result.Gaps = normalizeGaps(parsed.Gaps)
	return result, nil
}

func (s *Service) loadKnownClasses(ctx context.Context, sector string) ([]string, error) {
	if s.graph == nil {
		return nil, fmt.Errorf("no graph store configured")
	}
	rows, err := s.graph.Query(ctx, knownClassesQuery, map[string]any{"sector": sector})
	if err != nil {
		return nil, err
	}
	classes := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row["equipment_class"].(string); ok {
			classes = append(classes, v)
		}
	}
	return classes, nil
}

func coverageQuery(req CoverageRequest, known []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Assess the wiki's equipment coverage for the %s sector", req.Sector)
	if req.SubSector != "" {
		fmt.Fprintf(&sb, " (%s)", req.SubSector)
	}
	sb.WriteString(".")
	if len(known) == 0 {
		sb.WriteString("\nThe wiki does not cover any equipment classes in this sector yet.")
	} else {
		sb.WriteString("\nEquipment classes already covered:")
		for _, c := range known {
			fmt.Fprintf(&sb, "\n- %s", c)
		}
	}
	return sb.String()
}

// normalizeGaps drops gaps without a class and maps unknown priorities to
// medium.
func normalizeGaps(gaps []CoverageGap) []CoverageGap {
	out := make([]CoverageGap, 0, len(gaps))
	for _, g := range gaps {
		g.EquipmentClass = strings.TrimSpace(g.EquipmentClass)
		if g.EquipmentClass == "" {
			continue
		}
		switch p := strings.ToLower(strings.TrimSpace(g.Priority)); p {
		case "high", "medium", "low":
			g.Priority = p
		default:
			g.Priority = "medium"
		}
		g.Rationale = strings.TrimSpace(g.Rationale)
		out = append(out, g)
	}
	return out
}
