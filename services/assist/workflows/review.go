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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/SectorWiki/services/assist/extract"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

// missingFieldPenalty is the score ceiling reduction per missing required field.
const missingFieldPenalty = 20

// EquipmentRecord is a draft wiki card.
type EquipmentRecord struct {
	Name           string            `json:"name" validate:"required"`
	Sector         string            `json:"sector" validate:"required"`
	SubSector      string            `json:"sub_sector,omitempty"`
	EquipmentClass string            `json:"equipment_class" validate:"required"`
	Manufacturer   string            `json:"manufacturer" validate:"required"`
	Model          string            `json:"model,omitempty"`
	Description    string            `json:"description" validate:"required,min=20"`
	Specifications map[string]string `json:"specifications,omitempty"`
	Standards      []string          `json:"standards,omitempty"`
	Sources        []string          `json:"sources,omitempty" validate:"omitempty,dive,url"`
}

// ReviewResult is the outcome of ReviewCard.
type ReviewResult struct {
	Score         int      `json:"score"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`
	MissingFields []string `json:"missing_fields"`
	Degraded      bool     `json:"degraded"`
}

type reviewWire struct {
	Score       float64  `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// ReviewCard scores a record for completeness and accuracy.
//
// Description:
//
//	Required fields are checked locally first. The reviewer persona then
//	scores the record; an unparseable or failed review scores 0. The
//	final score is clamped to [0, 100] and capped at 100 minus 20 per
//	missing required field. Issues are the union of local and model
//	issues.
func (s *Service) ReviewCard(ctx context.Context, record EquipmentRecord) *ReviewResult {
	localIssues, missing := reviewLocally(record)
	result := &ReviewResult{
		Issues:        []string{},
		Suggestions:   []string{},
		MissingFields: missing,
	}

	pctx := contextFor(record.Sector, record.SubSector, record.EquipmentClass, "")
	run, err := s.coordinator.RunPersona(ctx, string(persona.Reviewer), reviewQuery(record, localIssues), pctx)

	model := reviewWire{}
	switch {
	case err != nil:
		s.logger.Warn("card review failed",
			slog.String("record", record.Name),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		result.Degraded = true
		localIssues = append(localIssues, "automated review unavailable: "+llm.SafeLogString(err.Error()))
	default:
		parsed := extract.Into[*reviewWire](run.FinalAnswer, nil)
		if parsed == nil {
			result.Degraded = true
			localIssues = append(localIssues, "automated review returned no structured result")
		} else {
			model = *parsed
		}
	}

	score := clampScore(model.Score)
	if ceiling := 100 - missingFieldPenalty*len(missing); score > ceiling {
		score = max(ceiling, 0)
	}
	result.Score = score
	result.Issues = nonEmpty(append(localIssues, model.Issues...))
	result.Suggestions = nonEmpty(model.Suggestions)
	return result
}

// reviewLocally validates the record and returns issues plus the names of
// missing required fields.
func reviewLocally(record EquipmentRecord) (issues, missing []string) {
	issues, missing = []string{}, []string{}
	verrs, err := fieldErrors(record)
	if err != nil {
		return append(issues, err.Error()), missing
	}
	for _, fe := range verrs {
		issues = append(issues, describeFieldError(fe))
		if fe.Tag() == "required" {
			missing = append(missing, fieldPath(fe))
		}
	}
	return issues, missing
}

func reviewQuery(record EquipmentRecord, localIssues []string) string {
	body, _ := json.MarshalIndent(record, "", "  ")
	var sb strings.Builder
	sb.WriteString("Review this equipment record:\n```json\n")
	sb.Write(body)
	sb.WriteString("\n```")
	if len(localIssues) > 0 {
		sb.WriteString("\n\nAutomated checks already found:\n")
		for _, issue := range localIssues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
