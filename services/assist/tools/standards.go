// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

// LookupStandardsName is the model-facing name of the standards lookup tool.
const LookupStandardsName = "lookup_standards"

//go:embed standards.yaml
var defaultStandardsYAML []byte

// Standard is one catalog entry.
type Standard struct {
	ID               string   `yaml:"id" json:"id"`
	Title            string   `yaml:"title" json:"title"`
	Body             string   `yaml:"body" json:"body"`
	Summary          string   `yaml:"summary" json:"summary"`
	Sectors          []string `yaml:"sectors" json:"sectors"`
	EquipmentClasses []string `yaml:"equipment_classes" json:"equipment_classes"`
	URL              string   `yaml:"url" json:"url,omitempty"`
}

// StandardsOutput is returned to the model.
type StandardsOutput struct {
	Count   int        `json:"count"`
	Matches []Standard `json:"matches"`
}

// StandardsCatalog is an in-memory list of standards.
//
// Thread Safety: Immutable after LoadStandards returns.
type StandardsCatalog struct {
	standards []Standard
}

// LoadStandards parses a YAML standards catalog.
func LoadStandards(data []byte) (*StandardsCatalog, error) {
	var file struct {
		Standards []Standard `yaml:"standards"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing standards catalog: %w", err)
	}
	for i, s := range file.Standards {
		if s.ID == "" || s.Title == "" {
			return nil, fmt.Errorf("standards catalog entry %d: id and title are required", i)
		}
	}
	return &StandardsCatalog{standards: file.Standards}, nil
}

var (
	standardsOnce   sync.Once
	standardsCached *StandardsCatalog
	standardsErr    error
)

// DefaultStandards returns the embedded catalog, parsed on first use.
func DefaultStandards() (*StandardsCatalog, error) {
	standardsOnce.Do(func() {
		standardsCached, standardsErr = LoadStandards(defaultStandardsYAML)
	})
	return standardsCached, standardsErr
}

// Find returns standards matching every non-empty filter. Matching is a
// case-insensitive substring test.
func (c *StandardsCatalog) Find(sector, equipmentClass, keyword string) []Standard {
	sector = strings.ToLower(strings.TrimSpace(sector))
	equipmentClass = strings.ToLower(strings.TrimSpace(equipmentClass))
	keyword = strings.ToLower(strings.TrimSpace(keyword))

	out := []Standard{}
	for _, s := range c.standards {
		if sector != "" && !anyContains(s.Sectors, sector) {
			continue
		}
		if equipmentClass != "" && !anyContains(s.EquipmentClasses, equipmentClass) {
			continue
		}
		if keyword != "" {
			haystack := strings.ToLower(s.ID + " " + s.Title + " " + s.Summary + " " + s.Body)
			if !strings.Contains(haystack, keyword) {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// anyContains reports whether any value contains needle, or needle contains
// the value ("protective relays" matches "protective relay").
func anyContains(values []string, needle string) bool {
	for _, v := range values {
		v = strings.ToLower(v)
		if strings.Contains(v, needle) || strings.Contains(needle, v) {
			return true
		}
	}
	return false
}

// LookupStandardsTool searches the standards catalog.
func LookupStandardsTool(catalog *StandardsCatalog) Tool {
	def := Define(LookupStandardsName,
		"Find regulatory and industry standards that apply to a sector or equipment class.",
		map[string]llm.ToolParamDef{
			"sector":          {Type: "string", Description: "Sector, e.g. energy, water, healthcare."},
			"equipment_class": {Type: "string", Description: "Equipment class, e.g. protective relay."},
			"keyword":         {Type: "string", Description: "Free-text filter on id, title, and summary."},
		})

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		sector := stringArg(args, "sector")
		class := stringArg(args, "equipment_class")
		keyword := stringArg(args, "keyword")
		if sector == "" && class == "" && keyword == "" {
			return nil, errors.New("provide at least one of 'sector', 'equipment_class', or 'keyword'")
		}
		matches := catalog.Find(sector, class, keyword)
		return StandardsOutput{Count: len(matches), Matches: matches}, nil
	}

	return Tool{Definition: def, Handler: handler}
}
