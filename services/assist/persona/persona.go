// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persona holds the closed set of assistant personas and builds
// their system prompts.
package persona

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

// ID names a persona.
type ID string

// The persona set is closed: every ID has exactly one template.
const (
	Researcher      ID = "researcher"
	Reviewer        ID = "reviewer"
	SecurityAnalyst ID = "security_analyst"
	StandardsExpert ID = "standards_expert"
	VendorAnalyst   ID = "vendor_analyst"
	CoverageAnalyst ID = "coverage_analyst"
	Synthesizer     ID = "synthesizer"
)

var allIDs = []ID{Researcher, Reviewer, SecurityAnalyst, StandardsExpert, VendorAnalyst, CoverageAnalyst, Synthesizer}

// All returns every persona ID in catalog order.
func All() []ID {
	out := make([]ID, len(allIDs))
	copy(out, allIDs)
	return out
}

// ErrUnknownPersona matches any *UnknownPersonaError via errors.Is.
var ErrUnknownPersona = errors.New("unknown persona")

// UnknownPersonaError reports a name outside the persona set.
type UnknownPersonaError struct {
	Name string
}

func (e *UnknownPersonaError) Error() string {
	return fmt.Sprintf("unknown persona %q", e.Name)
}

// Is lets errors.Is(err, ErrUnknownPersona) match.
func (e *UnknownPersonaError) Is(target error) bool { return target == ErrUnknownPersona }

// Parse resolves a persona name. Matching ignores case and surrounding space.
func Parse(name string) (ID, error) {
	norm := ID(strings.ToLower(strings.TrimSpace(name)))
	for _, id := range allIDs {
		if id == norm {
			return id, nil
		}
	}
	return "", &UnknownPersonaError{Name: name}
}

// Context describes what the user is working on. Empty fields are omitted
// from prompts.
type Context struct {
	Sector                 string `json:"sector,omitempty"`
	SubSector              string `json:"sub_sector,omitempty"`
	Facility               string `json:"facility,omitempty"`
	EquipmentClass         string `json:"equipment_class,omitempty"`
	AdditionalInstructions string `json:"additional_instructions,omitempty"`
}

// Profile holds a persona's default call settings.
type Profile struct {
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
	MaxIterations  int
	AllowedTools   []string
}

// CompletionOptions converts the profile to gateway options.
func (p Profile) CompletionOptions() llm.CompletionOptions {
	return llm.CompletionOptions{
		Temperature:    llm.Float(p.Temperature),
		MaxTokens:      p.MaxTokens,
		ResponseFormat: p.ResponseFormat,
	}
}

// Template is one persona's immutable definition.
type Template struct {
	ID          ID
	Title       string
	Description string
	Prompt      string
	Profile     Profile
}
