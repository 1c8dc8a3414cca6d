// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persona

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	c, err := DefaultCatalog()
	require.NoError(t, err)
	return NewBuilder(c)
}

func TestDefaultCatalog_CoversEveryPersona(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	templates := c.Templates()
	require.Len(t, templates, len(All()))
	for i, id := range All() {
		assert.Equal(t, id, templates[i].ID)
		assert.NotEmpty(t, templates[i].Prompt, id)
		assert.Greater(t, templates[i].Profile.MaxTokens, 0, id)
		assert.Greater(t, templates[i].Profile.MaxIterations, 0, id)
	}
}

func TestParse(t *testing.T) {
	id, err := Parse("  Security_Analyst ")
	require.NoError(t, err)
	assert.Equal(t, SecurityAnalyst, id)

	_, err = Parse("astrologer")
	var upe *UnknownPersonaError
	require.True(t, errors.As(err, &upe))
	assert.Equal(t, "astrologer", upe.Name)
	assert.True(t, errors.Is(err, ErrUnknownPersona))
}

func TestBuild_NoContext(t *testing.T) {
	prompt, err := testBuilder(t).Build("researcher", nil)
	require.NoError(t, err)
	assert.NotContains(t, prompt, "## Current Context")
	assert.NotContains(t, prompt, "## Additional Instructions")
}

func TestBuild_ListsOnlyNonEmptyFieldsInOrder(t *testing.T) {
	prompt, err := testBuilder(t).Build("researcher", &Context{
		Sector:         "Energy",
		Facility:       "Substation 12",
		EquipmentClass: "Protective relay",
	})
	require.NoError(t, err)

	block := prompt[strings.Index(prompt, "## Current Context"):]
	assert.Equal(t, "## Current Context\n- Sector: Energy\n- Facility: Substation 12\n- Equipment class: Protective relay", block)
	assert.NotContains(t, prompt, "Sub-sector")
}

func TestBuild_AdditionalInstructions(t *testing.T) {
	prompt, err := testBuilder(t).Build("reviewer", &Context{
		SubSector:              "Water treatment",
		AdditionalInstructions: "Be strict about sources.",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(prompt,
		"## Current Context\n- Sub-sector: Water treatment\n\n## Additional Instructions\nBe strict about sources."), prompt)
}

func TestBuild_EmptyContextAddsNothing(t *testing.T) {
	b := testBuilder(t)
	bare, err := b.Build("synthesizer", nil)
	require.NoError(t, err)
	withEmpty, err := b.Build("synthesizer", &Context{Sector: "  "})
	require.NoError(t, err)
	assert.Equal(t, bare, withEmpty)
}

func TestBuild_UnknownPersona(t *testing.T) {
	_, err := testBuilder(t).Build("oracle", nil)
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestLoadCatalog_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown id", "personas:\n  - id: oracle\n    prompt: x\n"},
		{"missing personas", "personas:\n  - id: researcher\n    prompt: x\n"},
		{"empty prompt", "personas:\n  - id: researcher\n    prompt: ''\n"},
		{"duplicate", "personas:\n  - id: researcher\n    prompt: x\n  - id: researcher\n    prompt: y\n"},
		{"bad yaml", "personas: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestProfile_CompletionOptions(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	tmpl, err := c.Template("reviewer")
	require.NoError(t, err)

	opts := tmpl.Profile.CompletionOptions()
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.1, *opts.Temperature, 1e-9)
	assert.Equal(t, "json_object", opts.ResponseFormat)
	assert.Equal(t, 1200, opts.MaxTokens)
}

func TestCatalog_TemplateReturnsCopy(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	a, _ := c.Template("researcher")
	a.Profile.AllowedTools[0] = "mutated"
	b, _ := c.Template("researcher")
	assert.NotEqual(t, "mutated", b.Profile.AllowedTools[0])
}
