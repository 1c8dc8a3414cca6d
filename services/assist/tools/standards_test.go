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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func standardIDs(list []Standard) []string {
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids
}

func TestDefaultStandards_Loads(t *testing.T) {
	catalog, err := DefaultStandards()
	require.NoError(t, err)
	assert.NotEmpty(t, catalog.Find("", "", ""))
}

func TestStandards_Find(t *testing.T) {
	catalog, err := DefaultStandards()
	require.NoError(t, err)

	tests := []struct {
		name                   string
		sector, class, keyword string
		want                   []string
	}{
		{"sector and class", "water", "pump", "", []string{"AWWA-G430", "NSF-ANSI-61"}},
		{"case insensitive sector", "HEALTHCARE", "", "", []string{"NIST-SP-800-82", "IEC-60601"}},
		{"plural class", "", "infusion pumps", "", []string{"NSF-ANSI-61", "IEC-60601"}},
		{"keyword in summary", "", "", "substation", []string{"IEC-61850"}},
		{"no match", "space", "", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, standardIDs(catalog.Find(tt.sector, tt.class, tt.keyword)))
		})
	}
}

func TestLookupStandardsTool(t *testing.T) {
	catalog, err := LoadStandards([]byte(`
standards:
  - id: A-1
    title: Alpha
    sectors: [energy]
    equipment_classes: [relay]
  - id: B-2
    title: Beta
    sectors: [water]
    equipment_classes: [pump]
`))
	require.NoError(t, err)

	tool := LookupStandardsTool(catalog)
	out, err := tool.Handler(context.Background(), map[string]any{"sector": "energy"})
	require.NoError(t, err)
	res := out.(StandardsOutput)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "A-1", res.Matches[0].ID)

	_, err = tool.Handler(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestLoadStandards_RejectsIncompleteEntries(t *testing.T) {
	_, err := LoadStandards([]byte("standards:\n  - title: no id\n"))
	require.Error(t, err)

	_, err = LoadStandards([]byte("standards: [unterminated"))
	require.Error(t, err)
}
