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

import "strings"

// Builder renders system prompts from a Catalog.
//
// Thread Safety: Safe for concurrent use.
type Builder struct {
	catalog *Catalog
}

// NewBuilder creates a Builder over catalog.
func NewBuilder(catalog *Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// Build returns the system prompt for persona name.
//
// Description:
//
//	The template prompt comes first. When pctx has any of sector,
//	sub-sector, facility, or equipment class set, a "## Current Context"
//	block lists the non-empty ones in that order. Additional instructions
//	follow under "## Additional Instructions".
//
// Outputs:
//   - string: The rendered prompt.
//   - error: *UnknownPersonaError for names outside the persona set.
func (b *Builder) Build(name string, pctx *Context) (string, error) {
	tmpl, err := b.catalog.Template(name)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(tmpl.Prompt)
	if pctx == nil {
		return sb.String(), nil
	}

	fields := []struct{ label, value string }{
		{"Sector", pctx.Sector},
		{"Sub-sector", pctx.SubSector},
		{"Facility", pctx.Facility},
		{"Equipment class", pctx.EquipmentClass},
	}
	wroteHeader := false
	for _, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" {
			continue
		}
		if !wroteHeader {
			sb.WriteString("\n\n## Current Context\n")
			wroteHeader = true
		}
		sb.WriteString("- ")
		sb.WriteString(f.label)
		sb.WriteString(": ")
		sb.WriteString(v)
		sb.WriteString("\n")
	}

	if extra := strings.TrimSpace(pctx.AdditionalInstructions); extra != "" {
		if wroteHeader {
			sb.WriteString("\n")
		} else {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## Additional Instructions\n")
		sb.WriteString(extra)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
