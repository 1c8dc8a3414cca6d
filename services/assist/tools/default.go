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

import "fmt"

// Dependencies selects which built-in tools a registry carries. Nil or
// unconfigured collaborators leave their tool out.
type Dependencies struct {
	Graph     GraphQuerier
	WebSearch *WebSearchConfig
	NVD       *NVDConfig
	Standards *StandardsCatalog

	// Cache fronts the tools that call external HTTP APIs.
	Cache *Cache
}

// NewDefaultRegistry builds the registry of built-in tools.
func NewDefaultRegistry(deps Dependencies) (*Registry, error) {
	var list []Tool

	if deps.Graph != nil {
		list = append(list, SearchGraphTool(deps.Graph))
	}
	if deps.WebSearch != nil && deps.WebSearch.BaseURL != "" {
		list = append(list, deps.Cache.Wrap(WebSearchTool(*deps.WebSearch)))
	}
	if deps.NVD != nil {
		list = append(list, deps.Cache.Wrap(LookupVulnerabilitiesTool(*deps.NVD)))
	}

	standards := deps.Standards
	if standards == nil {
		var err error
		if standards, err = DefaultStandards(); err != nil {
			return nil, fmt.Errorf("loading standards catalog: %w", err)
		}
	}
	list = append(list, LookupStandardsTool(standards))

	return Build(list...)
}
