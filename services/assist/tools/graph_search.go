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
	"errors"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

// SearchGraphName is the model-facing name of the graph search tool.
const SearchGraphName = "search_graph"

// GraphQuerier runs read queries against the property graph.
type GraphQuerier interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// graphLabels are the node labels the name search may filter on.
var graphLabels = []any{"Equipment", "Vendor", "Standard", "Sector", "Facility", "Vulnerability"}

const nameSearchQuery = `MATCH (n)
WHERE ($label = '' OR $label IN labels(n))
  AND toLower(coalesce(n.name, '')) CONTAINS toLower($term)
RETURN labels(n) AS labels, properties(n) AS properties
LIMIT $limit`

const (
	defaultGraphLimit = 20
	maxGraphLimit     = 100
)

// GraphSearchOutput is returned to the model for a successful search.
type GraphSearchOutput struct {
	Mode  string           `json:"mode"`
	Count int              `json:"count"`
	Rows  []map[string]any `json:"rows"`
}

// Refusal is returned instead of running a query that would write.
type Refusal struct {
	Error   string `json:"error"`
	Refused bool   `json:"refused"`
	Keyword string `json:"keyword,omitempty"`
}

// SearchGraphTool searches the wiki's graph by node name, or runs a
// read-only Cypher query supplied by the model.
func SearchGraphTool(store GraphQuerier) Tool {
	def := Define(SearchGraphName,
		"Search the equipment knowledge graph. Pass 'term' to find nodes whose name contains it, "+
			"optionally filtered by 'label'. Advanced: pass a read-only Cypher query in 'cypher' "+
			"with parameters in 'params'. Write clauses are refused.",
		map[string]llm.ToolParamDef{
			"term":   {Type: "string", Description: "Case-insensitive substring of the node name."},
			"label":  {Type: "string", Description: "Restrict results to nodes with this label.", Enum: graphLabels},
			"limit":  {Type: "integer", Description: "Maximum rows to return (1-100).", Default: defaultGraphLimit},
			"cypher": {Type: "string", Description: "A read-only Cypher query. Use $name placeholders."},
			"params": {Type: "object", Description: "Parameters for the Cypher query."},
		})

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		if cypher := stringArg(args, "cypher"); cypher != "" {
			if err := CheckReadOnly(cypher); err != nil {
				refusal := Refusal{Error: err.Error(), Refused: true}
				var violation *ReadOnlyViolationError
				if errors.As(err, &violation) {
					refusal.Keyword = violation.Keyword
				}
				return refusal, nil
			}
			params := mapArg(args, "params")
			if params == nil {
				params = map[string]any{}
			}
			rows, err := store.Query(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return GraphSearchOutput{Mode: "cypher", Count: len(rows), Rows: nonNilRows(rows)}, nil
		}

		term, err := requireString(args, "term")
		if err != nil {
			return nil, err
		}
		rows, err := store.Query(ctx, nameSearchQuery, map[string]any{
			"term":  term,
			"label": stringArg(args, "label"),
			"limit": intArg(args, "limit", defaultGraphLimit, maxGraphLimit),
		})
		if err != nil {
			return nil, err
		}
		return GraphSearchOutput{Mode: "name", Count: len(rows), Rows: nonNilRows(rows)}, nil
	}

	return Tool{Definition: def, Handler: handler}
}

func nonNilRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	return rows
}
