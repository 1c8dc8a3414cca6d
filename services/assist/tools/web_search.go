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
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

// WebSearchName is the model-facing name of the web search tool.
const WebSearchName = "web_search"

// WebSearchConfig configures the web search collaborator.
type WebSearchConfig struct {
	// BaseURL accepts GET ?q=&count= and returns {"results": [...]}.
	BaseURL    string
	Credential llm.CredentialSource
	HTTPClient *http.Client
	MaxResults int
}

// WebResult is one search hit.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchOutput is returned to the model.
type WebSearchOutput struct {
	Query   string      `json:"query"`
	Count   int         `json:"count"`
	Results []WebResult `json:"results"`
}

// WebSearchTool queries the configured search API.
func WebSearchTool(cfg WebSearchConfig) Tool {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	def := Define(WebSearchName,
		"Search the public web. Use for manufacturer documentation, datasheets, and news not yet in the wiki.",
		map[string]llm.ToolParamDef{
			"query": {Type: "string", Description: "The search query."},
			"count": {Type: "integer", Description: "Number of results (1-10).", Default: maxResults},
		},
		"query")

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		query, err := requireString(args, "query")
		if err != nil {
			return nil, err
		}
		if cfg.BaseURL == "" {
			return nil, errors.New("web search is not configured")
		}
		count := intArg(args, "count", maxResults, 10)

		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("q", query)
		q.Set("count", strconv.Itoa(count))
		u.RawQuery = q.Encode()

		var resp struct {
			Results []WebResult `json:"results"`
		}
		if err := getJSON(ctx, client, u.String(), headerAuth(cfg.Credential, "Authorization", "Bearer "), &resp); err != nil {
			return nil, err
		}
		results := resp.Results
		if len(results) > count {
			results = results[:count]
		}
		if results == nil {
			results = []WebResult{}
		}
		return WebSearchOutput{Query: query, Count: len(results), Results: results}, nil
	}

	return Tool{Definition: def, Handler: handler}
}
