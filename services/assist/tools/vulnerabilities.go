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
	"strings"
	"time"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

// LookupVulnerabilitiesName is the model-facing name of the CVE lookup tool.
const LookupVulnerabilitiesName = "lookup_vulnerabilities"

// DefaultNVDURL is the NVD CVE API 2.0 endpoint.
const DefaultNVDURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// NVDConfig configures the vulnerability lookup.
type NVDConfig struct {
	BaseURL string
	// Credential is sent in the apiKey header. Optional; NVD rate-limits
	// anonymous clients harder.
	Credential llm.CredentialSource
	HTTPClient *http.Client
	MaxResults int
}

// Vulnerability is a condensed CVE record.
type Vulnerability struct {
	ID          string   `json:"id"`
	Published   string   `json:"published,omitempty"`
	Description string   `json:"description"`
	Severity    string   `json:"severity,omitempty"`
	Score       float64  `json:"score,omitempty"`
	References  []string `json:"references,omitempty"`
}

// VulnerabilityOutput is returned to the model.
type VulnerabilityOutput struct {
	Query           string          `json:"query"`
	TotalResults    int             `json:"total_results"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

type nvdResponse struct {
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		V31 []nvdMetric `json:"cvssMetricV31"`
		V30 []nvdMetric `json:"cvssMetricV30"`
		V2  []nvdMetric `json:"cvssMetricV2"`
	} `json:"metrics"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
	// CVSS v2 reports severity outside cvssData.
	BaseSeverity string `json:"baseSeverity"`
}

const maxReferencesPerCVE = 3

// LookupVulnerabilitiesTool searches NVD by keyword or CVE identifier.
func LookupVulnerabilitiesTool(cfg NVDConfig) Tool {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNVDURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	def := Define(LookupVulnerabilitiesName,
		"Look up published vulnerabilities (CVEs) in the National Vulnerability Database by product keyword or CVE ID.",
		map[string]llm.ToolParamDef{
			"keyword": {Type: "string", Description: "Vendor and product words, e.g. 'Siemens SIPROTEC 5'."},
			"cve_id":  {Type: "string", Description: "A specific CVE identifier, e.g. CVE-2023-12345."},
			"limit":   {Type: "integer", Description: "Maximum records (1-20).", Default: maxResults},
		})

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		keyword := stringArg(args, "keyword")
		cveID := strings.ToUpper(stringArg(args, "cve_id"))
		if keyword == "" && cveID == "" {
			return nil, errors.New("provide either 'keyword' or 'cve_id'")
		}
		limit := intArg(args, "limit", maxResults, 20)

		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		query := keyword
		if cveID != "" {
			q.Set("cveId", cveID)
			query = cveID
		} else {
			q.Set("keywordSearch", keyword)
		}
		q.Set("resultsPerPage", strconv.Itoa(limit))
		u.RawQuery = q.Encode()

		var resp nvdResponse
		if err := getJSON(ctx, client, u.String(), headerAuth(cfg.Credential, "apiKey", ""), &resp); err != nil {
			return nil, err
		}

		out := VulnerabilityOutput{Query: query, TotalResults: resp.TotalResults, Vulnerabilities: []Vulnerability{}}
		for _, v := range resp.Vulnerabilities {
			if len(out.Vulnerabilities) >= limit {
				break
			}
			out.Vulnerabilities = append(out.Vulnerabilities, condenseCVE(v.CVE))
		}
		return out, nil
	}

	return Tool{Definition: def, Handler: handler}
}

func condenseCVE(c nvdCVE) Vulnerability {
	v := Vulnerability{ID: c.ID, Published: c.Published}
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			v.Description = d.Value
			break
		}
	}
	if v.Description == "" && len(c.Descriptions) > 0 {
		v.Description = c.Descriptions[0].Value
	}

	for _, set := range [][]nvdMetric{c.Metrics.V31, c.Metrics.V30, c.Metrics.V2} {
		if len(set) == 0 {
			continue
		}
		m := set[0]
		v.Score = m.CVSSData.BaseScore
		v.Severity = m.CVSSData.BaseSeverity
		if v.Severity == "" {
			v.Severity = m.BaseSeverity
		}
		break
	}

	for _, r := range c.References {
		if len(v.References) >= maxReferencesPerCVE {
			break
		}
		v.References = append(v.References, r.URL)
	}
	return v
}
