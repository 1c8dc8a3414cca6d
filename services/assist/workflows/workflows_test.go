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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SectorWiki/services/assist/agent"
	"github.com/AleutianAI/SectorWiki/services/assist/consult"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/graphstore"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

// routedCompleter answers by the first system prompt prefix that matches.
type routedCompleter struct {
	mu     sync.Mutex
	routes map[string]func(msgs []llm.Message) (*llm.CompletionResult, error)
	seen   []string
}

func (r *routedCompleter) Complete(_ context.Context, msgs []llm.Message, _ llm.CompletionOptions, _ []llm.ToolDef) (*llm.CompletionResult, error) {
	system := msgs[0].Content
	r.mu.Lock()
	r.seen = append(r.seen, system)
	r.mu.Unlock()
	for prefix, fn := range r.routes {
		if strings.HasPrefix(system, prefix) {
			return fn(msgs)
		}
	}
	return nil, errors.New("no route for prompt")
}

func reply(text string) func([]llm.Message) (*llm.CompletionResult, error) {
	return func([]llm.Message) (*llm.CompletionResult, error) {
		return &llm.CompletionResult{Content: text, FinishReason: "stop"}, nil
	}
}

func failWith(err error) func([]llm.Message) (*llm.CompletionResult, error) {
	return func([]llm.Message) (*llm.CompletionResult, error) { return nil, err }
}

const (
	reviewerPrefix    = "You review equipment records"
	synthesizerPrefix = "You merge answers"
	coveragePrefix    = "You assess how completely"
	vendorPrefix      = "You identify manufacturers"
	researcherPrefix  = "You are an equipment researcher"
	securityPrefix    = "You are an industrial control systems security analyst"
	standardsPrefix   = "You are a standards and compliance expert"
)

type fakeGraph struct {
	rows      []graphstore.Row
	queryErr  error
	writes    []map[string]any
	lastQuery string
}

func (f *fakeGraph) Query(_ context.Context, cypher string, _ map[string]any) ([]graphstore.Row, error) {
	f.lastQuery = cypher
	return f.rows, f.queryErr
}

func (f *fakeGraph) Write(_ context.Context, _ string, params map[string]any) (*graphstore.WriteSummary, error) {
	f.writes = append(f.writes, params)
	return &graphstore.WriteSummary{NodesCreated: 1}, nil
}

func newTestService(t *testing.T, c *routedCompleter, graph GraphStore) *Service {
	t.Helper()
	catalog, err := persona.DefaultCatalog()
	require.NoError(t, err)
	coord := consult.NewCoordinator(agent.NewLoop(c), catalog, nil)
	return NewService(coord, graph, nil)
}

func TestReviewCard_MissingFieldsEndToEnd(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		reviewerPrefix: reply("Here is my review:\n" +
			`{"score": 95, "issues": ["Model number unverified"], "suggestions": ["Add a datasheet link"]}`),
	}}
	svc := newTestService(t, c, nil)

	res := svc.ReviewCard(context.Background(), EquipmentRecord{
		Name:           "SEL-751 Feeder Protection Relay",
		Sector:         "energy",
		EquipmentClass: "protective relay",
	})

	assert.GreaterOrEqual(t, res.Score, 0)
	assert.LessOrEqual(t, res.Score, 100)
	assert.Equal(t, 60, res.Score, "two missing fields cap the score at 60")
	assert.ElementsMatch(t, []string{"manufacturer", "description"}, res.MissingFields)
	assert.Contains(t, res.Issues, "missing required field: manufacturer")
	assert.Contains(t, res.Issues, "missing required field: description")
	assert.Contains(t, res.Issues, "Model number unverified")
	assert.Equal(t, []string{"Add a datasheet link"}, res.Suggestions)
	assert.False(t, res.Degraded)
}

func TestReviewCard_CompleteRecordKeepsModelScore(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		reviewerPrefix: reply(`{"score": 140, "issues": [], "suggestions": []}`),
	}}
	svc := newTestService(t, c, nil)

	res := svc.ReviewCard(context.Background(), EquipmentRecord{
		Name:           "SEL-751",
		Sector:         "energy",
		EquipmentClass: "protective relay",
		Manufacturer:   "Schweitzer Engineering Laboratories",
		Description:    "Feeder protection relay with arc-flash detection.",
		Sources:        []string{"https://selinc.com/products/751/"},
	})
	assert.Equal(t, 100, res.Score)
	assert.Empty(t, res.MissingFields)
	assert.Empty(t, res.Issues)
}

func TestReviewCard_GatewayFailureIsDegraded(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		reviewerPrefix: failWith(&llm.GatewayError{Attempts: 3, Exhausted: true, Cause: errors.New("status 503")}),
	}}
	svc := newTestService(t, c, nil)

	res := svc.ReviewCard(context.Background(), EquipmentRecord{Name: "x", Sources: []string{"not a url"}})
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Score)
	assert.Contains(t, res.Issues, "sources[0] is not a valid URL")
	assert.NotEmpty(t, res.Issues)
	found := false
	for _, issue := range res.Issues {
		if strings.HasPrefix(issue, "automated review unavailable") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestReviewCard_UndecodableReviewIsDegraded(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		reviewerPrefix: reply(`{"score":85,"issues":[{"field":"manufacturer","problem":"missing"}]}`),
	}}
	svc := newTestService(t, c, nil)

	res := svc.ReviewCard(context.Background(), EquipmentRecord{
		Name:           "SEL-751",
		Sector:         "energy",
		EquipmentClass: "protective relay",
		Manufacturer:   "Schweitzer Engineering Laboratories",
		Description:    "Feeder protection relay with arc-flash detection.",
	})
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Score)
	assert.Contains(t, res.Issues, "automated review returned no structured result")
}

func TestResearchEquipment_MalformedSynthesisKeepsRawText(t *testing.T) {
	raw := `{"summary":"ok","specifications":{"voltage":"480V"}, trailing garbage}`
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		researcherPrefix:  reply("a"),
		securityPrefix:    reply("b"),
		standardsPrefix:   reply("c"),
		synthesizerPrefix: reply(raw),
	}}
	svc := newTestService(t, c, nil)

	res, err := svc.ResearchEquipment(context.Background(), ResearchRequest{Equipment: "pump"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, raw, res.Synthesis.Summary)
	assert.Empty(t, res.Synthesis.Specifications)
}

func TestResearchEquipment_SynthesizesAndPersists(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		researcherPrefix: reply("Numerical feeder relay."),
		securityPrefix:   failWith(errors.New("status 500")),
		standardsPrefix:  reply("IEC 61850 applies."),
		synthesizerPrefix: func(msgs []llm.Message) (*llm.CompletionResult, error) {
			user := msgs[1].Content
			if !strings.Contains(user, "No answer from: security_analyst") {
				return nil, errors.New("synthesis prompt missing failed persona")
			}
			return &llm.CompletionResult{Content: `{"summary": "A feeder relay.",
				"specifications": {"voltage": 120, "inputs": "8"},
				"vulnerabilities": [], "standards": ["IEC 61850", " ", "IEC 61850"],
				"sources": ["https://selinc.com"]}`}, nil
		},
	}}
	graph := &fakeGraph{}
	svc := newTestService(t, c, graph)

	res, err := svc.ResearchEquipment(context.Background(), ResearchRequest{
		Equipment: "SEL-751", Manufacturer: "SEL", Sector: "energy", Persist: true,
	})
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	assert.Len(t, res.Consultations, 3)
	assert.True(t, res.Consultations["security_analyst"].Failed)
	assert.Equal(t, "A feeder relay.", res.Synthesis.Summary)
	assert.Equal(t, map[string]string{"voltage": "120", "inputs": "8"}, res.Synthesis.Specifications)
	assert.Equal(t, []string{"IEC 61850"}, res.Synthesis.Standards)
	assert.Equal(t, []string{}, res.Synthesis.Vulnerabilities)

	require.Len(t, graph.writes, 1)
	assert.Equal(t, "SEL-751", graph.writes[0]["name"])
	require.NotNil(t, res.Persisted)
}

func TestResearchEquipment_UnstructuredSynthesisFallsBack(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		researcherPrefix:  reply("a"),
		securityPrefix:    reply("b"),
		standardsPrefix:   reply("c"),
		synthesizerPrefix: reply("  Just prose, no JSON.  "),
	}}
	svc := newTestService(t, c, nil)

	res, err := svc.ResearchEquipment(context.Background(), ResearchRequest{Equipment: "pump"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, "Just prose, no JSON.", res.Synthesis.Summary)
	assert.NotNil(t, res.Synthesis.Specifications)
	assert.NotNil(t, res.Synthesis.Sources)
}

func TestResearchEquipment_AllConsultationsFailed(t *testing.T) {
	boom := failWith(errors.New("down"))
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		researcherPrefix: boom, securityPrefix: boom, standardsPrefix: boom,
	}}
	svc := newTestService(t, c, nil)

	res, err := svc.ResearchEquipment(context.Background(), ResearchRequest{Equipment: "pump"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Synthesis.Summary)
}

func TestResearchEquipment_InvalidRequest(t *testing.T) {
	svc := newTestService(t, &routedCompleter{}, nil)
	_, err := svc.ResearchEquipment(context.Background(), ResearchRequest{})
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"missing required field: equipment"}, invalid.Problems)
}

func TestAnalyzeCoverage(t *testing.T) {
	var prompt string
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		coveragePrefix: func(msgs []llm.Message) (*llm.CompletionResult, error) {
			prompt = msgs[1].Content
			return &llm.CompletionResult{Content: `{"coverage_score": 42.4, "gaps": [
				{"equipment_class": "RTU", "priority": "HIGH", "rationale": "common"},
				{"equipment_class": "", "priority": "low"},
				{"equipment_class": "HMI", "priority": "urgent"}]}`}, nil
		},
	}}
	graph := &fakeGraph{rows: []graphstore.Row{{"equipment_class": "protective relay"}, {"equipment_class": nil}}}
	svc := newTestService(t, c, graph)

	res, err := svc.AnalyzeCoverage(context.Background(), CoverageRequest{
		Sector: "energy", KnownClasses: []string{"transformer"}, LoadFromGraph: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res.CoverageScore)
	assert.Equal(t, []string{"transformer", "protective relay"}, res.KnownClasses)
	assert.Equal(t, []CoverageGap{
		{EquipmentClass: "RTU", Priority: "high", Rationale: "common"},
		{EquipmentClass: "HMI", Priority: "medium"},
	}, res.Gaps)
	assert.Contains(t, prompt, "- protective relay")
	assert.Equal(t, knownClassesQuery, graph.lastQuery)
}

func TestAnalyzeCoverage_FallbackAndGraphFailure(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		coveragePrefix: reply("I cannot tell."),
	}}
	graph := &fakeGraph{queryErr: graphstore.ErrUnavailable}
	svc := newTestService(t, c, graph)

	res, err := svc.AnalyzeCoverage(context.Background(), CoverageRequest{Sector: "water", LoadFromGraph: true})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Zero(t, res.CoverageScore)
	assert.Equal(t, []CoverageGap{}, res.Gaps)
	assert.Len(t, res.Warnings, 2)
}

func TestSourceVendors(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		want     []string
		degraded bool
	}{
		{
			name:   "array",
			answer: `Vendors: [{"name": "Siemens", "products": ["SIPROTEC 5"]}, {"name": "siemens", "products": ["SIPROTEC 4"]}, {"name": ""}]`,
			want:   []string{"Siemens"},
		},
		{
			name:   "wrapped object",
			answer: `{"vendors": [{"name": "ABB"}, {"name": "GE Vernova"}]}`,
			want:   []string{"ABB", "GE Vernova"},
		},
		{
			name:     "prose",
			answer:   "No structured list available.",
			want:     []string{},
			degraded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
				vendorPrefix: reply(tt.answer),
			}}
			svc := newTestService(t, c, nil)

			res, err := svc.SourceVendors(context.Background(), VendorRequest{EquipmentClass: "protective relay"})
			require.NoError(t, err)
			names := make([]string, 0, len(res.Vendors))
			for _, v := range res.Vendors {
				names = append(names, v.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, tt.degraded, res.Degraded)
		})
	}
}

func TestSourceVendors_MergesProducts(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		vendorPrefix: reply(`[{"name": "Siemens", "products": ["SIPROTEC 5"]}, {"name": "siemens", "products": ["SIPROTEC 4", "SIPROTEC 5"]}]`),
	}}
	res, err := newTestService(t, c, nil).SourceVendors(context.Background(), VendorRequest{EquipmentClass: "relay"})
	require.NoError(t, err)
	require.Len(t, res.Vendors, 1)
	assert.Equal(t, []string{"SIPROTEC 5", "SIPROTEC 4"}, res.Vendors[0].Products)
}

func TestAsk(t *testing.T) {
	c := &routedCompleter{routes: map[string]func([]llm.Message) (*llm.CompletionResult, error){
		standardsPrefix: reply("NERC CIP."),
	}}
	svc := newTestService(t, c, nil)

	res, err := svc.Ask(context.Background(), " Standards_Expert ", "Which standards?", &persona.Context{Sector: "energy"})
	require.NoError(t, err)
	assert.Equal(t, "standards_expert", res.Persona)
	assert.Equal(t, "NERC CIP.", res.Answer)

	_, err = svc.Ask(context.Background(), "oracle", "q", nil)
	require.ErrorIs(t, err, persona.ErrUnknownPersona)
}
