// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/assist/tools"
	"github.com/AleutianAI/SectorWiki/services/assist/workflows"
	"github.com/AleutianAI/SectorWiki/services/llm"
	"github.com/AleutianAI/SectorWiki/services/resilience"
)

var errNoPersonas = errors.New("no personas requested and no default consultation set configured")

// BreakerReporter exposes graph store breaker state for health checks.
// *graphstore.Client satisfies it.
type BreakerReporter interface {
	Breaker() resilience.BreakerSnapshot
}

// Handlers serves the assistant HTTP API.
//
// Thread Safety: Safe for concurrent use. All fields are read-only after
// construction.
type Handlers struct {
	svc             *workflows.Service
	catalog         *persona.Catalog
	registry        *tools.Registry
	defaultPersonas []string
	store           BreakerReporter
	model           string
	logger          *slog.Logger
}

// HandlersConfig carries the optional pieces of a Handlers.
type HandlersConfig struct {
	// DefaultPersonas is used by /consult when the request names none.
	DefaultPersonas []string

	// Store reports breaker state on /health. May be nil.
	Store BreakerReporter

	// Model is the configured model name, shown on /health.
	Model string

	Logger *slog.Logger
}

// NewHandlers creates Handlers over svc.
func NewHandlers(svc *workflows.Service, cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	coordinator := svc.Coordinator()
	return &Handlers{
		svc:             svc,
		catalog:         coordinator.Catalog(),
		registry:        coordinator.Tools(),
		defaultPersonas: append([]string(nil), cfg.DefaultPersonas...),
		store:           cfg.Store,
		model:           cfg.Model,
		logger:          logger,
	}
}

// HandleHealth reports liveness and the graph store breaker.
//
// Outputs: 200 with status "ok", or "degraded" while the breaker is not
// closed. The process is still serving in both cases.
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Model: h.model}
	if h.store != nil {
		snap := h.store.Breaker()
		resp.Breaker = &snap
		if snap.State != resilience.StatusClosed.String() {
			resp.Status = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePersonas lists the persona catalog.
func (h *Handlers) HandlePersonas(c *gin.Context) {
	templates := h.catalog.Templates()
	out := make([]PersonaInfo, 0, len(templates))
	for _, t := range templates {
		allowed := t.Profile.AllowedTools
		if allowed == nil {
			allowed = []string{}
		}
		out = append(out, PersonaInfo{
			ID:             string(t.ID),
			Title:          t.Title,
			Description:    t.Description,
			ResponseFormat: t.Profile.ResponseFormat,
			AllowedTools:   allowed,
		})
	}
	c.JSON(http.StatusOK, PersonasResponse{Personas: out})
}

// HandleTools lists the configured tool definitions.
func (h *Handlers) HandleTools(c *gin.Context) {
	defs := h.registry.Definitions()
	if defs == nil {
		defs = []llm.ToolDef{}
	}
	c.JSON(http.StatusOK, ToolsResponse{Tools: defs})
}

// HandleAsk runs one persona.
//
// Errors: 400 UNKNOWN_PERSONA, 400 INVALID_REQUEST, 502 GATEWAY_ERROR.
func (h *Handlers) HandleAsk(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := persona.Parse(req.Persona); err != nil {
		writeError(c, err)
		return
	}
	result, err := h.svc.Ask(c.Request.Context(), req.Persona, req.Query, req.Context)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleConsult fans a query out to several personas.
//
// Description:
//
//	Every named persona is validated before any model call, so one bad
//	name rejects the whole request. Individual persona failures are
//	reported inside Results and never fail the request. When Synthesize
//	is set the synthesizer merges the successful answers.
func (h *Handlers) HandleConsult(c *gin.Context) {
	var req ConsultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	names := req.Personas
	if len(names) == 0 {
		names = h.defaultPersonas
	}
	if len(names) == 0 {
		badRequest(c, errNoPersonas)
		return
	}
	for _, name := range names {
		if _, err := persona.Parse(name); err != nil {
			writeError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	resp := ConsultResponse{Results: h.svc.Consult(ctx, req.Query, names, req.Context)}
	if req.Synthesize {
		resp.Synthesis = &SynthesisResponse{}
		run, err := h.svc.Coordinator().Synthesize(ctx, req.Query, resp.Results, req.Context)
		if err != nil {
			h.logger.Warn("consult synthesis failed",
				slog.String("request_id", requestID(c)),
				slog.String("error", err.Error()),
			)
			resp.Synthesis.Error = err.Error()
		} else {
			resp.Synthesis.Answer = run.FinalAnswer
			resp.Synthesis.ToolTraces = run.ToolTraces
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleResearch runs the research workflow.
func (h *Handlers) HandleResearch(c *gin.Context) {
	var req workflows.ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.svc.ResearchEquipment(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleReview scores an equipment record.
func (h *Handlers) HandleReview(c *gin.Context) {
	var record workflows.EquipmentRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.ReviewCard(c.Request.Context(), record))
}

// HandleCoverage runs the coverage workflow.
func (h *Handlers) HandleCoverage(c *gin.Context) {
	var req workflows.CoverageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.svc.AnalyzeCoverage(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleVendors runs the vendor sourcing workflow.
func (h *Handlers) HandleVendors(c *gin.Context) {
	var req workflows.VendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.svc.SourceVendors(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
