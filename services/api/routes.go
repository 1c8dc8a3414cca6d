// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the assistant workflows over HTTP.
package api

import "github.com/gin-gonic/gin"

// RegisterRoutes registers the assistant endpoints.
//
// Description:
//
//	Registers all assistant endpoints under the given router group. The
//	group is typically /v1.
//
// Inputs:
//
//	rg - Router group (e.g., /v1).
//	handlers - The handlers instance. Must not be nil.
//
// Endpoints:
//
//	GET  /v1/assist/health    - Liveness and graph store breaker state
//	GET  /v1/assist/personas  - Persona catalog
//	GET  /v1/assist/tools     - Configured tool definitions
//	POST /v1/assist/ask       - Run one persona
//	POST /v1/assist/consult   - Run several personas in parallel
//	POST /v1/assist/research  - Research an equipment item
//	POST /v1/assist/review    - Score an equipment record
//	POST /v1/assist/coverage  - Find uncovered equipment classes for a sector
//	POST /v1/assist/vendors   - Source vendors for an equipment class
//
// Example:
//
//	router := gin.New()
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	assist := rg.Group("/assist")
	{
		assist.GET("/health", handlers.HandleHealth)
		assist.GET("/personas", handlers.HandlePersonas)
		assist.GET("/tools", handlers.HandleTools)

		assist.POST("/ask", handlers.HandleAsk)
		assist.POST("/consult", handlers.HandleConsult)

		assist.POST("/research", handlers.HandleResearch)
		assist.POST("/review", handlers.HandleReview)
		assist.POST("/coverage", handlers.HandleCoverage)
		assist.POST("/vendors", handlers.HandleVendors)
	}
}
