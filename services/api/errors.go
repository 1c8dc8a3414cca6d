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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/assist/workflows"
	"github.com/AleutianAI/SectorWiki/services/graphstore"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestIDMiddleware propagates or assigns a request ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// writeError maps an error to a status code and error code.
//
// Description:
//
//	Unknown personas and invalid bodies are 400. Gateway failures are 502
//	and an unavailable graph store is 503. Deadline and cancellation map
//	to 504. Anything else is 500 with a generic message.
func writeError(c *gin.Context, err error) {
	status, code, msg := classify(err)
	logger := slog.With(slog.String("request_id", requestID(c)), slog.String("path", c.FullPath()))
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.Int("status", status),
			slog.String("code", code),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
	} else {
		logger.Info("request rejected", slog.Int("status", status), slog.String("code", code))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code, RequestID: requestID(c)})
}

func classify(err error) (status int, code, msg string) {
	var invalid *workflows.InvalidRequestError
	var gateway *llm.GatewayError
	switch {
	case errors.Is(err, persona.ErrUnknownPersona):
		return http.StatusBadRequest, CodeUnknownPersona, err.Error()
	case errors.As(err, &invalid):
		return http.StatusBadRequest, CodeInvalidRequest, err.Error()
	case errors.Is(err, graphstore.ErrUnavailable), errors.Is(err, graphstore.ErrClosed):
		return http.StatusServiceUnavailable, CodeStoreUnavailable, "graph store unavailable"
	case errors.As(err, &gateway):
		return http.StatusBadGateway, CodeGatewayError, llm.SafeLogString(err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, CodeTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

func badRequest(c *gin.Context, err error) {
	writeError(c, &workflows.InvalidRequestError{Problems: []string{err.Error()}})
}
