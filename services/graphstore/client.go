// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SectorWiki/services/llm"
	"github.com/AleutianAI/SectorWiki/services/resilience"
)

// Client is the guarded entry point for graph queries.
//
// Description:
//
//	Every call asks the breaker first; when it is open the call fails
//	with ErrUnavailable without touching the store. Admitted calls run
//	under the retry policy and report exactly one outcome to the breaker:
//	success when the store answered (including a *QueryError), failure
//	otherwise. ErrClosed after Close is returned as is and records nothing.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	manager *Manager
	breaker *resilience.CircuitBreaker
	policy  resilience.RetryPolicy
	logger  *slog.Logger
}

// NewClient creates a client. The policy's Retryable predicate is replaced
// with one that never retries query errors.
func NewClient(manager *Manager, breaker *resilience.CircuitBreaker, policy resilience.RetryPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Name == "" {
		policy.Name = "graphstore"
	}
	policy.Retryable = retryable
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Client{manager: manager, breaker: breaker, policy: policy, logger: logger}
}

// Query runs a read query.
func (c *Client) Query(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	var rows []Row
	err := c.call(ctx, "read", cypher, func(ctx context.Context, exec Executor) error {
		var err error
		rows, err = exec.Read(ctx, cypher, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	storeRowsReturned.Observe(float64(len(rows)))
	return rows, nil
}

// Write runs a write query.
func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) (*WriteSummary, error) {
	var summary *WriteSummary
	err := c.call(ctx, "write", cypher, func(ctx context.Context, exec Executor) error {
		var err error
		summary, err = exec.Write(ctx, cypher, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Breaker returns the breaker's current state.
func (c *Client) Breaker() resilience.BreakerSnapshot {
	return c.breaker.Snapshot()
}

// Close shuts down the underlying connection.
func (c *Client) Close(ctx context.Context) error {
	return c.manager.Shutdown(ctx)
}

func (c *Client) call(ctx context.Context, operation, cypher string, fn func(context.Context, Executor) error) error {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "graphstore.Client."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "neo4j"),
			attribute.String("db.operation", operation),
			attribute.Int("db.statement_length", len(cypher)),
		),
	)
	defer span.End()
	start := time.Now()

	ticket, err := c.breaker.Allow()
	if err != nil {
		c.observe(operation, "rejected", start)
		span.SetStatus(codes.Error, "circuit open")
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	attempts := 0
	err = c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		exec, err := c.manager.Get(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return resilience.Permanent(err)
			}
			return err
		}
		return fn(ctx, exec)
	})
	span.SetAttributes(attribute.Int("db.attempts", attempts))

	var qerr *QueryError
	switch {
	case err == nil:
		c.breaker.RecordSuccess(ticket)
		c.observe(operation, "success", start)
		span.SetStatus(codes.Ok, "")
		return nil
	case errors.Is(err, ErrClosed):
		// Shutdown says nothing about store health.
		c.breaker.Release(ticket)
		c.observe(operation, "closed", start)
		span.SetStatus(codes.Error, "closed")
		return ErrClosed
	case errors.As(err, &qerr):
		c.breaker.RecordSuccess(ticket)
		c.observe(operation, "query_error", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, qerr.Code)
		return err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.breaker.RecordFailure(ticket)
		c.observe(operation, "canceled", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "canceled")
		return err
	default:
		c.breaker.RecordFailure(ticket)
		c.observe(operation, "unavailable", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unavailable")
		c.logger.Warn("graph store call failed",
			slog.String("operation", operation),
			slog.Int("attempts", attempts),
			slog.String("breaker", c.breaker.Snapshot().State),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (c *Client) observe(operation, status string, start time.Time) {
	storeCallDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	storeCallsTotal.WithLabelValues(operation, status).Inc()
}

func retryable(err error) bool {
	var qerr *QueryError
	switch {
	case errors.As(err, &qerr):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
