// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphstore is the guarded client for the wiki's property graph.
//
// Description:
//
//	A Manager lazily opens one process-wide Executor (a pooled neo4j
//	driver). A Client wraps every call in a circuit breaker and the shared
//	retry policy, so a failing store is tried once per cooldown instead of
//	on every request.
//
// Thread Safety:
//
//	Manager, Client, and the neo4j Executor are safe for concurrent use.
package graphstore

import (
	"context"
	"errors"
	"fmt"
)

// Row is one result record keyed by column alias.
type Row = map[string]any

// WriteSummary reports what a write query changed.
type WriteSummary struct {
	NodesCreated         int `json:"nodes_created"`
	NodesDeleted         int `json:"nodes_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsDeleted int `json:"relationships_deleted"`
	PropertiesSet        int `json:"properties_set"`
	LabelsAdded          int `json:"labels_added"`
}

// Executor runs Cypher against a connected store.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Executor interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
	Write(ctx context.Context, cypher string, params map[string]any) (*WriteSummary, error)
	Close(ctx context.Context) error
}

// Connector opens an Executor.
type Connector func(ctx context.Context) (Executor, error)

var (
	// ErrUnavailable is returned when the store cannot serve a call: the
	// breaker is open or connection-level failures exhausted the retries.
	ErrUnavailable = errors.New("graph store unavailable")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("graph store closed")
)

// QueryError reports a query the store rejected (syntax, constraint,
// security). The store is healthy, so these are neither retried nor
// counted against the breaker.
type QueryError struct {
	Code    string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("graph query rejected (%s): %s", e.Code, e.Message)
}
