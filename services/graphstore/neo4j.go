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
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

// Neo4jConfig configures the neo4j connector.
type Neo4jConfig struct {
	URI      string
	Username string
	// Password is optional; nil connects without authentication.
	Password llm.CredentialSource
	// Database selects a named database. Empty uses the server default.
	Database       string
	MaxPoolSize    int
	ConnectTimeout time.Duration
}

// NewNeo4jConnector returns a Connector that opens a pooled driver and
// verifies connectivity before handing it out.
func NewNeo4jConnector(cfg Neo4jConfig) Connector {
	return func(ctx context.Context) (Executor, error) {
		token := neo4j.NoAuth()
		if cfg.Password != nil {
			err := cfg.Password.WithSecret(func(secret string) error {
				token = neo4j.BasicAuth(cfg.Username, secret, "")
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("reading graph credential: %w", err)
			}
		}

		driver, err := neo4j.NewDriverWithContext(cfg.URI, token, func(c *neo4j.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.ConnectTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectTimeout
				c.ConnectionAcquisitionTimeout = cfg.ConnectTimeout
			}
		})
		if err != nil {
			return nil, fmt.Errorf("creating neo4j driver: %s", llm.SafeLogString(err.Error()))
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			_ = driver.Close(context.Background())
			return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
		}
		return &neo4jExecutor{driver: driver, database: cfg.Database}, nil
	}
}

// neo4jExecutor runs queries through ExecuteQuery with eager results.
type neo4jExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

func (e *neo4jExecutor) options(read bool) []neo4j.ExecuteQueryConfigurationOption {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if e.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(e.database))
	}
	if read {
		opts = append(opts, neo4j.ExecuteQueryWithReadersRouting())
	} else {
		opts = append(opts, neo4j.ExecuteQueryWithWritersRouting())
	}
	return opts
}

func (e *neo4jExecutor) Read(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	res, err := neo4j.ExecuteQuery(ctx, e.driver, cypher, params, neo4j.EagerResultTransformer, e.options(true)...)
	if err != nil {
		return nil, classifyNeo4jError(err)
	}
	rows := make([]Row, 0, len(res.Records))
	for _, rec := range res.Records {
		row := make(Row, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = normalizeValue(rec.Values[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *neo4jExecutor) Write(ctx context.Context, cypher string, params map[string]any) (*WriteSummary, error) {
	res, err := neo4j.ExecuteQuery(ctx, e.driver, cypher, params, neo4j.EagerResultTransformer, e.options(false)...)
	if err != nil {
		return nil, classifyNeo4jError(err)
	}
	c := res.Summary.Counters()
	return &WriteSummary{
		NodesCreated:         c.NodesCreated(),
		NodesDeleted:         c.NodesDeleted(),
		RelationshipsCreated: c.RelationshipsCreated(),
		RelationshipsDeleted: c.RelationshipsDeleted(),
		PropertiesSet:        c.PropertiesSet(),
		LabelsAdded:          c.LabelsAdded(),
	}, nil
}

func (e *neo4jExecutor) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

// classifyNeo4jError turns client errors into *QueryError. Transient and
// connection errors pass through for the retry policy.
func classifyNeo4jError(err error) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && strings.HasPrefix(nerr.Code, "Neo.ClientError.") {
		return &QueryError{Code: nerr.Code, Message: nerr.Msg}
	}
	return err
}

// normalizeValue converts driver graph types into plain maps so rows
// serialize cleanly.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case neo4j.Node:
		return map[string]any{"labels": t.Labels, "properties": normalizeMap(t.Props)}
	case neo4j.Relationship:
		return map[string]any{"type": t.Type, "properties": normalizeMap(t.Props)}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return normalizeMap(t)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}
