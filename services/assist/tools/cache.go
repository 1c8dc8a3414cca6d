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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	badgerstore "github.com/AleutianAI/SectorWiki/services/storage/badger"
)

// DefaultCacheTTL is how long cached tool results stay valid.
const DefaultCacheTTL = 24 * time.Hour

var toolCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "assist",
	Subsystem: "tools",
	Name:      "cache_requests_total",
	Help:      "Tool result cache lookups by tool and result (hit, miss, error)",
}, []string{"tool", "result"})

var errCacheMiss = errors.New("tool cache miss")

// Cache stores tool results in BadgerDB keyed by tool name and arguments.
//
// Description:
//
//	Only successful results are cached. Storage errors are logged and the
//	handler runs as if the cache were absent.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a cache. ttl <= 0 uses DefaultCacheTTL.
func NewCache(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, ttl: ttl, logger: logger}
}

// Wrap returns tool with its handler fronted by the cache.
func (c *Cache) Wrap(tool Tool) Tool {
	if c == nil {
		return tool
	}
	name := tool.Definition.Function.Name
	inner := tool.Handler
	tool.Handler = func(ctx context.Context, args map[string]any) (any, error) {
		key, err := cacheKey(name, args)
		if err != nil {
			return inner(ctx, args)
		}

		if cached, err := c.load(ctx, key); err == nil {
			toolCacheRequests.WithLabelValues(name, "hit").Inc()
			return json.RawMessage(cached), nil
		} else if !errors.Is(err, errCacheMiss) {
			toolCacheRequests.WithLabelValues(name, "error").Inc()
			c.logger.Warn("tool cache read failed", slog.String("tool", name), slog.String("error", err.Error()))
		} else {
			toolCacheRequests.WithLabelValues(name, "miss").Inc()
		}

		result, err := inner(ctx, args)
		if err != nil {
			return nil, err
		}
		if raw, merr := json.Marshal(result); merr == nil {
			if serr := c.store(ctx, key, raw); serr != nil {
				c.logger.Warn("tool cache write failed", slog.String("tool", name), slog.String("error", serr.Error()))
			}
		}
		return result, nil
	}
	return tool
}

func (c *Cache) load(ctx context.Context, key []byte) ([]byte, error) {
	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	return raw, err
}

func (c *Cache) store(ctx context.Context, key, value []byte) error {
	return c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.SetEntry(dgbadger.NewEntry(key, value).WithTTL(c.ttl))
	})
}

// cacheKey hashes the tool name and canonical arguments. encoding/json
// sorts map keys, so equal argument maps hash equally.
func cacheKey(name string, args map[string]any) ([]byte, error) {
	canon, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(canon)
	return []byte("tools/v1/" + name + "/" + hex.EncodeToString(h.Sum(nil))), nil
}
