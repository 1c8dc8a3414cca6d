// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps an embedded BadgerDB used for local caches.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// ErrClosed is returned by transactions on a closed DB.
var ErrClosed = errors.New("badger db closed")

// Config configures OpenDB.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	InMemory bool

	// SyncWrites fsyncs every commit. Off for caches.
	SyncWrites bool

	// GCInterval runs value-log GC periodically. Zero disables it.
	GCInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns an on-disk configuration with periodic GC. Path
// must be filled in by the caller.
func DefaultConfig() Config {
	return Config{GCInterval: 10 * time.Minute}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is a BadgerDB handle with context-aware transaction helpers.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger

	stopGC    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenDB opens or creates the database described by cfg.
func OpenDB(cfg Config) (*DB, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required for on-disk databases")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: creating %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(nil)

	raw, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	d := &DB{db: raw, logger: cfg.Logger, stopGC: make(chan struct{})}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		d.wg.Add(1)
		go d.runGC(cfg.GCInterval)
	}
	return d, nil
}

// WithTxn runs fn in a read-write transaction and commits it.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.View(fn)
}

// Close stops GC and closes the database. Safe to call more than once.
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stopGC)
		d.wg.Wait()
		err = d.db.Close()
	})
	return err
}

func (d *DB) runGC(interval time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			for {
				if err := d.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			d.logger.Debug("badger value log gc pass complete")
		}
	}
}
