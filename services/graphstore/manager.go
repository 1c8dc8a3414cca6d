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
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns the process-wide Executor.
//
// Description:
//
//	Get connects on first use. The connection is dialed outside the lock;
//	concurrent callers wait for the dial in flight instead of starting
//	their own. A failed connection is not cached, so the next Get tries
//	again. Shutdown closes the executor and makes later calls fail with
//	ErrClosed; an executor that finishes connecting after Shutdown is
//	closed immediately.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	connect Connector
	logger  *slog.Logger

	mu         sync.Mutex
	exec       Executor
	connecting chan struct{}
	closed     bool
}

// NewManager creates a Manager that opens executors with connect.
func NewManager(connect Connector, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{connect: connect, logger: logger}
}

// Get returns the shared executor, connecting if needed.
func (m *Manager) Get(ctx context.Context) (Executor, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if m.exec != nil {
			exec := m.exec
			m.mu.Unlock()
			return exec, nil
		}
		if wait := m.connecting; wait != nil {
			m.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		m.connecting = done
		m.mu.Unlock()

		exec, err := m.connect(ctx)

		m.mu.Lock()
		m.connecting = nil
		close(done)
		closed := m.closed
		if err == nil && !closed {
			m.exec = exec
		}
		m.mu.Unlock()

		switch {
		case err != nil:
			m.logger.Warn("graph store connection failed", slog.String("error", err.Error()))
			return nil, fmt.Errorf("connecting to graph store: %w", err)
		case closed:
			if cerr := exec.Close(ctx); cerr != nil {
				m.logger.Warn("closing late graph store connection failed", slog.String("error", cerr.Error()))
			}
			return nil, ErrClosed
		}
		m.logger.Info("graph store connected")
		return exec, nil
	}
}

// Connected reports whether an executor is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exec != nil
}

// Shutdown closes the executor, if any. It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	exec := m.exec
	m.exec = nil
	m.closed = true
	m.mu.Unlock()

	if exec == nil {
		return nil
	}
	if err := exec.Close(ctx); err != nil {
		return fmt.Errorf("closing graph store: %w", err)
	}
	m.logger.Info("graph store closed")
	return nil
}
