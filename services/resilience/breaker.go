// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// =============================================================================
// Circuit Breaker
// =============================================================================

// Default breaker settings.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerStatus is the breaker's position in its state machine.
type BreakerStatus int32

const (
	StatusClosed BreakerStatus = iota
	StatusOpen
	StatusHalfOpen
)

// String returns the status name used in logs and metrics.
func (s BreakerStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSnapshot is a point-in-time copy of the breaker state.
type BreakerSnapshot struct {
	Name                string        `json:"name"`
	Status              BreakerStatus `json:"-"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            time.Time     `json:"opened_at,omitzero"`
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Name labels logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Defaults to DefaultFailureThreshold.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before admitting a trial.
	// Defaults to DefaultCooldown.
	Cooldown time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// breakerState is immutable once published. Transitions swap the pointer.
// generation advances on every transition to OPEN.
type breakerState struct {
	status     BreakerStatus
	failures   int
	openedAt   time.Time
	generation uint64
}

// Ticket is issued by Allow and identifies the breaker generation the call
// was admitted under. Outcomes are recorded against it.
type Ticket struct {
	generation uint64
	trial      bool
}

// Trial reports whether the ticket was the single HALF_OPEN trial.
func (t Ticket) Trial() bool { return t.trial }

// CircuitBreaker guards a dependency that can become unavailable.
//
// Description:
//
//	CLOSED admits every call and counts consecutive failures. Reaching the
//	threshold moves to OPEN, which rejects calls with ErrCircuitOpen until the
//	cooldown elapses. The first Allow after the cooldown moves to HALF_OPEN and
//	admits exactly one trial call; every other caller is rejected until the
//	trial's outcome is recorded. A trial success closes the breaker, a trial
//	failure reopens it with a fresh cooldown.
//
//	Callers admitted by Allow must report exactly one outcome through
//	RecordSuccess or RecordFailure, passing the Ticket they were given.
//	Outcomes carrying a ticket from an earlier generation are ignored, so a
//	call admitted before the breaker opened cannot close or reopen it.
//
// Thread Safety:
//
//	Safe for concurrent use. State is a single atomically swapped snapshot,
//	so the HALF_OPEN trial is granted by one compare-and-swap and no two
//	callers can both observe themselves as the trial.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	state atomic.Pointer[breakerState]
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &CircuitBreaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		now:       cfg.Now,
		logger:    cfg.Logger.With(slog.String("breaker", cfg.Name)),
	}
	b.state.Store(&breakerState{status: StatusClosed})
	setBreakerState(b.name, StatusClosed)
	return b
}

// Allow reports whether a call may proceed.
//
// Outputs:
//   - Ticket: pass to RecordSuccess or RecordFailure. Zero when rejected.
//   - error: nil when admitted, ErrCircuitOpen otherwise.
func (b *CircuitBreaker) Allow() (Ticket, error) {
	for {
		cur := b.state.Load()
		switch cur.status {
		case StatusClosed:
			return Ticket{generation: cur.generation}, nil
		case StatusHalfOpen:
			recordBreakerRejection(b.name)
			return Ticket{}, ErrCircuitOpen
		case StatusOpen:
			if b.now().Sub(cur.openedAt) < b.cooldown {
				recordBreakerRejection(b.name)
				return Ticket{}, ErrCircuitOpen
			}
			next := &breakerState{
				status:     StatusHalfOpen,
				failures:   cur.failures,
				openedAt:   cur.openedAt,
				generation: cur.generation,
			}
			if b.state.CompareAndSwap(cur, next) {
				b.transitioned(cur.status, StatusHalfOpen)
				return Ticket{generation: cur.generation, trial: true}, nil
			}
			// Lost the race; re-read and try again.
		}
	}
}

// RecordSuccess reports a completed call. It resets the failure count and
// closes a half-open breaker when t is the trial.
func (b *CircuitBreaker) RecordSuccess(t Ticket) {
	for {
		cur := b.state.Load()
		if t.generation != cur.generation || cur.status == StatusOpen {
			return
		}
		if cur.status == StatusHalfOpen && !t.trial {
			return
		}
		if cur.status == StatusClosed && cur.failures == 0 {
			return
		}
		next := &breakerState{status: StatusClosed, generation: cur.generation}
		if b.state.CompareAndSwap(cur, next) {
			if cur.status != StatusClosed {
				b.transitioned(cur.status, StatusClosed)
			}
			return
		}
	}
}

// RecordFailure reports a failed call. It opens the breaker when the
// threshold is reached and reopens a half-open breaker when t is the trial.
func (b *CircuitBreaker) RecordFailure(t Ticket) {
	for {
		cur := b.state.Load()
		if t.generation != cur.generation {
			return
		}
		var next *breakerState
		switch cur.status {
		case StatusOpen:
			return
		case StatusHalfOpen:
			if !t.trial {
				return
			}
			next = &breakerState{
				status:     StatusOpen,
				failures:   cur.failures + 1,
				openedAt:   b.now(),
				generation: cur.generation + 1,
			}
		default:
			failures := cur.failures + 1
			if failures >= b.threshold {
				next = &breakerState{
					status:     StatusOpen,
					failures:   failures,
					openedAt:   b.now(),
					generation: cur.generation + 1,
				}
			} else {
				next = &breakerState{status: StatusClosed, failures: failures, generation: cur.generation}
			}
		}
		if b.state.CompareAndSwap(cur, next) {
			if next.status != cur.status {
				b.transitioned(cur.status, next.status)
			}
			return
		}
	}
}

// Release returns an admitted ticket without recording an outcome. A
// released trial puts the breaker back to OPEN with its original cooldown
// so the next caller past the cooldown becomes the trial.
func (b *CircuitBreaker) Release(t Ticket) {
	if !t.trial {
		return
	}
	for {
		cur := b.state.Load()
		if cur.status != StatusHalfOpen || cur.generation != t.generation {
			return
		}
		next := &breakerState{
			status:     StatusOpen,
			failures:   cur.failures,
			openedAt:   cur.openedAt,
			generation: cur.generation,
		}
		if b.state.CompareAndSwap(cur, next) {
			b.transitioned(cur.status, StatusOpen)
			return
		}
	}
}

// Snapshot returns the current state.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	cur := b.state.Load()
	return BreakerSnapshot{
		Name:                b.name,
		Status:              cur.status,
		State:               cur.status.String(),
		ConsecutiveFailures: cur.failures,
		OpenedAt:            cur.openedAt,
	}
}

// Name returns the breaker's label.
func (b *CircuitBreaker) Name() string { return b.name }

func (b *CircuitBreaker) transitioned(from, to BreakerStatus) {
	setBreakerState(b.name, to)
	recordBreakerTransition(b.name, to)
	level := slog.LevelInfo
	if to == StatusOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit breaker transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}
