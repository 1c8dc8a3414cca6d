// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides the retry and circuit breaker primitives shared
// by the model gateway and the graph store client.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// Retry Policy
// =============================================================================

// Default retry settings shared by the gateway and the store client.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// BackoffFunc computes the wait after a failed attempt. Attempt is 1-based.
type BackoffFunc func(attempt int, base time.Duration) time.Duration

// LinearBackoff waits attempt*base, giving 2s, 4s for the default policy.
func LinearBackoff(attempt int, base time.Duration) time.Duration {
	return time.Duration(attempt) * base
}

// RetryPolicy runs an operation up to MaxAttempts times.
//
// Description:
//
//	Errors accepted by Retryable are retried after Backoff(attempt, BaseDelay).
//	Errors it rejects are returned as-is after the first occurrence. When the
//	final attempt fails the last cause is wrapped in an ExhaustedError.
//	Errors wrapped with Permanent are never retried regardless of Retryable.
//
// Thread Safety:
//
//	A RetryPolicy is a value and safe to share; Do holds no state between calls.
type RetryPolicy struct {
	// Name labels log lines and metrics, e.g. "llm_gateway".
	Name string

	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay feeds Backoff.
	BaseDelay time.Duration

	// Backoff defaults to LinearBackoff.
	Backoff BackoffFunc

	// Retryable decides which errors earn another attempt. When nil, every
	// error except context cancellation and deadline expiry is retried.
	Retryable func(err error) bool

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait, after logging.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultRetryPolicy returns the 3-attempt linear policy.
func DefaultRetryPolicy(name string) RetryPolicy {
	return RetryPolicy{
		Name:        name,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Backoff:     LinearBackoff,
	}
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Name     string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempt(s): %v", e.Name, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Do strips the marker before returning.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do executes op until it succeeds, fails fatally, or attempts run out.
//
// Inputs:
//   - ctx: Cancelling ctx aborts the wait between attempts.
//   - op: The operation. Receives the 1-based attempt number.
//
// Outputs:
//   - error: nil on success, the fatal error as-is, an *ExhaustedError when
//     attempts ran out, or the context error if the wait was interrupted.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				recordRetryOutcome(p.Name, "recovered")
			}
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !p.retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			recordRetryOutcome(p.Name, "exhausted")
			return &ExhaustedError{Name: p.Name, Attempts: attempt, Last: err}
		}

		delay := p.backoff(attempt)
		logger.Warn("retrying after failure",
			slog.String("policy", p.Name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		recordRetry(p.Name)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		if werr := p.sleep(ctx, delay); werr != nil {
			return fmt.Errorf("%s: retry wait interrupted after attempt %d: %w", p.Name, attempt, werr)
		}
	}
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.Backoff == nil {
		return LinearBackoff(attempt, p.BaseDelay)
	}
	return p.Backoff(attempt, p.BaseDelay)
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
