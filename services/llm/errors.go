// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is wrapped by errors for 2xx responses the gateway
// could not interpret. It is never retried.
var ErrMalformedResponse = errors.New("malformed completion response")

// StatusError is a non-2xx HTTP response from the endpoint.
type StatusError struct {
	StatusCode int
	// Body is a redacted, truncated copy of the response body.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt: 429 and 5xx.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportError is a network-level failure: connection refused, reset,
// client timeout. Always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "completion transport: " + SafeLogString(e.Err.Error()) }
func (e *TransportError) Unwrap() error { return e.Err }

// GatewayError is returned by Complete for every failure.
//
// Description:
//
//	Exhausted is true when every attempt failed with a retryable error, in
//	which case Cause is the last attempt's error. Otherwise Cause is the
//	fatal error that stopped the call (a 4xx, a malformed body, or
//	cancellation).
type GatewayError struct {
	Attempts  int
	Exhausted bool
	Cause     error
}

func (e *GatewayError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("completion failed after %d attempt(s): %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("completion failed: %v", e.Cause)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// isRetryable is the gateway's retry predicate.
func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var te *TransportError
	return errors.As(err, &te)
}
