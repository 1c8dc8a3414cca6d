// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets loads API keys and passwords into memguard enclaves so
// that plaintext only exists for the duration of a callback.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned when a secret is unset or empty.
var ErrSecretNotFound = errors.New("secret not found")

// Backend retrieves raw secret values.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Backend interface {
	// GetSecret returns the secret bytes for key, or an error wrapping
	// ErrSecretNotFound.
	GetSecret(ctx context.Context, key string) ([]byte, error)
}

// EnvBackend reads secrets from environment variables.
type EnvBackend struct{}

// GetSecret reads key from the environment.
func (EnvBackend) GetSecret(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("retrieving secret %q: %w", key, err)
	}
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}
	return []byte(value), nil
}

// Credential is a sealed secret.
//
// Thread Safety: Safe for concurrent use. Each WithSecret call opens its own
// locked buffer.
type Credential struct {
	name    string
	enclave *memguard.Enclave
}

// NewCredential seals value into an enclave. value is wiped.
func NewCredential(name string, value []byte) (*Credential, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("secret %q: %w", name, ErrSecretNotFound)
	}
	return &Credential{name: name, enclave: memguard.NewEnclave(value)}, nil
}

// Name returns the key the credential was loaded from.
func (c *Credential) Name() string { return c.name }

// WithSecret decrypts the secret into a locked buffer, passes it to fn, and
// destroys the buffer when fn returns. fn must not retain the string.
func (c *Credential) WithSecret(fn func(secret string) error) error {
	buf, err := c.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret %q: %w", c.name, err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// Manager resolves credentials through a Backend and caches the sealed result.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type Manager struct {
	backend Backend

	mu    sync.Mutex
	cache map[string]*Credential
}

// NewManager creates a manager. A nil backend reads from the environment.
func NewManager(backend Backend) *Manager {
	if backend == nil {
		backend = EnvBackend{}
	}
	return &Manager{backend: backend, cache: make(map[string]*Credential)}
}

// Credential returns the sealed secret for key.
//
// Outputs:
//   - *Credential: The sealed secret.
//   - error: Wraps ErrSecretNotFound if the backend has no value.
func (m *Manager) Credential(ctx context.Context, key string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cache[key]; ok {
		return c, nil
	}
	raw, err := m.backend.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	c, err := NewCredential(key, raw)
	if err != nil {
		return nil, err
	}
	m.cache[key] = c
	return c, nil
}

// Optional is Credential that treats a missing secret as nil, nil.
func (m *Manager) Optional(ctx context.Context, key string) (*Credential, error) {
	if key == "" {
		return nil, nil
	}
	c, err := m.Credential(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		return nil, nil
	}
	return c, err
}

// Purge wipes every enclave key and locked buffer. Call once on shutdown.
func Purge() {
	memguard.Purge()
}
