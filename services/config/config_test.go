// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.LLM.BaseDelay)
	assert.Equal(t, "neo4j://localhost:7687", cfg.Graph.URI)
	assert.Equal(t, 5, cfg.Graph.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Graph.BreakerCooldown)
	assert.Equal(t, 500*time.Millisecond, cfg.Graph.BaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.Tools.CacheTTL)
	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.Equal(t, 0, cfg.Consult.MaxParallel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestDefault_ReturnsIndependentCopies(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)
	a.Consult.DefaultPersonas[0] = "mutated"
	a.LLM.Headers["X-Test"] = "1"

	b, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "researcher", b.Consult.DefaultPersonas[0])
	assert.NotContains(t, b.LLM.Headers, "X-Test")
}

func TestLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: gpt-4.1
graph:
  breaker_threshold: 2
  breaker_cooldown: 5s
loop:
  max_iterations: 4
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Graph.BreakerThreshold)
	assert.Equal(t, 5*time.Second, cfg.Graph.BreakerCooldown)
	assert.Equal(t, 4, cfg.Loop.MaxIterations)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ASSIST_LLM_MODEL", "local-model")
	t.Setenv("ASSIST_GRAPH_URI", "bolt://graph:7687")
	t.Setenv("ASSIST_SERVER_PORT", "9090")
	t.Setenv("ASSIST_LOOP_MAX_ITERATIONS", "3")
	t.Setenv("ASSIST_LOG_LEVEL", "DEBUG")
	t.Setenv("ASSIST_GRAPH_BREAKER_COOLDOWN", "1m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.Equal(t, "bolt://graph:7687", cfg.Graph.URI)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, time.Minute, cfg.Graph.BreakerCooldown)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("ASSIST_SERVER_PORT", "not-a-port")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.LLM.Model = ""
	cfg.Server.Port = 70000
	cfg.Log.Format = "xml"

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "model"), msg)
	assert.True(t, strings.Contains(msg, "port"), msg)
	assert.True(t, strings.Contains(msg, "format"), msg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
