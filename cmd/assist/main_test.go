// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SectorWiki/services/assist/consult"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/secrets"
)

// fakeModel serves chat completions and answers every request with content.
func fakeModel(t *testing.T, content string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		body, err := json.Marshal(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func writeConfig(t *testing.T, baseURL string, llmExtra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assist.yaml")
	cfg := "llm:\n  base_url: " + baseURL + "\n  max_attempts: 1\n  audit: false\n"
	for _, line := range llmExtra {
		cfg += "  " + line + "\n"
	}
	cfg +=
		"tools:\n  nvd_url: \"\"\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Tree(t *testing.T) {
	root := newRootCommand()
	for _, flag := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "ask", "consult", "review", "personas"})
}

func TestPersonasCommand(t *testing.T) {
	out, err := execute(t, "personas")
	require.NoError(t, err)
	for _, id := range persona.All() {
		assert.Contains(t, out, string(id))
	}
	assert.Contains(t, out, "lookup_standards")
}

func TestAskCommand_EndToEnd(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	server, calls := fakeModel(t, "A remote terminal unit collects field telemetry.")

	out, err := execute(t, "--config", writeConfig(t, server.URL),
		"ask", "--persona", "researcher", "What", "is", "an", "RTU?")
	require.NoError(t, err)
	assert.Contains(t, out, "A remote terminal unit collects field telemetry.")
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestAskCommand_MissingAPIKey(t *testing.T) {
	tests := []struct {
		name      string
		llmExtra  []string
		wantErr   bool
		wantCalls int32
	}{
		{name: "required by default", wantErr: true},
		{name: "anonymous endpoint", llmExtra: []string{"allow_anonymous: true"}, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			server, calls := fakeModel(t, "ok")

			_, err := execute(t, "--config", writeConfig(t, server.URL, tt.llmExtra...),
				"ask", "--persona", "researcher", "ping")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
				assert.Contains(t, err.Error(), "OPENAI_API_KEY")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(calls))
		})
	}
}

func TestAskCommand_UnknownPersonaFailsBeforeWiring(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"ask", "--persona", "astrologer", "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, persona.ErrUnknownPersona))
}

func TestConsultCommand_EndToEnd(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	server, calls := fakeModel(t, "noted")

	out, err := execute(t, "--config", writeConfig(t, server.URL),
		"consult", "--persona", "researcher", "--persona", "standards_expert", "SEL-751")
	require.NoError(t, err)
	assert.Contains(t, out, "== researcher ==")
	assert.Contains(t, out, "== standards_expert ==")
	assert.Less(t, strings.Index(out, "== researcher =="), strings.Index(out, "== standards_expert =="))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestReviewCommand_EndToEnd(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	server, _ := fakeModel(t, `{"score": 90, "issues": [], "suggestions": []}`)

	recordPath := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, os.WriteFile(recordPath, []byte(`{"name": "SEL-751", "sector": "energy", "equipment_class": "protective relay"}`), 0o600))

	out, err := execute(t, "--config", writeConfig(t, server.URL), "review", "--file", recordPath)
	require.NoError(t, err)

	var res struct {
		Score         int      `json:"score"`
		MissingFields []string `json:"missing_fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 60, res.Score)
	assert.ElementsMatch(t, []string{"manufacturer", "description"}, res.MissingFields)
}

func TestReadRecord(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		rec, err := readRecord(strings.NewReader(`{"name": "Pump", "sector": "water"}`), "-")
		require.NoError(t, err)
		assert.Equal(t, "Pump", rec.Name)
		assert.Equal(t, "water", rec.Sector)
	})
	t.Run("unknown field", func(t *testing.T) {
		_, err := readRecord(strings.NewReader(`{"nmae": "Pump"}`), "-")
		require.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := readRecord(nil, filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})
}

func TestPrintConsultResults_SortedWithFailures(t *testing.T) {
	var buf bytes.Buffer
	printConsultResults(&buf, map[string]consult.Result{
		"reviewer":   {Persona: "reviewer", Content: "reviewer consultation failed: boom", Failed: true},
		"researcher": {Persona: "researcher", Content: "fine"},
	})
	assert.Equal(t, "== researcher ==\nfine\n\n== reviewer (failed) ==\nreviewer consultation failed: boom\n", buf.String())
}

func TestOptionalCredential_UnsetIsNilInterface(t *testing.T) {
	t.Setenv("ASSIST_TEST_UNSET_SECRET", "")
	src, err := optionalCredential(context.Background(), secrets.NewManager(nil), "ASSIST_TEST_UNSET_SECRET")
	require.NoError(t, err)
	assert.True(t, src == nil)

	t.Setenv("ASSIST_TEST_SET_SECRET", "value")
	src, err = optionalCredential(context.Background(), secrets.NewManager(nil), "ASSIST_TEST_SET_SECRET")
	require.NoError(t, err)
	require.NotNil(t, src)
	require.NoError(t, src.WithSecret(func(s string) error {
		assert.Equal(t, "value", s)
		return nil
	}))
}
