// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consult runs several personas against the same question in
// parallel and recombines their answers.
package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/SectorWiki/services/assist/agent"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/assist/tools"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

// ErrNothingToSynthesize is returned when every consultation failed.
var ErrNothingToSynthesize = errors.New("consult: no successful results to synthesize")

// Runner runs one tool-calling loop. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// Result is one persona's contribution to a consultation.
type Result struct {
	Persona      string            `json:"persona"`
	Content      string            `json:"content"`
	ToolTraces   []agent.ToolTrace `json:"tool_traces"`
	Iterations   int               `json:"iterations"`
	LimitReached bool              `json:"limit_reached"`
	Failed       bool              `json:"failed"`
	Error        string            `json:"error,omitempty"`
	Duration     time.Duration     `json:"-"`
	DurationMs   int64             `json:"duration_ms"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxParallel caps concurrent persona runs. n <= 0 means no cap.
func WithMaxParallel(n int) Option {
	return func(c *Coordinator) { c.maxParallel = n }
}

// WithMaxIterations sets the tool-round limit for personas whose profile
// does not set one.
func WithMaxIterations(n int) Option {
	return func(c *Coordinator) { c.maxIterations = n }
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator fans a question out to personas.
//
// Description:
//
//	Every persona gets its own conversation, options, and tool subset.
//	Consult never fails: a persona that errors or panics produces an
//	error-marker Result and the others are unaffected.
//
// Thread Safety: Safe for concurrent use.
type Coordinator struct {
	runner        Runner
	catalog       *persona.Catalog
	builder       *persona.Builder
	registry      *tools.Registry
	maxParallel   int
	maxIterations int
	logger        *slog.Logger
}

// NewCoordinator creates a coordinator. registry may be nil.
func NewCoordinator(runner Runner, catalog *persona.Catalog, registry *tools.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		runner:   runner,
		catalog:  catalog,
		builder:  persona.NewBuilder(catalog),
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog returns the persona catalog the coordinator renders prompts from.
func (c *Coordinator) Catalog() *persona.Catalog { return c.catalog }

// Tools returns the full tool registry, possibly nil.
func (c *Coordinator) Tools() *tools.Registry { return c.registry }

// RunPersona runs a single persona loop over query.
//
// Outputs:
//   - *agent.RunResult: The loop result.
//   - error: *persona.UnknownPersonaError for unknown names, or the
//     loop's error.
func (c *Coordinator) RunPersona(ctx context.Context, name, query string, pctx *persona.Context) (*agent.RunResult, error) {
	tmpl, err := c.catalog.Template(name)
	if err != nil {
		return nil, err
	}
	prompt, err := c.builder.Build(name, pctx)
	if err != nil {
		return nil, err
	}
	subset, err := c.toolsFor(tmpl)
	if err != nil {
		return nil, err
	}

	maxIterations := tmpl.Profile.MaxIterations
	if maxIterations <= 0 {
		maxIterations = c.maxIterations
	}

	return c.runner.Run(ctx, agent.RunRequest{
		Messages:      []llm.Message{llm.SystemMessage(prompt), llm.UserMessage(query)},
		Tools:         subset,
		Options:       tmpl.Profile.CompletionOptions(),
		MaxIterations: maxIterations,
	})
}

// toolsFor restricts the registry to the template's allowed tools that are
// actually configured.
func (c *Coordinator) toolsFor(tmpl persona.Template) (*tools.Registry, error) {
	if c.registry == nil || len(tmpl.Profile.AllowedTools) == 0 {
		return nil, nil
	}
	var names []string
	for _, name := range tmpl.Profile.AllowedTools {
		if c.registry.Has(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	return c.registry.Subset(names...)
}

// Consult runs every named persona concurrently over query.
//
// Description:
//
//	Names are deduplicated after normalization. The returned map has one
//	entry per distinct requested name, keyed by the normalized persona ID
//	for known personas and by the name as given for unknown ones.
//	Unknown names and failed runs yield error-marker results.
//
// Thread Safety: Safe for concurrent use.
func (c *Coordinator) Consult(ctx context.Context, query string, personas []string, pctx *persona.Context) map[string]Result {
	consultationID := uuid.NewString()
	keys := dedupe(personas)

	ctx, span := otel.Tracer(consultTracerName).Start(ctx, "consult.Coordinator.Consult",
		trace.WithAttributes(
			attribute.String("consult.id", consultationID),
			attribute.StringSlice("consult.personas", keys),
			attribute.Int("consult.max_parallel", c.maxParallel),
		),
	)
	defer span.End()

	consultationsInFlight.Inc()
	defer consultationsInFlight.Dec()

	logger := c.logger.With(slog.String("consultation_id", consultationID))
	logger.Info("consultation started", slog.Any("personas", keys))
	start := time.Now()

	results := make(map[string]Result, len(keys))
	var mu sync.Mutex

	var g errgroup.Group
	if c.maxParallel > 0 {
		g.SetLimit(c.maxParallel)
	}
	for _, key := range keys {
		g.Go(func() error {
			r := c.consultOne(ctx, logger, key, query, pctx)
			mu.Lock()
			results[key] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("consult.failed", failed))
	if failed == len(results) && failed > 0 {
		span.SetStatus(codes.Error, "all personas failed")
	}
	logger.Info("consultation finished",
		slog.Int("personas", len(results)),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)
	return results
}

// consultOne runs one persona and converts any failure into a marker.
func (c *Coordinator) consultOne(ctx context.Context, logger *slog.Logger, name, query string, pctx *persona.Context) (result Result) {
	start := time.Now()
	label := name
	if _, err := persona.Parse(name); err != nil {
		label = "unknown"
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("persona run panicked",
				slog.String("persona", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = failure(name, fmt.Errorf("panic: %v", r))
			personaRunsTotal.WithLabelValues(label, "panic").Inc()
		}
		result.Duration = time.Since(start)
		result.DurationMs = result.Duration.Milliseconds()
		personaRunDuration.WithLabelValues(label).Observe(result.Duration.Seconds())
	}()

	run, err := c.RunPersona(ctx, name, query, pctx)
	if err != nil {
		logger.Warn("persona run failed",
			slog.String("persona", name),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		personaRunsTotal.WithLabelValues(label, "failed").Inc()
		return failure(name, err)
	}

	personaRunsTotal.WithLabelValues(label, "success").Inc()
	return Result{
		Persona:      name,
		Content:      run.FinalAnswer,
		ToolTraces:   run.ToolTraces,
		Iterations:   run.Iterations,
		LimitReached: run.LimitReached,
	}
}

func failure(name string, err error) Result {
	msg := llm.SafeLogString(err.Error())
	return Result{
		Persona:    name,
		Content:    fmt.Sprintf("%s consultation failed: %s", name, msg),
		ToolTraces: []agent.ToolTrace{},
		Failed:     true,
		Error:      msg,
	}
}

// dedupe normalizes known persona names and drops repeats, keeping order.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		key := strings.TrimSpace(name)
		if id, err := persona.Parse(name); err == nil {
			key = string(id)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// Synthesize merges consultation results through the synthesizer persona.
//
// Description:
//
//	Successful answers are presented in persona name order. Failed ones
//	are listed by name so the synthesizer can mention the gap.
//
// Outputs:
//   - *agent.RunResult: The synthesizer's run.
//   - error: ErrNothingToSynthesize when every result failed, or the
//     loop's error.
func (c *Coordinator) Synthesize(ctx context.Context, query string, results map[string]Result, pctx *persona.Context) (*agent.RunResult, error) {
	ctx, span := otel.Tracer(consultTracerName).Start(ctx, "consult.Coordinator.Synthesize",
		trace.WithAttributes(attribute.Int("consult.results", len(results))),
	)
	defer span.End()

	prompt, ok := synthesisPrompt(query, results)
	if !ok {
		span.SetStatus(codes.Error, ErrNothingToSynthesize.Error())
		return nil, ErrNothingToSynthesize
	}

	run, err := c.RunPersona(ctx, string(persona.Synthesizer), prompt, pctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return run, nil
}

func synthesisPrompt(query string, results map[string]Result) (string, bool) {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("## Question\n")
	sb.WriteString(query)

	var failed []string
	succeeded := 0
	for _, name := range names {
		r := results[name]
		if r.Failed {
			failed = append(failed, name)
			continue
		}
		succeeded++
		fmt.Fprintf(&sb, "\n\n## Answer from %s\n%s", name, strings.TrimSpace(r.Content))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "\n\n## Unavailable\nNo answer from: %s", strings.Join(failed, ", "))
	}
	return sb.String(), succeeded > 0
}
