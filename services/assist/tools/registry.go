// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the registry of tools the model may call and the
// tools the assistant ships with.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

// Handler executes one tool call. The returned value is serialized to JSON
// before it goes back to the model.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition llm.ToolDef
	Handler    Handler
}

// RegistryMismatchError reports definitions and handlers that do not pair up.
type RegistryMismatchError struct {
	MissingHandlers    []string
	MissingDefinitions []string
	Duplicates         []string
}

func (e *RegistryMismatchError) Error() string {
	var parts []string
	if len(e.MissingHandlers) > 0 {
		parts = append(parts, "no handler for "+strings.Join(e.MissingHandlers, ", "))
	}
	if len(e.MissingDefinitions) > 0 {
		parts = append(parts, "no definition for "+strings.Join(e.MissingDefinitions, ", "))
	}
	if len(e.Duplicates) > 0 {
		parts = append(parts, "duplicate definitions "+strings.Join(e.Duplicates, ", "))
	}
	return "tool registry mismatch: " + strings.Join(parts, "; ")
}

// Registry maps tool names to definitions and handlers.
//
// Description:
//
//	Every definition has exactly one handler and every handler exactly one
//	definition; NewRegistry refuses anything else. The registry is never
//	modified after construction.
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type Registry struct {
	defs     []llm.ToolDef
	handlers map[string]Handler
}

// NewRegistry builds a registry from parallel definitions and handlers.
//
// Outputs:
//   - *Registry: The registry, definitions sorted by name.
//   - error: *RegistryMismatchError unless the two sides are in bijection.
func NewRegistry(defs []llm.ToolDef, handlers map[string]Handler) (*Registry, error) {
	mismatch := &RegistryMismatchError{}
	seen := make(map[string]bool, len(defs))
	sorted := make([]llm.ToolDef, 0, len(defs))

	for _, d := range defs {
		name := d.Function.Name
		if seen[name] {
			mismatch.Duplicates = append(mismatch.Duplicates, name)
			continue
		}
		seen[name] = true
		if h, ok := handlers[name]; !ok || h == nil {
			mismatch.MissingHandlers = append(mismatch.MissingHandlers, name)
		}
		if d.Type == "" {
			d.Type = "function"
		}
		if d.Function.Parameters.Type == "" {
			d.Function.Parameters.Type = "object"
		}
		sorted = append(sorted, d)
	}
	for name := range handlers {
		if !seen[name] {
			mismatch.MissingDefinitions = append(mismatch.MissingDefinitions, name)
		}
	}

	if len(mismatch.MissingHandlers)+len(mismatch.MissingDefinitions)+len(mismatch.Duplicates) > 0 {
		sort.Strings(mismatch.MissingHandlers)
		sort.Strings(mismatch.MissingDefinitions)
		sort.Strings(mismatch.Duplicates)
		return nil, mismatch
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Function.Name < sorted[j].Function.Name })
	hs := make(map[string]Handler, len(handlers))
	for k, v := range handlers {
		hs[k] = v
	}
	return &Registry{defs: sorted, handlers: hs}, nil
}

// Build is NewRegistry for a list of Tool values.
func Build(tools ...Tool) (*Registry, error) {
	defs := make([]llm.ToolDef, 0, len(tools))
	handlers := make(map[string]Handler, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Definition)
		if _, dup := handlers[t.Definition.Function.Name]; !dup {
			handlers[t.Definition.Function.Name] = t.Handler
		}
	}
	return NewRegistry(defs, handlers)
}

// Definitions returns a copy of the definitions sorted by name.
func (r *Registry) Definitions() []llm.ToolDef {
	if r == nil {
		return nil
	}
	out := make([]llm.ToolDef, len(r.defs))
	copy(out, r.defs)
	return out
}

// Handler returns the handler for name.
func (r *Registry) Handler(name string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[name]
	return h, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Handler(name)
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Function.Name
	}
	return names
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.defs)
}

// Subset returns a registry restricted to names. Every name must be registered.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	defs := make([]llm.ToolDef, 0, len(names))
	handlers := make(map[string]Handler, len(names))
	var missing []string
	for _, name := range names {
		if _, dup := handlers[name]; dup {
			continue
		}
		h, ok := r.Handler(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		handlers[name] = h
		for _, d := range r.defs {
			if d.Function.Name == name {
				defs = append(defs, d)
				break
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("tool subset: %w", &RegistryMismatchError{MissingDefinitions: missing})
	}
	return NewRegistry(defs, handlers)
}

// Define builds a function tool definition. Parameters listed in required
// must be keys of params.
func Define(name, description string, params map[string]llm.ToolParamDef, required ...string) llm.ToolDef {
	req := append([]string(nil), required...)
	sort.Strings(req)
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        name,
			Description: description,
			Parameters: llm.ToolParameters{
				Type:       "object",
				Properties: params,
				Required:   req,
			},
		},
	}
}
