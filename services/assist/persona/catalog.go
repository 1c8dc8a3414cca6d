// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persona

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplatesYAML []byte

type catalogFile struct {
	Personas []templateEntry `yaml:"personas"`
}

type templateEntry struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Prompt         string   `yaml:"prompt"`
	Temperature    float64  `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
	MaxIterations  int      `yaml:"max_iterations"`
	ResponseFormat string   `yaml:"response_format"`
	AllowedTools   []string `yaml:"allowed_tools"`
}

// Catalog maps every persona ID to its template.
//
// Thread Safety: Immutable after LoadCatalog returns.
type Catalog struct {
	templates map[ID]Template
}

// LoadCatalog parses and validates a YAML persona catalog.
//
// Description:
//
//	Every known ID must appear exactly once with a non-empty prompt, and no
//	unknown IDs may appear.
func LoadCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing persona catalog: %w", err)
	}

	c := &Catalog{templates: make(map[ID]Template, len(file.Personas))}
	for i, entry := range file.Personas {
		id, err := Parse(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("persona catalog entry %d: %w", i, err)
		}
		if _, dup := c.templates[id]; dup {
			return nil, fmt.Errorf("persona catalog: duplicate persona %q", id)
		}
		if strings.TrimSpace(entry.Prompt) == "" {
			return nil, fmt.Errorf("persona catalog: %q has an empty prompt", id)
		}
		c.templates[id] = Template{
			ID:          id,
			Title:       entry.Title,
			Description: entry.Description,
			Prompt:      strings.TrimSpace(entry.Prompt),
			Profile: Profile{
				Temperature:    entry.Temperature,
				MaxTokens:      entry.MaxTokens,
				ResponseFormat: entry.ResponseFormat,
				MaxIterations:  entry.MaxIterations,
				AllowedTools:   append([]string(nil), entry.AllowedTools...),
			},
		}
	}
	for _, id := range allIDs {
		if _, ok := c.templates[id]; !ok {
			return nil, fmt.Errorf("persona catalog: missing persona %q", id)
		}
	}
	return c, nil
}

// Template returns the template for a persona name.
func (c *Catalog) Template(name string) (Template, error) {
	id, err := Parse(name)
	if err != nil {
		return Template{}, err
	}
	t := c.templates[id]
	t.Profile.AllowedTools = append([]string(nil), t.Profile.AllowedTools...)
	return t, nil
}

// Templates returns every template in catalog order.
func (c *Catalog) Templates() []Template {
	out := make([]Template, 0, len(allIDs))
	for _, id := range allIDs {
		t, _ := c.Template(string(id))
		out = append(out, t)
	}
	return out
}

var (
	catalogMu      sync.RWMutex
	catalogOnce    sync.Once
	cachedCatalog  *Catalog
	catalogLoadErr error
)

// DefaultCatalog returns the embedded catalog, parsed on first use.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func DefaultCatalog() (*Catalog, error) {
	catalogMu.RLock()
	if cachedCatalog != nil || catalogLoadErr != nil {
		c, err := cachedCatalog, catalogLoadErr
		catalogMu.RUnlock()
		return c, err
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalogOnce.Do(func() {
		cachedCatalog, catalogLoadErr = LoadCatalog(defaultTemplatesYAML)
	})
	return cachedCatalog, catalogLoadErr
}
