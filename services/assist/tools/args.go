// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// stringArg returns args[key] as a trimmed string.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// requireString returns args[key] or an error naming the missing argument.
func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return s, nil
}

// intArg reads a numeric argument, clamped to [1, limit]. JSON numbers arrive
// as float64; numeric strings are accepted too.
func intArg(args map[string]any, key string, def, limit int) int {
	n := def
	switch v := args[key].(type) {
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			n = int(v)
		}
	case int:
		n = v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n = int(i)
		}
	case string:
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &parsed); err == nil {
			n = parsed
		}
	}
	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

// mapArg returns args[key] when it is a JSON object.
func mapArg(args map[string]any, key string) map[string]any {
	if m, ok := args[key].(map[string]any); ok {
		return m
	}
	return nil
}
