// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract pulls JSON values out of free-form model output.
//
// Models asked for JSON often wrap it in prose or code fences. The functions
// here scan for the first balanced object or array that parses, skipping
// candidates that do not. Nothing is repaired: a caller that gets no match
// uses its own fallback.
package extract

import (
	"encoding/json"
	"reflect"
)

// JSON returns the first object or array in text that parses, or nil.
func JSON(text string) any {
	raw := first(text, "{[")
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}

// Object returns the first JSON object in text, or nil.
func Object(text string) map[string]any {
	raw := first(text, "{")
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// Array returns the first JSON array in text, or nil.
func Array(text string) []any {
	raw := first(text, "[")
	if raw == "" {
		return nil
	}
	var a []any
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil
	}
	return a
}

// Into decodes the first candidate in text that unmarshals into T and
// returns fallback when none does.
//
// Description:
//
//	Structs and maps only consider objects; slices and arrays only consider
//	arrays. Other types consider both. A candidate that parses as JSON but
//	does not decode into T is skipped in favor of later candidates.
func Into[T any](text string, fallback T) T {
	openers := openersFor(reflect.TypeOf((*T)(nil)).Elem())
	var out T
	found := scan(text, openers, func(candidate string) bool {
		var v T
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			return false
		}
		out = v
		return true
	})
	if !found {
		return fallback
	}
	return out
}

func openersFor(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map:
		return "{"
	case reflect.Slice, reflect.Array:
		return "["
	default:
		return "{["
	}
}

// first returns the first parseable candidate opening with one of openers.
func first(text, openers string) string {
	var match string
	scan(text, openers, func(candidate string) bool {
		match = candidate
		return true
	})
	return match
}
