// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want any
	}{
		{"object in prose", `here is data: {"x":1} thanks`, map[string]any{"x": float64(1)}},
		{"no json", "no json here", nil},
		{"array first", `values [1, 2] and {"a": true}`, []any{float64(1), float64(2)}},
		{"code fence", "```json\n{\"score\": 80, \"issues\": []}\n```", map[string]any{"score": float64(80), "issues": []any{}}},
		{"braces inside strings", `{"note": "use {curly} and ]brackets["}`, map[string]any{"note": "use {curly} and ]brackets["}},
		{"escaped quote", `{"q": "say \"hi\" {"}`, map[string]any{"q": `say "hi" {`}},
		{"skips invalid span", `{not json} then {"a": 2}`, map[string]any{"a": float64(2)}},
		{"unterminated", `{"a": 1`, nil},
		{"mismatched", `{"a": [1}`, nil},
		{"nested", `result: {"outer": {"inner": [1, {"deep": null}]}}`, map[string]any{"outer": map[string]any{"inner": []any{float64(1), map[string]any{"deep": nil}}}}},
		{"empty", "", nil},
		{"invalid outer hides inner", `{"summary":"ok","specs":{"voltage":"480V"}, trailing garbage}`, nil},
		{"truncated outer hides inner", `{"summary": "x", "specs": {"v": "1"}`, nil},
		{"mismatched outer hides inner", `{"a": {"b": 1}]`, nil},
		{"stray quote in prose", `he said "hello. {"a": 1}`, map[string]any{"a": float64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JSON(tt.text))
		})
	}
}

func TestObject_SkipsLeadingArray(t *testing.T) {
	got := Object(`[1,2] {"k": "v"}`)
	assert.Equal(t, map[string]any{"k": "v"}, got)
	assert.Nil(t, Object(`[1,2,3]`))
}

func TestArray_SkipsLeadingObject(t *testing.T) {
	got := Array(`{"k": "v"} then ["a", "b"]`)
	assert.Equal(t, []any{"a", "b"}, got)
	assert.Nil(t, Array(`{"k": "v"}`))
}

func TestArray_InnerArrayOfObject(t *testing.T) {
	// The object is skipped, but its inner array is still a candidate.
	got := Array(`{"vendors": ["a"]}`)
	assert.Equal(t, []any{"a"}, got)
}

type review struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
}

func TestInto_Struct(t *testing.T) {
	got := Into(`Review: {"score": 72.5, "issues": ["missing model"]}`, review{Score: -1})
	assert.Equal(t, 72.5, got.Score)
	assert.Equal(t, []string{"missing model"}, got.Issues)
}

func TestInto_Fallback(t *testing.T) {
	fallback := review{Score: -1}
	assert.Equal(t, fallback, Into("I cannot review this.", fallback))
}

func TestInto_SkipsSpanThatDoesNotDecode(t *testing.T) {
	// The first object has a string score, which cannot decode into float64.
	got := Into(`{"score": "high"} {"score": 10}`, review{Score: -1})
	assert.Equal(t, float64(10), got.Score)
}

func TestInto_Slice(t *testing.T) {
	type vendor struct {
		Name string `json:"name"`
	}
	got := Into(`Vendors: [{"name": "Acme"}, {"name": "Globex"}]`, []vendor(nil))
	require.Len(t, got, 2)
	assert.Equal(t, "Globex", got[1].Name)
}

func TestInto_Pointer(t *testing.T) {
	got := Into[*review](`{"score": 5}`, nil)
	require.NotNil(t, got)
	assert.Equal(t, float64(5), got.Score)
}

func TestInto_OuterThatDoesNotDecodeIsNotReplacedByInner(t *testing.T) {
	// issues holds objects, so the outer value cannot decode into review;
	// the nested {"field": ...} object must not be offered in its place.
	text := `{"score":85,"issues":[{"field":"manufacturer","problem":"missing"}]}`
	assert.Nil(t, Into[*review](text, nil))
}

func TestScan_LinearOnUnclosedBrackets(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"open braces", strings.Repeat("{", 200000)},
		{"open brackets then object", strings.Repeat("[", 200000) + `{"a": 1}`},
		{"alternating", strings.Repeat("{[", 100000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			assert.Nil(t, JSON(tt.text))
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestScan_InputIsCapped(t *testing.T) {
	text := strings.Repeat(" ", MaxInputBytes) + `{"a": 1}`
	assert.Nil(t, JSON(text))

	text = strings.Repeat(" ", MaxInputBytes-4) + `{"a": 1}`
	assert.Nil(t, JSON(text), "an object cut at the limit never closes")

	text = `{"a": 1}` + strings.Repeat(" ", MaxInputBytes)
	assert.Equal(t, map[string]any{"a": float64(1)}, JSON(text))
}
