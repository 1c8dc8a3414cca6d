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
	"encoding/json"
	"strings"
)

// MaxInputBytes bounds how much of a text is scanned. Brackets still open
// at the cut never close, so nothing is matched across it.
const MaxInputBytes = 4 << 20

// span describes one bracket. end is the closing index when matched, or
// the index at which the bracket was found to be broken.
type span struct {
	end     int
	matched bool
}

// scan calls accept for each balanced, valid JSON span in text whose first
// byte is in openers, in order of start position, until accept returns true.
//
// A span that is broken, invalid, or rejected by accept is skipped whole:
// nothing nested inside it is offered.
func scan(text, openers string, accept func(candidate string) bool) bool {
	if len(text) > MaxInputBytes {
		text = text[:MaxInputBytes]
	}
	spans := matchAll(text)
	for i := 0; i < len(text); i++ {
		if strings.IndexByte(openers, text[i]) < 0 {
			continue
		}
		s, ok := spans[i]
		if !ok {
			continue
		}
		if s.matched {
			candidate := text[i : s.end+1]
			if json.Valid([]byte(candidate)) && accept(candidate) {
				return true
			}
		}
		i = s.end
	}
	return false
}

// matchAll pairs every bracket in text in a single pass.
//
// Description:
//
//	Quotes only open strings inside a bracket, so prose around the JSON
//	cannot flip string state. A closer that does not match the innermost
//	open bracket breaks every bracket still open. Brackets open at the end
//	of text are broken at the last byte.
func matchAll(text string) map[int]span {
	spans := make(map[int]span)
	var open []int
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if len(open) > 0 {
				inString = true
			}
		case '{', '[':
			open = append(open, i)
		case '}', ']':
			if len(open) == 0 {
				continue
			}
			top := open[len(open)-1]
			if closerFor(text[top]) != c {
				for _, pos := range open {
					spans[pos] = span{end: i}
				}
				open = open[:0]
				continue
			}
			spans[top] = span{end: i, matched: true}
			open = open[:len(open)-1]
		}
	}
	for _, pos := range open {
		spans[pos] = span{end: len(text) - 1}
	}
	return spans
}

func closerFor(opener byte) byte {
	if opener == '{' {
		return '}'
	}
	return ']'
}
