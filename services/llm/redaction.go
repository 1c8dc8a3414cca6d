// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
	"unicode/utf8"
)

// redactionRule pairs a secret pattern with the label that replaces it.
type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactionRules run in order. Narrow prefixes precede the generic sk- rule.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`sk-or-v1-[A-Za-z0-9]{20,}`), "[REDACTED:openrouter_key]"},
	{regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{20,}`), "[REDACTED:openai_key]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED:openai_key]"},
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]{10,}`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key["'=:\s]+)[A-Za-z0-9._-]{10,}`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)password=[^\s&]{3,}`), "password=[REDACTED]"},
	{regexp.MustCompile(`(bolt|neo4j|bolt\+s|neo4j\+s|https?)://[^\s/@]+@`), "${1}://[REDACTED]@"},
}

// SafeLogString redacts credentials from s before it reaches a log line,
// an error message, or an audit record.
//
// Description:
//
//	Matches API keys for the completion and vulnerability endpoints,
//	bearer tokens, password parameters, and user:password@ segments of
//	graph and HTTP URLs. Pattern-based only: a secret in an unknown format
//	passes through.
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactionRules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// maxLoggedBody bounds response bodies copied into errors.
const maxLoggedBody = 512

// truncate shortens s to n bytes on a rune boundary, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
