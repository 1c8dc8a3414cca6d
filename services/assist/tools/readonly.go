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
	"fmt"
	"regexp"
	"strings"
)

// mutationKeyword matches Cypher clauses that write to the graph.
var mutationKeyword = regexp.MustCompile(`(?i)\b(CREATE|MERGE|SET|DELETE|REMOVE|DROP)\b`)

// ReadOnlyViolationError reports a query that would mutate the graph.
type ReadOnlyViolationError struct {
	Keyword string
}

func (e *ReadOnlyViolationError) Error() string {
	return fmt.Sprintf("query refused: %s is not allowed in read-only queries", e.Keyword)
}

// CheckReadOnly rejects queries containing a mutating clause keyword.
//
// Description:
//
//	Matching is case-insensitive on whole words, so OFFSET and property
//	names like "settings" pass. The check is lexical, so a keyword inside a
//	string literal is refused too.
func CheckReadOnly(query string) error {
	if m := mutationKeyword.FindString(query); m != "" {
		return &ReadOnlyViolationError{Keyword: strings.ToUpper(m)}
	}
	return nil
}
