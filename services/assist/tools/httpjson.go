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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/AleutianAI/SectorWiki/services/llm"
)

const maxToolResponseBytes = 4 << 20

// getJSON performs a GET and decodes a 200 response into out.
func getJSON(ctx context.Context, client *http.Client, url string, auth func(*http.Request) error, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		if err := auth(req); err != nil {
			return err
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %s", llm.SafeLogString(err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, llm.SafeLogString(snippet))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// headerAuth sets header to prefix+secret when cred is non-nil.
func headerAuth(cred llm.CredentialSource, header, prefix string) func(*http.Request) error {
	if cred == nil {
		return nil
	}
	return func(req *http.Request) error {
		return cred.WithSecret(func(secret string) error {
			req.Header.Set(header, prefix+secret)
			return nil
		})
	}
}
