// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package oauthex implements the OAuth extensions used by MCP
// authorization: WWW-Authenticate parsing (RFC 9110 §11),
// protected resource metadata (RFC 9728), authorization server metadata
// (RFC 8414 and OpenID Connect Discovery), and dynamic client
// registration (RFC 7591).
package oauthex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
)

// maxMetadataBytes bounds metadata documents read from the network.
const maxMetadataBytes = 1 << 20

// getJSON fetches url and decodes the response body into a T.
// Responses with a non-200 status are an error.
func getJSON[T any](ctx context.Context, c *http.Client, url string) (*T, error) {
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, err
	}
	t := new(T)
	if err := internaljson.Unmarshal(body, t); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", url, err)
	}
	return t, nil
}

// checkURLScheme rejects URLs whose scheme could be used for script
// injection when the URL is later rendered or opened.
func checkURLScheme(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q has disallowed scheme %q", s, u.Scheme)
	}
	return nil
}
