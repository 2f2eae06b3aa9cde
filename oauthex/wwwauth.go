// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file parses WWW-Authenticate headers.
// See RFC 9110, section 11.6.1.

package oauthex

import (
	"fmt"
	"strings"
)

// A Challenge is a single authentication challenge from a
// WWW-Authenticate header.
type Challenge struct {
	// Scheme is the authentication scheme, lowercased (e.g. "bearer").
	Scheme string
	// Params holds the challenge's auth parameters, keyed by lowercased
	// name, with quoted-string values unquoted.
	Params map[string]string
	// Token68 is the scheme's token68 value, if the challenge carries one
	// instead of auth parameters.
	Token68 string
}

// ParseWWWAuthenticate parses the given WWW-Authenticate header values
// into a list of challenges.
//
// A single header value may carry several comma-separated challenges;
// a new challenge begins at a token that is not followed by "=".
func ParseWWWAuthenticate(headers []string) ([]Challenge, error) {
	var cs []Challenge
	for _, h := range headers {
		parsed, err := parseChallenges(h)
		if err != nil {
			return nil, fmt.Errorf("parsing WWW-Authenticate %q: %w", h, err)
		}
		cs = append(cs, parsed...)
	}
	return cs, nil
}

func parseChallenges(s string) ([]Challenge, error) {
	var cs []Challenge
	var cur *Challenge

	for {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			break
		}
		tok, rest := lexToken(s)
		if tok == "" {
			return nil, fmt.Errorf("expected token at %q", s)
		}
		rest = strings.TrimLeft(rest, " \t")
		switch {
		case strings.HasPrefix(rest, "="):
			if cur == nil {
				return nil, fmt.Errorf("auth parameter %q before any scheme", tok)
			}
			rest = strings.TrimLeft(rest[1:], " \t")
			// A bare "=" after a parameter-less token may also be a token68
			// value's trailing padding.
			if rest == "" || strings.HasPrefix(rest, "=") {
				// token68 value like "abc==": consume padding.
				trimmed := strings.TrimLeft(rest, "=")
				cur.Token68 = tok + "=" + strings.Repeat("=", len(rest)-len(trimmed))
				s = trimmed
				continue
			}
			var val string
			var err error
			if strings.HasPrefix(rest, `"`) {
				val, rest, err = lexQuoted(rest)
				if err != nil {
					return nil, err
				}
			} else {
				val, rest = lexToken(rest)
				if val == "" {
					return nil, fmt.Errorf("missing value for parameter %q", tok)
				}
			}
			key := strings.ToLower(tok)
			if _, ok := cur.Params[key]; !ok {
				cur.Params[key] = val
			}
			s = rest
		default:
			// A bare token starts a new challenge.
			cs = append(cs, Challenge{Scheme: strings.ToLower(tok), Params: map[string]string{}})
			cur = &cs[len(cs)-1]
			s = rest
		}
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("no challenges")
	}
	return cs, nil
}

// lexToken consumes an HTTP token (RFC 9110 tchar) prefix of s.
func lexToken(s string) (tok, rest string) {
	i := 0
	for i < len(s) && isTokenChar(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

// lexQuoted consumes a quoted-string prefix of s, unescaping quoted pairs.
func lexQuoted(s string) (val, rest string, err error) {
	if !strings.HasPrefix(s, `"`) {
		return "", "", fmt.Errorf("expected quoted string at %q", s)
	}
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", "", fmt.Errorf("unterminated quoted pair in %q", s)
			}
			i++
			b.WriteByte(s[i])
		case '"':
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", "", fmt.Errorf("unterminated quoted string in %q", s)
}

// ResourceMetadataURL returns the resource_metadata parameter from the
// given challenges, or the empty string if there is none.
func ResourceMetadataURL(cs []Challenge) string {
	for _, c := range cs {
		if u := c.Params["resource_metadata"]; u != "" {
			return u
		}
	}
	return ""
}

// Scopes returns the scope parameter of the first Bearer challenge
// carrying one, split into individual scopes.
func Scopes(cs []Challenge) []string {
	for _, c := range cs {
		if c.Scheme == "bearer" && c.Params["scope"] != "" {
			return strings.Fields(c.Params["scope"])
		}
	}
	return nil
}
