// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package auth implements MCP authorization: a client-side HTTP transport
// that answers Bearer challenges with the OAuth authorization code flow,
// and server-side middleware that requires Bearer tokens.
package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/mcpwire/mcpwire/oauthex"
	"golang.org/x/oauth2"
)

// ErrUnauthorized is returned when a call failed due to authorization.
var ErrUnauthorized = errors.New("unauthorized")

// challengeErrPrefix prefixes every error arising from handling a Bearer
// challenge.
const challengeErrPrefix = "Failed to handle unauthorized response with 'Bearer' scheme."

// challengeErrorf builds a challenge-handling error with the standard
// prefix.
func challengeErrorf(format string, args ...any) error {
	return fmt.Errorf(challengeErrPrefix+" %w", fmt.Errorf(format, args...))
}

// An OAuthHandler conducts an OAuth flow on behalf of an [HTTPTransport].
type OAuthHandler interface {
	isOAuthHandler()

	// TokenSource returns a token source to be used for outgoing requests,
	// or nil if no token has been obtained yet.
	TokenSource(context.Context) (oauth2.TokenSource, error)

	// Authorize is called when an HTTP request results in an authentication
	// challenge. It is responsible for conducting the OAuth flow to obtain
	// a token source; after a successful call, TokenSource must return a
	// non-nil source and the transport retries the request. The function is
	// responsible for closing the response body.
	Authorize(context.Context, *http.Request, *http.Response) error
}

// A refresher is an optional interface for handlers that can refresh their
// token without a full flow. Attempted reports whether a refresh was
// actually tried, letting the transport fall through to the full flow.
type refresher interface {
	Refresh(ctx context.Context) (attempted bool, err error)
}

// TokenStore persists tokens across sessions on behalf of OAuth handlers.
type TokenStore interface {
	Save(context.Context, *oauth2.Token) error
	Load(context.Context) (*oauth2.Token, error)
}

// A MemoryTokenStore is a TokenStore holding one token in memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token *oauth2.Token
}

func (s *MemoryTokenStore) Save(_ context.Context, t *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = t
	return nil
}

func (s *MemoryTokenStore) Load(context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

type persistentTokenSource struct {
	wrapped oauth2.TokenSource
	store   TokenStore
	ctx     context.Context
}

// NewPersistentTokenSource returns an [oauth2.TokenSource] that saves the
// token to store after every successful Token call. It is useful when
// wrapping a source that refreshes the token when it expires. The passed
// context is used for the Save calls.
func NewPersistentTokenSource(ctx context.Context, wrapped oauth2.TokenSource, store TokenStore) oauth2.TokenSource {
	return &persistentTokenSource{wrapped: wrapped, store: store, ctx: ctx}
}

func (t *persistentTokenSource) Token() (*oauth2.Token, error) {
	token, err := t.wrapped.Token()
	if err != nil {
		return nil, err
	}
	if err := t.store.Save(t.ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// HTTPTransport is an [http.RoundTripper] that supplies Bearer tokens and
// reacts to authentication challenges.
//
// For each originating request it attaches the handler's current token, if
// any. When the response is a challenge (401 Unauthorized, or 403
// Forbidden with a Bearer challenge carrying error="insufficient_scope"),
// it attempts at most one token refresh and, failing that, at most one
// full authorization flow, retrying the request after each.
type HTTPTransport struct {
	handler OAuthHandler
	opts    HTTPTransportOptions
	mu      sync.Mutex // serializes refresh and authorization
}

// HTTPTransportOptions are options to [NewHTTPTransport].
type HTTPTransportOptions struct {
	// Base is the [http.RoundTripper] to use. If nil,
	// [http.DefaultTransport] is used.
	Base http.RoundTripper
}

// NewHTTPTransport returns an [*HTTPTransport] driving the given handler.
func NewHTTPTransport(handler OAuthHandler, opts *HTTPTransportOptions) (*HTTPTransport, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	t := &HTTPTransport{handler: handler}
	if opts != nil {
		t.opts = *opts
	}
	if t.opts.Base == nil {
		t.opts.Base = http.DefaultTransport
	}
	return t, nil
}

// isChallenge reports whether the response retriggers authorization.
func isChallenge(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		cs, err := oauthex.ParseWWWAuthenticate(resp.Header[http.CanonicalHeaderKey("WWW-Authenticate")])
		if err != nil {
			return false
		}
		for _, c := range cs {
			if c.Scheme == "bearer" && c.Params["error"] == "insufficient_scope" {
				return true
			}
		}
	}
	return false
}

func (t *HTTPTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var (
		// If haveBody is set, the request has a nontrivial body whose content
		// is in bodyBytes, so that retries can replay it.
		haveBody  bool
		bodyBytes []byte
	)
	if req.Body != nil && req.Body != http.NoBody {
		req = req.Clone(ctx)
		haveBody = true
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close() // ignore error
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	send := func() (*http.Response, error) {
		r := req
		if haveBody {
			r = req.Clone(ctx)
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		ts, err := t.handler.TokenSource(ctx)
		if err != nil {
			return nil, challengeErrorf("obtaining token source: %w", err)
		}
		if ts != nil {
			token, err := ts.Token()
			if err != nil {
				return nil, challengeErrorf("obtaining token: %w", err)
			}
			if !haveBody {
				r = req.Clone(ctx)
			}
			token.SetAuthHeader(r)
		}
		return t.opts.Base.RoundTrip(r)
	}

	resp, err := send()
	if err != nil || !isChallenge(resp) {
		return resp, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// One refresh attempt, for expired-but-refreshable tokens.
	if r, ok := t.handler.(refresher); ok && resp.StatusCode == http.StatusUnauthorized {
		attempted, err := r.Refresh(ctx)
		if err == nil && attempted {
			resp2, err := send()
			if err != nil {
				resp.Body.Close()
				return nil, err
			}
			if !isChallenge(resp2) {
				resp.Body.Close()
				return resp2, nil
			}
			// The refreshed token was also rejected; fall through to the
			// full flow using the newer challenge.
			resp.Body.Close()
			resp = resp2
		}
	}

	// One full authorization flow. Authorize closes resp's body.
	if err := t.handler.Authorize(ctx, req, resp); err != nil {
		return nil, err
	}
	return send()
}
