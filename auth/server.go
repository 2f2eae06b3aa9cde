// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo holds the verified properties of a bearer token.
type TokenInfo struct {
	// Scopes granted to the token.
	Scopes []string
	// Expiration is when the token expires. A zero time means it does not.
	Expiration time.Time
	// Extra holds additional, verifier-specific claims.
	Extra map[string]any
}

// A TokenVerifier checks a bearer token's validity and extracts its
// properties. It returns [ErrInvalidToken] (possibly wrapped) if the token
// is invalid.
type TokenVerifier func(ctx context.Context, token string, req *http.Request) (*TokenInfo, error)

// ErrInvalidToken is returned by a [TokenVerifier] when the presented
// token does not verify.
var ErrInvalidToken = errors.New("invalid token")

type tokenInfoKey struct{}

// TokenInfoFromContext returns the [TokenInfo] recorded by
// [RequireBearerToken], if the request passed through it.
func TokenInfoFromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey{}).(*TokenInfo)
	return info, ok
}

// RequireBearerTokenOptions configures [RequireBearerToken].
type RequireBearerTokenOptions struct {
	// Scopes that the token must carry, all of them.
	Scopes []string
	// ResourceMetadataURL, if set, is advertised in the WWW-Authenticate
	// header of 401 responses as the resource_metadata parameter, pointing
	// clients at the protected resource metadata (RFC 9728).
	ResourceMetadataURL string
}

// RequireBearerToken returns middleware that rejects requests without a
// valid bearer token. The verified [TokenInfo] is recorded in the request
// context for the wrapped handler.
//
// Missing, malformed, invalid or expired tokens get a 401 response with a
// Bearer challenge; tokens lacking a required scope get a 403 with
// error="insufficient_scope".
func RequireBearerToken(verifier TokenVerifier, opts *RequireBearerTokenOptions) func(http.Handler) http.Handler {
	var o RequireBearerTokenOptions
	if opts != nil {
		o = *opts
	}
	challenge := func(params string) string {
		s := "Bearer"
		if o.ResourceMetadataURL != "" {
			params = appendParam(params, fmt.Sprintf("resource_metadata=%q", o.ResourceMetadataURL))
		}
		if params != "" {
			s += " " + params
		}
		return s
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			auth := req.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				w.Header().Set("WWW-Authenticate", challenge(""))
				http.Error(w, "no bearer token", http.StatusUnauthorized)
				return
			}
			info, err := verifier(req.Context(), token, req)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) {
					w.Header().Set("WWW-Authenticate", challenge(`error="invalid_token"`))
					http.Error(w, err.Error(), http.StatusUnauthorized)
				} else {
					http.Error(w, "token verification failed", http.StatusInternalServerError)
				}
				return
			}
			if !info.Expiration.IsZero() && info.Expiration.Before(time.Now()) {
				w.Header().Set("WWW-Authenticate", challenge(`error="invalid_token", error_description="token expired"`))
				http.Error(w, "token expired", http.StatusUnauthorized)
				return
			}
			for _, scope := range o.Scopes {
				if !slices.Contains(info.Scopes, scope) {
					w.Header().Set("WWW-Authenticate", challenge(fmt.Sprintf(`error="insufficient_scope", scope=%q`, strings.Join(o.Scopes, " "))))
					http.Error(w, "insufficient scope", http.StatusForbidden)
					return
				}
			}
			ctx := context.WithValue(req.Context(), tokenInfoKey{}, info)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func appendParam(params, p string) string {
	if params == "" {
		return p
	}
	return params + ", " + p
}

// JWTVerifierOptions configures [JWTVerifier].
type JWTVerifierOptions struct {
	// Issuer, if set, must match the token's iss claim.
	Issuer string
	// Audience, if set, must be among the token's aud claims.
	Audience string
}

// JWTVerifier returns a [TokenVerifier] for HMAC-signed JWTs (HS256),
// verified with the given key. Scopes are read from the token's "scope"
// claim, a space-separated string.
func JWTVerifier(key []byte, opts *JWTVerifierOptions) TokenVerifier {
	var o JWTVerifierOptions
	if opts != nil {
		o = *opts
	}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if o.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(o.Issuer))
	}
	if o.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(o.Audience))
	}
	parser := jwt.NewParser(parserOpts...)
	return func(_ context.Context, token string, _ *http.Request) (*TokenInfo, error) {
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return key, nil
		}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		info := &TokenInfo{Extra: claims}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			info.Expiration = exp.Time
		}
		if scope, ok := claims["scope"].(string); ok {
			info.Scopes = strings.Fields(scope)
		}
		return info, nil
	}
}
