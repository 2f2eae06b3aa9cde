// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package testing holds test doubles shared by package tests.
package testing

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenExpiry = time.Hour

// JWTSigningKey signs the access tokens minted by [FakeAuthServer].
var JWTSigningKey = []byte("fake-secret-key")

type authCodeInfo struct {
	codeChallenge string
	redirectURI   string
}

// A FakeAuthServer is a fake OAuth 2.1 authorization server: metadata
// discovery, PKCE-checked authorization code grant, refresh grant, and
// dynamic client registration. Serve it with httptest and then set the
// issuer to the test server's URL.
type FakeAuthServer struct {
	mux *http.ServeMux

	mu            sync.Mutex
	issuer        string
	authCodes     map[string]authCodeInfo
	refreshTokens map[string]bool
	registrations int
	tokenGrants   int
}

func NewFakeAuthServer() *FakeAuthServer {
	s := &FakeAuthServer{
		mux:           http.NewServeMux(),
		authCodes:     make(map[string]authCodeInfo),
		refreshTokens: make(map[string]bool),
	}
	s.mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	s.mux.HandleFunc("/authorize", s.handleAuthorize)
	s.mux.HandleFunc("/token", s.handleToken)
	s.mux.HandleFunc("/register", s.handleRegister)
	return s
}

func (s *FakeAuthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetIssuer records the server's own URL, used in metadata and claims.
func (s *FakeAuthServer) SetIssuer(issuer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuer = issuer
}

// Registrations returns how many dynamic client registrations happened.
func (s *FakeAuthServer) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations
}

// TokenGrants returns how many tokens were issued, by any grant.
func (s *FakeAuthServer) TokenGrants() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenGrants
}

func (s *FakeAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	issuer := s.issuer
	s.mu.Unlock()
	metadata := map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"registration_endpoint":                 issuer + "/register",
		"scopes_supported":                      []string{"mcp"},
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metadata)
}

func (s *FakeAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	redirectURI := query.Get("redirect_uri")
	codeChallenge := query.Get("code_challenge")
	if redirectURI == "" || codeChallenge == "" || query.Get("code_challenge_method") != "S256" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	authCode := fmt.Sprintf("fake-auth-code-%d", time.Now().UnixNano())
	s.mu.Lock()
	s.authCodes[authCode] = authCodeInfo{codeChallenge: codeChallenge, redirectURI: redirectURI}
	s.mu.Unlock()

	redirectURL := fmt.Sprintf("%s?code=%s&state=%s", redirectURI, authCode, query.Get("state"))
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *FakeAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	switch r.Form.Get("grant_type") {
	case "authorization_code":
		code := r.Form.Get("code")
		s.mu.Lock()
		info, ok := s.authCodes[code]
		delete(s.authCodes, code)
		s.mu.Unlock()
		if !ok || info.redirectURI != r.Form.Get("redirect_uri") {
			http.Error(w, "invalid_grant", http.StatusBadRequest)
			return
		}
		sum := sha256.Sum256([]byte(r.Form.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != info.codeChallenge {
			http.Error(w, "invalid_grant", http.StatusBadRequest)
			return
		}
	case "refresh_token":
		rt := r.Form.Get("refresh_token")
		s.mu.Lock()
		ok := s.refreshTokens[rt]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "invalid_grant", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "unsupported_grant_type", http.StatusBadRequest)
		return
	}
	s.issueToken(w)
}

func (s *FakeAuthServer) issueToken(w http.ResponseWriter) {
	s.mu.Lock()
	issuer := s.issuer
	s.tokenGrants++
	refreshToken := fmt.Sprintf("fake-refresh-token-%d", s.tokenGrants)
	s.refreshTokens[refreshToken] = true
	s.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   issuer,
		"sub":   "fake-user-id",
		"aud":   "fake-client-id",
		"scope": "mcp",
		"exp":   now.Add(tokenExpiry).Unix(),
		"iat":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString(JWTSigningKey)
	if err != nil {
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(tokenExpiry.Seconds()),
		"refresh_token": refreshToken,
	})
}

func (s *FakeAuthServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var meta map[string]any
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		http.Error(w, "invalid_client_metadata", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.registrations++
	clientID := fmt.Sprintf("fake-client-%d", s.registrations)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"client_id":                  clientID,
		"token_endpoint_auth_method": "none",
		"redirect_uris":              meta["redirect_uris"],
	})
}
