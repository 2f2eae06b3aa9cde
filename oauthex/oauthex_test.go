// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package oauthex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestProtectedResourceMetadataURLs(t *testing.T) {
	got := ProtectedResourceMetadataURLs("", "https://rs.example/mcp/v1")
	want := []ProtectedResourceMetadataURL{
		{URL: "https://rs.example/.well-known/oauth-protected-resource/mcp/v1", Resource: "https://rs.example/mcp/v1"},
		{URL: "https://rs.example/.well-known/oauth-protected-resource", Resource: "https://rs.example"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	// The challenge's resource_metadata URL goes first.
	got = ProtectedResourceMetadataURLs("https://rs.example/custom-meta", "https://rs.example/")
	want = []ProtectedResourceMetadataURL{
		{URL: "https://rs.example/custom-meta", Resource: "https://rs.example/"},
		{URL: "https://rs.example/.well-known/oauth-protected-resource", Resource: "https://rs.example"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestGetProtectedResourceMetadata(t *testing.T) {
	ctx := context.Background()
	var meta ProtectedResourceMetadata
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != wellKnownProtectedResource {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(meta)
	}))
	defer server.Close()

	mdURL := ProtectedResourceMetadataURL{
		URL:      server.URL + wellKnownProtectedResource,
		Resource: server.URL,
	}

	meta = ProtectedResourceMetadata{
		Resource:             server.URL,
		AuthorizationServers: []string{"https://as.example"},
		ScopesSupported:      []string{"mcp"},
	}
	got, err := GetProtectedResourceMetadata(ctx, mdURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&meta, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	// The resource field must match the expected resource.
	meta.Resource = "https://evil.example"
	if _, err := GetProtectedResourceMetadata(ctx, mdURL, nil); err == nil {
		t.Error("mismatched resource: got nil error")
	}

	// Normalization tolerates trailing slashes and default ports.
	meta.Resource = server.URL + "/"
	if _, err := GetProtectedResourceMetadata(ctx, mdURL, nil); err != nil {
		t.Errorf("trailing slash: %v", err)
	}

	// Authorization servers must be HTTP(S) URLs.
	meta.Resource = server.URL
	meta.AuthorizationServers = []string{"ftp://as.example"}
	if _, err := GetProtectedResourceMetadata(ctx, mdURL, nil); err == nil {
		t.Error("non-HTTP authorization server: got nil error")
	}
}

func TestNormalizeResourceURL(t *testing.T) {
	for _, tt := range []struct{ in, want string }{
		{"https://RS.Example/path/", "https://rs.example/path"},
		{"https://rs.example:443/path", "https://rs.example/path"},
		{"http://rs.example:80", "http://rs.example"},
		{"https://rs.example:8443/x", "https://rs.example:8443/x"},
		{"https://rs.example/x#frag", "https://rs.example/x"},
	} {
		if got := normalizeResourceURL(tt.in); got != tt.want {
			t.Errorf("normalizeResourceURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthServerMetaURLs(t *testing.T) {
	got, err := authServerMetaURLs("https://as.example/tenant")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"https://as.example/.well-known/oauth-authorization-server/tenant",
		"https://as.example/.well-known/oauth-authorization-server",
		"https://as.example/.well-known/openid-configuration/tenant",
		"https://as.example/.well-known/openid-configuration",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	got, err = authServerMetaURLs("https://as.example")
	if err != nil {
		t.Fatal(err)
	}
	want = []string{
		"https://as.example/.well-known/oauth-authorization-server",
		"https://as.example/.well-known/openid-configuration",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	if _, err := authServerMetaURLs("ftp://as.example"); err == nil {
		t.Error("non-HTTP issuer: got nil error")
	}
}

func TestGetAuthServerMeta(t *testing.T) {
	ctx := context.Background()

	// Serve metadata only at the OpenID Connect location, and record the
	// probe order.
	var mu sync.Mutex
	var probed []string
	var issuer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		probed = append(probed, req.URL.Path)
		mu.Unlock()
		if req.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthServerMeta{
			Issuer:                issuer,
			AuthorizationEndpoint: issuer + "/authorize",
			TokenEndpoint:         issuer + "/token",
		})
	}))
	defer server.Close()
	issuer = server.URL

	meta, err := GetAuthServerMeta(ctx, issuer, nil)
	if err != nil {
		t.Fatal(err)
	}
	wantProbes := []string{
		"/.well-known/oauth-authorization-server",
		"/.well-known/openid-configuration",
	}
	mu.Lock()
	gotProbes := probed
	mu.Unlock()
	if diff := cmp.Diff(wantProbes, gotProbes); diff != "" {
		t.Errorf("probe order mismatch (-want, +got):\n%s", diff)
	}

	// RFC 8414 defaults are applied.
	if diff := cmp.Diff([]string{"code"}, meta.ResponseTypesSupported); diff != "" {
		t.Errorf("response types mismatch (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"S256"}, meta.CodeChallengeMethodsSupported); diff != "" {
		t.Errorf("code challenge methods mismatch (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"client_secret_basic"}, meta.TokenEndpointAuthMethodsSupported); diff != "" {
		t.Errorf("auth methods mismatch (-want, +got):\n%s", diff)
	}
}

func TestGetAuthServerMetaIssuerMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthServerMeta{Issuer: "https://other.example"})
	}))
	defer server.Close()

	if _, err := GetAuthServerMeta(context.Background(), server.URL, nil); err == nil {
		t.Error("issuer mismatch: got nil error")
	}
}

func TestRegisterClient(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var meta ClientRegistrationMetadata
		if err := json.NewDecoder(req.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(meta.RedirectURIs) == 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ClientRegistrationError{
				ErrorCode:        "invalid_redirect_uri",
				ErrorDescription: "no redirect URIs",
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ClientRegistrationResponse{
			ClientID:     "client-123",
			RedirectURIs: meta.RedirectURIs,
		})
	}))
	defer server.Close()

	resp, err := RegisterClient(ctx, server.URL, &ClientRegistrationMetadata{
		ClientName:   "test client",
		RedirectURIs: []string{"http://localhost:9999/callback"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ClientID != "client-123" {
		t.Errorf("got client ID %q", resp.ClientID)
	}

	_, err = RegisterClient(ctx, server.URL, &ClientRegistrationMetadata{ClientName: "bad"}, nil)
	var regErr *ClientRegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("got %v, want ClientRegistrationError", err)
	}
	if regErr.ErrorCode != "invalid_redirect_uri" {
		t.Errorf("got error code %q", regErr.ErrorCode)
	}
}
