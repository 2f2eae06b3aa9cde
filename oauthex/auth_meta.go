// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements Authorization Server Metadata discovery.
// See https://www.rfc-editor.org/rfc/rfc8414.html and OpenID Connect
// Discovery 1.0.

package oauthex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpwire/mcpwire/internal/util"
)

// AuthServerMeta holds authorization server metadata, as defined in RFC
// 8414 section 2, with the OpenID Connect Discovery fields that overlap.
type AuthServerMeta struct {
	// Issuer is the authorization server's issuer identifier URL.
	Issuer string `json:"issuer"`
	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint,omitempty"`
	// JWKSURI is the URL of the server's JSON Web Key Set document.
	JWKSURI string `json:"jwks_uri,omitempty"`
	// RegistrationEndpoint is the URL of the dynamic client registration
	// endpoint (RFC 7591).
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`
	// ScopesSupported lists the scope values the server supports.
	ScopesSupported []string `json:"scopes_supported,omitempty"`
	// ResponseTypesSupported lists the response_type values the server
	// supports. Defaults to ["code"] when absent.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	// ResponseModesSupported lists the response_mode values the server
	// supports.
	ResponseModesSupported []string `json:"response_modes_supported,omitempty"`
	// GrantTypesSupported lists the grant types the server supports.
	// Defaults to ["authorization_code", "implicit"] when absent.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`
	// TokenEndpointAuthMethodsSupported lists client authentication
	// methods supported by the token endpoint. Defaults to
	// ["client_secret_basic"] when absent.
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	// TokenEndpointAuthSigningAlgValuesSupported lists JWS algorithms
	// supported by the token endpoint for signed client authentication.
	TokenEndpointAuthSigningAlgValuesSupported []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	// ServiceDocumentation is a URL with developer documentation.
	ServiceDocumentation string `json:"service_documentation,omitempty"`
	// UILocalesSupported lists supported UI languages.
	UILocalesSupported []string `json:"ui_locales_supported,omitempty"`
	// OpPolicyURI is a URL with the server's data usage policy.
	OpPolicyURI string `json:"op_policy_uri,omitempty"`
	// OpTOSURI is a URL with the server's terms of service.
	OpTOSURI string `json:"op_tos_uri,omitempty"`
	// RevocationEndpoint is the URL of the token revocation endpoint
	// (RFC 7009).
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`
	// IntrospectionEndpoint is the URL of the token introspection
	// endpoint (RFC 7662).
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	// CodeChallengeMethodsSupported lists PKCE code challenge methods the
	// server supports. Defaults to ["S256"] when absent.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
	// UserinfoEndpoint is the OpenID Connect userinfo endpoint.
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
	// IDTokenSigningAlgValuesSupported lists JWS algorithms supported for
	// ID tokens (OpenID Connect).
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	// SubjectTypesSupported lists supported subject identifier types
	// (OpenID Connect).
	SubjectTypesSupported []string `json:"subject_types_supported,omitempty"`
	// ClientIDMetadataDocumentSupported indicates that the server accepts
	// client ID metadata document URLs as client identifiers.
	ClientIDMetadataDocumentSupported bool `json:"client_id_metadata_document_supported,omitempty"`
}

// authServerMetaURLs returns the well-known URLs to probe for the given
// issuer, in preference order: RFC 8414 with and without the issuer path,
// then OpenID Connect Discovery with and without it.
func authServerMetaURLs(issuer string) ([]string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("issuer %q is not an HTTP(S) URL", issuer)
	}
	base := *u
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	path := strings.Trim(u.Path, "/")

	var urls []string
	add := func(wellKnown string, withPath bool) {
		v := base
		v.Path = wellKnown
		if withPath && path != "" {
			v.Path = wellKnown + "/" + path
		}
		urls = append(urls, v.String())
	}
	if path != "" {
		add("/.well-known/oauth-authorization-server", true)
	}
	add("/.well-known/oauth-authorization-server", false)
	if path != "" {
		add("/.well-known/openid-configuration", true)
	}
	add("/.well-known/openid-configuration", false)
	return urls, nil
}

// GetAuthServerMeta retrieves the authorization server metadata for the
// given issuer using c (or the default client if nil), probing the
// well-known locations in order; the first location that responds with
// valid metadata wins. Defaulted fields are filled in per RFC 8414, with
// S256 as the default PKCE method.
func GetAuthServerMeta(ctx context.Context, issuer string, c *http.Client) (_ *AuthServerMeta, err error) {
	defer util.Wrapf(&err, "GetAuthServerMeta(%q)", issuer)

	urls, err := authServerMetaURLs(issuer)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, u := range urls {
		meta, err := getJSON[AuthServerMeta](ctx, c, u)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := validateAuthServerMeta(meta, issuer); err != nil {
			return nil, err
		}
		applyAuthServerDefaults(meta)
		return meta, nil
	}
	return nil, fmt.Errorf("no metadata found at any well-known location: %w", firstErr)
}

func validateAuthServerMeta(meta *AuthServerMeta, issuer string) error {
	if meta.Issuer == "" {
		return fmt.Errorf("metadata has no issuer")
	}
	if strings.TrimRight(meta.Issuer, "/") != strings.TrimRight(issuer, "/") {
		return fmt.Errorf("metadata issuer %q does not match %q", meta.Issuer, issuer)
	}
	for _, u := range []string{meta.AuthorizationEndpoint, meta.TokenEndpoint, meta.RegistrationEndpoint} {
		if u == "" {
			continue
		}
		if err := checkURLScheme(u); err != nil {
			return err
		}
	}
	return nil
}

func applyAuthServerDefaults(meta *AuthServerMeta) {
	if len(meta.ResponseTypesSupported) == 0 {
		meta.ResponseTypesSupported = []string{"code"}
	}
	if len(meta.GrantTypesSupported) == 0 {
		meta.GrantTypesSupported = []string{"authorization_code", "implicit"}
	}
	if len(meta.TokenEndpointAuthMethodsSupported) == 0 {
		meta.TokenEndpointAuthMethodsSupported = []string{"client_secret_basic"}
	}
	if len(meta.CodeChallengeMethodsSupported) == 0 {
		meta.CodeChallengeMethodsSupported = []string{"S256"}
	}
}
