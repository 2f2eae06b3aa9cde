// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements Protected Resource Metadata.
// See https://www.rfc-editor.org/rfc/rfc9728.html.

package oauthex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpwire/mcpwire/internal/util"
)

const wellKnownProtectedResource = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata holds protected resource metadata fields, as
// defined in RFC 9728 section 2.
type ProtectedResourceMetadata struct {
	// Resource is the protected resource's resource identifier URL.
	Resource string `json:"resource"`
	// AuthorizationServers lists the issuer identifiers of authorization
	// servers that can be used with this protected resource.
	AuthorizationServers []string `json:"authorization_servers,omitempty"`
	// JWKSURI is the URL of the resource's JSON Web Key Set document.
	JWKSURI string `json:"jwks_uri,omitempty"`
	// ScopesSupported lists scope values used in authorization requests
	// to access this resource.
	ScopesSupported []string `json:"scopes_supported,omitempty"`
	// BearerMethodsSupported lists supported methods of sending a bearer
	// token: "header", "body" or "query".
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	// ResourceSigningAlgValuesSupported lists JWS signing algorithms
	// supported for signed resource responses.
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	// ResourceName is a human-readable name for the resource.
	ResourceName string `json:"resource_name,omitempty"`
	// ResourceDocumentation is a URL with developer documentation.
	ResourceDocumentation string `json:"resource_documentation,omitempty"`
	// ResourcePolicyURI is a URL with the resource's data usage policy.
	ResourcePolicyURI string `json:"resource_policy_uri,omitempty"`
	// ResourceTOSURI is a URL with the resource's terms of service.
	ResourceTOSURI string `json:"resource_tos_uri,omitempty"`
	// TLSClientCertificateBoundAccessTokens indicates support for
	// mutual-TLS certificate-bound access tokens.
	TLSClientCertificateBoundAccessTokens bool `json:"tls_client_certificate_bound_access_tokens,omitempty"`
	// AuthorizationDetailsTypesSupported lists authorization details type
	// values supported per RFC 9396.
	AuthorizationDetailsTypesSupported []string `json:"authorization_details_types_supported,omitempty"`
	// DPoPSigningAlgValuesSupported lists JWS algorithms supported for
	// DPoP proof JWTs.
	DPoPSigningAlgValuesSupported []string `json:"dpop_signing_alg_values_supported,omitempty"`
	// DPoPBoundAccessTokensRequired indicates that the resource requires
	// DPoP-bound access tokens.
	DPoPBoundAccessTokensRequired bool `json:"dpop_bound_access_tokens_required,omitempty"`
}

// A ProtectedResourceMetadataURL names a location where protected resource
// metadata may be retrieved, along with the resource it must describe.
type ProtectedResourceMetadataURL struct {
	// URL is where the metadata may be retrieved.
	URL string
	// Resource is the resource URL the metadata must match, as required by
	// RFC 9728 section 3.3.
	Resource string
}

// ProtectedResourceMetadataURLs returns the list of metadata locations to
// try for the given resource: the URL from the challenge's
// resource_metadata parameter first if present, then the well-known path
// under the resource's path, then the well-known path at the root.
func ProtectedResourceMetadataURLs(metadataURL, resourceURL string) []ProtectedResourceMetadataURL {
	var urls []ProtectedResourceMetadataURL
	if metadataURL != "" {
		urls = append(urls, ProtectedResourceMetadataURL{URL: metadataURL, Resource: resourceURL})
	}
	ru, err := url.Parse(resourceURL)
	if err != nil {
		return urls
	}
	mu := *ru
	mu.RawQuery = ""
	mu.Fragment = ""
	if p := strings.Trim(ru.Path, "/"); p != "" {
		mu.Path = wellKnownProtectedResource + "/" + p
		urls = append(urls, ProtectedResourceMetadataURL{URL: mu.String(), Resource: resourceURL})
	}
	mu.Path = wellKnownProtectedResource
	root := *ru
	root.Path = ""
	root.RawQuery = ""
	root.Fragment = ""
	urls = append(urls, ProtectedResourceMetadataURL{URL: mu.String(), Resource: root.String()})
	return urls
}

// GetProtectedResourceMetadata retrieves protected resource metadata from
// the given location using c (or the default client if nil), and validates
// its resource field against the expected resource per RFC 9728 section
// 3.3. Resource URLs are compared after normalization.
func GetProtectedResourceMetadata(ctx context.Context, metadataURL ProtectedResourceMetadataURL, c *http.Client) (_ *ProtectedResourceMetadata, err error) {
	defer util.Wrapf(&err, "GetProtectedResourceMetadata(%q)", metadataURL.URL)

	prm, err := getJSON[ProtectedResourceMetadata](ctx, c, metadataURL.URL)
	if err != nil {
		return nil, err
	}
	if normalizeResourceURL(prm.Resource) != normalizeResourceURL(metadataURL.Resource) {
		return nil, fmt.Errorf("got metadata resource %q, want %q", prm.Resource, metadataURL.Resource)
	}
	for _, u := range prm.AuthorizationServers {
		if err := checkURLScheme(u); err != nil {
			return nil, err
		}
	}
	return prm, nil
}

// normalizeResourceURL canonicalizes a resource URL for comparison:
// lowercased scheme and host, default port elided, trailing slash trimmed.
func normalizeResourceURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}
	u.Host = host
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	return u.String()
}
