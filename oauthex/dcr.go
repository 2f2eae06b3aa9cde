// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements Dynamic Client Registration.
// See https://www.rfc-editor.org/rfc/rfc7591.html.

package oauthex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
	"github.com/mcpwire/mcpwire/internal/util"
)

// ClientRegistrationMetadata holds the client metadata sent in a dynamic
// client registration request, as defined in RFC 7591 section 2.
type ClientRegistrationMetadata struct {
	// RedirectURIs lists the client's redirection URIs. Required for the
	// authorization code grant.
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	// TokenEndpointAuthMethod is the requested client authentication
	// method for the token endpoint.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`
	// GrantTypes lists OAuth grant types the client will use.
	GrantTypes []string `json:"grant_types,omitempty"`
	// ResponseTypes lists OAuth response types the client will use.
	ResponseTypes []string `json:"response_types,omitempty"`
	// ClientName is a human-readable client name.
	ClientName string `json:"client_name,omitempty"`
	// ClientURI is a URL with information about the client.
	ClientURI string `json:"client_uri,omitempty"`
	// LogoURI is a URL for the client's logo.
	LogoURI string `json:"logo_uri,omitempty"`
	// Scope is a space-separated list of requested scopes.
	Scope string `json:"scope,omitempty"`
	// Contacts lists ways to contact people responsible for the client.
	Contacts []string `json:"contacts,omitempty"`
	// TOSURI is a URL with the client's terms of service.
	TOSURI string `json:"tos_uri,omitempty"`
	// PolicyURI is a URL with the client's data usage policy.
	PolicyURI string `json:"policy_uri,omitempty"`
	// JWKSURI is a URL for the client's JSON Web Key Set.
	JWKSURI string `json:"jwks_uri,omitempty"`
	// SoftwareID identifies the client software.
	SoftwareID string `json:"software_id,omitempty"`
	// SoftwareVersion identifies the client software's version.
	SoftwareVersion string `json:"software_version,omitempty"`
	// SoftwareStatement is a signed JWT asserting client metadata values.
	SoftwareStatement string `json:"software_statement,omitempty"`
}

// ClientRegistrationResponse holds the authorization server's response to
// a registration request, as defined in RFC 7591 section 3.2.1.
type ClientRegistrationResponse struct {
	// ClientID is the issued client identifier.
	ClientID string `json:"client_id"`
	// ClientSecret is the issued client secret, if any.
	ClientSecret string `json:"client_secret,omitempty"`
	// ClientIDIssuedAt is when the client ID was issued, in seconds since
	// the Unix epoch.
	ClientIDIssuedAt int64 `json:"client_id_issued_at,omitempty"`
	// ClientSecretExpiresAt is when the client secret expires, in seconds
	// since the Unix epoch, or zero if it does not expire.
	ClientSecretExpiresAt int64 `json:"client_secret_expires_at,omitempty"`
	// TokenEndpointAuthMethod echoes the registered authentication method.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`
	// RedirectURIs echoes the registered redirection URIs.
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	// GrantTypes echoes the registered grant types.
	GrantTypes []string `json:"grant_types,omitempty"`
	// ResponseTypes echoes the registered response types.
	ResponseTypes []string `json:"response_types,omitempty"`
	// Scope echoes the registered scope.
	Scope string `json:"scope,omitempty"`
}

// A ClientRegistrationError is an error response from the registration
// endpoint, as defined in RFC 7591 section 3.2.2.
type ClientRegistrationError struct {
	// ErrorCode is the registration error code.
	ErrorCode string `json:"error"`
	// ErrorDescription is human-readable detail, if provided.
	ErrorDescription string `json:"error_description,omitempty"`
}

func (e *ClientRegistrationError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("registration error %q: %s", e.ErrorCode, e.ErrorDescription)
	}
	return fmt.Sprintf("registration error %q", e.ErrorCode)
}

// RegisterClient registers a client with the given registration endpoint
// using c (or the default client if nil), returning the issued client
// information. Registration failures reported by the server are returned
// as a [*ClientRegistrationError].
func RegisterClient(ctx context.Context, registrationEndpoint string, meta *ClientRegistrationMetadata, c *http.Client) (_ *ClientRegistrationResponse, err error) {
	defer util.Wrapf(&err, "RegisterClient(%q)", registrationEndpoint)

	if c == nil {
		c = http.DefaultClient
	}
	body, err := internaljson.Marshal(meta)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var regErr ClientRegistrationError
		if err := internaljson.Unmarshal(respBody, &regErr); err == nil && regErr.ErrorCode != "" {
			return nil, &regErr
		}
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var reg ClientRegistrationResponse
	if err := internaljson.Unmarshal(respBody, &reg); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if reg.ClientID == "" {
		return nil, fmt.Errorf("response has no client_id")
	}
	return &reg, nil
}
