// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/mcpwire/mcpwire/oauthex"
	"golang.org/x/oauth2"
)

// ErrRedirected is returned by [AuthorizationCodeOAuthHandler.Authorize]
// when the user was redirected to the authorization server. The caller
// must complete the redirect out of band and then call
// [AuthorizationCodeOAuthHandler.FinalizeAuthorization].
var ErrRedirected = errors.New("redirected")

// ClientIDMetadataDocumentConfig configures client registration via a
// client ID metadata document: the document URL itself serves as the
// client identifier, when the authorization server supports it.
type ClientIDMetadataDocumentConfig struct {
	// URL is the client identifier URL. It must be a non-root HTTPS URL.
	URL string
}

// PreregisteredClientConfig configures a client registered with the
// authorization server out of band.
type PreregisteredClientConfig struct {
	// ClientID and ClientSecret to be used for client authentication.
	ClientID     string
	ClientSecret string
	// AuthStyle is an optional client authentication method. The zero
	// value auto-detects.
	AuthStyle oauth2.AuthStyle
}

// DynamicClientRegistrationConfig configures dynamic client registration
// (RFC 7591).
type DynamicClientRegistrationConfig struct {
	// Metadata to send in the registration request.
	Metadata *oauthex.ClientRegistrationMetadata
	// OnRegistration, if set, is called with the registration response
	// after a successful registration, so the caller can persist the
	// issued credentials.
	OnRegistration func(ctx context.Context, resp *oauthex.ClientRegistrationResponse)
}

type resolvedClientConfig struct {
	clientID     string
	clientSecret string
	authStyle    oauth2.AuthStyle
}

// AuthorizationCodeOAuthHandler is an [OAuthHandler] that uses the
// authorization code flow with PKCE (S256) to obtain access tokens.
// The handler is stateful and conducts one authorization flow at a time.
type AuthorizationCodeOAuthHandler struct {
	// Client registration configuration, attempted in order:
	//
	//   1. client ID metadata document
	//   2. preregistration
	//   3. dynamic client registration
	//
	// At least one must be configured.
	ClientIDMetadataDocumentConfig  *ClientIDMetadataDocumentConfig
	PreregisteredClientConfig       *PreregisteredClientConfig
	DynamicClientRegistrationConfig *DynamicClientRegistrationConfig

	// RedirectURL is a required URL to redirect to after authorization.
	// The caller is responsible for handling the redirect out of band.
	RedirectURL string

	// AuthorizationURLHandler is a required function called with the
	// authorization URL; it should present the URL to the user (typically
	// by opening a browser) and return. Once the authorization server
	// redirects back to RedirectURL, the caller must call
	// [AuthorizationCodeOAuthHandler.FinalizeAuthorization] before the
	// request is retried.
	AuthorizationURLHandler func(ctx context.Context, authorizationURL string) error

	// AuthServerSelector, if set, chooses among the authorization servers
	// advertised by the protected resource. It must return one of the
	// given servers. If nil, the first advertised server is used.
	AuthServerSelector func(ctx context.Context, servers []string) (string, error)

	// Scopes to request when neither the challenge nor the resource
	// metadata names any.
	Scopes []string

	// AuthParams holds extra parameters for the authorization URL. They
	// cannot overwrite the parameters set by the flow itself.
	AuthParams map[string]string

	// TokenStore, if set, persists tokens after every successful token
	// fetch or refresh.
	TokenStore TokenStore

	// StateProvider is an optional function to generate the state string
	// for authorization requests. If nil, a random string is generated.
	// The state is validated in FinalizeAuthorization.
	StateProvider func() string

	// HTTPClient is used for metadata discovery, registration and token
	// exchange. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Logger, if set, receives flow progress at debug level.
	Logger *slog.Logger

	mu                   sync.Mutex
	resolvedClientConfig *resolvedClientConfig
	cfg                  *oauth2.Config // last config built, for refresh
	tokenSource          oauth2.TokenSource
	token                *oauth2.Token // last token fetched, for refresh
	codeVerifier         string
	authorizationCode    string
	state                string
}

var _ OAuthHandler = (*AuthorizationCodeOAuthHandler)(nil)

func (h *AuthorizationCodeOAuthHandler) isOAuthHandler() {}

func (h *AuthorizationCodeOAuthHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (h *AuthorizationCodeOAuthHandler) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

func (h *AuthorizationCodeOAuthHandler) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tokenSource == nil && h.TokenStore != nil {
		// Bootstrap from a persisted token, if any.
		token, err := h.TokenStore.Load(ctx)
		if err == nil && token != nil {
			h.token = token
			h.tokenSource = oauth2.StaticTokenSource(token)
		}
	}
	return h.tokenSource, nil
}

// Refresh attempts to exchange the cached refresh token for a new access
// token. It reports whether a refresh was actually attempted; without a
// cached refresh token there is nothing to do.
func (h *AuthorizationCodeOAuthHandler) Refresh(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfg == nil || h.token == nil || h.token.RefreshToken == "" {
		return false, nil
	}
	h.logger().DebugContext(ctx, "refreshing access token")
	token, err := h.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: h.token.RefreshToken}).Token()
	if err != nil {
		return true, challengeErrorf("token refresh failed: %w", err)
	}
	h.setToken(ctx, token)
	return true, nil
}

// setToken installs a freshly obtained token. h.mu must be held.
func (h *AuthorizationCodeOAuthHandler) setToken(ctx context.Context, token *oauth2.Token) {
	h.token = token
	ts := h.cfg.TokenSource(ctx, token)
	if h.TokenStore != nil {
		h.TokenStore.Save(ctx, token) // ignore error
		ts = NewPersistentTokenSource(ctx, ts, h.TokenStore)
	}
	h.tokenSource = oauth2.ReuseTokenSource(token, ts)
}

// Authorize performs the authorization flow. It is designed to be
// reentrant and called in two phases:
//  1. It initiates the authorization grant by calling
//     AuthorizationURLHandler, returning [ErrRedirected] on success.
//  2. After [AuthorizationCodeOAuthHandler.FinalizeAuthorization], it
//     exchanges the authorization code for an access token and returns
//     nil; from then on TokenSource returns a source with the token.
func (h *AuthorizationCodeOAuthHandler) Authorize(ctx context.Context, req *http.Request, resp *http.Response) error {
	defer resp.Body.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.validate(); err != nil {
		return challengeErrorf("%w", err)
	}

	resourceURL := req.URL.String()
	challenges, err := oauthex.ParseWWWAuthenticate(resp.Header[http.CanonicalHeaderKey("WWW-Authenticate")])
	if err != nil {
		return challengeErrorf("parsing WWW-Authenticate header: %w", err)
	}
	if !slices.ContainsFunc(challenges, func(c oauthex.Challenge) bool { return c.Scheme == "bearer" }) {
		return challengeErrorf("no Bearer challenge in WWW-Authenticate header")
	}

	var prm *oauthex.ProtectedResourceMetadata
	for _, u := range oauthex.ProtectedResourceMetadataURLs(oauthex.ResourceMetadataURL(challenges), resourceURL) {
		var err error
		prm, err = oauthex.GetProtectedResourceMetadata(ctx, u, h.httpClient())
		if err == nil {
			break
		}
		h.logger().DebugContext(ctx, "protected resource metadata fetch failed", "url", u.URL, "error", err)
	}
	asm, err := h.getAuthServerMetadata(ctx, prm, resourceURL)
	if err != nil {
		return err
	}

	if err := h.handleRegistration(ctx, asm); err != nil {
		return err
	}

	// A challenge scope is authoritative; fall back to the resource
	// metadata's scopes, then the handler's own.
	scopes := oauthex.Scopes(challenges)
	if len(scopes) == 0 && prm != nil {
		scopes = prm.ScopesSupported
	}
	if len(scopes) == 0 {
		scopes = h.Scopes
	}

	h.cfg = &oauth2.Config{
		ClientID:     h.resolvedClientConfig.clientID,
		ClientSecret: h.resolvedClientConfig.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   asm.AuthorizationEndpoint,
			TokenURL:  asm.TokenEndpoint,
			AuthStyle: h.resolvedClientConfig.authStyle,
		},
		RedirectURL: h.RedirectURL,
		Scopes:      scopes,
	}

	if h.authorizationCode != "" {
		return h.exchangeAuthorizationCode(ctx, resourceURL)
	}
	return h.startAuthFlow(ctx, resourceURL)
}

// FinalizeAuthorization records the authorization code delivered to the
// redirect URL, after validating the state parameter.
func (h *AuthorizationCodeOAuthHandler) FinalizeAuthorization(code, state string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		// State has been used for validation, clear it.
		h.state = ""
	}()
	if state != h.state {
		return challengeErrorf("state mismatch")
	}
	h.authorizationCode = code
	return nil
}

func (h *AuthorizationCodeOAuthHandler) validate() error {
	if h.ClientIDMetadataDocumentConfig == nil &&
		h.PreregisteredClientConfig == nil &&
		h.DynamicClientRegistrationConfig == nil {
		return errors.New("at least one client registration configuration must be provided")
	}
	if h.RedirectURL == "" {
		return errors.New("field RedirectURL is required")
	}
	if h.AuthorizationURLHandler == nil {
		return errors.New("field AuthorizationURLHandler is required")
	}
	if h.ClientIDMetadataDocumentConfig != nil && !isNonRootHTTPSURL(h.ClientIDMetadataDocumentConfig.URL) {
		return errors.New("client ID metadata document URL must be a non-root HTTPS URL")
	}
	if h.PreregisteredClientConfig != nil && h.PreregisteredClientConfig.ClientID == "" {
		return errors.New("pre-registered client ID is empty")
	}
	if h.DynamicClientRegistrationConfig != nil {
		if h.DynamicClientRegistrationConfig.Metadata == nil {
			return errors.New("field Metadata is required for dynamic client registration")
		}
		if !slices.Contains(h.DynamicClientRegistrationConfig.Metadata.RedirectURIs, h.RedirectURL) {
			return errors.New("redirect URL is not among the registration metadata's redirect URIs")
		}
	}
	if h.resolvedClientConfig == nil && h.authorizationCode != "" {
		return errors.New("exchanging authorization code with unregistered client is not allowed")
	}
	return nil
}

func isNonRootHTTPSURL(u string) bool {
	pu, err := url.Parse(u)
	if err != nil {
		return false
	}
	return pu.Scheme == "https" && len(pu.Path) > 1
}

// getAuthServerMetadata selects an authorization server and fetches its
// metadata. Without resource metadata, the resource's own origin acts as
// the authorization server, with the conventional endpoints as fallback.
func (h *AuthorizationCodeOAuthHandler) getAuthServerMetadata(ctx context.Context, prm *oauthex.ProtectedResourceMetadata, resourceURL string) (*oauthex.AuthServerMeta, error) {
	var authServerURL string
	if prm != nil {
		if len(prm.AuthorizationServers) == 0 {
			return nil, challengeErrorf("resource metadata names no authorization servers")
		}
		authServerURL = prm.AuthorizationServers[0]
		if h.AuthServerSelector != nil {
			selected, err := h.AuthServerSelector(ctx, prm.AuthorizationServers)
			if err != nil {
				return nil, challengeErrorf("selecting authorization server: %w", err)
			}
			if !slices.Contains(prm.AuthorizationServers, selected) {
				return nil, challengeErrorf("selected authorization server %q is not advertised by the resource", selected)
			}
			authServerURL = selected
		}
	} else {
		authURL, err := url.Parse(resourceURL)
		if err != nil {
			return nil, challengeErrorf("parsing resource URL: %w", err)
		}
		authURL.Path = ""
		authServerURL = authURL.String()
	}
	h.logger().DebugContext(ctx, "fetching authorization server metadata", "issuer", authServerURL)

	asm, err := oauthex.GetAuthServerMeta(ctx, authServerURL, h.httpClient())
	if err != nil {
		if prm != nil {
			return nil, challengeErrorf("fetching authorization server metadata: %w", err)
		}
		// No discovery: fall back to the conventional endpoints.
		asm = &oauthex.AuthServerMeta{
			Issuer:                authServerURL,
			AuthorizationEndpoint: authServerURL + "/authorize",
			TokenEndpoint:         authServerURL + "/token",
			RegistrationEndpoint:  authServerURL + "/register",
		}
	}
	return asm, nil
}

// handleRegistration resolves the client credentials to use, trying the
// configured registration methods in order.
func (h *AuthorizationCodeOAuthHandler) handleRegistration(ctx context.Context, asm *oauthex.AuthServerMeta) error {
	if h.resolvedClientConfig != nil {
		return nil
	}
	if cfg := h.ClientIDMetadataDocumentConfig; cfg != nil && asm.ClientIDMetadataDocumentSupported {
		h.resolvedClientConfig = &resolvedClientConfig{clientID: cfg.URL}
		return nil
	}
	if cfg := h.PreregisteredClientConfig; cfg != nil {
		h.resolvedClientConfig = &resolvedClientConfig{
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			authStyle:    cfg.AuthStyle,
		}
		return nil
	}
	if cfg := h.DynamicClientRegistrationConfig; cfg != nil && asm.RegistrationEndpoint != "" {
		reg, err := oauthex.RegisterClient(ctx, asm.RegistrationEndpoint, cfg.Metadata, h.httpClient())
		if err != nil {
			return challengeErrorf("dynamic client registration failed: %w", err)
		}
		h.resolvedClientConfig = &resolvedClientConfig{
			clientID:     reg.ClientID,
			clientSecret: reg.ClientSecret,
		}
		switch reg.TokenEndpointAuthMethod {
		case "client_secret_post":
			h.resolvedClientConfig.authStyle = oauth2.AuthStyleInParams
		case "client_secret_basic":
			h.resolvedClientConfig.authStyle = oauth2.AuthStyleInHeader
		case "none":
			h.resolvedClientConfig.authStyle = oauth2.AuthStyleInParams
			h.resolvedClientConfig.clientSecret = ""
		}
		h.logger().DebugContext(ctx, "client registered", "client_id", reg.ClientID)
		if cfg.OnRegistration != nil {
			cfg.OnRegistration(ctx, reg)
		}
		return nil
	}
	return challengeErrorf("no configured client registration method is supported by the authorization server")
}

// exchangeAuthorizationCode exchanges the authorization code for a token.
func (h *AuthorizationCodeOAuthHandler) exchangeAuthorizationCode(ctx context.Context, resourceURL string) error {
	defer func() {
		// Authorization code has been consumed, clear it.
		h.authorizationCode = ""
	}()
	token, err := h.cfg.Exchange(ctx, h.authorizationCode,
		oauth2.VerifierOption(h.codeVerifier),
		oauth2.SetAuthURLParam("resource", resourceURL),
	)
	if err != nil {
		return challengeErrorf("token exchange failed: %w", err)
	}
	if !strings.EqualFold(token.TokenType, "Bearer") {
		return challengeErrorf("token endpoint returned token type %q, want Bearer", token.TokenType)
	}
	h.setToken(ctx, token)
	return nil
}

// startAuthFlow builds the authorization URL and hands it to the caller.
func (h *AuthorizationCodeOAuthHandler) startAuthFlow(ctx context.Context, resourceURL string) error {
	h.codeVerifier = oauth2.GenerateVerifier()
	h.state = rand.Text()
	if h.StateProvider != nil {
		h.state = h.StateProvider()
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(h.codeVerifier),
		oauth2.SetAuthURLParam("resource", resourceURL),
	}
	// Extra parameters cannot overwrite those set by the flow.
	for k, v := range h.AuthParams {
		switch k {
		case "client_id", "redirect_uri", "response_type", "state",
			"code_challenge", "code_challenge_method", "resource", "scope":
			return challengeErrorf("extra auth parameter %q conflicts with a flow parameter", k)
		}
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	authURL := h.cfg.AuthCodeURL(h.state, opts...)

	if err := h.AuthorizationURLHandler(ctx, authURL); err != nil {
		return challengeErrorf("authorization URL handler failed: %w", err)
	}
	return ErrRedirected
}
