// Package google encapsulates outbound calls to Google's OAuth2 endpoints:
// authorization URL construction, code and refresh exchanges, access token
// introspection, and the delegated identity lookup.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"

	"github.com/zierocode/FormDee-sub002/internal/config"
	"github.com/zierocode/FormDee-sub002/internal/domain"
)

const (
	userInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	tokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
)

// Scopes requested for every delegation: identity plus the Sheets scope the
// form integrations need. Offline access and forced consent are applied at
// URL build time so Google always returns a refresh token.
var scopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/spreadsheets",
}

// Client is the outbound Google collaborator consumed by the OAuth service.
type Client interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (domain.GoogleTokens, error)
	FetchIdentity(ctx context.Context, tokens domain.GoogleTokens) (domain.GoogleIdentity, error)
	IsLive(ctx context.Context, accessToken string) bool
	Refresh(ctx context.Context, refreshToken string) (domain.GoogleTokens, error)
}

// HTTPClient is the production implementation over Google's public endpoints.
type HTTPClient struct {
	oauth      oauth2.Config
	configured bool
	httpClient *http.Client
	timeout    time.Duration

	// Endpoint URLs are fields so tests can point them at a local server.
	userInfoEndpoint  string
	tokenInfoEndpoint string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the Google client from startup configuration.
func NewHTTPClient(cfg config.Config, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.ProviderTimeout}
	}
	return &HTTPClient{
		oauth: oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     oauthgoogle.Endpoint,
			Scopes:       scopes,
		},
		configured:        cfg.GoogleConfigured(),
		httpClient:        client,
		timeout:           cfg.ProviderTimeout,
		userInfoEndpoint:  userInfoURL,
		tokenInfoEndpoint: tokenInfoURL,
	}
}

// AuthCodeURL builds the authorization URL carrying the opaque state value.
// access_type=offline plus prompt=consent force Google to issue a refresh
// token even for a previously-authorized account; without it a later refresh
// would silently fail.
func (c *HTTPClient) AuthCodeURL(state string) (string, error) {
	if !c.configured {
		return "", domain.ErrNotConfigured
	}
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange redeems an authorization code for tokens.
func (c *HTTPClient) Exchange(ctx context.Context, code string) (domain.GoogleTokens, error) {
	if !c.configured {
		return domain.GoogleTokens{}, domain.ErrNotConfigured
	}
	ctx, cancel := c.providerContext(ctx)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.GoogleTokens{}, fmt.Errorf("%w: %v", domain.ErrExchangeFailed, err)
	}
	out := domain.GoogleTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = id
	}
	return out, nil
}

// FetchIdentity resolves the delegated account profile. The userinfo
// endpoint is authoritative; the id_token claims fill any gaps since the
// token came straight from Google's token endpoint over TLS.
func (c *HTTPClient) FetchIdentity(ctx context.Context, tokens domain.GoogleTokens) (domain.GoogleIdentity, error) {
	ctx, cancel := c.providerContext(ctx)
	defer cancel()

	identity, err := c.fetchUserInfo(ctx, tokens.AccessToken)
	if err != nil || identity.Email == "" {
		if fromToken, ok := identityFromIDToken(tokens.IDToken); ok {
			merged := mergeIdentity(identity, fromToken)
			if merged.Email != "" {
				return merged, nil
			}
		}
		if err != nil {
			return domain.GoogleIdentity{}, err
		}
		return domain.GoogleIdentity{}, fmt.Errorf("userinfo returned no email")
	}
	return identity, nil
}

func (c *HTTPClient) fetchUserInfo(ctx context.Context, accessToken string) (domain.GoogleIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoEndpoint, http.NoBody)
	if err != nil {
		return domain.GoogleIdentity{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GoogleIdentity{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.GoogleIdentity{}, fmt.Errorf("read userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.GoogleIdentity{}, fmt.Errorf("userinfo failed: status=%d", resp.StatusCode)
	}

	var identity domain.GoogleIdentity
	if err := json.Unmarshal(body, &identity); err != nil {
		return domain.GoogleIdentity{}, fmt.Errorf("decode userinfo: %w", err)
	}
	return identity, nil
}

// IsLive checks the access token against Google's tokeninfo endpoint. Any
// failure, including timeouts and transport errors, reports not-live.
func (c *HTTPClient) IsLive(ctx context.Context, accessToken string) bool {
	ctx, cancel := c.providerContext(ctx)
	defer cancel()

	endpoint := c.tokenInfoEndpoint + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode == http.StatusOK
}

// Refresh exchanges a refresh token for a fresh access token. A provider
// rejection (revoked or expired grant) surfaces as ErrReauthRequired so
// callers can prompt the end user instead of retrying.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (domain.GoogleTokens, error) {
	if !c.configured {
		return domain.GoogleTokens{}, domain.ErrNotConfigured
	}
	ctx, cancel := c.providerContext(ctx)
	defer cancel()

	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && isGrantRevoked(retrieveErr) {
			return domain.GoogleTokens{}, fmt.Errorf("%w: %s", domain.ErrReauthRequired, retrieveErr.ErrorCode)
		}
		return domain.GoogleTokens{}, fmt.Errorf("refresh exchange: %w", err)
	}
	return domain.GoogleTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

func (c *HTTPClient) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.timeout)
}

func isGrantRevoked(err *oauth2.RetrieveError) bool {
	switch err.ErrorCode {
	case "invalid_grant", "unauthorized_client":
		return true
	}
	return err.Response != nil && err.Response.StatusCode == http.StatusBadRequest &&
		strings.Contains(string(err.Body), "invalid_grant")
}

// identityFromIDToken decodes profile claims from the id_token without
// signature verification; acceptable only because the token was received
// directly from Google's token endpoint, never from the client.
func identityFromIDToken(idToken string) (domain.GoogleIdentity, bool) {
	if idToken == "" {
		return domain.GoogleIdentity{}, false
	}
	parsed, err := jwt.ParseSigned(idToken, []jose.SignatureAlgorithm{jose.RS256, jose.ES256})
	if err != nil {
		return domain.GoogleIdentity{}, false
	}
	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return domain.GoogleIdentity{}, false
	}
	return domain.GoogleIdentity{Email: claims.Email, Name: claims.Name, Picture: claims.Picture}, claims.Email != ""
}

func mergeIdentity(primary, fallback domain.GoogleIdentity) domain.GoogleIdentity {
	if primary.Email == "" {
		primary.Email = fallback.Email
	}
	if primary.Name == "" {
		primary.Name = fallback.Name
	}
	if primary.Picture == "" {
		primary.Picture = fallback.Picture
	}
	return primary
}
