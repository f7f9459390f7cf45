package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"sociallink/internal/config"
	"sociallink/internal/storage"
)

const (
	linkedinAuthURL    = "https://www.linkedin.com/oauth/v2/authorization"
	linkedinTokenURL   = "https://www.linkedin.com/oauth/v2/accessToken"
	linkedinRevokeURL  = "https://www.linkedin.com/oauth/v2/revoke"
	linkedinProfileURL = "https://api.linkedin.com/v2/userinfo"
	linkedinAPIBase    = "https://api.linkedin.com/v2"
)

// LinkedIn implements the Adapter for LinkedIn's OpenID Connect flow.
// LinkedIn issues no refresh tokens on this product tier, so Refresh always
// reports ErrRefreshNotSupported.
type LinkedIn struct {
	oauth      *oauth2.Config
	httpClient *http.Client

	profileURL string
	revokeURL  string
	apiBase    string
}

// NewLinkedIn creates the LinkedIn adapter from client credentials.
func NewLinkedIn(creds config.PlatformCredentials, httpClient *http.Client) *LinkedIn {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LinkedIn{
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  linkedinAuthURL,
				TokenURL: linkedinTokenURL,
			},
		},
		httpClient: httpClient,
		profileURL: linkedinProfileURL,
		revokeURL:  linkedinRevokeURL,
		apiBase:    linkedinAPIBase,
	}
}

// SetEndpoints points the adapter at alternative endpoints. Test hook.
func (l *LinkedIn) SetEndpoints(authURL, tokenURL, profileURL, revokeURL, apiBase string) {
	l.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	l.profileURL = profileURL
	l.revokeURL = revokeURL
	l.apiBase = apiBase
}

func (l *LinkedIn) Name() storage.Platform { return storage.PlatformLinkedIn }

func (l *LinkedIn) UsesPKCE() bool { return false }

func (l *LinkedIn) APIBaseURL() string { return l.apiBase }

// RateLimit: LinkedIn reports no remaining-count header.
func (l *LinkedIn) RateLimit() RateLimitHeaders { return RateLimitHeaders{} }

func (l *LinkedIn) AuthorizationURL(state, redirectURI, _ string) string {
	cfg := *l.oauth
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("approval_prompt", "force"),
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("_t", strconv.FormatInt(time.Now().Unix(), 10)),
	)
}

func (l *LinkedIn) ExchangeCode(ctx context.Context, code, redirectURI, _ string) (*storage.TokenGrant, error) {
	cfg := *l.oauth
	cfg.RedirectURL = redirectURI

	ctx = context.WithValue(ctx, oauth2.HTTPClient, l.httpClient)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, exchangeError(err)
	}
	return grantFromToken(token), nil
}

func (l *LinkedIn) FetchProfile(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	return fetchJSON(ctx, l.httpClient, l.profileURL, accessToken)
}

// NormalizeProfile maps the OpenID userinfo payload onto the common shape.
// The username is derived from the email local part, matching how the
// account was displayed before platforms dropped vanity-name access.
func (l *LinkedIn) NormalizeProfile(payload map[string]interface{}) (*storage.ProfileData, error) {
	email := stringField(payload, "email")
	username := email
	if at := strings.Index(email, "@"); at > 0 {
		username = email[:at]
	}
	return &storage.ProfileData{
		ID:         stringField(payload, "sub"),
		Username:   username,
		Name:       stringField(payload, "name"),
		Email:      email,
		ProfileURL: stringField(payload, "profile"),
		AvatarURL:  stringField(payload, "picture"),
		Extra: map[string]interface{}{
			"given_name":  stringField(payload, "given_name"),
			"family_name": stringField(payload, "family_name"),
			"locale":      payload["locale"],
		},
	}, nil
}

func (l *LinkedIn) Refresh(ctx context.Context, refreshToken string) (*storage.TokenGrant, error) {
	return nil, ErrRefreshNotSupported
}

func (l *LinkedIn) Revoke(ctx context.Context, accessToken string) bool {
	form := url.Values{
		"token":         {accessToken},
		"client_id":     {l.oauth.ClientID},
		"client_secret": {l.oauth.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (l *LinkedIn) Authorize(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

// exchangeError maps an oauth2 retrieve error onto the typed failure carrying
// the platform's status code.
func exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &TokenExchangeError{StatusCode: re.Response.StatusCode}
	}
	return fmt.Errorf("token exchange transport failure: %w", err)
}

// grantFromToken converts an oauth2 token into the stored grant shape.
func grantFromToken(token *oauth2.Token) *storage.TokenGrant {
	grant := &storage.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		if secs := int64(time.Until(token.Expiry).Seconds()); secs > 0 {
			grant.ExpiresIn = secs
		}
	}
	if scope, ok := token.Extra("scope").(string); ok {
		grant.Scope = scope
	}
	return grant
}

// fetchJSON performs a bearer-authenticated GET and decodes a JSON object.
func fetchJSON(ctx context.Context, client *http.Client, rawURL, accessToken string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile fetch transport failure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProfileFetchError{StatusCode: resp.StatusCode}
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode profile payload: %w", err)
	}
	return payload, nil
}
