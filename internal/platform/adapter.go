package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"sociallink/internal/storage"
)

var (
	// ErrRefreshNotSupported marks platforms with no refresh strategy. The
	// request client treats it as a refresh failure, never as a crash.
	ErrRefreshNotSupported = errors.New("token refresh not supported")
)

// TokenExchangeError is a non-2xx response from a platform token endpoint.
type TokenExchangeError struct {
	StatusCode int
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d", e.StatusCode)
}

// ProfileFetchError is a non-2xx response from a platform profile endpoint.
type ProfileFetchError struct {
	StatusCode int
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("profile fetch failed with status %d", e.StatusCode)
}

// RateLimitHeaders names the response headers a platform uses to report
// rate-limit metadata. Empty names mean the platform reports none.
type RateLimitHeaders struct {
	Remaining string
	// Reset holds a Unix timestamp when set.
	Reset string
}

// Adapter is the per-platform knowledge needed to drive an OAuth flow and
// authenticated API calls. One implementation exists per supported platform;
// call sites never branch on the platform name.
type Adapter interface {
	Name() storage.Platform

	// UsesPKCE reports whether the authorization flow carries a PKCE
	// challenge/verifier pair.
	UsesPKCE() bool

	// AuthorizationURL builds the browser redirect target. Every variant
	// forces a fresh consent prompt and appends a cache-busting timestamp.
	// codeChallenge is ignored by platforms that do not use PKCE.
	AuthorizationURL(state, redirectURI, codeChallenge string) string

	// ExchangeCode trades an authorization code for tokens. codeVerifier is
	// ignored by platforms that do not use PKCE.
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*storage.TokenGrant, error)

	// FetchProfile loads the platform-native profile payload.
	FetchProfile(ctx context.Context, accessToken string) (map[string]interface{}, error)

	// NormalizeProfile maps the platform payload onto the common shape.
	NormalizeProfile(payload map[string]interface{}) (*storage.ProfileData, error)

	// Refresh trades a refresh token for a new grant, or returns
	// ErrRefreshNotSupported.
	Refresh(ctx context.Context, refreshToken string) (*storage.TokenGrant, error)

	// Revoke invalidates an access token remotely. Best-effort: any failure
	// is reported as false, never as an error.
	Revoke(ctx context.Context, accessToken string) bool

	// Authorize attaches auth materials for an API call to the request.
	Authorize(req *http.Request, accessToken string)

	// APIBaseURL is the root for authenticated API calls.
	APIBaseURL() string

	// RateLimit names the rate-limit response headers.
	RateLimit() RateLimitHeaders
}

// Registry holds the closed set of configured adapters.
type Registry struct {
	adapters map[storage.Platform]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[storage.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Adapter returns the adapter for a platform.
func (r *Registry) Adapter(p storage.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for platform %q", p)
	}
	return a, nil
}

// stringField pulls a string out of a decoded JSON payload.
func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// intField pulls a numeric JSON field as an int.
func intField(payload map[string]interface{}, key string) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return 0
}
