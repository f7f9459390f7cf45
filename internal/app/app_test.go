package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sociallink/internal/config"
	"sociallink/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		LogLevel:           "info",
		DBPath:             filepath.Join(t.TempDir(), "app_test.db"),
		TokenEncryptionKey: "0123456789abcdef0123456789abcdef",
		Workers:            1,
	}
	cfg.OutboundTimeout = config.Duration{Duration: 5 * time.Second}
	cfg.Sweeper.Interval = config.Duration{Duration: time.Minute}
	cfg.Sweeper.RefreshLookahead = config.Duration{Duration: 10 * time.Minute}
	cfg.LinkedIn = config.PlatformCredentials{
		ClientID:     "li-client",
		ClientSecret: "li-secret",
		RedirectURI:  "https://app.example.com/connect/linkedin/callback",
	}
	cfg.Twitter = config.PlatformCredentials{
		ClientID:     "tw-client",
		ClientSecret: "tw-secret",
		RedirectURI:  "https://app.example.com/connect/twitter/callback",
	}
	return cfg
}

func newTestApp(t *testing.T) (*Application, *httptest.Server) {
	t.Helper()

	app, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.DB.Close() })

	srv := httptest.NewServer(app.routes())
	t.Cleanup(srv.Close)
	return app, srv
}

// noRedirectClient returns redirects to the caller instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func login(t *testing.T, srv *httptest.Server, userID string) *http.Cookie {
	t.Helper()

	resp, err := http.Post(srv.URL+"/login", "application/x-www-form-urlencoded",
		strings.NewReader(url.Values{"user_id": {userID}}.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie issued")
	return nil
}

func authedGet(t *testing.T, srv *httptest.Server, cookie *http.Cookie, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginIssuesSession(t *testing.T) {
	_, srv := newTestApp(t)

	cookie := login(t, srv, "user-1")
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
}

func TestLoginRequiresUserID(t *testing.T) {
	_, srv := newTestApp(t)

	resp, err := http.Post(srv.URL+"/login", "application/x-www-form-urlencoded", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	_, srv := newTestApp(t)

	resp, err := http.Get(srv.URL + "/accounts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInvalidSessionCookieRejected(t *testing.T) {
	_, srv := newTestApp(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/accounts", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "bogus"})

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListAccountsEmpty(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	resp := authedGet(t, srv, cookie, "/accounts")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestListAccountsCarriesRateLimit(t *testing.T) {
	app, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	account, err := app.Store.UpsertAccount(t.Context(), "user-1", storage.PlatformTwitter,
		&storage.ProfileData{ID: "tw-1", Username: "alice"},
		&storage.TokenGrant{AccessToken: "at-1", ExpiresIn: 3600})
	require.NoError(t, err)

	remaining := 42
	reset := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, app.Store.InsertCallLog(t.Context(), &storage.CallLogEntry{
		UserID:             "user-1",
		AccountID:          account.ID,
		Endpoint:           "/2/users/me",
		Method:             "GET",
		StatusCode:         200,
		RateLimitRemaining: &remaining,
		RateLimitReset:     &reset,
	}))

	resp := authedGet(t, srv, cookie, "/accounts")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Accounts []struct {
			Platform  string `json:"platform"`
			RateLimit *struct {
				Remaining int       `json:"remaining"`
				Reset     time.Time `json:"reset"`
			} `json:"rate_limit"`
		} `json:"accounts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Accounts, 1)
	require.NotNil(t, body.Accounts[0].RateLimit)
	assert.Equal(t, 42, body.Accounts[0].RateLimit.Remaining)
	assert.Equal(t, reset, body.Accounts[0].RateLimit.Reset.UTC())
}

func TestConnectRedirectsToPlatform(t *testing.T) {
	app, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	resp := authedGet(t, srv, cookie, "/connect/linkedin")
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "www.linkedin.com", location.Host)
	assert.NotEmpty(t, location.Query().Get("state"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	// A pending OAuth session now exists for the state.
	sess, err := app.Store.SessionByState(t.Context(), location.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.UserID)
}

func TestConnectUnknownPlatform(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	resp := authedGet(t, srv, cookie, "/connect/myspace")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallbackDenied(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	resp := authedGet(t, srv, cookie, "/connect/linkedin/callback?error=user_cancelled_authorize")
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "connected=denied")
}

func TestCallbackForgedState(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	resp := authedGet(t, srv, cookie, "/connect/linkedin/callback?state=forged&code=abc")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisconnectNothingLinked(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/connect/twitter/disconnect", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDisconnectIsPostOnly(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	resp := authedGet(t, srv, cookie, "/connect/twitter/disconnect")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestLogoutClearsSession(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/logout", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	after := authedGet(t, srv, cookie, "/accounts")
	defer after.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, after.StatusCode)
}

func TestStopWaitsForSweeper(t *testing.T) {
	cfg := testConfig(t)
	// Sweep continuously so shutdown overlaps an in-flight pass.
	cfg.Sweeper.Interval = config.Duration{Duration: time.Millisecond}

	app, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, app.Stop(context.Background()))
}

func TestAPIProxyNotConnected(t *testing.T) {
	_, srv := newTestApp(t)
	cookie := login(t, srv, "user-1")

	resp := authedGet(t, srv, cookie, "/api/twitter/users/me")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
