package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sociallink/internal/storage"
)

func TestTwitterAuthorizationURL(t *testing.T) {
	tw := NewTwitter(testCreds(), nil)

	raw := tw.AuthorizationURL("state-xyz", "https://app.example.com/cb", "challenge-value")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-xyz", q.Get("state"))
	assert.Equal(t, "challenge-value", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "true", q.Get("force_login"))
	assert.Contains(t, q.Get("scope"), "offline.access")
	assert.NotEmpty(t, q.Get("_t"))
}

func TestTwitterExchangeCode(t *testing.T) {
	var gotForm url.Values
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotUser, gotPass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "at-tw",
			"refresh_token": "rt-tw",
			"token_type": "bearer",
			"expires_in": 7200
		}`))
	}))
	defer srv.Close()

	tw := NewTwitter(testCreds(), srv.Client())
	tw.SetEndpoints(srv.URL+"/auth", srv.URL, srv.URL+"/revoke", srv.URL)

	grant, err := tw.ExchangeCode(context.Background(), "the-code", "https://app.example.com/cb", "the-verifier")
	require.NoError(t, err)

	assert.Equal(t, "client-id", gotUser)
	assert.Equal(t, "client-secret", gotPass)
	assert.Equal(t, "the-code", gotForm.Get("code"))
	assert.Equal(t, "the-verifier", gotForm.Get("code_verifier"))

	assert.Equal(t, "at-tw", grant.AccessToken)
	assert.Equal(t, "rt-tw", grant.RefreshToken)
	assert.InDelta(t, 7200, grant.ExpiresIn, 5)
}

func TestTwitterFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-tw", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.RawQuery, "user.fields=")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"id": "99", "username": "jdoe", "name": "J Doe"}}`))
	}))
	defer srv.Close()

	tw := NewTwitter(testCreds(), srv.Client())
	tw.SetEndpoints(srv.URL+"/auth", srv.URL+"/token", srv.URL+"/revoke", srv.URL)

	payload, err := tw.FetchProfile(context.Background(), "at-tw")
	require.NoError(t, err)
	data, ok := payload["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "99", data["id"])
}

func TestTwitterNormalizeProfile(t *testing.T) {
	tw := NewTwitter(testCreds(), nil)

	profile, err := tw.NormalizeProfile(map[string]interface{}{
		"data": map[string]interface{}{
			"id":                "99",
			"username":          "jdoe",
			"name":              "J Doe",
			"description":       "builder of things",
			"profile_image_url": "https://pbs.example.com/jdoe.jpg",
			"verified":          true,
			"public_metrics": map[string]interface{}{
				"followers_count": float64(120),
				"following_count": float64(80),
				"tweet_count":     float64(456),
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "99", profile.ID)
	assert.Equal(t, "jdoe", profile.Username)
	assert.Equal(t, "https://twitter.com/jdoe", profile.ProfileURL)
	assert.Equal(t, "https://pbs.example.com/jdoe.jpg", profile.AvatarURL)
	assert.Equal(t, 120, profile.Extra["followers_count"])
	assert.Equal(t, true, profile.Extra["verified"])
	assert.Empty(t, profile.Email)
}

func TestTwitterNormalizeProfileMissingData(t *testing.T) {
	tw := NewTwitter(testCreds(), nil)

	profile, err := tw.NormalizeProfile(map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, profile.ID)
	assert.Empty(t, profile.ProfileURL)
}

func TestTwitterRefresh(t *testing.T) {
	rotate := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)

		w.Header().Set("Content-Type", "application/json")
		if rotate {
			w.Write([]byte(`{"access_token": "at-new", "refresh_token": "rt-new", "token_type": "bearer", "expires_in": 7200}`))
		} else {
			w.Write([]byte(`{"access_token": "at-new", "token_type": "bearer", "expires_in": 7200}`))
		}
	}))
	defer srv.Close()

	tw := NewTwitter(testCreds(), srv.Client())
	tw.SetEndpoints(srv.URL+"/auth", srv.URL, srv.URL+"/revoke", srv.URL)

	grant, err := tw.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", grant.AccessToken)
	assert.Equal(t, "rt-new", grant.RefreshToken)

	// When the platform does not rotate, the previous refresh token is kept.
	rotate = false
	grant, err = tw.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "rt-old", grant.RefreshToken)
}

func TestTwitterRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid_request"}`))
	}))
	defer srv.Close()

	tw := NewTwitter(testCreds(), srv.Client())
	tw.SetEndpoints(srv.URL+"/auth", srv.URL, srv.URL+"/revoke", srv.URL)

	_, err := tw.Refresh(context.Background(), "rt-dead")
	var exchangeErr *TokenExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, http.StatusUnauthorized, exchangeErr.StatusCode)
}

func TestTwitterRevoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "at-tw", r.PostForm.Get("token"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-id", user)
	}))
	defer srv.Close()

	tw := NewTwitter(testCreds(), srv.Client())
	tw.SetEndpoints(srv.URL+"/auth", srv.URL+"/token", srv.URL, srv.URL)

	assert.True(t, tw.Revoke(context.Background(), "at-tw"))
}

func TestTwitterMetadata(t *testing.T) {
	tw := NewTwitter(testCreds(), nil)

	assert.Equal(t, storage.PlatformTwitter, tw.Name())
	assert.True(t, tw.UsesPKCE())
	assert.Equal(t, "x-rate-limit-remaining", tw.RateLimit().Remaining)
	assert.Equal(t, "x-rate-limit-reset", tw.RateLimit().Reset)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewLinkedIn(testCreds(), nil), NewTwitter(testCreds(), nil))

	a, err := reg.Adapter(storage.PlatformLinkedIn)
	require.NoError(t, err)
	assert.Equal(t, storage.PlatformLinkedIn, a.Name())

	_, err = reg.Adapter(storage.PlatformFacebook)
	assert.Error(t, err)
}
