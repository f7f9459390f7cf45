package platform

import (
	"context"
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
	twitterAuthURL    = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL   = "https://api.twitter.com/2/oauth2/token"
	twitterRevokeURL  = "https://api.twitter.com/2/oauth2/revoke"
	twitterAPIBase    = "https://api.twitter.com/2"
	twitterUserFields = "description,location,profile_image_url,public_metrics,verified,created_at"
)

// Twitter implements the Adapter for the Twitter/X v2 OAuth flow. The flow
// requires PKCE and authenticates the token endpoint with HTTP basic auth.
type Twitter struct {
	oauth      *oauth2.Config
	httpClient *http.Client

	revokeURL string
	apiBase   string
}

// NewTwitter creates the Twitter adapter from client credentials.
func NewTwitter(creds config.PlatformCredentials, httpClient *http.Client) *Twitter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Twitter{
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Scopes:       []string{"tweet.read", "users.read", "follows.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   twitterAuthURL,
				TokenURL:  twitterTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
		revokeURL:  twitterRevokeURL,
		apiBase:    twitterAPIBase,
	}
}

// SetEndpoints points the adapter at alternative endpoints. Test hook.
func (t *Twitter) SetEndpoints(authURL, tokenURL, revokeURL, apiBase string) {
	t.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:   authURL,
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	t.revokeURL = revokeURL
	t.apiBase = apiBase
}

func (t *Twitter) Name() storage.Platform { return storage.PlatformTwitter }

func (t *Twitter) UsesPKCE() bool { return true }

func (t *Twitter) APIBaseURL() string { return t.apiBase }

func (t *Twitter) RateLimit() RateLimitHeaders {
	return RateLimitHeaders{
		Remaining: "x-rate-limit-remaining",
		Reset:     "x-rate-limit-reset",
	}
}

func (t *Twitter) AuthorizationURL(state, redirectURI, codeChallenge string) string {
	cfg := *t.oauth
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("force_login", "true"),
		oauth2.SetAuthURLParam("_t", strconv.FormatInt(time.Now().Unix(), 10)),
	)
}

func (t *Twitter) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*storage.TokenGrant, error) {
	cfg := *t.oauth
	cfg.RedirectURL = redirectURI

	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.httpClient)
	token, err := cfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, exchangeError(err)
	}
	return grantFromToken(token), nil
}

func (t *Twitter) FetchProfile(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	return fetchJSON(ctx, t.httpClient,
		t.apiBase+"/users/me?user.fields="+url.QueryEscape(twitterUserFields), accessToken)
}

// NormalizeProfile unwraps the v2 "data" envelope and maps it onto the
// common shape. Twitter exposes no email on this endpoint.
func (t *Twitter) NormalizeProfile(payload map[string]interface{}) (*storage.ProfileData, error) {
	data, _ := payload["data"].(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}
	username := stringField(data, "username")
	var profileURL string
	if username != "" {
		profileURL = "https://twitter.com/" + username
	}

	extra := map[string]interface{}{
		"description": stringField(data, "description"),
		"location":    stringField(data, "location"),
		"verified":    data["verified"],
		"created_at":  stringField(data, "created_at"),
	}
	if metrics, ok := data["public_metrics"].(map[string]interface{}); ok {
		extra["followers_count"] = intField(metrics, "followers_count")
		extra["following_count"] = intField(metrics, "following_count")
		extra["tweet_count"] = intField(metrics, "tweet_count")
	}

	return &storage.ProfileData{
		ID:         stringField(data, "id"),
		Username:   username,
		Name:       stringField(data, "name"),
		ProfileURL: profileURL,
		AvatarURL:  stringField(data, "profile_image_url"),
		Extra:      extra,
	}, nil
}

// Refresh exchanges a refresh token for a new grant. Twitter rotates refresh
// tokens; when the response omits one the caller keeps the previous token.
func (t *Twitter) Refresh(ctx context.Context, refreshToken string) (*storage.TokenGrant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.httpClient)
	source := t.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, exchangeError(err)
	}
	grant := grantFromToken(token)
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

func (t *Twitter) Revoke(ctx context.Context, accessToken string) bool {
	form := url.Values{
		"token":           {accessToken},
		"token_type_hint": {"access_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.oauth.ClientID, t.oauth.ClientSecret)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (t *Twitter) Authorize(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}
