package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sociallink/internal/apiclient"
	"sociallink/internal/auth"
	"sociallink/internal/config"
	"sociallink/internal/platform"
	"sociallink/internal/storage"
)

const sessionCookie = "session_id"

// handleLogin starts a web session. User identity comes from the fronting
// proxy or form in this deployment; there is no password check here.
func (a *Application) handleLogin(w http.ResponseWriter, r *http.Request) {
	userID := r.FormValue("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	sessionID, err := a.Sessions.Create(r.Context(), userID, loginTTL)
	if err != nil {
		a.Logger.Error("failed to create login session", zap.Error(err))
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Expires:  time.Now().Add(loginTTL),
		HttpOnly: true,
		Path:     "/",
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *Application) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		_ = a.Sessions.Delete(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleConnect kicks off the OAuth flow and sends the user to the platform.
// The redirect must never be cached: a cached response would replay a stale
// state parameter.
func (a *Application) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r)
	p := storage.Platform(r.PathValue("platform"))

	creds, ok := a.credentialsFor(p)
	if !ok {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}

	intent, err := a.Auth.BeginLogin(r.Context(), userID, p, creds.RedirectURI)
	if err != nil {
		a.Logger.Error("failed to begin login",
			zap.String("platform", string(p)), zap.Error(err))
		http.Error(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}

	noCache(w)
	http.Redirect(w, r, intent.AuthURL, http.StatusSeeOther)
}

// handleCallback completes the OAuth flow.
func (a *Application) handleCallback(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r)
	q := r.URL.Query()

	noCache(w)

	// The platform reports denial via the error parameter; nothing to do
	// but send the user back.
	if errCode := q.Get("error"); errCode != "" {
		a.Logger.Info("authorization denied",
			zap.String("user_id", userID), zap.String("error", errCode))
		http.Redirect(w, r, "/accounts?connected=denied", http.StatusSeeOther)
		return
	}

	account, err := a.Auth.HandleCallback(r.Context(), userID, q.Get("state"), q.Get("code"))
	if err != nil {
		a.writeCallbackError(w, userID, err)
		return
	}

	a.Logger.Info("platform connected",
		zap.String("user_id", userID),
		zap.String("platform", string(account.Platform)))
	http.Redirect(w, r, "/accounts?connected="+string(account.Platform), http.StatusSeeOther)
}

func (a *Application) writeCallbackError(w http.ResponseWriter, userID string, err error) {
	a.Logger.Warn("callback failed", zap.String("user_id", userID), zap.Error(err))

	var exchangeErr *platform.TokenExchangeError
	var profileErr *platform.ProfileFetchError
	switch {
	case errors.Is(err, auth.ErrInvalidSession), errors.Is(err, auth.ErrMissingCode):
		http.Error(w, "invalid or expired authorization attempt", http.StatusBadRequest)
	case errors.Is(err, auth.ErrSessionOwnership):
		http.Error(w, "authorization attempt belongs to another user", http.StatusForbidden)
	case errors.As(err, &exchangeErr), errors.As(err, &profileErr),
		errors.Is(err, storage.ErrMissingIdentity):
		http.Error(w, "platform rejected the authorization", http.StatusBadGateway)
	default:
		http.Error(w, "authorization failed", http.StatusInternalServerError)
	}
}

// handleDisconnect removes a linked account. POST only: this is destructive
// and must never be triggered by a prefetched link.
func (a *Application) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r)
	p := storage.Platform(r.PathValue("platform"))

	err := a.Auth.Disconnect(r.Context(), userID, p)
	if errors.Is(err, auth.ErrNoAccount) {
		http.Error(w, "no linked account", http.StatusNotFound)
		return
	}
	if err != nil {
		a.Logger.Error("disconnect failed",
			zap.String("user_id", userID), zap.String("platform", string(p)), zap.Error(err))
		http.Error(w, "disconnect failed", http.StatusInternalServerError)
		return
	}

	noCache(w)
	http.Redirect(w, r, "/accounts?disconnected="+string(p), http.StatusSeeOther)
}

// accountView is the JSON shape for one linked account. Token material never
// leaves storage.
type accountView struct {
	Platform       string         `json:"platform"`
	PlatformUserID string         `json:"platform_user_id"`
	Username       string         `json:"username"`
	DisplayName    string         `json:"display_name,omitempty"`
	Email          string         `json:"email,omitempty"`
	ProfileURL     string         `json:"profile_url,omitempty"`
	AvatarURL      string         `json:"avatar_url,omitempty"`
	Status         string         `json:"status"`
	TokenExpiresAt *time.Time     `json:"token_expires_at,omitempty"`
	LastSync       *time.Time     `json:"last_sync,omitempty"`
	FollowerCount  int            `json:"follower_count"`
	FollowingCount int            `json:"following_count"`
	PostsCount     int            `json:"posts_count"`
	RateLimit      *rateLimitView `json:"rate_limit,omitempty"`
}

// rateLimitView is the last rate-limit state observed on an outbound call.
type rateLimitView struct {
	Remaining  int       `json:"remaining"`
	Reset      time.Time `json:"reset"`
	ObservedAt time.Time `json:"observed_at"`
}

// lastRateLimit pulls rate-limit metadata from the account's most recent
// call record, if any call carried it.
func (a *Application) lastRateLimit(r *http.Request, accountID string) *rateLimitView {
	entry, err := a.Store.LatestCallLog(r.Context(), accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		a.Logger.Warn("failed to load call log", zap.Error(err))
		return nil
	}
	if entry.RateLimitRemaining == nil || entry.RateLimitReset == nil {
		return nil
	}
	return &rateLimitView{
		Remaining:  *entry.RateLimitRemaining,
		Reset:      *entry.RateLimitReset,
		ObservedAt: entry.CreatedAt,
	}
}

func (a *Application) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r)

	accounts, err := a.Store.ListAccounts(r.Context(), userID)
	if err != nil {
		a.Logger.Error("failed to list accounts", zap.Error(err))
		http.Error(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, accountView{
			Platform:       string(acc.Platform),
			PlatformUserID: acc.PlatformUserID,
			Username:       acc.Username,
			DisplayName:    acc.DisplayName,
			Email:          acc.Email,
			ProfileURL:     acc.ProfileURL,
			AvatarURL:      acc.AvatarURL,
			Status:         string(acc.Status),
			TokenExpiresAt: acc.TokenExpiresAt,
			LastSync:       acc.LastSync,
			FollowerCount:  acc.FollowerCount,
			FollowingCount: acc.FollowingCount,
			PostsCount:     acc.PostsCount,
			RateLimit:      a.lastRateLimit(r, acc.ID),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"accounts": views}); err != nil {
		a.Logger.Warn("failed to encode accounts", zap.Error(err))
	}
}

// handleAPIProxy forwards a GET to the platform's API on behalf of the
// user's linked account, with token handling and call logging applied.
func (a *Application) handleAPIProxy(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r)
	p := storage.Platform(r.PathValue("platform"))
	path := "/" + r.PathValue("path")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	resp, err := a.APIClient.Get(r.Context(), userID, p, path)
	if err != nil {
		switch {
		case errors.Is(err, apiclient.ErrNotConnected):
			http.Error(w, "platform not connected", http.StatusNotFound)
		case errors.Is(err, apiclient.ErrTokenExpired), errors.Is(err, apiclient.ErrTokenUnreadable):
			http.Error(w, "platform authorization expired, reconnect required", http.StatusUnauthorized)
		default:
			a.Logger.Error("api proxy failed",
				zap.String("platform", string(p)), zap.Error(err))
			http.Error(w, "platform request failed", http.StatusBadGateway)
		}
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (a *Application) credentialsFor(p storage.Platform) (config.PlatformCredentials, bool) {
	switch p {
	case storage.PlatformLinkedIn:
		return a.Config.LinkedIn, true
	case storage.PlatformTwitter:
		return a.Config.Twitter, true
	default:
		return config.PlatformCredentials{}, false
	}
}
