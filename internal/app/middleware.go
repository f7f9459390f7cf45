package app

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type contextKey string

const userContextKey = contextKey("userID")

// requireAuth resolves the session cookie to a user and rejects requests
// without a live session.
func (a *Application) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		userID, err := a.Sessions.Get(r.Context(), cookie.Value)
		if err != nil {
			a.Logger.Debug("rejected session", zap.Error(err))
			http.SetCookie(w, &http.Cookie{
				Name:   sessionCookie,
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, withUserID(r, userID))
	})
}

// noCache marks a response as uncacheable. OAuth redirects carry one-shot
// state parameters that must not be replayed from any cache.
func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, userID))
}

func userIDFromContext(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(userContextKey).(string)
	return userID, ok
}
