package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatrelay/internal/storage"
)

// SessionAuth resolves the session token (X-Session-Id header, or session_id
// query for WebSocket upgrades where custom headers are unavailable) to a
// user id via the session store. Requests without a valid session get 401.
// Token issuance is the auth service's job; this only validates.
func SessionAuth(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := strings.TrimSpace(r.Header.Get("X-Session-Id"))
			if sessionID == "" {
				sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
			}
			if sessionID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := store.GetSession(r.Context(), sessionID)
			if err != nil || userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
