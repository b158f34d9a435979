package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/romanbabin/convogate/internal/api/apierrors"
)

// SessionMiddleware extracts the caller's session ID from X-Session-Id and
// stores it on the request context. A missing header is a validation error:
// every conversation/message endpoint is session-scoped.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(SessionIDHeader)
		if sessionID == "" {
			apierrors.WriteError(w, GetRequestID(r.Context()),
				apierrors.ValidationError("missing X-Session-Id header"))
			return
		}
		ctx := context.WithValue(r.Context(), SessionIDContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSessionID extracts the session ID stored by SessionMiddleware.
func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDContextKey).(string)
	return id
}

// AdminAuthMiddleware checks X-Admin-Key against the configured shared
// secret using a constant-time comparison. An empty configured key disables
// the admin surface entirely (every request is rejected), rather than
// accepting any key.
func AdminAuthMiddleware(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get(AdminKeyHeader)
			if adminKey == "" || supplied == "" ||
				subtle.ConstantTimeCompare([]byte(supplied), []byte(adminKey)) != 1 {
				apierrors.WriteError(w, GetRequestID(r.Context()),
					apierrors.AuthorizationError("invalid or missing X-Admin-Key"))
				return
			}
			ctx := context.WithValue(r.Context(), IsAdminContextKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
