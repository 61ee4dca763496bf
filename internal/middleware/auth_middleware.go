package middleware

import (
	"context"
	"net/http"

	"inkdown-notes/internal/session"
	"inkdown-notes/pkg/response"
)

type contextKey string

const UserIDKey contextKey = "userID"

// SessionMiddleware attaches the signed-in user's id, if any, to the
// request context.
func SessionMiddleware(sess *session.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := sess.CurrentUser(); user != nil {
				r = r.WithContext(context.WithValue(r.Context(), UserIDKey, user.ID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests made without a signed-in user. It must
// run after SessionMiddleware.
func RequireSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions && GetUserID(r) == "" {
				response.Unauthorized(w, "Sign in to use remote storage.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
