package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/btouchard/courier/internal/notify"
)

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns the authenticated user ID, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// TokenVerifier resolves a session token to a user ID.
// Defined consumer-side per Go convention.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// SessionAuth authenticates end clients by a session token taken from the
// Authorization header or, for EventSource clients that cannot set
// headers, from the named cookie.
func SessionAuth(verifier TokenVerifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := sessionToken(r, cookieName)
			if !ok {
				challengeAuth(w, "missing session token")
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				slog.Debug("session validation failed", "error", err)
				invalidToken(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func sessionToken(r *http.Request, cookieName string) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// InternalAuth guards relay endpoints reached only by trusted front ends.
// The caller proves itself with the shared internal token and vouches for
// the user through the X-User-Id header.
func InternalAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(notify.HeaderInternalToken)
			if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				slog.Warn("internal request rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := r.Context()
			if userID := strings.TrimSpace(r.Header.Get(notify.HeaderUserID)); userID != "" {
				ctx = WithUserID(ctx, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// challengeAuth sends a 401 with a Bearer challenge for unauthenticated requests.
func challengeAuth(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="courier"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// invalidToken sends a 401 for requests with an invalid/expired token.
func invalidToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
