package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/joakey/joakey/backend/internal/store"
)

type contextKey struct{}

// WithUserID returns a copy of ctx carrying the authenticated participant id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the authenticated participant id, or "" if there is none.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// RequireUser resolves the bearer token to a participant id and rejects the
// request with 401 when it cannot. Browsers cannot set headers on websocket
// upgrades, so the token may also come from the access_token query parameter.
func RequireUser(resolver store.IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing access token"})
				return
			}
			userID, err := resolver.ResolveUser(r.Context(), token)
			if err != nil {
				if errors.Is(err, store.ErrUnauthenticated) {
					writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid access token"})
					return
				}
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
