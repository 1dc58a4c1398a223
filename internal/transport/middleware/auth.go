package middleware

import (
	"net/http"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/auth"
	"github.com/heartmarshall/fedrecords/pkg/ctxutil"
)

type shareTokenValidator interface {
	ValidateShareToken(token string) (auth.ShareAccess, error)
}

// ShareToken checks the bearer token of sync requests. Requests without a
// token pass through untouched, the handler decides whether one is needed.
// A token that fails validation is rejected with 401. A valid token is
// stored in the context for the handler to match against the share.
func ShareToken(validator shareTokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := validator.ValidateShareToken(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := ctxutil.WithAccessToken(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
