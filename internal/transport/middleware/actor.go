package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/domain"
	"github.com/heartmarshall/fedrecords/pkg/ctxutil"
)

// ActorHeader names the principal acting on operator routes.
const ActorHeader = "X-Actor-Id"

// Actor copies the X-Actor-Id header into the context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctxutil.WithActor(r.Context(), actor)))
	})
}

// RequireActor returns domain.ErrUnauthorized if no actor is set.
// Use in REST handlers, not as HTTP middleware.
func RequireActor(ctx context.Context) (string, error) {
	actor, ok := ctxutil.ActorFromCtx(ctx)
	if !ok {
		return "", domain.ErrUnauthorized
	}
	return actor, nil
}
