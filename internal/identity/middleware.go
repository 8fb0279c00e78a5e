package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/hackgods/handyman-booking/internal/access"
)

type ctxKey struct{}

func WithActor(ctx context.Context, actor access.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFrom(ctx context.Context) (access.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(access.Actor)
	return actor, ok
}

// spoofable identity headers some clients still send
var ignoredHeaders = []string{"X-User-ID", "X-User-Type"}

// Middleware verifies the bearer token and stores the actor in the request context.
// Failures are handed to reject, which writes the response.
func Middleware(v *Verifier, reject func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range ignoredHeaders {
				r.Header.Del(h)
			}

			actor, err := v.Verify(bearerToken(r))
			if err != nil {
				reject(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
