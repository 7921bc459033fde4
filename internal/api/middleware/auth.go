package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jsayol/qr-signin/internal/api/presenter"
	"github.com/jsayol/qr-signin/internal/core"
	"github.com/jsayol/qr-signin/internal/session"
)

const principalKey = "principal"

// PrincipalCtx retrieves the verified claimant principal from the context.
func PrincipalCtx(ctx context.Context) *core.Principal {
	p, ok := ctx.Value(principalKey).(*core.Principal)
	if !ok {
		return nil
	}
	return p
}

// SessionAuth verifies the caller's existing session and stores the
// resulting principal in the request context. Claiming a token requires a
// caller that is already signed in somewhere; this middleware is where
// that trust decision is enforced.
func SessionAuth(registry *session.Registry) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			tokenStr := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer"))

			if tokenStr == "" {
				presenter.Error(w, r, "login required", http.StatusUnauthorized)
				return
			}

			principal, err := registry.Verify(r.Context(), tokenStr)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("session verification failed")
				presenter.Error(w, r, "invalid session token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
