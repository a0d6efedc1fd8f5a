// internal/app/system/auth/auth.go
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.uber.org/zap"
)

// TokenHeader carries the bearer token as sent by the dashboard client.
const TokenHeader = "x-auth-token"

// Authenticator resolves a raw bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (identity.Principal, error)
}

type ctxKey string

const principalKey ctxKey = "principal"

// Middleware authenticates bearer tokens.
type Middleware struct {
	auth Authenticator
	log  *zap.Logger
}

// NewMiddleware constructs the bearer-token middleware.
func NewMiddleware(a Authenticator, logger *zap.Logger) *Middleware {
	return &Middleware{auth: a, log: logger}
}

// TokenFromRequest returns the bearer token from x-auth-token or
// Authorization: Bearer, or "".
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get(TokenHeader)); tok != "" {
		return tok
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// CurrentPrincipal returns the authenticated caller, if any.
func CurrentPrincipal(r *http.Request) (identity.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(identity.Principal)
	return p, ok
}

// CurrentUser returns the caller when it is a user.
func CurrentUser(r *http.Request) (identity.UserPrincipal, bool) {
	p, _ := CurrentPrincipal(r)
	u, ok := p.(identity.UserPrincipal)
	return u, ok
}

// CurrentInstitute returns the caller when it is an institute.
func CurrentInstitute(r *http.Request) (identity.InstitutePrincipal, bool) {
	p, _ := CurrentPrincipal(r)
	i, ok := p.(identity.InstitutePrincipal)
	return i, ok
}

// WithPrincipal returns r carrying p. Used by the middleware and in tests.
func WithPrincipal(r *http.Request, p identity.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalKey, p))
}

// RequireAuth rejects requests without a valid bearer token with 401.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := TokenFromRequest(r)
		if raw == "" {
			respond.Fail(w, apperr.KindUnauthorized, "No token, authorization denied")
			return
		}
		p, err := m.auth.Authenticate(r.Context(), raw)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindUnauthorized {
				respond.Error(w, r, m.log, err)
				return
			}
			m.log.Debug("rejected bearer token", zap.Error(err))
			respond.Fail(w, apperr.KindUnauthorized, apperr.Message(err))
			return
		}
		next.ServeHTTP(w, WithPrincipal(r, p))
	})
}

// RequireRole rejects callers whose role is not allowed with 403.
// It must run after RequireAuth.
func RequireRole(allowed ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := CurrentPrincipal(r)
			if !ok {
				respond.Fail(w, apperr.KindUnauthorized, "No token, authorization denied")
				return
			}
			for _, role := range allowed {
				if p.Role() == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respond.Fail(w, apperr.KindForbidden, "Access denied")
		})
	}
}
