package api

import (
	"context"
	"net/http"
	"strings"

	"samadhan/internal/identity"
	"samadhan/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator resolves a bearer token to a live identity.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Identity, error)
}

type AuthMiddleware struct {
	auth Authenticator
	responder
}

func NewAuthMiddleware(auth Authenticator, exposeDetail bool) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, responder: responder{exposeDetail: exposeDetail}}
}

// RequireAuth rejects the request unless it carries a valid access token for
// an active, unbanned identity.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			m.serviceError(w, r, identity.ErrUnauthenticated)
			return
		}

		ident, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			m.serviceError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
	})
}

// OptionalAuth attaches the identity when the token checks out and otherwise
// continues anonymously.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r); ok {
			if ident, err := m.auth.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), ident))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := IdentityFromContext(r.Context())
			if ident == nil {
				m.serviceError(w, r, identity.ErrUnauthenticated)
				return
			}
			if ident.Role != role {
				m.serviceError(w, r, identity.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func WithIdentity(ctx context.Context, ident *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

func IdentityFromContext(ctx context.Context) *models.Identity {
	ident, _ := ctx.Value(identityKey).(*models.Identity)
	return ident
}
