package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type claimsKey struct{}

// WithUser returns a copy of ctx carrying the authenticated claims.
func WithUser(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// UserFromContext returns the claims stored by the middleware, or nil for an
// anonymous request.
func UserFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// access is how strictly a path is guarded.
type access int

const (
	accessOpen     access = iota // never inspected
	accessOptional               // claims attached when a valid token is sent
	accessRequired
)

// optionalPaths are API routes reachable without a token.
var optionalPaths = map[string]bool{
	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
	"/api/v1/auth/refresh":  true,
	"/api/v1/auth/logout":   true,
	"/api/v1/csrf-token":    true,
	"/api/v1/health":        true,
}

// IsPublicPath reports whether path is served without an access token.
func IsPublicPath(path string) bool {
	return accessFor(path) != accessRequired
}

func accessFor(path string) access {
	switch {
	case !strings.HasPrefix(path, "/api/"):
		return accessOpen // probes, metrics, docs
	case strings.HasPrefix(path, "/api/v1/ws/"):
		return accessOpen // the socket handler checks its token query parameter
	case optionalPaths[path]:
		return accessOptional
	}
	return accessRequired
}

// AuthMiddleware checks bearer access tokens on protected API routes and
// stores the resulting claims in the request context.
func AuthMiddleware(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mode := accessFor(r.URL.Path)
			if mode == accessOpen {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			var claims *Claims
			var err error
			if ok {
				claims, err = tokens.ValidateAccessToken(raw)
			}

			if mode == accessOptional {
				if ok && err == nil {
					r = r.WithContext(WithUser(r.Context(), claims))
				}
				next.ServeHTTP(w, r)
				return
			}

			switch {
			case !ok:
				unauthorized(w, "missing or invalid authorization header")
			case errors.Is(err, ErrTokenExpired):
				unauthorized(w, "access token expired")
			case err != nil:
				unauthorized(w, "invalid access token")
			default:
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
			}
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="counsellor"`)
	writeAuthError(w, http.StatusUnauthorized, detail)
}

// bearerToken extracts the credentials of a Bearer authorization header.
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
