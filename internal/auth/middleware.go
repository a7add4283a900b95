// Package auth enforces the service token that the application layer
// presents to the storage gateway.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/httputil"
)

// skipPaths is the set of paths that do not require authentication.
var skipPaths = map[string]bool{
	"/health":       true,
	"/readyz":       true,
	"/metrics":      true,
	"/docs":         true,
	"/docs/":        true,
	"/openapi.json": true,
	"/openapi.yaml": true,
}

// Middleware returns HTTP middleware that requires "Authorization: Bearer
// <token>" on every request except health, readiness, metrics and docs.
// An empty token disables the check.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if skipPaths[path] || strings.HasPrefix(path, "/docs") || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := BearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="mediashelf"`)
				httputil.WriteError(w, r, gwerr.ErrUnauthorized.WithMessage("missing bearer token"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="mediashelf", error="invalid_token"`)
				httputil.WriteError(w, r, gwerr.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
