package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"acesso.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth validates the bearer access token on every non-public request
// and attaches the verified claims to the context. Token transport
// mechanics beyond the Authorization header are out of scope.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.ValidateAccessToken(r.Context(), raw)
		if err != nil {
			// Every rejection reads the same to the caller; the reason
			// stays in the server logs.
			if errors.Is(err, token.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := token.ContextWithClaims(r.Context(), claims)
		ctx = token.ContextWithRawToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission answers whether the authenticated caller may perform
// action on resource, writing the HTTP error when not.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, action, resource string) bool {
	claims, ok := token.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if a.authz == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
		return false
	}
	if !a.authz.Can(r.Context(), claims.Subject, claims.ApplicationCode, claims.ActiveRoleID, action, resource) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
