package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"acesso.org/internal/audit"
	"acesso.org/internal/token"
)

type authzCheckRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// handleAuthzCheck answers a yes/no permission question for the
// authenticated caller's own (user, application, role) context.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authz == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
		return
	}
	claims, ok := token.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Action) == "" || strings.TrimSpace(req.Resource) == "" {
		writeError(w, r, http.StatusBadRequest, "action and resource are required")
		return
	}

	allowed := a.authz.Can(r.Context(), claims.Subject, claims.ApplicationCode, claims.ActiveRoleID, req.Action, req.Resource)
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":  allowed,
		"action":   req.Action,
		"resource": req.Resource,
	})
}

// handleAuthzPermissions lists the caller's permissions in the
// application, grouped per resource.
func (a *API) handleAuthzPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.authz == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
		return
	}
	claims, ok := token.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	perms := a.authz.UserPermissions(r.Context(), claims.Subject, claims.ApplicationCode)
	writeJSON(w, http.StatusOK, map[string]any{
		"application": claims.ApplicationCode,
		"permissions": perms,
	})
}

// handleCacheInvalidate clears cached permission resolutions after an
// administrative change to a role's bundle.
func (a *API) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authz == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
		return
	}
	if !a.ensurePermission(w, r, "change", "role") {
		return
	}

	var roleID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("role_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "role_id must be a positive integer")
			return
		}
		roleID = parsed
	}

	if err := a.authz.InvalidateCache(r.Context(), roleID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "authz.cache.invalidate", map[string]any{
		"role_id": roleID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated"})
}
