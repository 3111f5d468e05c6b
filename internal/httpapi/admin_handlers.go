package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"acesso.org/internal/audit"
)

type createApplicationRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type createRoleRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type setRolePermissionsRequest struct {
	Codenames []string `json:"codenames"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Active   bool   `json:"active"`
}

type grantRequest struct {
	ApplicationCode string `json:"application_code"`
	RoleID          int64  `json:"role_id"`
}

func (a *API) handleApplications(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "identity service unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, "view", "application") {
			return
		}
		apps, err := a.admin.ListApplications(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, apps)
	case http.MethodPost:
		if !a.ensurePermission(w, r, "add", "application") {
			return
		}
		var req createApplicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		app, err := a.admin.CreateApplication(r.Context(), req.Code, req.Name)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.application.create", map[string]any{
			"code": app.Code,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/applications/%s", app.Code))
		writeJSON(w, http.StatusCreated, app)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleApplicationScoped routes /v1/applications/{code}/roles.
func (a *API) handleApplicationScoped(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "identity service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/applications/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "roles" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	appCode := parts[0]

	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, "view", "role") {
			return
		}
		roles, err := a.admin.ListRoles(r.Context(), appCode)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roles)
	case http.MethodPost:
		if !a.ensurePermission(w, r, "add", "role") {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.admin.CreateRole(r.Context(), appCode, req.Code, req.Name)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.role.create", map[string]any{
			"application": appCode,
			"role":        role.Code,
		})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleScoped routes /v1/roles/{id}/permissions.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "identity service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || roleID <= 0 {
		writeError(w, r, http.StatusBadRequest, "role id must be a positive integer")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, "change", "role") {
		return
	}

	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.admin.SetRolePermissions(r.Context(), roleID, req.Codenames); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	// Bound staleness to this request rather than the cache TTL.
	if a.authz != nil {
		_ = a.authz.InvalidateCache(r.Context(), roleID)
	}
	_ = audit.LogEvent(r.Context(), "identity.role.permissions.set", map[string]any{
		"role_id": roleID,
		"count":   len(req.Codenames),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "identity service unavailable")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, "add", "user") {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.admin.CreateUser(r.Context(), req.Email, req.Password, req.Active)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.user.create", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%d", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

// handleUserScoped routes /v1/users/{id}/grants.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "identity service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "grants" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, http.StatusBadRequest, "user id must be a positive integer")
		return
	}

	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, "add", "grant") {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.admin.Grant(r.Context(), userID, req.ApplicationCode, req.RoleID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.grant.create", map[string]any{
			"user_id":     userID,
			"application": grant.ApplicationCode,
			"role_id":     grant.RoleID,
		})
		writeJSON(w, http.StatusCreated, grant)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, "delete", "grant") {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.Revoke(r.Context(), userID, req.ApplicationCode, req.RoleID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.grant.delete", map[string]any{
			"user_id":     userID,
			"application": req.ApplicationCode,
			"role_id":     req.RoleID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}
