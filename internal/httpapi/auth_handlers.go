package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"acesso.org/internal/audit"
	"acesso.org/internal/token"
)

type loginRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ApplicationCode string `json:"application_code"`
	RoleID          int64  `json:"role_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	Token     string `json:"token"`
	IsRefresh bool   `json:"is_refresh"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.tokens == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token service unavailable")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ApplicationCode) == "" || req.RoleID <= 0 {
		writeError(w, r, http.StatusBadRequest, "application_code and role_id are required")
		return
	}

	session, err := a.tokens.Login(r.Context(), req.Email, req.Password, req.ApplicationCode, req.RoleID)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}
	if session == nil {
		// Uniform response: callers never learn which step failed.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":     session.User.ID,
		"application": req.ApplicationCode,
		"role_id":     req.RoleID,
	})
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.tokens == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token service unavailable")
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleTokenError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh", nil)
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.tokens == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token service unavailable")
		return
	}
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.tokens.RevokeToken(r.Context(), req.Token, req.IsRefresh); err != nil {
		handleTokenError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.revoke", map[string]any{
		"is_refresh": req.IsRefresh,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func handleTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, token.ErrUserRoleNotFound):
		writeError(w, r, http.StatusForbidden, "role context not granted")
	case errors.Is(err, token.ErrTokenService):
		writeError(w, r, http.StatusForbidden, "token issuance refused")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
