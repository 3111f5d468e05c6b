package token

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the token_type claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the decoded, verified payload of a token: a frozen snapshot of
// the (user, application, role) context it was issued for.
type Claims struct {
	Subject         int64          `json:"sub"`
	ApplicationCode string         `json:"app_code"`
	ActiveRoleID    int64          `json:"active_role_id"`
	RoleCode        string         `json:"role_code"`
	TokenType       string         `json:"token_type"`
	ID              string         `json:"jti"`
	IssuedAt        time.Time      `json:"iat"`
	ExpiresAt       time.Time      `json:"exp"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// reservedClaims are the payload keys callers may never override through
// extra claims.
var reservedClaims = map[string]struct{}{
	"sub":            {},
	"app_code":       {},
	"active_role_id": {},
	"role_code":      {},
	"exp":            {},
	"iat":            {},
	"jti":            {},
	"token_type":     {},
}

// buildPayload assembles the flat JWT payload. Extra claims colliding with
// reserved keys are dropped.
func buildPayload(c Claims, extra map[string]any) jwt.MapClaims {
	payload := jwt.MapClaims{
		"sub":            strconv.FormatInt(c.Subject, 10),
		"app_code":       c.ApplicationCode,
		"active_role_id": c.ActiveRoleID,
		"role_code":      c.RoleCode,
		"iat":            jwt.NewNumericDate(c.IssuedAt),
		"exp":            jwt.NewNumericDate(c.ExpiresAt),
		"jti":            c.ID,
		"token_type":     c.TokenType,
	}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		payload[k] = v
	}
	return payload
}

// claimsFromPayload decodes a verified payload back into Claims. Numeric
// values arrive as float64 from encoding/json; the subject additionally
// tolerates its string form.
func claimsFromPayload(payload jwt.MapClaims) (Claims, error) {
	var c Claims

	switch sub := payload["sub"].(type) {
	case string:
		n, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return Claims{}, invalidToken("malformed subject claim")
		}
		c.Subject = n
	case float64:
		c.Subject = int64(sub)
	default:
		return Claims{}, invalidToken("missing subject claim")
	}

	c.ApplicationCode, _ = payload["app_code"].(string)
	c.RoleCode, _ = payload["role_code"].(string)
	c.TokenType, _ = payload["token_type"].(string)
	c.ID, _ = payload["jti"].(string)
	if roleID, ok := payload["active_role_id"].(float64); ok {
		c.ActiveRoleID = int64(roleID)
	}
	if c.ApplicationCode == "" || c.ActiveRoleID == 0 {
		return Claims{}, invalidToken("missing application context claims")
	}

	if exp, err := payload.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := payload.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	for k, v := range payload {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return c, nil
}
