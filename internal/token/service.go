// Package token issues and polices the short-lived signed credentials that
// bind a user to one application/role context. Tokens are HS256 JWTs; they
// are never authoritative on their own: every validation re-checks the
// underlying user role grant and the cache-backed revocation blacklist.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"acesso.org/internal/cache"
	"acesso.org/internal/identity"
	"acesso.org/internal/obs"
)

const (
	defaultAccessTTL  = 10 * time.Minute
	defaultRefreshTTL = 30 * time.Minute

	// Secrets shorter than this trigger a startup warning, not a failure.
	minSecretLength = 50

	accessBlacklistPrefix  = "authn_native:blacklist:access:"
	refreshBlacklistPrefix = "authn_native:blacklist:refresh:"
)

// Authenticator verifies a credential pair and returns the matching user.
// identity.ErrNotFound means the credentials were rejected.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, credential string) (identity.User, error)
}

// Service is the token service. Construct it with NewService; dependencies
// are injected, there is no process-wide instance.
type Service struct {
	store      identity.Store
	cache      cache.Cache
	authn      Authenticator
	secret     []byte
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// TokenPair is the result of a login or a refresh rotation.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Session is the result of a successful login.
type Session struct {
	User         identity.User `json:"user"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithAuthenticator overrides the credential verifier Login delegates to.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Service) error {
		if a != nil {
			s.authn = a
		}
		return nil
	}
}

// NewService constructs the token service. The signing secret is required;
// a secret shorter than the recommended minimum only logs a warning (its
// value is never logged, only its length).
func NewService(store identity.Store, c cache.Cache, secret string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if c == nil {
		return nil, errors.New("cache is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	if len(secret) < minSecretLength {
		obs.Warn("token signing secret shorter than recommended minimum", map[string]any{
			"length":      len(secret),
			"recommended": minSecretLength,
		})
	}
	svc := &Service{
		store:      store,
		cache:      c,
		secret:     []byte(secret),
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	svc.authn = storeAuthenticator{store: store}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// IssueAccessToken mints an access token for the given context. The grant
// must exist and the user must be active.
func (s *Service) IssueAccessToken(ctx context.Context, userID int64, applicationCode string, roleID int64, extra map[string]any) (string, error) {
	tok, err := s.issue(ctx, userID, applicationCode, roleID, TypeAccess, s.accessTTL, extra)
	obs.ObserveTokenOp("issue_access", result(err))
	return tok, err
}

// IssueRefreshToken mints a refresh token for the given context under the
// same preconditions as IssueAccessToken.
func (s *Service) IssueRefreshToken(ctx context.Context, userID int64, applicationCode string, roleID int64, extra map[string]any) (string, error) {
	tok, err := s.issue(ctx, userID, applicationCode, roleID, TypeRefresh, s.refreshTTL, extra)
	obs.ObserveTokenOp("issue_refresh", result(err))
	return tok, err
}

func (s *Service) issue(ctx context.Context, userID int64, applicationCode string, roleID int64, tokenType string, ttl time.Duration, extra map[string]any) (string, error) {
	grant, err := s.store.GetGrant(ctx, userID, applicationCode, roleID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", fmt.Errorf("%w: user=%d application=%s role=%d", ErrUserRoleNotFound, userID, applicationCode, roleID)
		}
		return "", err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.Active {
		return "", fmt.Errorf("%w: user %d is inactive", ErrTokenService, userID)
	}

	now := s.now().UTC()
	claims := Claims{
		Subject:         userID,
		ApplicationCode: applicationCode,
		ActiveRoleID:    roleID,
		RoleCode:        grant.RoleCode,
		TokenType:       tokenType,
		ID:              uuid.NewString(),
		IssuedAt:        now,
		ExpiresAt:       now.Add(ttl),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, buildPayload(claims, extra)).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken runs the ordered validation checks on an access
// token: signature and expiry, token type, jti presence, blacklist,
// grant existence, user active. The first violation rejects the token.
func (s *Service) ValidateAccessToken(ctx context.Context, raw string) (Claims, error) {
	claims, err := s.validate(ctx, raw, TypeAccess)
	obs.ObserveTokenOp("validate_access", result(err))
	return claims, err
}

func (s *Service) validate(ctx context.Context, raw string, tokenType string) (Claims, error) {
	payload, err := s.parse(raw, true)
	if err != nil {
		return Claims{}, err
	}
	claims, err := claimsFromPayload(payload)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenType != tokenType {
		return Claims{}, invalidToken(fmt.Sprintf("unexpected token type %q", claims.TokenType))
	}
	if claims.ID == "" {
		return Claims{}, invalidToken("missing jti claim")
	}
	if _, found, err := s.cache.Get(ctx, blacklistKey(tokenType == TypeRefresh, claims.ID)); err != nil {
		return Claims{}, fmt.Errorf("blacklist lookup: %w", err)
	} else if found {
		return Claims{}, invalidToken("token revoked")
	}
	if _, err := s.store.GetGrant(ctx, claims.Subject, claims.ApplicationCode, claims.ActiveRoleID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Claims{}, invalidToken("user role grant no longer exists")
		}
		return Claims{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Claims{}, invalidToken("user no longer exists")
		}
		return Claims{}, err
	}
	if !user.Active {
		return Claims{}, invalidToken("user is inactive")
	}
	return claims, nil
}

// Refresh validates a refresh token, blacklists it for its remaining
// lifetime, and mints a brand-new access+refresh pair for the same
// context. The blacklist write is atomic: if another rotation already
// claimed the jti, this call fails instead of producing a second pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken)
	obs.ObserveTokenOp("refresh", result(err))
	return pair, err
}

func (s *Service) refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.validate(ctx, refreshToken, TypeRefresh)
	if err != nil {
		return nil, err
	}
	won, err := s.blacklistIfAbsent(ctx, claims.ID, claims.ExpiresAt, true)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, invalidToken("refresh token already used")
	}

	access, err := s.issue(ctx, claims.Subject, claims.ApplicationCode, claims.ActiveRoleID, TypeAccess, s.accessTTL, nil)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issue(ctx, claims.Subject, claims.ApplicationCode, claims.ActiveRoleID, TypeRefresh, s.refreshTTL, nil)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RevokeToken blacklists a token by its jti. The token is decoded without
// expiry enforcement so an already-expired token can still be revoked for
// audit completeness; the signature must still verify.
func (s *Service) RevokeToken(ctx context.Context, raw string, isRefresh bool) error {
	err := s.revoke(ctx, raw, isRefresh)
	obs.ObserveTokenOp("revoke", result(err))
	return err
}

func (s *Service) revoke(ctx context.Context, raw string, isRefresh bool) error {
	payload, err := s.parse(raw, false)
	if err != nil {
		return err
	}
	jti, _ := payload["jti"].(string)
	if jti == "" {
		return invalidToken("missing jti claim")
	}
	var expiresAt time.Time
	if exp, err := payload.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	return s.blacklist(ctx, jti, expiresAt, isRefresh)
}

// Login authenticates the principal and issues both tokens for the
// requested context. A rejected credential returns (nil, nil) rather than
// an error, so boundary layers can render a uniform "invalid credentials"
// response without leaking which step failed.
func (s *Service) Login(ctx context.Context, identifier, credential, applicationCode string, roleID int64) (*Session, error) {
	user, err := s.authn.Authenticate(ctx, identifier, credential)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			obs.ObserveTokenOp("login", "rejected")
			return nil, nil
		}
		return nil, err
	}
	access, err := s.IssueAccessToken(ctx, user.ID, applicationCode, roleID, nil)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user.ID, applicationCode, roleID, nil)
	if err != nil {
		return nil, err
	}
	obs.ObserveTokenOp("login", "ok")
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// blacklistEntry is the cache record written for a revoked jti. Its TTL
// equals the token's remaining lifetime, so the blacklist never outlives
// the token it denies.
type blacklistEntry struct {
	BlacklistedAt time.Time `json:"blacklisted_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	IsRefresh     bool      `json:"is_refresh"`
}

func (s *Service) blacklist(ctx context.Context, jti string, expiresAt time.Time, isRefresh bool) error {
	value, ttl, ok := s.blacklistValue(jti, expiresAt, isRefresh)
	if !ok {
		return nil
	}
	return s.cache.Set(ctx, blacklistKey(isRefresh, jti), value, ttl)
}

func (s *Service) blacklistIfAbsent(ctx context.Context, jti string, expiresAt time.Time, isRefresh bool) (bool, error) {
	value, ttl, ok := s.blacklistValue(jti, expiresAt, isRefresh)
	if !ok {
		// Nothing left to protect; the token can no longer be replayed.
		return false, invalidToken("token expired")
	}
	return s.cache.SetIfAbsent(ctx, blacklistKey(isRefresh, jti), value, ttl)
}

// blacklistValue returns ok=false when the token is already expired, in
// which case there is nothing to write and the cache stays bounded.
func (s *Service) blacklistValue(jti string, expiresAt time.Time, isRefresh bool) ([]byte, time.Duration, bool) {
	now := s.now().UTC()
	if !expiresAt.After(now) {
		return nil, 0, false
	}
	entry := blacklistEntry{BlacklistedAt: now, ExpiresAt: expiresAt, IsRefresh: isRefresh}
	value, err := json.Marshal(entry)
	if err != nil {
		value = []byte("{}")
	}
	return value, expiresAt.Sub(now), true
}

// parse verifies the HS256 signature and, when enforceClaims is set, the
// standard time-based claims.
func (s *Service) parse(raw string, enforceClaims bool) (jwt.MapClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalidToken("empty token")
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	}
	if !enforceClaims {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.NewParser(parserOpts...).Parse(raw, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, invalidToken("token expired")
		}
		return nil, invalidToken("invalid signature or malformed token")
	}
	payload, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, invalidToken("malformed claims")
	}
	return payload, nil
}

func blacklistKey(isRefresh bool, jti string) string {
	if isRefresh {
		return refreshBlacklistPrefix + jti
	}
	return accessBlacklistPrefix + jti
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUserRoleNotFound), errors.Is(err, ErrTokenService):
		return "rejected"
	default:
		return "error"
	}
}

// storeAuthenticator is the default bcrypt credential check against the
// identity store, used when no Authenticator is injected.
type storeAuthenticator struct {
	store identity.Store
}

func (a storeAuthenticator) Authenticate(ctx context.Context, identifier, credential string) (identity.User, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" || credential == "" {
		return identity.User{}, identity.ErrNotFound
	}
	user, err := a.store.GetUserByEmail(ctx, identifier)
	if err != nil {
		return identity.User{}, err
	}
	if err := identity.VerifyPassword(user.PasswordHash, credential); err != nil {
		return identity.User{}, identity.ErrNotFound
	}
	return user, nil
}
