package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"acesso.org/internal/cache/memory"
	"acesso.org/internal/identity"
)

const testSecret = "um-segredo-de-assinatura-longo-o-suficiente-para-producao"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeStore backs the token service with maps. Only the lookups the
// service performs are implemented; anything else panics through the
// embedded nil interface.
type fakeStore struct {
	identity.Store

	mu     sync.Mutex
	users  map[int64]identity.User
	grants map[string]identity.UserRoleGrant
}

func grantKey(userID int64, applicationCode string, roleID int64) string {
	return fmt.Sprintf("%d|%s|%d", userID, applicationCode, roleID)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[int64]identity.User{},
		grants: map[string]identity.UserRoleGrant{},
	}
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

func (f *fakeStore) GetGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) (identity.UserRoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[grantKey(userID, applicationCode, roleID)]
	if !ok {
		return identity.UserRoleGrant{}, identity.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) setUser(u identity.User) {
	f.mu.Lock()
	f.users[u.ID] = u
	f.mu.Unlock()
}

func (f *fakeStore) setGrant(g identity.UserRoleGrant) {
	f.mu.Lock()
	f.grants[grantKey(g.UserID, g.ApplicationCode, g.RoleID)] = g
	f.mu.Unlock()
}

func (f *fakeStore) dropGrant(userID int64, applicationCode string, roleID int64) {
	f.mu.Lock()
	delete(f.grants, grantKey(userID, applicationCode, roleID))
	f.mu.Unlock()
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeStore, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	store := newFakeStore()
	store.setUser(identity.User{ID: 7, Email: "gestor@pngi.gov.br", Active: true})
	store.setGrant(identity.UserRoleGrant{UserID: 7, ApplicationCode: "ACOES_PNGI", RoleID: 3, RoleCode: "GESTOR_PNGI"})

	opts = append([]Option{WithClock(clk.Now)}, opts...)
	svc, err := NewService(store, memory.NewAdapterWithClock(clk.Now), testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clk
}

func TestNewServiceValidation(t *testing.T) {
	store := newFakeStore()
	c := memory.NewAdapter()

	if _, err := NewService(nil, c, testSecret); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewService(store, nil, testSecret); err == nil {
		t.Fatal("expected error for nil cache")
	}
	if _, err := NewService(store, c, "   "); err == nil {
		t.Fatal("expected error for empty secret")
	}
	// A short secret only warns.
	if _, err := NewService(store, c, "curto"); err != nil {
		t.Fatalf("short secret must not fail construction: %v", err)
	}
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, map[string]any{"setor": "TI"})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	claims, err := svc.ValidateAccessToken(ctx, raw)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Subject != 7 || claims.ApplicationCode != "ACOES_PNGI" || claims.ActiveRoleID != 3 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.RoleCode != "GESTOR_PNGI" || claims.TokenType != TypeAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
	if claims.Extra["setor"] != "TI" {
		t.Fatalf("extra claim lost: %v", claims.Extra)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		t.Fatalf("expiry not after issuance: %+v", claims)
	}
}

func TestIssueRequiresGrant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 99, nil); !errors.Is(err, ErrUserRoleNotFound) {
		t.Fatalf("expected ErrUserRoleNotFound, got %v", err)
	}
	if _, err := svc.IssueRefreshToken(ctx, 42, "ACOES_PNGI", 3, nil); !errors.Is(err, ErrUserRoleNotFound) {
		t.Fatalf("expected ErrUserRoleNotFound, got %v", err)
	}
}

func TestIssueRejectsInactiveUser(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.setUser(identity.User{ID: 8, Email: "inativo@pngi.gov.br", Active: false})
	store.setGrant(identity.UserRoleGrant{UserID: 8, ApplicationCode: "ACOES_PNGI", RoleID: 3, RoleCode: "GESTOR_PNGI"})

	if _, err := svc.IssueAccessToken(ctx, 8, "ACOES_PNGI", 3, nil); !errors.Is(err, ErrTokenService) {
		t.Fatalf("expected ErrTokenService, got %v", err)
	}
}

func TestValidateRejectsWrongTokenType(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	_, err = svc.ValidateAccessToken(ctx, refresh)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	clk.Advance(10*time.Minute + time.Second)

	_, err = svc.ValidateAccessToken(ctx, raw)
	var ite *InvalidTokenError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTokenError, got %v", err)
	}
	if ite.Reason != "token expired" {
		t.Fatalf("unexpected reason: %q", ite.Reason)
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	other, _, _ := newTestService(t)
	forged, err := other.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	// Same secret validates; a tampered body must not.
	if _, err := svc.ValidateAccessToken(ctx, forged); err != nil {
		t.Fatalf("same-secret token should validate: %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, forged+"tamper"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestRevokeInvalidatesImmediately(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, raw); err != nil {
		t.Fatalf("pre-revocation validate: %v", err)
	}

	if err := svc.RevokeToken(ctx, raw, false); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	_, err = svc.ValidateAccessToken(ctx, raw)
	var ite *InvalidTokenError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTokenError after revoke, got %v", err)
	}
	if ite.Reason != "token revoked" {
		t.Fatalf("unexpected reason: %q", ite.Reason)
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	clk.Advance(time.Hour)

	// Expired tokens can still be revoked; the blacklist write is skipped
	// because there is no remaining lifetime to protect.
	if err := svc.RevokeToken(ctx, raw, false); err != nil {
		t.Fatalf("RevokeToken on expired token: %v", err)
	}
}

func TestRefreshRotatesAndIsSingleUse(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	pair, err := svc.Refresh(ctx, refresh)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if pair.RefreshToken == refresh {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := svc.ValidateAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}

	if _, err := svc.Refresh(ctx, refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second use of refresh token must fail, got %v", err)
	}
	// The rotated token still works.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("rotated refresh token must be usable: %v", err)
	}
}

func TestGrantDeletionRevokesToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	store.dropGrant(7, "ACOES_PNGI", 3)

	if _, err := svc.ValidateAccessToken(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after grant deletion, got %v", err)
	}
}

func TestDeactivationRevokesToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	store.setUser(identity.User{ID: 7, Email: "gestor@pngi.gov.br", Active: false})

	if _, err := svc.ValidateAccessToken(ctx, raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after deactivation, got %v", err)
	}
}

func TestReservedClaimsCannotBeOverridden(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken(ctx, 7, "ACOES_PNGI", 3, map[string]any{
		"sub":        "999",
		"role_code":  "FORJADO",
		"token_type": TypeRefresh,
		"setor":      "TI",
	})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	claims, err := svc.ValidateAccessToken(ctx, raw)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Subject != 7 || claims.RoleCode != "GESTOR_PNGI" || claims.TokenType != TypeAccess {
		t.Fatalf("reserved claims were overridden: %+v", claims)
	}
	if len(claims.Extra) != 1 || claims.Extra["setor"] != "TI" {
		t.Fatalf("unexpected extra claims: %v", claims.Extra)
	}
}

func TestLogin(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	hash, err := identity.HashPassword("senha-forte")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store.setUser(identity.User{ID: 7, Email: "gestor@pngi.gov.br", Active: true, PasswordHash: hash})

	session, err := svc.Login(ctx, "gestor@pngi.gov.br", "senha-forte", "ACOES_PNGI", 3)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session == nil {
		t.Fatal("expected a session")
	}
	if session.User.ID != 7 {
		t.Fatalf("unexpected user: %+v", session.User)
	}
	claims, err := svc.ValidateAccessToken(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("access token from login invalid: %v", err)
	}
	if claims.ApplicationCode != "ACOES_PNGI" || claims.ActiveRoleID != 3 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectedCredentials(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	hash, err := identity.HashPassword("senha-forte")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store.setUser(identity.User{ID: 7, Email: "gestor@pngi.gov.br", Active: true, PasswordHash: hash})

	// Wrong password and unknown email both yield (nil, nil).
	session, err := svc.Login(ctx, "gestor@pngi.gov.br", "errada", "ACOES_PNGI", 3)
	if err != nil || session != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", session, err)
	}
	session, err = svc.Login(ctx, "ninguem@pngi.gov.br", "senha-forte", "ACOES_PNGI", 3)
	if err != nil || session != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", session, err)
	}
}
