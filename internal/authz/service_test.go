package authz

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"acesso.org/internal/cache/memory"
	"acesso.org/internal/identity"
)

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

// fakeStore covers the read paths authorization exercises. failGroups
// simulates a backend outage during permission resolution.
type fakeStore struct {
	identity.Store

	mu         sync.Mutex
	roles      map[int64]identity.Role
	grants     map[string]identity.UserRoleGrant
	groups     map[string][]string
	failGroups bool
}

func storeKey(userID int64, applicationCode string, roleID int64) string {
	return fmt.Sprintf("%d|%s|%d", userID, applicationCode, roleID)
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		roles:  map[int64]identity.Role{},
		grants: map[string]identity.UserRoleGrant{},
		groups: map[string][]string{},
	}
	f.roles[3] = identity.Role{ID: 3, ApplicationCode: "ACOES_PNGI", Code: "GESTOR_PNGI"}
	f.roles[9] = identity.Role{ID: 9, ApplicationCode: "ACOES_PNGI", Code: "PORTAL_ADMIN"}
	f.setGrant(identity.UserRoleGrant{UserID: 7, ApplicationCode: "ACOES_PNGI", RoleID: 3, RoleCode: "GESTOR_PNGI"})
	f.groups["ACOES_PNGI_GESTOR_PNGI"] = []string{"add_eixo", "view_eixo", "view_situacaoacao"}
	return f
}

func (f *fakeStore) setGrant(g identity.UserRoleGrant) {
	f.mu.Lock()
	f.grants[storeKey(g.UserID, g.ApplicationCode, g.RoleID)] = g
	f.mu.Unlock()
}

func (f *fakeStore) setGroup(name string, codenames []string) {
	f.mu.Lock()
	f.groups[name] = codenames
	f.mu.Unlock()
}

func (f *fakeStore) GetGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) (identity.UserRoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[storeKey(userID, applicationCode, roleID)]
	if !ok {
		return identity.UserRoleGrant{}, identity.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) ListGrants(ctx context.Context, userID int64, applicationCode string) ([]identity.UserRoleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []identity.UserRoleGrant
	for _, g := range f.grants {
		if g.UserID == userID && g.ApplicationCode == applicationCode {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRole(ctx context.Context, id int64) (identity.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[id]
	if !ok {
		return identity.Role{}, identity.ErrNotFound
	}
	return role, nil
}

func (f *fakeStore) GroupPermissions(ctx context.Context, groupName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGroups {
		return nil, errors.New("backend unavailable")
	}
	codes, ok := f.groups[groupName]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return append([]string(nil), codes...), nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeStore, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	store := newFakeStore()
	svc, err := NewService(store, memory.NewAdapterWithClock(clk.Now), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clk
}

func TestCanAllowsGrantedPermission(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if !svc.Can(ctx, 7, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected add_eixo to be allowed")
	}
	if !svc.Can(ctx, 7, "ACOES_PNGI", 3, "view", "SituacaoAcao") {
		t.Fatal("resource names must be matched case-insensitively")
	}
}

func TestCanDeniesByDefault(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// Granted role, permission not in the bundle.
	if svc.Can(ctx, 7, "ACOES_PNGI", 3, "delete", "situacaoacao") {
		t.Fatal("expected delete_situacaoacao to be denied")
	}
	// No grant at all.
	if svc.Can(ctx, 99, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected deny without a grant")
	}
	// Unknown application.
	if svc.Can(ctx, 7, "INEXISTENTE", 3, "add", "eixo") {
		t.Fatal("expected deny for unknown application")
	}
	// Grant pointing at a role the store no longer knows.
	store.setGrant(identity.UserRoleGrant{UserID: 7, ApplicationCode: "ACOES_PNGI", RoleID: 55, RoleCode: "FANTASMA"})
	if svc.Can(ctx, 7, "ACOES_PNGI", 55, "add", "eixo") {
		t.Fatal("expected deny for unknown role")
	}
}

func TestSuperRoleBypassesPermissionChecks(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.setGrant(identity.UserRoleGrant{UserID: 12, ApplicationCode: "ACOES_PNGI", RoleID: 9, RoleCode: "PORTAL_ADMIN"})

	if !svc.Can(ctx, 12, "ACOES_PNGI", 9, "delete", "qualquercoisa") {
		t.Fatal("expected super role to bypass permission lookup")
	}
}

func TestStoreFailureDenies(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.failGroups = true
	if svc.Can(ctx, 7, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected deny when permission resolution fails")
	}
}

func TestPermissionCachingAndInvalidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if !svc.Can(ctx, 7, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected initial allow")
	}

	// Shrinking the bundle is invisible until the cache is invalidated.
	store.setGroup("ACOES_PNGI_GESTOR_PNGI", []string{"view_eixo"})
	if !svc.Can(ctx, 7, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected cached allow before invalidation")
	}

	if err := svc.InvalidateCache(ctx, 3); err != nil {
		t.Fatalf("InvalidateCache: %v", err)
	}
	if svc.Can(ctx, 7, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected deny after invalidation")
	}
}

func TestGrantCacheExpiresWithTTL(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()

	// The negative grant lookup is cached too.
	if svc.Can(ctx, 21, "ACOES_PNGI", 3, "view", "eixo") {
		t.Fatal("expected deny without a grant")
	}
	store.setGrant(identity.UserRoleGrant{UserID: 21, ApplicationCode: "ACOES_PNGI", RoleID: 3, RoleCode: "GESTOR_PNGI"})
	if svc.Can(ctx, 21, "ACOES_PNGI", 3, "view", "eixo") {
		t.Fatal("expected cached deny before the TTL elapses")
	}

	clk.Advance(5*time.Minute + time.Second)
	if !svc.Can(ctx, 21, "ACOES_PNGI", 3, "view", "eixo") {
		t.Fatal("expected allow after the cached entry expired")
	}
}

func TestInvalidateCacheAllRoles(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if !svc.Can(ctx, 7, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected initial allow")
	}
	store.setGroup("ACOES_PNGI_GESTOR_PNGI", nil)

	if err := svc.InvalidateCache(ctx, 0); err != nil {
		t.Fatalf("InvalidateCache: %v", err)
	}
	if svc.Can(ctx, 7, "ACOES_PNGI", 3, "add", "eixo") {
		t.Fatal("expected deny after global invalidation")
	}
}

func TestUserPermissionsGroupsByResource(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	got := svc.UserPermissions(ctx, 7, "ACOES_PNGI")
	want := map[string][]string{
		"eixo":         {"view", "add"},
		"situacaoacao": {"view"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UserPermissions=%v, want %v", got, want)
	}

	if got := svc.UserPermissions(ctx, 99, "ACOES_PNGI"); len(got) != 0 {
		t.Fatalf("expected empty map without grants, got %v", got)
	}
}

func TestUserPermissionsSuperRoleWildcard(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.setGrant(identity.UserRoleGrant{UserID: 12, ApplicationCode: "ACOES_PNGI", RoleID: 9, RoleCode: "PORTAL_ADMIN"})

	got := svc.UserPermissions(ctx, 12, "ACOES_PNGI")
	want := map[string][]string{"*": {"view", "add", "change", "delete"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UserPermissions=%v, want %v", got, want)
	}
}

func TestWithSuperRoleCode(t *testing.T) {
	clk := newFakeClock()
	store := newFakeStore()
	store.roles[11] = identity.Role{ID: 11, ApplicationCode: "ACOES_PNGI", Code: "ROOT"}
	store.setGrant(identity.UserRoleGrant{UserID: 5, ApplicationCode: "ACOES_PNGI", RoleID: 11, RoleCode: "ROOT"})

	svc, err := NewService(store, memory.NewAdapterWithClock(clk.Now), WithSuperRoleCode("ROOT"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if !svc.Can(context.Background(), 5, "ACOES_PNGI", 11, "delete", "eixo") {
		t.Fatal("expected custom super role to bypass checks")
	}
}
