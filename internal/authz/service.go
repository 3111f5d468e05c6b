// Package authz answers "may (user, application, role) perform action on
// resource?" without trusting token claims as ground truth. Every check
// goes back to the identity store through a 5-minute TTL cache; any
// internal fault is logged and converted to a deny. Nothing in this
// package ever raises past its own boundary.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"acesso.org/internal/cache"
	"acesso.org/internal/identity"
	"acesso.org/internal/obs"
)

const (
	defaultTTL = 5 * time.Minute

	// DefaultSuperRoleCode is the reserved role code granted unconditional
	// access in every application.
	DefaultSuperRoleCode = "PORTAL_ADMIN"
)

// Service resolves role-to-permission questions with cache-backed
// memoization. Construct with NewService; dependencies are injected.
type Service struct {
	store         identity.Store
	cache         cache.Cache
	superRoleCode string
	ttl           time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithSuperRoleCode overrides the reserved super-admin role code.
func WithSuperRoleCode(code string) Option {
	return func(s *Service) {
		if code != "" {
			s.superRoleCode = code
		}
	}
}

// WithTTL overrides the fixed cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService constructs the authorization service.
func NewService(store identity.Store, c cache.Cache, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if c == nil {
		return nil, errors.New("cache is required")
	}
	svc := &Service{
		store:         store,
		cache:         c,
		superRoleCode: DefaultSuperRoleCode,
		ttl:           defaultTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Can reports whether the user, acting under the given role in the given
// application, may perform action on resource. The default is always deny:
// a missing grant, an unknown role, an unknown application, or any
// internal failure all return false.
func (s *Service) Can(ctx context.Context, userID int64, applicationCode string, activeRoleID int64, action, resource string) bool {
	allowed := s.can(ctx, userID, applicationCode, activeRoleID, action, resource)
	obs.ObserveAuthzDecision(allowed)
	return allowed
}

func (s *Service) can(ctx context.Context, userID int64, applicationCode string, activeRoleID int64, action, resource string) bool {
	// The grant check is the revocation enforcement point: a grant deleted
	// after token issuance denies here at the latest.
	exists, err := s.grantExists(ctx, userID, applicationCode, activeRoleID)
	if err != nil {
		s.deny(err, "grant lookup failed", userID, applicationCode, activeRoleID)
		return false
	}
	if !exists {
		return false
	}

	super, err := s.isSuperRole(ctx, activeRoleID)
	if err != nil {
		s.deny(err, "super role lookup failed", userID, applicationCode, activeRoleID)
		return false
	}
	if super {
		return true
	}

	perms, err := s.permissionSet(ctx, applicationCode, activeRoleID)
	if err != nil {
		s.deny(err, "permission resolution failed", userID, applicationCode, activeRoleID)
		return false
	}
	_, ok := perms[identity.Codename(action, resource)]
	return ok
}

// UserPermissions enumerates every role the user holds in the application
// and unions the resolved permission sets, regrouped per resource. A
// super-admin grant short-circuits to the wildcard set. Internal faults
// are logged and yield an empty map.
func (s *Service) UserPermissions(ctx context.Context, userID int64, applicationCode string) map[string][]string {
	grants, err := s.store.ListGrants(ctx, userID, applicationCode)
	if err != nil {
		s.deny(err, "grant enumeration failed", userID, applicationCode, 0)
		return map[string][]string{}
	}

	for _, g := range grants {
		if g.RoleCode == s.superRoleCode {
			return map[string][]string{"*": append([]string(nil), identity.Actions...)}
		}
	}

	byResource := make(map[string]map[string]struct{})
	for _, g := range grants {
		perms, err := s.permissionSet(ctx, applicationCode, g.RoleID)
		if err != nil {
			s.deny(err, "permission resolution failed", userID, applicationCode, g.RoleID)
			continue
		}
		for codename := range perms {
			action, resource, ok := identity.SplitCodename(codename)
			if !ok {
				continue
			}
			if byResource[resource] == nil {
				byResource[resource] = make(map[string]struct{})
			}
			byResource[resource][action] = struct{}{}
		}
	}

	out := make(map[string][]string, len(byResource))
	for resource, actions := range byResource {
		list := make([]string, 0, len(actions))
		for _, a := range identity.Actions {
			if _, ok := actions[a]; ok {
				list = append(list, a)
			}
		}
		out[resource] = list
	}
	return out
}

// InvalidateCache clears the cached permission sets and super-role flags
// for one role, or for every role when roleID is zero. Administrative
// flows call it after changing a role's permission bundle; without it,
// staleness is bounded by the cache TTL.
func (s *Service) InvalidateCache(ctx context.Context, roleID int64) error {
	if roleID > 0 {
		if err := s.cache.DeleteMatch(ctx, fmt.Sprintf("%s:*:%d", permsKeyPrefix, roleID)); err != nil {
			return err
		}
		return s.cache.Delete(ctx, superRoleKey(roleID))
	}
	if err := s.cache.DeleteMatch(ctx, permsKeyPrefix+":*"); err != nil {
		return err
	}
	return s.cache.DeleteMatch(ctx, superRoleKeyPrefix+":*")
}

func (s *Service) grantExists(ctx context.Context, userID int64, applicationCode string, roleID int64) (bool, error) {
	key := grantKey(userID, applicationCode, roleID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return string(raw) == "1", nil
	}

	exists := true
	if _, err := s.store.GetGrant(ctx, userID, applicationCode, roleID); err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			return false, err
		}
		exists = false
	}
	value := []byte("0")
	if exists {
		value = []byte("1")
	}
	// Negative results are cached too: absent grants are checked just as
	// often as present ones.
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		return exists, nil
	}
	return exists, nil
}

func (s *Service) isSuperRole(ctx context.Context, roleID int64) (bool, error) {
	key := superRoleKey(roleID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return string(raw) == "1", nil
	}

	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	super := role.Code == s.superRoleCode
	value := []byte("0")
	if super {
		value = []byte("1")
	}
	_ = s.cache.Set(ctx, key, value, s.ttl)
	return super, nil
}

// permissionSet resolves the codename set for (application, role): load
// the role, derive the "{application_code}_{role_code}" group, load that
// group's codenames, cache the result.
func (s *Service) permissionSet(ctx context.Context, applicationCode string, roleID int64) (map[string]struct{}, error) {
	key := permsKey(applicationCode, roleID)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var codes []string
		if err := json.Unmarshal(raw, &codes); err == nil {
			return toSet(codes), nil
		}
	}

	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	codes, err := s.store.GroupPermissions(ctx, identity.GroupName(applicationCode, role.Code))
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(codes); err == nil {
		_ = s.cache.Set(ctx, key, raw, s.ttl)
	}
	return toSet(codes), nil
}

func (s *Service) deny(err error, msg string, userID int64, applicationCode string, roleID int64) {
	obs.Error("authz: "+msg+"; denying", map[string]any{
		"error":       err.Error(),
		"user_id":     userID,
		"application": applicationCode,
		"role_id":     roleID,
	})
}

func toSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
