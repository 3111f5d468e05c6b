package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service carries the administrative flows that maintain the identity
// store: applications, roles, grants and the permission bundles behind
// them. Grant mutations are what ultimately revoke in-flight tokens, so
// everything here stays thin and explicit.
type Service struct {
	store Store
}

// NewService constructs the administrative service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	return &Service{store: store}, nil
}

// CreateUser registers a user with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, email, password string, active bool) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, email, hash, active)
}

// Authenticate verifies credentials and returns the matching active user.
// Both an unknown email and a wrong password return ErrNotFound so callers
// cannot distinguish which check failed.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, ErrNotFound
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrNotFound
	}
	return user, nil
}

// SetUserActive flips the active flag; deactivation makes every token
// issued to the user fail validation on its next use.
func (s *Service) SetUserActive(ctx context.Context, userID int64, active bool) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.SetUserActive(ctx, userID, active)
}

// CreateApplication registers a tenant under its stable code.
func (s *Service) CreateApplication(ctx context.Context, code, name string) (Application, error) {
	code = strings.TrimSpace(strings.ToUpper(code))
	if code == "" {
		return Application{}, fmt.Errorf("%w: application code is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Application{}, fmt.Errorf("%w: application name is required", ErrInvalidInput)
	}
	return s.store.CreateApplication(ctx, code, name)
}

// ListApplications returns every registered tenant.
func (s *Service) ListApplications(ctx context.Context) ([]Application, error) {
	return s.store.ListApplications(ctx)
}

// CreateRole registers a role inside an application and ensures its
// permission group "{application_code}_{role_code}" exists, preserving the
// one-bundle-per-role invariant.
func (s *Service) CreateRole(ctx context.Context, applicationCode, code, name string) (Role, error) {
	applicationCode = strings.TrimSpace(strings.ToUpper(applicationCode))
	code = strings.TrimSpace(strings.ToUpper(code))
	if applicationCode == "" || code == "" {
		return Role{}, fmt.Errorf("%w: application code and role code are required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = code
	}
	if _, err := s.store.GetApplication(ctx, applicationCode); err != nil {
		return Role{}, err
	}
	role, err := s.store.CreateRole(ctx, applicationCode, code, name)
	if err != nil {
		return Role{}, err
	}
	if _, err := s.store.EnsureGroup(ctx, GroupName(applicationCode, code)); err != nil {
		return Role{}, fmt.Errorf("ensure permission group: %w", err)
	}
	return role, nil
}

// ListRoles returns the roles of one application.
func (s *Service) ListRoles(ctx context.Context, applicationCode string) ([]Role, error) {
	applicationCode = strings.TrimSpace(strings.ToUpper(applicationCode))
	if applicationCode == "" {
		return nil, fmt.Errorf("%w: application code is required", ErrInvalidInput)
	}
	return s.store.ListRoles(ctx, applicationCode)
}

// SetRolePermissions replaces the permission codenames owned by the role's
// group. Callers should follow up with an authorization-cache invalidation
// for the role; staleness is otherwise bounded by the cache TTL.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, codenames []string) error {
	if roleID <= 0 {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	cleaned := make([]string, 0, len(codenames))
	seen := make(map[string]struct{}, len(codenames))
	for _, cn := range codenames {
		cn = strings.TrimSpace(strings.ToLower(cn))
		if cn == "" {
			continue
		}
		action, _, ok := SplitCodename(cn)
		if !ok || !ValidAction(action) {
			return fmt.Errorf("%w: malformed permission codename %q", ErrInvalidInput, cn)
		}
		if _, dup := seen[cn]; dup {
			continue
		}
		seen[cn] = struct{}{}
		cleaned = append(cleaned, cn)
	}
	return s.store.SetGroupPermissions(ctx, GroupName(role.ApplicationCode, role.Code), cleaned)
}

// Grant binds a user to a role within an application.
func (s *Service) Grant(ctx context.Context, userID int64, applicationCode string, roleID int64) (UserRoleGrant, error) {
	applicationCode = strings.TrimSpace(strings.ToUpper(applicationCode))
	if userID <= 0 || applicationCode == "" || roleID <= 0 {
		return UserRoleGrant{}, fmt.Errorf("%w: user_id, application code and role_id are required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return UserRoleGrant{}, err
	}
	if role.ApplicationCode != applicationCode {
		return UserRoleGrant{}, fmt.Errorf("%w: role %d does not belong to application %s", ErrInvalidInput, roleID, applicationCode)
	}
	return s.store.CreateGrant(ctx, userID, applicationCode, roleID)
}

// Revoke deletes a grant. Tokens frozen on the deleted context fail their
// next validation.
func (s *Service) Revoke(ctx context.Context, userID int64, applicationCode string, roleID int64) error {
	applicationCode = strings.TrimSpace(strings.ToUpper(applicationCode))
	if userID <= 0 || applicationCode == "" || roleID <= 0 {
		return fmt.Errorf("%w: user_id, application code and role_id are required", ErrInvalidInput)
	}
	return s.store.DeleteGrant(ctx, userID, applicationCode, roleID)
}
