package identity

import "context"

// Store describes the persistence operations the IAM core requires from the
// Identity Store. Implementations map ErrNotFound/ErrConflict onto their
// backend's notions of missing rows and unique violations.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string, active bool) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error

	CreateApplication(ctx context.Context, code, name string) (Application, error)
	GetApplication(ctx context.Context, code string) (Application, error)
	ListApplications(ctx context.Context) ([]Application, error)

	CreateRole(ctx context.Context, applicationCode, code, name string) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, applicationCode string) ([]Role, error)

	CreateGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) (UserRoleGrant, error)
	DeleteGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) error
	// GetGrant returns the grant including the resolved role code, or
	// ErrNotFound when the (user, application, role) triple is absent.
	GetGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) (UserRoleGrant, error)
	ListGrants(ctx context.Context, userID int64, applicationCode string) ([]UserRoleGrant, error)

	EnsureGroup(ctx context.Context, name string) (Group, error)
	SetGroupPermissions(ctx context.Context, groupName string, codenames []string) error
	// GroupPermissions returns the flat permission codenames owned by the
	// named group. A missing group is ErrNotFound.
	GroupPermissions(ctx context.Context, groupName string) ([]string, error)
}
