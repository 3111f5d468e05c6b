package identity

import "time"

// User is an identity principal shared by every application on the platform.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Active       bool      `json:"active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Application is a tenant boundary identified by a stable code such as
// "ACOES_PNGI". Roles and permissions are always scoped to one application.
type Application struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Role is a named permission bundle scoped to exactly one application.
// (ApplicationCode, Code) is unique.
type Role struct {
	ID              int64     `json:"id"`
	ApplicationCode string    `json:"application_code"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
}

// UserRoleGrant binds a user to a role within an application. It is the
// authorization context a token encodes and the single source of truth an
// issued token is checked against: deleting the row revokes every in-flight
// token that references it.
type UserRoleGrant struct {
	UserID          int64     `json:"user_id"`
	ApplicationCode string    `json:"application_code"`
	RoleID          int64     `json:"role_id"`
	RoleCode        string    `json:"role_code"`
	CreatedAt       time.Time `json:"created_at"`
}

// Group is the permission bundle a role resolves to through the
// "{application_code}_{role_code}" naming convention.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Permission is a flat codename of the form "{action}_{resource}",
// e.g. "add_eixo".
type Permission struct {
	ID       int64  `json:"id"`
	Codename string `json:"codename"`
	Name     string `json:"name,omitempty"`
}
