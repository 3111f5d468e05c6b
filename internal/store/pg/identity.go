package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"acesso.org/internal/identity"
)

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, active bool) (identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		insert into users (email, password_hash, active)
		values ($1, $2, $3)
		returning id, email, password_hash, active, created_at, updated_at
	`, email, passwordHash, active).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return identity.User{}, mapWriteErr(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, active, created_at, updated_at
		from users where id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, active, created_at, updated_at
		from users where email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update users set active = $2, updated_at = now() where id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) CreateApplication(ctx context.Context, code, name string) (identity.Application, error) {
	var app identity.Application
	err := s.db.QueryRowContext(ctx, `
		insert into applications (code, name)
		values ($1, $2)
		returning id, code, name, created_at
	`, code, name).Scan(&app.ID, &app.Code, &app.Name, &app.CreatedAt)
	if err != nil {
		return identity.Application{}, mapWriteErr(err)
	}
	return app, nil
}

func (s *Store) GetApplication(ctx context.Context, code string) (identity.Application, error) {
	var app identity.Application
	err := s.db.QueryRowContext(ctx, `
		select id, code, name, created_at from applications where code = $1
	`, code).Scan(&app.ID, &app.Code, &app.Name, &app.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Application{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Application{}, err
	}
	return app, nil
}

func (s *Store) ListApplications(ctx context.Context) ([]identity.Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, code, name, created_at from applications order by code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Application
	for rows.Next() {
		var app identity.Application
		if err := rows.Scan(&app.ID, &app.Code, &app.Name, &app.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, applicationCode, code, name string) (identity.Role, error) {
	var role identity.Role
	err := s.db.QueryRowContext(ctx, `
		insert into roles (application_code, code, name)
		values ($1, $2, $3)
		returning id, application_code, code, name, created_at
	`, applicationCode, code, name).Scan(&role.ID, &role.ApplicationCode, &role.Code, &role.Name, &role.CreatedAt)
	if err != nil {
		return identity.Role{}, mapWriteErr(err)
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (identity.Role, error) {
	var role identity.Role
	err := s.db.QueryRowContext(ctx, `
		select id, application_code, code, name, created_at from roles where id = $1
	`, id).Scan(&role.ID, &role.ApplicationCode, &role.Code, &role.Name, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Role{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Role{}, err
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, applicationCode string) ([]identity.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, application_code, code, name, created_at
		from roles where application_code = $1 order by code
	`, applicationCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Role
	for rows.Next() {
		var role identity.Role
		if err := rows.Scan(&role.ID, &role.ApplicationCode, &role.Code, &role.Name, &role.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

func (s *Store) CreateGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) (identity.UserRoleGrant, error) {
	var g identity.UserRoleGrant
	err := s.db.QueryRowContext(ctx, `
		insert into user_role_grants (user_id, application_code, role_id)
		values ($1, $2, $3)
		returning user_id, application_code, role_id, created_at
	`, userID, applicationCode, roleID).Scan(&g.UserID, &g.ApplicationCode, &g.RoleID, &g.CreatedAt)
	if err != nil {
		return identity.UserRoleGrant{}, mapWriteErr(err)
	}
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return identity.UserRoleGrant{}, err
	}
	g.RoleCode = role.Code
	return g, nil
}

func (s *Store) DeleteGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_role_grants
		where user_id = $1 and application_code = $2 and role_id = $3
	`, userID, applicationCode, roleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) GetGrant(ctx context.Context, userID int64, applicationCode string, roleID int64) (identity.UserRoleGrant, error) {
	var g identity.UserRoleGrant
	err := s.db.QueryRowContext(ctx, `
		select g.user_id, g.application_code, g.role_id, r.code, g.created_at
		from user_role_grants g
		join roles r on r.id = g.role_id
		where g.user_id = $1 and g.application_code = $2 and g.role_id = $3
	`, userID, applicationCode, roleID).Scan(&g.UserID, &g.ApplicationCode, &g.RoleID, &g.RoleCode, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.UserRoleGrant{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.UserRoleGrant{}, err
	}
	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, userID int64, applicationCode string) ([]identity.UserRoleGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select g.user_id, g.application_code, g.role_id, r.code, g.created_at
		from user_role_grants g
		join roles r on r.id = g.role_id
		where g.user_id = $1 and g.application_code = $2
		order by g.role_id
	`, userID, applicationCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.UserRoleGrant
	for rows.Next() {
		var g identity.UserRoleGrant
		if err := rows.Scan(&g.UserID, &g.ApplicationCode, &g.RoleID, &g.RoleCode, &g.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (s *Store) EnsureGroup(ctx context.Context, name string) (identity.Group, error) {
	var g identity.Group
	err := s.db.QueryRowContext(ctx, `
		insert into groups (name) values ($1)
		on conflict (name) do update set name = excluded.name
		returning id, name
	`, name).Scan(&g.ID, &g.Name)
	if err != nil {
		return identity.Group{}, err
	}
	return g, nil
}

func (s *Store) SetGroupPermissions(ctx context.Context, groupName string, codenames []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var groupID int64
	err = tx.QueryRowContext(ctx, `
		insert into groups (name) values ($1)
		on conflict (name) do update set name = excluded.name
		returning id
	`, groupName).Scan(&groupID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		delete from group_permissions where group_id = $1
	`, groupID); err != nil {
		return err
	}

	for _, codename := range codenames {
		var permID int64
		err = tx.QueryRowContext(ctx, `
			insert into permissions (codename) values ($1)
			on conflict (codename) do update set codename = excluded.codename
			returning id
		`, codename).Scan(&permID)
		if err != nil {
			return fmt.Errorf("ensure permission %s: %w", codename, err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into group_permissions (group_id, permission_id)
			values ($1, $2) on conflict do nothing
		`, groupID, permID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GroupPermissions(ctx context.Context, groupName string) ([]string, error) {
	var groupID int64
	err := s.db.QueryRowContext(ctx, `
		select id from groups where name = $1
	`, groupName).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select p.codename
		from group_permissions gp
		join permissions p on p.id = gp.permission_id
		where gp.group_id = $1
		order by p.codename
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}
