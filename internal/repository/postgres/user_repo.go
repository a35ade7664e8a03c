package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/portal-auth/internal/errs"
	"github.com/and161185/portal-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, name, avatar, active, is_super_admin, preferences,
admin_app_user_id, joined_at, invited_at, last_active, created_at, updated_at`

// GetByEmail selects a user by email regardless of its active flag.
func (r *UserRepo) GetByEmail(ctx context.Context, email string, withPermissions bool) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return r.getOne(ctx, q, email, withPermissions)
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID, withPermissions bool) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.getOne(ctx, q, id, withPermissions)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any, withPermissions bool) (*model.User, error) {
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.Name, &u.Avatar, &u.Active, &u.IsSuperAdmin, &u.Preferences,
		&u.AdminAppUserID, &u.JoinedAt, &u.InvitedAt, &u.LastActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if withPermissions {
		roles, err := r.roles(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("load roles: %w", err)
		}
		u.Roles = roles
	}
	return &u, nil
}

// roles loads the user's roles in assignment order with their permissions.
func (r *UserRepo) roles(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	const q = `
SELECT r.id, r.name, r.level, p.id, p.name
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY ur.position, r.id, p.name`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Role
	for rows.Next() {
		var (
			role     model.Role
			permID   uuid.NullUUID
			permName *string
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Level, &permID, &permName); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != role.ID {
			out = append(out, role)
		}
		if permID.Valid && permName != nil {
			last := &out[len(out)-1]
			last.Permissions = append(last.Permissions, model.Permission{ID: permID.UUID, Name: *permName})
		}
	}
	return out, rows.Err()
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		u.ID = id
	}
	if u.Preferences == nil {
		u.Preferences = map[string]any{}
	}
	const q = `
INSERT INTO users (id, email, name, avatar, active, is_super_admin, preferences, admin_app_user_id, joined_at, invited_at, last_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Email, u.Name, u.Avatar, u.Active, u.IsSuperAdmin,
		u.Preferences, u.AdminAppUserID, u.JoinedAt, u.InvitedAt, u.LastActive)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Update refreshes login-driven fields. Active, super-admin and invitation
// state are owned elsewhere and never written here.
func (r *UserRepo) Update(ctx context.Context, u *model.User) error {
	const q = `
UPDATE users
SET name = $2, avatar = $3, joined_at = $4, last_active = $5, updated_at = now()
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, u.ID, u.Name, u.Avatar, u.JoinedAt, u.LastActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
