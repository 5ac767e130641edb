// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/agora-forum/agora/internal/auth"
)

const userColumns = `id, username, email, name, academic_number, role, approval_status,
		       auth_method, password_hash, picture, is_active, is_deleted,
		       last_login_at, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
// Lookups ignore soft-deleted rows.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user and fills in its generated id and timestamps.
// A unique index violation wraps auth.ErrDuplicate with the offending field.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (
			username, email, name, academic_number, role, approval_status,
			auth_method, password_hash, picture, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`,
		user.Username,
		user.Email,
		user.Name,
		user.AcademicNumber,
		string(user.Role),
		string(user.Approval),
		string(user.AuthMethod),
		user.PasswordHash,
		user.Picture,
		user.IsActive,
	)
	if err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			return oops.Code("USER_DUPLICATE").
				With("field", constraintField(constraint)).
				With("constraint", constraint).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return r.getBy(ctx, "id", `id = $1`, id)
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.getBy(ctx, "username", `LOWER(username) = LOWER($1)`, username)
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getBy(ctx, "email", `LOWER(email) = LOWER($1)`, email)
}

// GetByAcademicNumber retrieves a user by academic number.
func (r *UserRepository) GetByAcademicNumber(ctx context.Context, academicNumber string) (*auth.User, error) {
	return r.getBy(ctx, "academic_number", `academic_number = $1`, academicNumber)
}

func (r *UserRepository) getBy(ctx context.Context, key, where string, value any) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE `+where+` AND NOT is_deleted
	`, value)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by "+key).
			With(key, value).
			Wrap(err)
	}
	return user, nil
}

// UpdateLastLogin records a successful session issuance.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET last_login_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_deleted
	`, id, at)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update last login").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePasswordHash replaces the stored password hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted
	`, id, passwordHash)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update password hash").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		user                   auth.User
		role, approval, method string
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Name,
		&user.AcademicNumber,
		&role,
		&approval,
		&method,
		&user.PasswordHash,
		&user.Picture,
		&user.IsActive,
		&user.IsDeleted,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = auth.Role(role)
	user.Approval = auth.ApprovalStatus(approval)
	user.AuthMethod = auth.AuthMethod(method)
	return &user, nil
}
