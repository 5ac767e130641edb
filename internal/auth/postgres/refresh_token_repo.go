// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/agora-forum/agora/internal/auth"
)

// RefreshTokenRepository implements auth.RefreshTokenRepository using
// PostgreSQL. Rows are only ever flipped to revoked, never deleted.
type RefreshTokenRepository struct {
	pool Pool
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// Create stores a new refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, rec *auth.RefreshTokenRecord) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, token_hash, user_id, expires_at, revoked, revoked_at,
			revoked_reason, device_info, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID.String(),
		rec.TokenHash,
		rec.UserID,
		rec.ExpiresAt,
		rec.Revoked,
		rec.RevokedAt,
		reasonToStringPtr(rec.RevokedReason),
		rec.DeviceInfo,
		rec.IPAddress,
		rec.CreatedAt,
	)
	if err != nil {
		return oops.Code("REFRESH_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return nil
}

// GetByHash retrieves a record by token hash, revoked or not.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*auth.RefreshTokenRecord, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, token_hash, user_id, expires_at, revoked, revoked_at,
		       revoked_reason, device_info, ip_address, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	rec, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_GET_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	return rec, nil
}

// Revoke flips a single active record to revoked. It returns auth.ErrNotFound
// when the record is missing or was already revoked, so only one concurrent
// caller can win.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id ulid.ULID, reason auth.RevocationReason, at time.Time) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND NOT revoked
	`, id.String(), at, string(reason))
	if err != nil {
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("REFRESH_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// RevokeAllForUser revokes every active record of a user, optionally sparing one.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64, exceptID *ulid.ULID, reason auth.RevocationReason, at time.Time) (int64, error) {
	var except *string
	if exceptID != nil {
		s := exceptID.String()
		except = &s
	}
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND NOT revoked
		  AND ($4::text IS NULL OR id <> $4)
	`, userID, at, string(reason), except)
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_FAILED").
			With("operation", "revoke all refresh tokens").
			With("user_id", userID).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// RevokeExpired flips every active record past its expiry to revoked.
func (r *RefreshTokenRepository) RevokeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $1, revoked_reason = $2
		WHERE NOT revoked AND expires_at <= $1
	`, now, string(auth.ReasonExpired))
	if err != nil {
		return 0, oops.Code("REFRESH_SWEEP_FAILED").
			With("operation", "revoke expired refresh tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// CountActive returns the number of active, unexpired records of a user.
func (r *RefreshTokenRepository) CountActive(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var count int64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM refresh_tokens
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
	`, userID, now).Scan(&count)
	if err != nil {
		return 0, oops.Code("REFRESH_COUNT_FAILED").
			With("operation", "count active refresh tokens").
			With("user_id", userID).
			Wrap(err)
	}
	return count, nil
}

func scanRefreshToken(row pgx.Row) (*auth.RefreshTokenRecord, error) {
	var (
		rec    auth.RefreshTokenRecord
		idStr  string
		reason *string
	)
	err := row.Scan(
		&idStr,
		&rec.TokenHash,
		&rec.UserID,
		&rec.ExpiresAt,
		&rec.Revoked,
		&rec.RevokedAt,
		&reason,
		&rec.DeviceInfo,
		&rec.IPAddress,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse refresh token id").With("id", idStr).Wrap(err)
	}
	rec.ID = id
	if reason != nil {
		r := auth.RevocationReason(*reason)
		rec.RevokedReason = &r
	}
	return &rec, nil
}

func reasonToStringPtr(reason *auth.RevocationReason) *string {
	if reason == nil {
		return nil
	}
	s := string(*reason)
	return &s
}
