// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RevocationReason records why a refresh token stopped being active.
type RevocationReason string

// Revocation reasons. Every reason is terminal.
const (
	ReasonRotated       RevocationReason = "rotated"
	ReasonLogout        RevocationReason = "logout"
	ReasonReuseDetected RevocationReason = "reuse_detected"
	ReasonExpired       RevocationReason = "expired"
	ReasonSignin        RevocationReason = "signin"
	ReasonAdmin         RevocationReason = "admin"
)

// DeviceContext is request metadata stored with an issued refresh token.
type DeviceContext struct {
	UserAgent string
	IPAddress string
}

// RefreshTokenRecord is the server-side record of an issued refresh token.
// Records are only ever flipped to revoked, never deleted.
type RefreshTokenRecord struct {
	ID            ulid.ULID
	TokenHash     string
	UserID        int64
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason *RevocationReason
	DeviceInfo    *string
	IPAddress     *string
	CreatedAt     time.Time
}

// NewRefreshTokenRecord creates a validated, active RefreshTokenRecord issued
// at issuedAt.
func NewRefreshTokenRecord(userID int64, tokenHash string, issuedAt, expiresAt time.Time, device DeviceContext) (*RefreshTokenRecord, error) {
	if userID <= 0 {
		return nil, oops.Code("REFRESH_INVALID_USER").With("user_id", userID).Errorf("user ID must be positive")
	}
	if tokenHash == "" {
		return nil, oops.Code("REFRESH_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("REFRESH_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	if issuedAt.IsZero() {
		return nil, oops.Code("REFRESH_INVALID_ISSUED_AT").Errorf("issue time cannot be zero")
	}

	return &RefreshTokenRecord{
		ID:         ulid.Make(),
		TokenHash:  tokenHash,
		UserID:     userID,
		ExpiresAt:  expiresAt,
		DeviceInfo: optionalString(device.UserAgent),
		IPAddress:  optionalString(device.IPAddress),
		CreatedAt:  issuedAt,
	}, nil
}

// IsExpiredAt returns true if the record would be expired at the given time.
func (r *RefreshTokenRecord) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// IsActiveAt returns true if the record is neither revoked nor expired at t.
func (r *RefreshTokenRecord) IsActiveAt(t time.Time) bool {
	return !r.Revoked && !r.IsExpiredAt(t)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TokenHasher derives the one-way lookup key of a raw refresh token.
type TokenHasher struct {
	secret []byte
}

// NewTokenHasher creates a TokenHasher keyed with secret.
func NewTokenHasher(secret []byte) (*TokenHasher, error) {
	if len(secret) < 16 {
		return nil, oops.Code("REFRESH_HASH_SECRET_INVALID").
			With("min_bytes", 16).
			Errorf("token hash secret is too short")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenHasher{secret: key}, nil
}

// Hash returns the hex HMAC-SHA256 of raw.
func (h *TokenHasher) Hash(raw string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// RefreshTokenRepository persists refresh-token records.
type RefreshTokenRepository interface {
	// Create stores a new record.
	Create(ctx context.Context, record *RefreshTokenRecord) error

	// GetByHash retrieves a record by token hash, revoked or not.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)

	// Revoke flips a single active record to revoked.
	// Returns ErrNotFound if the record does not exist or is already revoked.
	Revoke(ctx context.Context, id ulid.ULID, reason RevocationReason, at time.Time) error

	// RevokeAllForUser flips every active record of the user, except
	// exceptID when it is non-nil, and returns the number flipped.
	RevokeAllForUser(ctx context.Context, userID int64, exceptID *ulid.ULID, reason RevocationReason, at time.Time) (int64, error)

	// RevokeExpired flips every active record whose expiry is at or before
	// now and returns the number flipped.
	RevokeExpired(ctx context.Context, now time.Time) (int64, error)

	// CountActive returns the number of active records for the user.
	CountActive(ctx context.Context, userID int64, now time.Time) (int64, error)
}
