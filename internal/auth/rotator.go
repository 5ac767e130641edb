// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/agora-forum/agora/pkg/errutil"
)

// Rotation results reported to the Recorder.
const (
	RotationOK      = "ok"
	RotationInvalid = "invalid"
	RotationExpired = "expired"
	RotationReuse   = "reuse"
	RotationError   = "error"
)

// SessionRotator validates, rotates and revokes refresh tokens.
//
// Record lifecycle: Active -> {Rotated, LoggedOut, ReuseRevoked, ExpiredRevoked}.
// Every transition is terminal.
type SessionRotator struct {
	users    UserRepository
	tokens   RefreshTokenRepository
	codec    TokenVerifier
	hasher   *TokenHasher
	issuer   *SessionIssuer
	opts     options
	sweeps   sync.WaitGroup
	sweeping atomic.Bool
}

// NewSessionRotator creates a SessionRotator.
func NewSessionRotator(users UserRepository, tokens RefreshTokenRepository, codec TokenVerifier, hasher *TokenHasher, issuer *SessionIssuer, opts ...Option) (*SessionRotator, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token verifier is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("token hasher is required")
	}
	if issuer == nil {
		return nil, oops.Errorf("session issuer is required")
	}
	return &SessionRotator{
		users:  users,
		tokens: tokens,
		codec:  codec,
		hasher: hasher,
		issuer: issuer,
		opts:   applyOptions(opts),
	}, nil
}

func storeFailed(operation string, err error) error {
	return oops.Code(CodeRefreshStoreFailed).With("operation", operation).Wrap(err)
}

// Validate reports whether raw is an active refresh token owned by userID.
// Unknown, foreign, revoked and expired tokens, and tokens of inactive or
// deleted users, all yield false. An expired record is revoked on the way
// out. Store failures are returned as errors, never as false.
func (r *SessionRotator) Validate(ctx context.Context, raw string, userID int64) (bool, error) {
	if raw == "" || userID <= 0 {
		return false, nil
	}

	sctx, cancel := r.opts.storeCtx(ctx)
	record, err := r.tokens.GetByHash(sctx, r.hasher.Hash(raw))
	cancel()
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeFailed("get refresh token by hash", err)
	}
	if record.UserID != userID || record.Revoked {
		return false, nil
	}
	if record.IsExpiredAt(r.opts.now()) {
		r.revokeExpired(ctx, record)
		return false, nil
	}

	sctx, cancel = r.opts.storeCtx(ctx)
	user, err := r.users.GetByID(sctx, userID)
	cancel()
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "get user by id").
			With("user_id", userID).
			Wrap(err)
	}
	return user.CanAuthenticate(), nil
}

// Rotate exchanges a refresh token for a new session. The presented record is
// revoked before the new pair is issued, so a rotated token can never rotate
// again. A token whose subject differs from the stored owner revokes every
// record of that owner.
func (r *SessionRotator) Rotate(ctx context.Context, raw string, device DeviceContext) (*IssuedSession, error) {
	if raw == "" {
		r.opts.recorder.RefreshRotated(RotationInvalid)
		return nil, oops.Code(CodeRefreshInvalid).Errorf("refresh token is missing")
	}

	sctx, cancel := r.opts.storeCtx(ctx)
	record, err := r.tokens.GetByHash(sctx, r.hasher.Hash(raw))
	cancel()
	if errors.Is(err, ErrNotFound) {
		r.opts.recorder.RefreshRotated(RotationInvalid)
		return nil, oops.Code(CodeRefreshInvalid).Errorf("refresh token is not recognized")
	}
	if err != nil {
		r.opts.recorder.RefreshRotated(RotationError)
		return nil, storeFailed("get refresh token by hash", err)
	}
	if record.Revoked {
		r.opts.recorder.RefreshRotated(RotationInvalid)
		return nil, oops.Code(CodeRefreshInvalid).
			With("record_id", record.ID.String()).
			Errorf("refresh token has been revoked")
	}
	if record.IsExpiredAt(r.opts.now()) {
		r.revokeExpired(ctx, record)
		r.opts.recorder.RefreshRotated(RotationExpired)
		return nil, oops.Code(CodeRefreshExpired).
			With("record_id", record.ID.String()).
			Errorf("refresh token has expired")
	}

	claims, err := r.codec.VerifyType(raw, TokenTypeRefresh)
	if err != nil {
		r.opts.recorder.RefreshRotated(RotationInvalid)
		return nil, oops.Code(CodeRefreshInvalid).
			With("record_id", record.ID.String()).
			With("cause", errutil.Code(err)).
			Errorf("refresh token failed verification")
	}

	if claims.UserID != record.UserID {
		return nil, r.containReuse(ctx, record, claims)
	}

	sctx, cancel = r.opts.storeCtx(ctx)
	err = r.tokens.Revoke(sctx, record.ID, ReasonRotated, r.opts.now())
	cancel()
	if errors.Is(err, ErrNotFound) {
		// Lost a race with a concurrent rotation of the same token.
		r.opts.recorder.RefreshRotated(RotationInvalid)
		return nil, oops.Code(CodeRefreshInvalid).
			With("record_id", record.ID.String()).
			Errorf("refresh token has been revoked")
	}
	if err != nil {
		r.opts.recorder.RefreshRotated(RotationError)
		return nil, storeFailed("revoke rotated refresh token", err)
	}

	session, err := r.issuer.issue(ctx, record.UserID, device, ReasonRotated)
	if err != nil {
		r.opts.recorder.RefreshRotated(RotationError)
		return nil, err
	}

	r.opts.recorder.RefreshRotated(RotationOK)
	r.sweepInBackground(ctx)
	return session, nil
}

func (r *SessionRotator) containReuse(ctx context.Context, record *RefreshTokenRecord, claims *Claims) error {
	r.opts.recorder.RefreshRotated(RotationReuse)
	r.opts.recorder.ReuseDetected()

	sctx, cancel := r.opts.storeCtx(ctx)
	revoked, err := r.tokens.RevokeAllForUser(sctx, record.UserID, nil, ReasonReuseDetected, r.opts.now())
	cancel()
	if err != nil {
		r.opts.logger.ErrorContext(ctx, "refresh token reuse containment failed",
			"user_id", record.UserID,
			"record_id", record.ID.String(),
			"operation", "revoke_all_for_user",
			"error", err,
		)
	} else {
		r.opts.logger.WarnContext(ctx, "refresh token subject mismatch, revoked all sessions",
			"user_id", record.UserID,
			"claimed_subject", claims.UserID,
			"record_id", record.ID.String(),
			"revoked", revoked,
		)
	}
	return oops.Code(CodeRefreshInvalid).
		With("record_id", record.ID.String()).
		Errorf("refresh token subject mismatch")
}

func (r *SessionRotator) revokeExpired(ctx context.Context, record *RefreshTokenRecord) {
	sctx, cancel := r.opts.storeCtx(ctx)
	defer cancel()
	err := r.tokens.Revoke(sctx, record.ID, ReasonExpired, r.opts.now())
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.opts.logger.WarnContext(ctx, "best-effort expired token revocation failed",
			"record_id", record.ID.String(),
			"operation", "revoke_expired",
			"error", err,
		)
	}
}

// RevokeAll revokes every active record of userID except exceptID.
func (r *SessionRotator) RevokeAll(ctx context.Context, userID int64, exceptID *ulid.ULID, reason RevocationReason) (int64, error) {
	sctx, cancel := r.opts.storeCtx(ctx)
	defer cancel()
	n, err := r.tokens.RevokeAllForUser(sctx, userID, exceptID, reason, r.opts.now())
	if err != nil {
		return 0, oops.Code(CodeRefreshStoreFailed).
			With("operation", "revoke all for user").
			With("user_id", userID).
			With("reason", string(reason)).
			Wrap(err)
	}
	return n, nil
}

// ActiveSessions returns the number of active refresh tokens of userID.
func (r *SessionRotator) ActiveSessions(ctx context.Context, userID int64) (int64, error) {
	sctx, cancel := r.opts.storeCtx(ctx)
	defer cancel()
	n, err := r.tokens.CountActive(sctx, userID, r.opts.now())
	if err != nil {
		return 0, storeFailed("count active refresh tokens", err)
	}
	return n, nil
}

// SweepExpired revokes every active record past its expiry. Rows are kept.
func (r *SessionRotator) SweepExpired(ctx context.Context) (int64, error) {
	sctx, cancel := r.opts.storeCtx(ctx)
	defer cancel()
	n, err := r.tokens.RevokeExpired(sctx, r.opts.now())
	if err != nil {
		r.opts.recorder.ExpiredSwept("error", 0)
		return 0, storeFailed("revoke expired refresh tokens", err)
	}
	r.opts.recorder.ExpiredSwept("ok", n)
	return n, nil
}

// sweepInBackground starts a detached sweep unless one is already running.
// Its outcome is logged and never reaches the caller.
func (r *SessionRotator) sweepInBackground(ctx context.Context) {
	if !r.sweeping.CompareAndSwap(false, true) {
		return
	}
	r.sweeps.Add(1)
	go func() {
		defer r.sweeps.Done()
		defer r.sweeping.Store(false)

		sctx := context.WithoutCancel(ctx)
		n, err := r.SweepExpired(sctx)
		if err != nil {
			r.opts.logger.WarnContext(sctx, "best-effort expired token sweep failed",
				"operation", "sweep_expired",
				"error", err,
			)
			return
		}
		if n > 0 {
			r.opts.logger.DebugContext(sctx, "swept expired refresh tokens", "count", n)
		}
	}()
}

// Wait blocks until background sweeps have finished.
func (r *SessionRotator) Wait() {
	r.sweeps.Wait()
}
