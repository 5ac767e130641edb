// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// IssuedSession is a freshly minted token pair.
type IssuedSession struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *User
}

// SessionIssuer mints access/refresh pairs. Every issuance first revokes all
// of the user's active refresh tokens, so at most one rotation chain is live.
type SessionIssuer struct {
	users  UserRepository
	tokens RefreshTokenRepository
	codec  *TokenCodec
	hasher *TokenHasher
	opts   options
}

// NewSessionIssuer creates a SessionIssuer.
func NewSessionIssuer(users UserRepository, tokens RefreshTokenRepository, codec *TokenCodec, hasher *TokenHasher, opts ...Option) (*SessionIssuer, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if codec == nil || !codec.CanSign() {
		return nil, oops.Errorf("signing token codec is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("token hasher is required")
	}
	return &SessionIssuer{
		users:  users,
		tokens: tokens,
		codec:  codec,
		hasher: hasher,
		opts:   applyOptions(opts),
	}, nil
}

// Issue mints a session for userID. It fails with AUTH_USER_NOT_FOUND when the
// user no longer exists or can no longer authenticate.
func (i *SessionIssuer) Issue(ctx context.Context, userID int64, device DeviceContext) (*IssuedSession, error) {
	return i.issue(ctx, userID, device, ReasonSignin)
}

func (i *SessionIssuer) issue(ctx context.Context, userID int64, device DeviceContext, supersede RevocationReason) (*IssuedSession, error) {
	user, err := i.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	access, accessExp, err := i.codec.Sign(user.ID, user.Role, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := i.codec.Sign(user.ID, user.Role, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	record, err := NewRefreshTokenRecord(user.ID, i.hasher.Hash(refresh), i.opts.now(), refreshExp, device)
	if err != nil {
		return nil, err
	}

	if err := i.persist(ctx, record, supersede); err != nil {
		return nil, err
	}

	now := i.opts.now()
	sctx, cancel := i.opts.storeCtx(ctx)
	err = i.users.UpdateLastLogin(sctx, user.ID, now)
	cancel()
	if err != nil {
		i.opts.logger.WarnContext(ctx, "best-effort last login update failed",
			"user_id", user.ID,
			"operation", "update_last_login",
			"error", err,
		)
	} else {
		user.LastLoginAt = &now
	}

	return &IssuedSession{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             user,
	}, nil
}

func (i *SessionIssuer) loadUser(ctx context.Context, userID int64) (*User, error) {
	sctx, cancel := i.opts.storeCtx(ctx)
	defer cancel()
	user, err := i.users.GetByID(sctx, userID)
	if errors.Is(err, ErrNotFound) || (err == nil && !user.CanAuthenticate()) {
		return nil, oops.Code(CodeUserNotFound).With("user_id", userID).Errorf("user not found")
	}
	if err != nil {
		return nil, oops.Code("AUTH_ISSUE_FAILED").
			With("operation", "get user by id").
			With("user_id", userID).
			Wrap(err)
	}
	return user, nil
}

// persist revokes the user's active records and stores the new one. With a
// Transactor both steps share one transaction under a per-user lock.
func (i *SessionIssuer) persist(ctx context.Context, record *RefreshTokenRecord, supersede RevocationReason) error {
	ctx, cancel := i.opts.storeCtx(ctx)
	defer cancel()

	step := func(ctx context.Context) error {
		if i.opts.transactor != nil {
			if err := i.opts.transactor.LockUser(ctx, record.UserID); err != nil {
				return err
			}
		}
		revoked, err := i.tokens.RevokeAllForUser(ctx, record.UserID, nil, supersede, i.opts.now())
		if err != nil {
			return err
		}
		if revoked > 0 {
			i.opts.logger.DebugContext(ctx, "superseded active sessions",
				"user_id", record.UserID,
				"count", revoked,
				"reason", string(supersede),
			)
		}
		return i.tokens.Create(ctx, record)
	}

	var err error
	if i.opts.transactor != nil {
		err = i.opts.transactor.InTransaction(ctx, step)
	} else {
		err = step(ctx)
	}
	if err != nil {
		return oops.Code(CodeRefreshStoreFailed).
			With("operation", "persist refresh token").
			With("user_id", record.UserID).
			Wrap(err)
	}
	return nil
}

