// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/pkg/errutil"
)

func TestNewSessionIssuer_RequiresDependencies(t *testing.T) {
	codec := newTestCodec(t)
	hasher := newTestHasher(t)
	verifier, err := auth.NewVerifier(testTokenConfig(t))
	require.NoError(t, err)

	_, err = auth.NewSessionIssuer(nil, newMemTokens(), codec, hasher)
	assert.ErrorContains(t, err, "users repository is required")
	_, err = auth.NewSessionIssuer(newMemUsers(), nil, codec, hasher)
	assert.ErrorContains(t, err, "refresh token repository is required")
	_, err = auth.NewSessionIssuer(newMemUsers(), newMemTokens(), verifier, hasher)
	assert.ErrorContains(t, err, "signing token codec is required")
	_, err = auth.NewSessionIssuer(newMemUsers(), newMemTokens(), codec, nil)
	assert.ErrorContains(t, err, "token hasher is required")
}

func TestSessionIssuer_Issue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.users.Add(activeUser("alice", auth.RoleStudent, auth.ApprovalApproved))

	session, err := h.issuer.Issue(ctx, user.ID, auth.DeviceContext{UserAgent: "curl/8", IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	access, err := h.codec.VerifyType(session.AccessToken, auth.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, access.UserID)
	assert.Equal(t, auth.RoleStudent, access.Role)

	refresh, err := h.codec.VerifyType(session.RefreshToken, auth.TokenTypeRefresh)
	require.NoError(t, err)
	assert.True(t, session.RefreshExpiresAt.Equal(refresh.ExpiresAt.Time))

	records := h.tokens.All()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, h.hasher.Hash(session.RefreshToken), rec.TokenHash)
	assert.NotEqual(t, session.RefreshToken, rec.TokenHash)
	assert.True(t, rec.ExpiresAt.Equal(session.RefreshExpiresAt))
	require.NotNil(t, rec.DeviceInfo)
	assert.Equal(t, "curl/8", *rec.DeviceInfo)
	require.NotNil(t, rec.IPAddress)
	assert.Equal(t, "10.0.0.1", *rec.IPAddress)

	stored, err := h.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
	assert.NotNil(t, session.User.LastLoginAt)
}

func TestSessionIssuer_IssueRevokesPriorSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := h.users.Add(activeUser("alice", auth.RoleStudent, auth.ApprovalApproved))

	for range 3 {
		_, err := h.issuer.Issue(ctx, user.ID, auth.DeviceContext{})
		require.NoError(t, err)
	}

	active, err := h.tokens.CountActive(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	var superseded int
	for _, rec := range h.tokens.All() {
		if rec.Revoked {
			require.NotNil(t, rec.RevokedReason)
			assert.Equal(t, auth.ReasonSignin, *rec.RevokedReason)
			superseded++
		}
	}
	assert.Equal(t, 2, superseded)
}

func TestSessionIssuer_UserNotFound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.issuer.Issue(ctx, 999, auth.DeviceContext{})
	errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)

	inactive := h.users.Add(activeUser("bob", auth.RoleStudent, auth.ApprovalApproved))
	h.users.Mutate(inactive.ID, func(u *auth.User) { u.IsActive = false })
	_, err = h.issuer.Issue(ctx, inactive.ID, auth.DeviceContext{})
	errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)

	deleted := h.users.Add(activeUser("carol", auth.RoleStudent, auth.ApprovalApproved))
	h.users.Mutate(deleted.ID, func(u *auth.User) { u.IsDeleted = true })
	_, err = h.issuer.Issue(ctx, deleted.ID, auth.DeviceContext{})
	errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)

	assert.Empty(t, h.tokens.All())
}

func TestSessionIssuer_StoreFailure(t *testing.T) {
	ctx := context.Background()
	users := newMemUsers()
	user := users.Add(activeUser("alice", auth.RoleStudent, auth.ApprovalApproved))
	tokens := new(mockTokens)
	tokens.On("RevokeAllForUser", mock.Anything, user.ID, (*ulid.ULID)(nil), auth.ReasonSignin, mock.Anything).
		Return(int64(0), errors.New("connection reset"))

	issuer, err := auth.NewSessionIssuer(users, tokens, newTestCodec(t), newTestHasher(t))
	require.NoError(t, err)

	_, err = issuer.Issue(ctx, user.ID, auth.DeviceContext{})
	errutil.AssertErrorCode(t, err, auth.CodeRefreshStoreFailed)
	tokens.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

type fakeTransactor struct {
	inTx    int
	locked  []int64
	failErr error
}

func (f *fakeTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.inTx++
	return fn(ctx)
}

func (f *fakeTransactor) LockUser(_ context.Context, userID int64) error {
	f.locked = append(f.locked, userID)
	return f.failErr
}

func TestSessionIssuer_WithTransactor(t *testing.T) {
	ctx := context.Background()

	t.Run("locks the user inside a transaction", func(t *testing.T) {
		tx := &fakeTransactor{}
		h := newHarness(t, auth.WithTransactor(tx))
		user := h.users.Add(activeUser("alice", auth.RoleStudent, auth.ApprovalApproved))

		_, err := h.issuer.Issue(ctx, user.ID, auth.DeviceContext{})
		require.NoError(t, err)
		assert.Equal(t, 1, tx.inTx)
		assert.Equal(t, []int64{user.ID}, tx.locked)
	})

	t.Run("lock failure aborts issuance", func(t *testing.T) {
		tx := &fakeTransactor{failErr: errors.New("lock timeout")}
		h := newHarness(t, auth.WithTransactor(tx))
		user := h.users.Add(activeUser("alice", auth.RoleStudent, auth.ApprovalApproved))

		_, err := h.issuer.Issue(ctx, user.ID, auth.DeviceContext{})
		errutil.AssertErrorCode(t, err, auth.CodeRefreshStoreFailed)
		assert.Empty(t, h.tokens.All())
	})
}

func TestSessionIssuer_RecordUsesClock(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, auth.WithClock(func() time.Time { return issuedAt }))
	user := h.users.Add(activeUser("alice", auth.RoleStudent, auth.ApprovalApproved))

	_, err := h.issuer.Issue(context.Background(), user.ID, auth.DeviceContext{})
	require.NoError(t, err)

	records := h.tokens.All()
	require.Len(t, records, 1)
	assert.True(t, issuedAt.Equal(records[0].CreatedAt))
}

func TestNewRefreshTokenRecord_Validation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		userID    int64
		hash      string
		issuedAt  time.Time
		expiresAt time.Time
		code      string
	}{
		{"non-positive user", 0, "h", now, now.Add(time.Hour), "REFRESH_INVALID_USER"},
		{"empty hash", 7, "", now, now.Add(time.Hour), "REFRESH_INVALID_HASH"},
		{"zero expiry", 7, "h", now, time.Time{}, "REFRESH_INVALID_EXPIRY"},
		{"zero issue time", 7, "h", time.Time{}, now.Add(time.Hour), "REFRESH_INVALID_ISSUED_AT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewRefreshTokenRecord(tt.userID, tt.hash, tt.issuedAt, tt.expiresAt, auth.DeviceContext{})
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}
