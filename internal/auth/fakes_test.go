// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/auth/authtest"
)

// --- Key material and in-memory stores ---

func ed25519PEM(t *testing.T) (priv, pub []byte) { return authtest.Ed25519PEM(t) }

func rsaPEM(t *testing.T) (priv, pub []byte) { return authtest.RSAPEM(t) }

func testTokenConfig(t *testing.T) auth.TokenConfig { return authtest.TokenConfig(t) }

func newTestCodec(t *testing.T, opts ...auth.Option) *auth.TokenCodec {
	return authtest.Codec(t, opts...)
}

func newTestHasher(t *testing.T) *auth.TokenHasher { return authtest.Hasher(t) }

type (
	memUsers  = authtest.Users
	memTokens = authtest.Tokens
)

func newMemUsers() *memUsers { return authtest.NewUsers() }

func newMemTokens() *memTokens { return authtest.NewTokens() }

// --- testify mocks for failure injection ---

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Create(ctx context.Context, rec *auth.RefreshTokenRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockTokens) GetByHash(ctx context.Context, hash string) (*auth.RefreshTokenRecord, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.RefreshTokenRecord), args.Error(1)
}

func (m *mockTokens) Revoke(ctx context.Context, id ulid.ULID, reason auth.RevocationReason, at time.Time) error {
	return m.Called(ctx, id, reason, at).Error(0)
}

func (m *mockTokens) RevokeAllForUser(ctx context.Context, userID int64, exceptID *ulid.ULID, reason auth.RevocationReason, at time.Time) (int64, error) {
	args := m.Called(ctx, userID, exceptID, reason, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTokens) RevokeExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTokens) CountActive(ctx context.Context, userID int64, now time.Time) (int64, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(int64), args.Error(1)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUsers) userResult(args mock.Arguments) (*auth.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *mockUsers) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return m.userResult(m.Called(ctx, id))
}

func (m *mockUsers) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, username))
}

func (m *mockUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, email))
}

func (m *mockUsers) GetByAcademicNumber(ctx context.Context, n string) (*auth.User, error) {
	return m.userResult(m.Called(ctx, n))
}

func (m *mockUsers) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockUsers) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

// --- Recorder ---

type countingRecorder struct {
	mu        sync.Mutex
	issued    map[string]int
	rotations map[string]int
	reuse     int
	signinBad int
	guards    map[string]int
	sweeps    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		issued:    map[string]int{},
		rotations: map[string]int{},
		guards:    map[string]int{},
		sweeps:    map[string]int{},
	}
}

func (r *countingRecorder) SessionIssued(via string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued[via]++
}

func (r *countingRecorder) RefreshRotated(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotations[result]++
}

func (r *countingRecorder) ReuseDetected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reuse++
}

func (r *countingRecorder) SigninFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signinBad++
}

func (r *countingRecorder) GuardRejected(guard string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards[guard]++
}

func (r *countingRecorder) ExpiredSwept(result string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps[result]++
}

// --- Fixtures ---

func activeUser(username string, role auth.Role, approval auth.ApprovalStatus) *auth.User {
	now := time.Now()
	return &auth.User{
		Username:   username,
		Email:      username + "@agora.test",
		Name:       username,
		Role:       role,
		Approval:   approval,
		AuthMethod: auth.AuthMethodLocal,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type harness struct {
	users   *memUsers
	tokens  *memTokens
	codec   *auth.TokenCodec
	hasher  *auth.TokenHasher
	issuer  *auth.SessionIssuer
	rotator *auth.SessionRotator
	rec     *countingRecorder
}

func newHarness(t *testing.T, opts ...auth.Option) *harness {
	t.Helper()
	h := &harness{
		users:  newMemUsers(),
		tokens: newMemTokens(),
		codec:  newTestCodec(t),
		hasher: newTestHasher(t),
		rec:    newCountingRecorder(),
	}
	opts = append([]auth.Option{auth.WithRecorder(h.rec)}, opts...)

	var err error
	h.issuer, err = auth.NewSessionIssuer(h.users, h.tokens, h.codec, h.hasher, opts...)
	require.NoError(t, err)
	h.rotator, err = auth.NewSessionRotator(h.users, h.tokens, h.codec, h.hasher, h.issuer, opts...)
	require.NoError(t, err)
	t.Cleanup(h.rotator.Wait)
	return h
}
