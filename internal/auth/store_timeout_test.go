// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/pkg/errutil"
)

const testStoreTimeout = 50 * time.Millisecond

// stallingUsers wraps the in-memory store and blocks the selected methods
// until the caller's context ends.
type stallingUsers struct {
	*memUsers
	mu      sync.Mutex
	stalled map[string]bool
}

func newStallingUsers() *stallingUsers {
	return &stallingUsers{memUsers: newMemUsers(), stalled: map[string]bool{}}
}

func (s *stallingUsers) stall(methods ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range methods {
		s.stalled[m] = true
	}
}

func (s *stallingUsers) wait(ctx context.Context, method string) error {
	s.mu.Lock()
	stalled := s.stalled[method]
	s.mu.Unlock()
	if !stalled {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stallingUsers) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	if err := s.wait(ctx, "GetByID"); err != nil {
		return nil, err
	}
	return s.memUsers.GetByID(ctx, id)
}

func (s *stallingUsers) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	if err := s.wait(ctx, "GetByUsername"); err != nil {
		return nil, err
	}
	return s.memUsers.GetByUsername(ctx, username)
}

func (s *stallingUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	if err := s.wait(ctx, "GetByEmail"); err != nil {
		return nil, err
	}
	return s.memUsers.GetByEmail(ctx, email)
}

func (s *stallingUsers) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	if err := s.wait(ctx, "UpdateLastLogin"); err != nil {
		return err
	}
	return s.memUsers.UpdateLastLogin(ctx, id, at)
}

type stallFixture struct {
	users   *stallingUsers
	issuer  *auth.SessionIssuer
	rotator *auth.SessionRotator
	guard   *auth.Guard
	svc     *auth.Service
	bridge  *auth.FederatedBridge
	alice   *auth.User
	session *auth.IssuedSession
}

func newStallFixture(t *testing.T) *stallFixture {
	t.Helper()
	f := &stallFixture{users: newStallingUsers()}
	opts := []auth.Option{auth.WithStoreTimeout(testStoreTimeout)}
	codec := newTestCodec(t)
	hasher := newTestHasher(t)
	tokens := newMemTokens()

	var err error
	f.issuer, err = auth.NewSessionIssuer(f.users, tokens, codec, hasher, opts...)
	require.NoError(t, err)
	f.rotator, err = auth.NewSessionRotator(f.users, tokens, codec, hasher, f.issuer, opts...)
	require.NoError(t, err)
	t.Cleanup(f.rotator.Wait)
	f.guard, err = auth.NewGuard(codec, f.users, opts...)
	require.NoError(t, err)
	f.svc, err = auth.NewService(f.users, &fakeHasher{}, f.issuer, f.rotator, opts...)
	require.NoError(t, err)
	f.bridge, err = auth.NewFederatedBridge(f.users, opts...)
	require.NoError(t, err)

	alice := activeUser("alice", auth.RoleStudent, auth.ApprovalApproved)
	alice.PasswordHash = strPtr("fake$correct-horse")
	f.alice = f.users.Add(alice)
	f.session, err = f.issuer.Issue(context.Background(), f.alice.ID, device)
	require.NoError(t, err)
	return f
}

func TestStoreTimeout_BoundsUserLookups(t *testing.T) {
	tests := []struct {
		name  string
		stall []string
		call  func(ctx context.Context, f *stallFixture) error
		code  string
	}{
		{
			name:  "validate reloads user",
			stall: []string{"GetByID"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.rotator.Validate(ctx, f.session.RefreshToken, f.alice.ID)
				return err
			},
			code: "AUTH_VALIDATE_FAILED",
		},
		{
			name:  "rotate reloads user",
			stall: []string{"GetByID"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.rotator.Rotate(ctx, f.session.RefreshToken, device)
				return err
			},
			code: "AUTH_ISSUE_FAILED",
		},
		{
			name:  "issue loads user",
			stall: []string{"GetByID"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.issuer.Issue(ctx, f.alice.ID, device)
				return err
			},
			code: "AUTH_ISSUE_FAILED",
		},
		{
			name:  "guard reloads user",
			stall: []string{"GetByID"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.guard.Authenticate(ctx, f.session.AccessToken)
				return err
			},
			code: "AUTH_GUARD_FAILED",
		},
		{
			name:  "signin resolves identifier",
			stall: []string{"GetByUsername", "GetByEmail"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.svc.Signin(ctx, "alice", "correct-horse", device)
				return err
			},
			code: "AUTH_SIGNIN_FAILED",
		},
		{
			name:  "validate credential",
			stall: []string{"GetByEmail"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.svc.ValidateCredential(ctx, "alice@agora.test", "correct-horse")
				return err
			},
			code: "AUTH_VALIDATE_FAILED",
		},
		{
			name:  "federated resolve",
			stall: []string{"GetByEmail"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.bridge.Resolve(ctx, auth.ExternalProfile{Email: "new@agora.test", EmailVerified: true, Name: "New Person"})
				return err
			},
			code: "AUTH_FEDERATED_FAILED",
		},
		{
			name:  "username suggestion",
			stall: []string{"GetByUsername"},
			call: func(ctx context.Context, f *stallFixture) error {
				_, err := f.bridge.SuggestUsername(ctx, "New Person", "new@agora.test")
				return err
			},
			code: "AUTH_FEDERATED_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStallFixture(t)
			f.users.stall(tt.stall...)

			start := time.Now()
			err := tt.call(context.Background(), f)
			assert.Less(t, time.Since(start), 2*time.Second)
			errutil.AssertErrorCode(t, err, tt.code)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestStoreTimeout_LastLoginUpdateIsBestEffort(t *testing.T) {
	f := newStallFixture(t)
	f.users.stall("UpdateLastLogin")

	require.NotNil(t, f.session.User.LastLoginAt)
	first := *f.session.User.LastLoginAt

	start := time.Now()
	session, err := f.issuer.Issue(context.Background(), f.alice.ID, device)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	stored, err := f.users.memUsers.GetByID(context.Background(), f.alice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, first.Equal(*stored.LastLoginAt))
	assert.NotEmpty(t, session.RefreshToken)
}

func TestStoreTimeout_BoundsSweep(t *testing.T) {
	tokens := new(mockTokens)
	tokens.On("RevokeExpired", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(int64(0), context.DeadlineExceeded)

	codec := newTestCodec(t)
	hasher := newTestHasher(t)
	users := newMemUsers()
	opts := []auth.Option{auth.WithStoreTimeout(testStoreTimeout)}
	issuer, err := auth.NewSessionIssuer(users, tokens, codec, hasher, opts...)
	require.NoError(t, err)
	rotator, err := auth.NewSessionRotator(users, tokens, codec, hasher, issuer, opts...)
	require.NoError(t, err)

	start := time.Now()
	_, err = rotator.SweepExpired(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	errutil.AssertErrorCode(t, err, auth.CodeRefreshStoreFailed)
	tokens.AssertExpectations(t)
}
