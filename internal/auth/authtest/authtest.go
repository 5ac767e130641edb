// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

// Package authtest provides in-memory repositories and key material for
// tests of code built on package auth.
package authtest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/auth"
)

// HashSecret is the refresh token hashing secret used by TokenHasher.
const HashSecret = "test-hash-secret-0123456789"

// Ed25519PEM returns a fresh PKCS#8/PKIX PEM key pair.
func Ed25519PEM(t testing.TB) (priv, pub []byte) {
	t.Helper()
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return EncodeKeys(t, sk, pk)
}

// RSAPEM returns a fresh 2048-bit PKCS#8/PKIX PEM key pair.
func RSAPEM(t testing.TB) (priv, pub []byte) {
	t.Helper()
	sk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return EncodeKeys(t, sk, &sk.PublicKey)
}

// EncodeKeys PEM-encodes a private and public key.
func EncodeKeys(t testing.TB, sk, pk any) (priv, pub []byte) {
	t.Helper()
	skDER, err := x509.MarshalPKCS8PrivateKey(sk)
	require.NoError(t, err)
	pkDER, err := x509.MarshalPKIXPublicKey(pk)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: skDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkDER})
}

// TokenConfig returns an EdDSA configuration with fresh keys.
func TokenConfig(t testing.TB) auth.TokenConfig {
	t.Helper()
	priv, pub := Ed25519PEM(t)
	return auth.TokenConfig{
		Algorithm:     auth.AlgorithmEdDSA,
		PrivateKeyPEM: priv,
		PublicKeyPEM:  pub,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "agora-test",
	}
}

// Codec returns a signing codec over TokenConfig.
func Codec(t testing.TB, opts ...auth.Option) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewTokenCodec(TokenConfig(t), opts...)
	require.NoError(t, err)
	return codec
}

// Hasher returns a TokenHasher keyed with HashSecret.
func Hasher(t testing.TB) *auth.TokenHasher {
	t.Helper()
	h, err := auth.NewTokenHasher([]byte(HashSecret))
	require.NoError(t, err)
	return h
}

// Users is an in-memory auth.UserRepository. Lookups skip deleted users.
type Users struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*auth.User
}

var _ auth.UserRepository = (*Users)(nil)

// NewUsers creates an empty Users.
func NewUsers() *Users {
	return &Users{nextID: 1, byID: make(map[int64]*auth.User)}
}

// Add stores a copy of u under the next id and sets u.ID.
func (m *Users) Add(u *auth.User) *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.nextID
	m.nextID++
	stored := *u
	m.byID[u.ID] = &stored
	return u
}

// Mutate edits the stored user in place.
func (m *Users) Mutate(id int64, fn func(*auth.User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.byID[id])
}

// Find returns a copy of the first non-deleted user matching match.
func (m *Users) Find(match func(*auth.User) bool) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if !u.IsDeleted && match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// Create implements auth.UserRepository.
func (m *Users) Create(_ context.Context, user *auth.User) error {
	if _, err := m.Find(func(u *auth.User) bool {
		return strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email)
	}); err == nil {
		return auth.ErrDuplicate
	}
	m.Add(user)
	return nil
}

// GetByID implements auth.UserRepository.
func (m *Users) GetByID(_ context.Context, id int64) (*auth.User, error) {
	return m.Find(func(u *auth.User) bool { return u.ID == id })
}

// GetByUsername implements auth.UserRepository.
func (m *Users) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	return m.Find(func(u *auth.User) bool { return strings.EqualFold(u.Username, username) })
}

// GetByEmail implements auth.UserRepository.
func (m *Users) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	return m.Find(func(u *auth.User) bool { return strings.EqualFold(u.Email, email) })
}

// GetByAcademicNumber implements auth.UserRepository.
func (m *Users) GetByAcademicNumber(_ context.Context, n string) (*auth.User, error) {
	return m.Find(func(u *auth.User) bool { return u.AcademicNumber != nil && *u.AcademicNumber == n })
}

// UpdateLastLogin implements auth.UserRepository.
func (m *Users) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// UpdatePasswordHash implements auth.UserRepository.
func (m *Users) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = &hash
	return nil
}

// Tokens is an in-memory auth.RefreshTokenRepository. Like the PostgreSQL
// store it never deletes records.
type Tokens struct {
	mu      sync.Mutex
	records map[ulid.ULID]*auth.RefreshTokenRecord
}

var _ auth.RefreshTokenRepository = (*Tokens)(nil)

// NewTokens creates an empty Tokens.
func NewTokens() *Tokens {
	return &Tokens{records: make(map[ulid.ULID]*auth.RefreshTokenRecord)}
}

// Create implements auth.RefreshTokenRepository.
func (m *Tokens) Create(_ context.Context, rec *auth.RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	m.records[rec.ID] = &c
	return nil
}

// GetByHash implements auth.RefreshTokenRepository.
func (m *Tokens) GetByHash(_ context.Context, hash string) (*auth.RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TokenHash == hash {
			c := *r
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func revoke(r *auth.RefreshTokenRecord, reason auth.RevocationReason, at time.Time) {
	r.Revoked = true
	r.RevokedAt = &at
	r.RevokedReason = &reason
}

// Revoke implements auth.RefreshTokenRepository. Revoking an already
// revoked record reports auth.ErrNotFound.
func (m *Tokens) Revoke(_ context.Context, id ulid.ULID, reason auth.RevocationReason, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Revoked {
		return auth.ErrNotFound
	}
	revoke(r, reason, at)
	return nil
}

// RevokeAllForUser implements auth.RefreshTokenRepository.
func (m *Tokens) RevokeAllForUser(_ context.Context, userID int64, exceptID *ulid.ULID, reason auth.RevocationReason, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if r.UserID != userID || r.Revoked || (exceptID != nil && id == *exceptID) {
			continue
		}
		revoke(r, reason, at)
		n++
	}
	return n, nil
}

// RevokeExpired implements auth.RefreshTokenRepository.
func (m *Tokens) RevokeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if !r.Revoked && !r.ExpiresAt.After(now) {
			revoke(r, auth.ReasonExpired, now)
			n++
		}
	}
	return n, nil
}

// CountActive implements auth.RefreshTokenRepository.
func (m *Tokens) CountActive(_ context.Context, userID int64, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.UserID == userID && r.IsActiveAt(now) {
			n++
		}
	}
	return n, nil
}

// All returns copies of every stored record.
func (m *Tokens) All() []auth.RefreshTokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]auth.RefreshTokenRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

// ExpireAll moves every record's expiry into the past.
func (m *Tokens) ExpireAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	}
}
