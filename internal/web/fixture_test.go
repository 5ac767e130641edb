// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/auth/authtest"
	"github.com/agora-forum/agora/internal/oauth"
	"github.com/agora-forum/agora/internal/web"
)

const frontendURL = "https://agora.test"

type fakeGoogle struct {
	mu      sync.Mutex
	profile auth.ExternalProfile
	err     error
	codes   []string
}

func (g *fakeGoogle) AuthCodeURL(state string) string {
	return "https://accounts.example/o/auth?state=" + url.QueryEscape(state)
}

func (g *fakeGoogle) Exchange(_ context.Context, code string) (auth.ExternalProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.codes = append(g.codes, code)
	return g.profile, g.err
}

type requestCounter struct {
	mu     sync.Mutex
	served map[string][]int
}

func (c *requestCounter) RequestServed(route string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.served == nil {
		c.served = make(map[string][]int)
	}
	c.served[route] = append(c.served[route], status)
}

func (c *requestCounter) statuses(route string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.served[route]...)
}

type fixture struct {
	t       *testing.T
	handler http.Handler
	users   *authtest.Users
	tokens  *authtest.Tokens
	codec   *auth.TokenCodec
	signer  *oauth.Signer
	google  *fakeGoogle
	rec     *requestCounter
}

type fixtureOption func(*web.Deps)

func withoutGoogle() fixtureOption {
	return func(d *web.Deps) {
		d.Google = nil
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		users:  authtest.NewUsers(),
		tokens: authtest.NewTokens(),
		codec:  authtest.Codec(t),
		google: &fakeGoogle{},
		rec:    &requestCounter{},
	}
	hasher := authtest.Hasher(t)

	issuer, err := auth.NewSessionIssuer(f.users, f.tokens, f.codec, hasher)
	require.NoError(t, err)
	rotator, err := auth.NewSessionRotator(f.users, f.tokens, f.codec, hasher, issuer)
	require.NoError(t, err)
	t.Cleanup(rotator.Wait)
	svc, err := auth.NewService(f.users, auth.NewArgon2idHasher(), issuer, rotator)
	require.NoError(t, err)
	guard, err := auth.NewGuard(f.codec, f.users)
	require.NoError(t, err)

	f.signer, err = oauth.NewSigner([]byte("web-test-state-secret"), nil)
	require.NoError(t, err)
	policy, err := oauth.NewRedirectPolicy(frontendURL, []string{"https://*.agora.test/**"}, false)
	require.NoError(t, err)

	deps := web.Deps{
		Auth:      svc,
		Guard:     guard,
		Cookies:   auth.NewCookieTransport("development", f.codec.RefreshTTL()),
		Keys:      f.codec,
		Google:    f.google,
		Signer:    f.signer,
		Redirects: policy,
		Recorder:  f.rec,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.handler, err = web.NewHandler(deps)
	require.NoError(t, err)
	return f
}

// do sends a request through the handler. mods adjust the request.
func (f *fixture) do(method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "web-test")
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.RefreshCookieName {
			return c
		}
	}
	t.Fatalf("response carries no %s cookie", auth.RefreshCookieName)
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

// signup registers a local student through the API.
func (f *fixture) signup(username string) (web.SessionResponse, *http.Cookie) {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/auth/signup", map[string]any{
		"username": username,
		"email":    username + "@uni.test",
		"name":     "Test " + username,
		"password": "Aa1!aaaa",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[web.SessionResponse](f.t, rec), refreshCookie(f.t, rec)
}

// seed stores a user directly and returns an access token for it.
func (f *fixture) seed(username string, role auth.Role, approval auth.ApprovalStatus) (*auth.User, string) {
	f.t.Helper()
	now := time.Now()
	u := f.users.Add(&auth.User{
		Username:   username,
		Email:      username + "@uni.test",
		Name:       username,
		Role:       role,
		Approval:   approval,
		AuthMethod: auth.AuthMethodLocal,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	token, _, err := f.codec.Sign(u.ID, role, auth.TokenTypeAccess)
	require.NoError(f.t, err)
	return u, token
}
