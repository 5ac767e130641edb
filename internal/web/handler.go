// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/oauth"
	"github.com/agora-forum/agora/pkg/errutil"
)

// AuthService is the session lifecycle used by the handlers.
type AuthService interface {
	Signup(ctx context.Context, in auth.SignupInput, device auth.DeviceContext) (*auth.AuthResult, error)
	Signin(ctx context.Context, identifier, password string, device auth.DeviceContext) (*auth.AuthResult, error)
	Signout(ctx context.Context, rawRefreshToken string, userID int64) error
	Refresh(ctx context.Context, rawRefreshToken string, device auth.DeviceContext) (*auth.AuthResult, error)
	SigninFederated(ctx context.Context, profile auth.ExternalProfile, device auth.DeviceContext) (*auth.FederatedSignin, error)
	CompleteFederatedSignup(ctx context.Context, in auth.CompleteSignupInput, device auth.DeviceContext) (*auth.AuthResult, error)
}

// Authenticator runs the access, role and approval guards for a route.
type Authenticator interface {
	Check(ctx context.Context, token string, route auth.RouteDescriptor) (*auth.Principal, error)
}

// FederatedProvider is an OAuth identity provider.
type FederatedProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.ExternalProfile, error)
}

// KeySet publishes the token verification keys.
type KeySet interface {
	PublicJWKS() auth.JWKS
}

// RequestRecorder counts served requests.
type RequestRecorder interface {
	RequestServed(route string, status int)
}

// Deps are the collaborators of the HTTP handler. Google, Signer and
// Redirects are only needed when Google signin is enabled.
type Deps struct {
	Auth      AuthService
	Guard     Authenticator
	Cookies   *auth.CookieTransport
	Keys      KeySet
	Google    FederatedProvider
	Signer    *oauth.Signer
	Redirects *oauth.RedirectPolicy
	Recorder  RequestRecorder
	Logger    *slog.Logger
}

// Route access rules.
var (
	public        = auth.RouteDescriptor{Public: true}
	authenticated = auth.RouteDescriptor{AllowUnapproved: true}
	adminsOnly    = auth.RouteDescriptor{Roles: []auth.Role{auth.RoleAdmin, auth.RoleSuperAdmin}}
)

type api struct {
	Deps
}

// NewHandler builds the API router.
func NewHandler(deps Deps) (http.Handler, error) {
	switch {
	case deps.Auth == nil:
		return nil, oops.Errorf("auth service is required")
	case deps.Guard == nil:
		return nil, oops.Errorf("guard is required")
	case deps.Cookies == nil:
		return nil, oops.Errorf("cookie transport is required")
	case deps.Keys == nil:
		return nil, oops.Errorf("key set is required")
	case deps.Google != nil && (deps.Signer == nil || deps.Redirects == nil):
		return nil, oops.Errorf("google signin requires a state signer and redirect policy")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := &api{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)

	a.handle(r, http.MethodPost, "/auth/signup", public, a.signup)
	a.handle(r, http.MethodPost, "/auth/signin", public, a.signin)
	a.handle(r, http.MethodPost, "/auth/refresh", public, a.refresh)
	a.handle(r, http.MethodPost, "/auth/signout", authenticated, a.signout)
	a.handle(r, http.MethodGet, "/auth/me", authenticated, a.me)
	a.handle(r, http.MethodGet, "/admin/ping", adminsOnly, a.adminPing)
	a.handle(r, http.MethodGet, "/.well-known/jwks.json", public, a.jwks)

	if deps.Google != nil {
		a.handle(r, http.MethodGet, "/auth/google/login", public, a.googleLogin)
		a.handle(r, http.MethodGet, "/auth/google/callback", public, a.googleCallback)
		a.handle(r, http.MethodPost, "/auth/google/complete", public, a.googleComplete)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})
	return r, nil
}

// handle registers h with its access rules.
func (a *api) handle(r chi.Router, method, pattern string, route auth.RouteDescriptor, h http.HandlerFunc) {
	r.With(a.guard(route)).Method(method, pattern, h)
}

// guard enforces route before the handler runs and stores the principal in
// the request context.
func (a *api) guard(route auth.RouteDescriptor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route.Public {
				next.ServeHTTP(w, r)
				return
			}
			p, err := a.Guard.Check(r.Context(), auth.BearerToken(r.Header.Get("Authorization")), route)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}

// fail writes the response for err. Unexpected failures are logged with
// their cause; clients only see a generic message.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := httpError(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), a.Logger, "request failed", err)
	} else {
		a.Logger.DebugContext(r.Context(), "request rejected",
			"status", status,
			"code", errutil.Code(err),
		)
	}
	WriteJSON(w, status, body)
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if a.Recorder != nil {
			a.Recorder.RequestServed(route, status)
		}
		a.Logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller stored by the guard
// middleware, or nil on public routes.
func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}

// deviceFrom describes the client for the refresh token record. RealIP has
// already replaced RemoteAddr with the forwarded address when present.
func deviceFrom(r *http.Request) auth.DeviceContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.DeviceContext{UserAgent: r.UserAgent(), IPAddress: ip}
}
