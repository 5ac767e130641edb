// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/agora-forum/agora/pkg/errutil"
)

// Guard names reported to the Recorder.
const (
	GuardAccess   = "access"
	GuardRole     = "role"
	GuardApproval = "approval"
)

// RouteDescriptor declares the access rules of a route. It is attached when
// the route is registered.
type RouteDescriptor struct {
	// Public routes skip every guard.
	Public bool
	// Roles allowed to call the route. Empty means any authenticated role.
	Roles []Role
	// AllowUnapproved lets students call the route before moderation approval.
	AllowUnapproved bool
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User   *User
	Claims *Claims
}

// Guard enforces access, role and approval rules. Access tokens are verified
// statelessly, but the user is reloaded on every request.
type Guard struct {
	verifier TokenVerifier
	users    UserRepository
	opts     options
}

// NewGuard creates a Guard.
func NewGuard(verifier TokenVerifier, users UserRepository, opts ...Option) (*Guard, error) {
	if verifier == nil {
		return nil, oops.Errorf("token verifier is required")
	}
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	return &Guard{verifier: verifier, users: users, opts: applyOptions(opts)}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate verifies an access token and reloads its user.
func (g *Guard) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, g.reject(ctx, GuardAccess, unauthorized("missing bearer token"))
	}
	claims, err := g.verifier.VerifyType(token, TokenTypeAccess)
	if err != nil {
		g.opts.logger.DebugContext(ctx, "access token rejected", "code", errutil.Code(err))
		return nil, g.reject(ctx, GuardAccess, unauthorized("invalid access token"))
	}

	sctx, cancel := g.opts.storeCtx(ctx)
	user, err := g.users.GetByID(sctx, claims.UserID)
	cancel()
	if errors.Is(err, ErrNotFound) {
		return nil, g.reject(ctx, GuardAccess, unauthorized("user not found"))
	}
	if err != nil {
		return nil, oops.Code("AUTH_GUARD_FAILED").
			With("operation", "get user by id").
			With("user_id", claims.UserID).
			Wrap(err)
	}
	if !user.CanAuthenticate() {
		return nil, g.reject(ctx, GuardAccess, unauthorized("account is inactive"))
	}
	return &Principal{User: user, Claims: claims}, nil
}

// AuthorizeRole rejects principals whose role is not in the route's allow-list.
// The principal's current role is used, not the role embedded in the token.
func (g *Guard) AuthorizeRole(ctx context.Context, p *Principal, route RouteDescriptor) error {
	if route.Public || len(route.Roles) == 0 {
		return nil
	}
	if p == nil || !slices.Contains(route.Roles, p.User.Role) {
		return g.reject(ctx, GuardRole, oops.Code(CodeForbiddenRole).Errorf("role not permitted"))
	}
	return nil
}

// AuthorizeApproval requires students to be approved. Administrators, public
// routes and routes marked AllowUnapproved bypass the check; any other role is
// denied.
func (g *Guard) AuthorizeApproval(ctx context.Context, p *Principal, route RouteDescriptor) error {
	if route.Public || route.AllowUnapproved {
		return nil
	}
	if p == nil {
		return g.reject(ctx, GuardApproval, oops.Code(CodeApprovalRequired).Errorf("approval required"))
	}
	switch {
	case p.User.Role.IsAdministrative():
		return nil
	case p.User.Role == RoleStudent && p.User.Approval == ApprovalApproved:
		return nil
	}
	return g.reject(ctx, GuardApproval, oops.Code(CodeApprovalRequired).
		With("approval", string(p.User.Approval)).
		Errorf("approval required"))
}

// Check runs every guard for route against the bearer token. Public routes
// return a nil principal.
func (g *Guard) Check(ctx context.Context, token string, route RouteDescriptor) (*Principal, error) {
	if route.Public {
		return nil, nil
	}
	p, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := g.AuthorizeRole(ctx, p, route); err != nil {
		return nil, err
	}
	if err := g.AuthorizeApproval(ctx, p, route); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Guard) reject(ctx context.Context, guard string, err error) error {
	g.opts.recorder.GuardRejected(guard)
	g.opts.logger.DebugContext(ctx, "guard rejected request", "guard", guard, "code", errutil.Code(err))
	return err
}
