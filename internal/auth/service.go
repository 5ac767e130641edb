// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/agora-forum/agora/pkg/errutil"
)

// Issuance channels reported to the Recorder.
const (
	ViaSignup    = "signup"
	ViaSignin    = "signin"
	ViaRefresh   = "refresh"
	ViaFederated = "federated"
)

// IdentifierKind is a unique account attribute usable as a signin identifier.
type IdentifierKind string

// Identifier kinds.
const (
	IdentifierUsername       IdentifierKind = "username"
	IdentifierAcademicNumber IdentifierKind = "academicNumber"
	IdentifierEmail          IdentifierKind = "email"
)

// SigninPolicy is the order in which a signin identifier is resolved.
type SigninPolicy struct {
	Lookup []IdentifierKind
}

// DefaultSigninPolicy tries username, then academic number, then email.
func DefaultSigninPolicy() SigninPolicy {
	return SigninPolicy{Lookup: []IdentifierKind{IdentifierUsername, IdentifierAcademicNumber, IdentifierEmail}}
}

// SignupInput is a registration request.
type SignupInput struct {
	Username       string
	Email          string
	Name           string
	Password       string
	AcademicNumber *string
	AuthMethod     AuthMethod // defaults to LOCAL
	Picture        *string
}

// CompleteSignupInput finishes a federated registration started by
// SigninFederated. The email has already been verified by the provider.
type CompleteSignupInput struct {
	Username       string
	Email          string
	Name           string
	AcademicNumber *string
	Picture        *string
}

// AuthResult is returned by every operation that issues a session.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             SanitizedUser
}

// FederatedSignin is the outcome of a federated signin: either a session or a
// profile suggestion for the registration completion form.
type FederatedSignin struct {
	Kind       FederatedKind
	Auth       *AuthResult
	Suggestion *ProfileSuggestion
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service orchestrates signup, signin, signout, refresh and federated
// signin. It holds no state of its own.
type Service struct {
	users   UserRepository
	hasher  PasswordHasher
	issuer  *SessionIssuer
	rotator *SessionRotator
	bridge  *FederatedBridge
	opts    options
}

// NewService creates a Service.
func NewService(users UserRepository, hasher PasswordHasher, issuer *SessionIssuer, rotator *SessionRotator, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if issuer == nil {
		return nil, oops.Errorf("session issuer is required")
	}
	if rotator == nil {
		return nil, oops.Errorf("session rotator is required")
	}
	bridge, err := NewFederatedBridge(users, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		users:   users,
		hasher:  hasher,
		issuer:  issuer,
		rotator: rotator,
		bridge:  bridge,
		opts:    applyOptions(opts),
	}, nil
}

// Rotator exposes the session rotator used by the service.
func (s *Service) Rotator() *SessionRotator {
	return s.rotator
}

// Signup registers a student account and issues its first session.
func (s *Service) Signup(ctx context.Context, in SignupInput, device DeviceContext) (*AuthResult, error) {
	method := in.AuthMethod
	if method == "" {
		method = AuthMethodLocal
	}

	var passwordHash *string
	if method == AuthMethodLocal {
		if err := ValidatePassword(in.Password); err != nil {
			return nil, err
		}
	}

	user, err := NewUser(in.Username, in.Email, in.Name, in.AcademicNumber, method, placeholderHash(method), in.Picture)
	if err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, user); err != nil {
		return nil, err
	}

	if method == AuthMethodLocal {
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, oops.Code("AUTH_SIGNUP_FAILED").
				With("operation", "hash password").
				Wrap(err)
		}
		passwordHash = &hash
	}
	user.PasswordHash = passwordHash

	sctx, cancel := s.opts.storeCtx(ctx)
	err = s.users.Create(sctx, user)
	cancel()
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			field := "identity"
			if v, ok := contextValue(err, "field"); ok {
				field = fmt.Sprint(v)
			}
			return nil, duplicateIdentity(field)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.opts.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID,
		"auth_method", string(user.AuthMethod),
	)
	return s.issue(ctx, user.ID, device, ViaSignup)
}

// placeholderHash satisfies NewUser's local-account check before the real
// hash is computed, so validation errors surface before the expensive hash.
func placeholderHash(method AuthMethod) *string {
	if method != AuthMethodLocal {
		return nil
	}
	p := "pending"
	return &p
}

type uniqueCheck struct {
	field  string
	lookup func(ctx context.Context, value string) (*User, error)
	value  string
}

func (s *Service) checkUnique(ctx context.Context, user *User) error {
	checks := []uniqueCheck{
		{field: "email", lookup: s.users.GetByEmail, value: user.Email},
		{field: "username", lookup: s.users.GetByUsername, value: user.Username},
	}
	if user.AcademicNumber != nil {
		checks = append(checks, uniqueCheck{field: "academicNumber", lookup: s.users.GetByAcademicNumber, value: *user.AcademicNumber})
	}

	for _, check := range checks {
		sctx, cancel := s.opts.storeCtx(ctx)
		_, err := check.lookup(sctx, check.value)
		cancel()
		if err == nil {
			return duplicateIdentity(check.field)
		}
		if !errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_SIGNUP_FAILED").
				With("operation", "check unique "+check.field).
				Wrap(err)
		}
	}
	return nil
}

func duplicateIdentity(field string) error {
	return oops.Code(CodeDuplicateIdentity).
		With("field", field).
		Errorf("%s is already registered", field)
}

// Signin authenticates a local account and issues a session, revoking every
// prior session of the user. Unknown identifiers and wrong passwords produce
// the same AUTH_INVALID_CREDENTIALS error after the same amount of work.
func (s *Service) Signin(ctx context.Context, identifier, password string, device DeviceContext) (*AuthResult, error) {
	user, err := s.resolveIdentifier(ctx, strings.TrimSpace(identifier))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "resolve identifier").
			Wrap(err)
	}

	usable := user != nil && user.HasLocalPassword()
	targetHash := dummyPasswordHash
	if usable {
		targetHash = *user.PasswordHash
	}

	// Always verify so the response time does not reveal whether the user exists.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && usable {
		return nil, oops.Code("AUTH_SIGNIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(verifyErr)
	}

	if !usable || !valid || !user.CanAuthenticate() {
		s.opts.recorder.SigninFailed()
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(targetHash) {
		s.upgradeHash(ctx, user.ID, password)
	}

	return s.issue(ctx, user.ID, device, ViaSignin)
}

func (s *Service) resolveIdentifier(ctx context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return nil, ErrNotFound
	}
	for _, kind := range s.opts.policy.Lookup {
		var lookup func(context.Context, string) (*User, error)
		switch kind {
		case IdentifierUsername:
			lookup = s.users.GetByUsername
		case IdentifierAcademicNumber:
			lookup = s.users.GetByAcademicNumber
		case IdentifierEmail:
			if !strings.Contains(identifier, "@") {
				continue
			}
			lookup = s.users.GetByEmail
		default:
			continue
		}
		sctx, cancel := s.opts.storeCtx(ctx)
		user, err := lookup(sctx, identifier)
		cancel()
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *Service) upgradeHash(ctx context.Context, userID int64, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		sctx, cancel := s.opts.storeCtx(ctx)
		err = s.users.UpdatePasswordHash(sctx, userID, hash)
		cancel()
	}
	if err != nil {
		s.opts.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
			"user_id", userID,
			"operation", "upgrade_password_hash",
			"error", err,
		)
	}
}

// Signout revokes every session of userID after confirming the presented
// refresh token belongs to them.
func (s *Service) Signout(ctx context.Context, rawRefreshToken string, userID int64) error {
	ok, err := s.rotator.Validate(ctx, rawRefreshToken, userID)
	if err != nil {
		return err
	}
	if !ok {
		return oops.Code(CodeRefreshInvalid).With("user_id", userID).Errorf("refresh token is not valid for this user")
	}
	if _, err := s.rotator.RevokeAll(ctx, userID, nil, ReasonLogout); err != nil {
		return err
	}
	s.opts.logger.InfoContext(ctx, "user signed out", "user_id", userID)
	return nil
}

// Refresh rotates a refresh token. Every rotation failure is reported as
// AUTH_UNAUTHORIZED; the underlying cause is only logged.
func (s *Service) Refresh(ctx context.Context, rawRefreshToken string, device DeviceContext) (*AuthResult, error) {
	session, err := s.rotator.Rotate(ctx, rawRefreshToken, device)
	if err != nil {
		s.opts.logger.InfoContext(ctx, "refresh rejected",
			"code", errutil.Code(err),
			"error", err,
		)
		return nil, unauthorized("refresh rejected")
	}
	s.opts.recorder.SessionIssued(ViaRefresh)
	return toResult(session), nil
}

// ValidateCredential checks an email and password without issuing a session.
// It returns a nil user, and no error, for unknown emails, wrong passwords,
// inactive or deleted accounts and accounts without a local password.
func (s *Service) ValidateCredential(ctx context.Context, email, password string) (*SanitizedUser, error) {
	sctx, cancel := s.opts.storeCtx(ctx)
	user, err := s.users.GetByEmail(sctx, strings.TrimSpace(email))
	cancel()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	usable := user != nil && user.HasLocalPassword()
	targetHash := dummyPasswordHash
	if usable {
		targetHash = *user.PasswordHash
	}
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && usable {
		return nil, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(verifyErr)
	}
	if !usable || !valid || !user.CanAuthenticate() {
		return nil, nil
	}
	sanitized := user.Sanitize()
	return &sanitized, nil
}

// SigninFederated signs in an external identity. Known accounts get a session;
// unknown ones get a suggestion for the registration completion form.
func (s *Service) SigninFederated(ctx context.Context, profile ExternalProfile, device DeviceContext) (*FederatedSignin, error) {
	result, err := s.bridge.Resolve(ctx, profile)
	if err != nil {
		return nil, err
	}
	if result.Kind == FederatedIncomplete {
		return &FederatedSignin{Kind: FederatedIncomplete, Suggestion: result.Suggestion}, nil
	}
	issued, err := s.issue(ctx, result.User.ID, device, ViaFederated)
	if err != nil {
		return nil, err
	}
	return &FederatedSignin{Kind: FederatedExisting, Auth: issued}, nil
}

// CompleteFederatedSignup creates a federated account with no local password
// and issues its first session.
func (s *Service) CompleteFederatedSignup(ctx context.Context, in CompleteSignupInput, device DeviceContext) (*AuthResult, error) {
	return s.Signup(ctx, SignupInput{
		Username:       in.Username,
		Email:          in.Email,
		Name:           in.Name,
		AcademicNumber: in.AcademicNumber,
		AuthMethod:     AuthMethodGoogle,
		Picture:        in.Picture,
	}, device)
}

// SuggestUsername exposes the federated username suggestion.
func (s *Service) SuggestUsername(ctx context.Context, name, email string) (string, error) {
	return s.bridge.SuggestUsername(ctx, name, email)
}

func (s *Service) issue(ctx context.Context, userID int64, device DeviceContext, via string) (*AuthResult, error) {
	session, err := s.issuer.Issue(ctx, userID, device)
	if err != nil {
		return nil, err
	}
	s.opts.recorder.SessionIssued(via)
	return toResult(session), nil
}

func toResult(session *IssuedSession) *AuthResult {
	return &AuthResult{
		AccessToken:      session.AccessToken,
		AccessExpiresAt:  session.AccessExpiresAt,
		RefreshToken:     session.RefreshToken,
		RefreshExpiresAt: session.RefreshExpiresAt,
		User:             session.User.Sanitize(),
	}
}
