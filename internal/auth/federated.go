// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/samber/oops"
)

// MaxUsernameAttempts bounds the username collision probe.
const MaxUsernameAttempts = 1000

// maxUsernameBase leaves room for a "_999" style suffix.
const maxUsernameBase = MaxUsernameLength - 4

// ExternalProfile is an identity asserted by a federated provider.
type ExternalProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// ProfileSuggestion pre-fills the registration completion form. It is never
// persisted.
type ProfileSuggestion struct {
	Email             string
	SuggestedUsername string
	Name              string
	Picture           string
}

// FederatedKind tags a FederatedResult.
type FederatedKind int

// Federated resolution outcomes.
const (
	// FederatedExisting means the profile matched a local account.
	FederatedExisting FederatedKind = iota + 1
	// FederatedIncomplete means no local account exists yet; the client must
	// complete registration with the suggested profile.
	FederatedIncomplete
)

// FederatedResult is the outcome of resolving an external profile.
type FederatedResult struct {
	Kind       FederatedKind
	User       *User              // set when Kind == FederatedExisting
	Suggestion *ProfileSuggestion // set when Kind == FederatedIncomplete
}

// FederatedBridge maps federated identities onto local accounts.
type FederatedBridge struct {
	users UserRepository
	opts  options
}

// NewFederatedBridge creates a FederatedBridge.
func NewFederatedBridge(users UserRepository, opts ...Option) (*FederatedBridge, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	return &FederatedBridge{users: users, opts: applyOptions(opts)}, nil
}

// Resolve matches profile to a local account by email.
func (b *FederatedBridge) Resolve(ctx context.Context, profile ExternalProfile) (FederatedResult, error) {
	if profile.Email == "" || !profile.EmailVerified {
		return FederatedResult{}, unauthorized("federated email is not verified")
	}

	sctx, cancel := b.opts.storeCtx(ctx)
	user, err := b.users.GetByEmail(sctx, profile.Email)
	cancel()
	switch {
	case err == nil:
		if !user.CanAuthenticate() {
			return FederatedResult{}, unauthorized("account is inactive")
		}
		return FederatedResult{Kind: FederatedExisting, User: user}, nil
	case !errors.Is(err, ErrNotFound):
		return FederatedResult{}, oops.Code("AUTH_FEDERATED_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	username, err := b.SuggestUsername(ctx, profile.Name, profile.Email)
	if err != nil {
		return FederatedResult{}, err
	}
	return FederatedResult{
		Kind: FederatedIncomplete,
		Suggestion: &ProfileSuggestion{
			Email:             strings.ToLower(profile.Email),
			SuggestedUsername: username,
			Name:              profile.Name,
			Picture:           profile.Picture,
		},
	}, nil
}

// SuggestUsername derives a free username from a display name, falling back
// to the local part of email. Candidates are base, base_1, base_2, ... and the
// probe fails with AUTH_USERNAME_EXHAUSTED after MaxUsernameAttempts.
func (b *FederatedBridge) SuggestUsername(ctx context.Context, name, email string) (string, error) {
	base := UsernameBase(name)
	if base == "" {
		local, _, _ := strings.Cut(email, "@")
		base = UsernameBase(local)
	}
	if base == "" {
		base = "user"
	}

	for attempt := 0; attempt < MaxUsernameAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + "_" + strconv.Itoa(attempt)
		}
		sctx, cancel := b.opts.storeCtx(ctx)
		_, err := b.users.GetByUsername(sctx, candidate)
		cancel()
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", oops.Code("AUTH_FEDERATED_FAILED").
				With("operation", "probe username").
				With("candidate", candidate).
				Wrap(err)
		}
	}
	return "", oops.Code(CodeUsernameExhausted).
		With("base", base).
		With("attempts", MaxUsernameAttempts).
		Errorf("no free username found")
}

// UsernameBase normalizes a display name into a username stem: lowercased,
// whitespace runs collapsed to "_", anything outside [a-z0-9_] dropped. The
// result always starts with a letter or is empty. Usernames are ASCII, so a
// name written entirely in another script, such as "Иван Петров", yields ""
// and SuggestUsername falls back to the email local part.
func UsernameBase(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), unicode.IsSpace)
	joined := strings.Join(fields, "_")

	var sb strings.Builder
	for _, r := range joined {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	base := strings.TrimLeft(sb.String(), "0123456789_")
	if len(base) > maxUsernameBase {
		base = strings.TrimRight(base[:maxUsernameBase], "_")
	}
	if base != "" && len(base) < MinUsernameLength {
		base += strings.Repeat("_", MinUsernameLength-len(base))
	}
	return base
}
