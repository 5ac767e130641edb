// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package oauth

import (
	"context"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"github.com/agora-forum/agora/internal/auth"
)

// ProviderGoogle names Google in ExternalProfile.Provider.
const ProviderGoogle = "google"

// IDTokenValidator validates a Google ID token for audience.
type IDTokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// GoogleConfig is the Google OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleProvider runs the authorization code flow against Google and turns
// the returned ID token into an auth.ExternalProfile.
type GoogleProvider struct {
	conf     *oauth2.Config
	validate IDTokenValidator
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithEndpoint overrides the Google OAuth endpoint.
func WithEndpoint(ep oauth2.Endpoint) GoogleOption {
	return func(p *GoogleProvider) {
		p.conf.Endpoint = ep
	}
}

// WithIDTokenValidator overrides ID token validation.
func WithIDTokenValidator(v IDTokenValidator) GoogleOption {
	return func(p *GoogleProvider) {
		if v != nil {
			p.validate = v
		}
	}
}

// NewGoogleProvider creates a GoogleProvider.
func NewGoogleProvider(cfg GoogleConfig, opts ...GoogleOption) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, oops.Code("OAUTH_CONFIG_INVALID").Errorf("google client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, oops.Code("OAUTH_CONFIG_INVALID").Errorf("google redirect url is required")
	}
	p := &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		validate: idtoken.Validate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AuthCodeURL returns the Google consent URL carrying state.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for the caller's verified profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (auth.ExternalProfile, error) {
	if code == "" {
		return auth.ExternalProfile{}, oops.Code("OAUTH_EXCHANGE_FAILED").Errorf("authorization code is required")
	}
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return auth.ExternalProfile{}, oops.Code("OAUTH_EXCHANGE_FAILED").
			With("provider", ProviderGoogle).
			Wrap(err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return auth.ExternalProfile{}, oops.Code("OAUTH_EXCHANGE_FAILED").
			With("provider", ProviderGoogle).
			Errorf("token response carries no id_token")
	}
	payload, err := p.validate(ctx, raw, p.conf.ClientID)
	if err != nil {
		return auth.ExternalProfile{}, oops.Code("OAUTH_ID_TOKEN_INVALID").
			With("provider", ProviderGoogle).
			Wrap(err)
	}
	return profileFromPayload(payload), nil
}

func profileFromPayload(payload *idtoken.Payload) auth.ExternalProfile {
	str := func(key string) string {
		s, _ := payload.Claims[key].(string)
		return strings.TrimSpace(s)
	}
	return auth.ExternalProfile{
		Provider:      ProviderGoogle,
		Subject:       payload.Subject,
		Email:         str("email"),
		EmailVerified: emailVerified(payload.Claims["email_verified"]),
		Name:          str("name"),
		Picture:       str("picture"),
	}
}

// emailVerified accepts both the boolean and the string form Google has used.
func emailVerified(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}
