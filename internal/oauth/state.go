// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/agora-forum/agora/internal/auth"
)

// Lifetimes of signed values.
const (
	StateTTL  = 10 * time.Minute
	TicketTTL = 30 * time.Minute
)

// minSecretLength matches the config requirement for oauth.state_secret.
const minSecretLength = 16

const (
	purposeState  = "state"
	purposeTicket = "ticket"
)

type envelope struct {
	Purpose  string          `json:"p"`
	Nonce    string          `json:"n"`
	IssuedAt int64           `json:"ts"`
	Data     json.RawMessage `json:"d,omitempty"`
}

type statePayload struct {
	Redirect string `json:"redirect,omitempty"`
	Binding  string `json:"b"`
}

type ticketPayload struct {
	Provider string `json:"provider"`
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Picture  string `json:"picture,omitempty"`
}

// Signer produces and checks HMAC-signed values that travel through the
// browser: the OAuth state parameter and the registration completion ticket.
// Values have the form base64url(payload) + "." + base64url(hmac).
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer. now may be nil.
func NewSigner(secret []byte, now func() time.Time) (*Signer, error) {
	if len(secret) < minSecretLength {
		return nil, oops.Code("OAUTH_CONFIG_INVALID").
			With("min_length", minSecretLength).
			Errorf("state secret is too short")
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: append([]byte(nil), secret...), now: now}, nil
}

// State returns a state parameter carrying the post-login redirect, and the
// binding value the browser must present with it on the callback. The binding
// travels in a cookie so a state minted by one browser is useless in another.
func (s *Signer) State(redirect string) (state, binding string, err error) {
	binding, err = randomToken()
	if err != nil {
		return "", "", err
	}
	state, err = s.seal(purposeState, statePayload{Redirect: redirect, Binding: binding})
	if err != nil {
		return "", "", err
	}
	return state, binding, nil
}

// ParseState verifies a state parameter against the binding presented by the
// browser and returns its redirect.
func (s *Signer) ParseState(state, binding string) (string, error) {
	var p statePayload
	if err := s.open(purposeState, state, StateTTL, &p); err != nil {
		return "", err
	}
	if binding == "" || p.Binding == "" || !hmac.Equal([]byte(binding), []byte(p.Binding)) {
		return "", invalidState(purposeState, "browser mismatch")
	}
	return p.Redirect, nil
}

// Ticket binds a provider-verified profile to the completion form so the
// completion request cannot substitute another email.
func (s *Signer) Ticket(profile auth.ExternalProfile) (string, error) {
	return s.seal(purposeTicket, ticketPayload{
		Provider: profile.Provider,
		Subject:  profile.Subject,
		Email:    profile.Email,
		Name:     profile.Name,
		Picture:  profile.Picture,
	})
}

// ParseTicket verifies a completion ticket. The returned profile is marked
// email-verified because only verified profiles are ever ticketed.
func (s *Signer) ParseTicket(ticket string) (auth.ExternalProfile, error) {
	var p ticketPayload
	if err := s.open(purposeTicket, ticket, TicketTTL, &p); err != nil {
		return auth.ExternalProfile{}, err
	}
	return auth.ExternalProfile{
		Provider:      p.Provider,
		Subject:       p.Subject,
		Email:         p.Email,
		EmailVerified: true,
		Name:          p.Name,
		Picture:       p.Picture,
	}, nil
}

func (s *Signer) seal(purpose string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", oops.Code("OAUTH_STATE_FAILED").With("purpose", purpose).Wrap(err)
	}
	nonce, err := randomToken()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(envelope{
		Purpose:  purpose,
		Nonce:    nonce,
		IssuedAt: s.now().Unix(),
		Data:     raw,
	})
	if err != nil {
		return "", oops.Code("OAUTH_STATE_FAILED").With("purpose", purpose).Wrap(err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + s.sign(payload), nil
}

func (s *Signer) open(purpose, value string, ttl time.Duration, out any) error {
	payload, sig, ok := strings.Cut(value, ".")
	if !ok || payload == "" {
		return invalidState(purpose, "malformed")
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return invalidState(purpose, "bad signature")
	}
	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return invalidState(purpose, "bad encoding")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return invalidState(purpose, "bad payload")
	}
	if env.Purpose != purpose {
		return invalidState(purpose, "wrong purpose")
	}
	issued := time.Unix(env.IssuedAt, 0)
	if age := s.now().Sub(issued); age > ttl || age < -time.Minute {
		return oops.Code("OAUTH_STATE_EXPIRED").
			With("purpose", purpose).
			With("issued_at", issued).
			Errorf("%s expired", purpose)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return invalidState(purpose, "bad data")
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("OAUTH_STATE_FAILED").With("operation", "generate nonce").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func invalidState(purpose, reason string) error {
	return oops.Code("OAUTH_STATE_INVALID").
		With("purpose", purpose).
		With("reason", reason).
		Errorf("invalid %s", purpose)
}
