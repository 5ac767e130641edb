// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/agora-forum/agora/internal/auth"
)

// SessionResponse is returned by every endpoint that issues a session. The
// refresh token travels only in the cookie.
type SessionResponse struct {
	AccessToken          string             `json:"accessToken"`
	AccessTokenExpiresAt time.Time          `json:"accessTokenExpiresAt"`
	User                 auth.SanitizedUser `json:"user"`
}

type signupRequest struct {
	Username       string  `json:"username"`
	Email          string  `json:"email"`
	Name           string  `json:"name"`
	Password       string  `json:"password"`
	AcademicNumber *string `json:"academicNumber"`
	Picture        *string `json:"picture"`
}

type signinRequest struct {
	Identifier     string `json:"identifier"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	AcademicNumber string `json:"academicNumber"`
	Password       string `json:"password"`
}

// identifier accepts the generic field or any of the specific ones.
func (s signinRequest) identifier() string {
	for _, v := range []string{s.Identifier, s.Username, s.AcademicNumber, s.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (a *api) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.Auth.Signup(r.Context(), auth.SignupInput{
		Username:       strings.TrimSpace(req.Username),
		Email:          req.Email,
		Name:           req.Name,
		Password:       req.Password,
		AcademicNumber: req.AcademicNumber,
		AuthMethod:     auth.AuthMethodLocal,
		Picture:        req.Picture,
	}, deviceFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.session(w, http.StatusCreated, result)
}

func (a *api) signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.Auth.Signin(r.Context(), req.identifier(), req.Password, deviceFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.session(w, http.StatusOK, result)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	result, err := a.Auth.Refresh(r.Context(), a.Cookies.RefreshToken(r), deviceFrom(r))
	if err != nil {
		http.SetCookie(w, a.Cookies.ClearCookie())
		a.fail(w, r, err)
		return
	}
	a.session(w, http.StatusOK, result)
}

func (a *api) signout(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	err := a.Auth.Signout(r.Context(), a.Cookies.RefreshToken(r), p.User.ID)
	http.SetCookie(w, a.Cookies.ClearCookie())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, struct{}{})
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	WriteJSON(w, http.StatusOK, map[string]auth.SanitizedUser{"user": p.User.Sanitize()})
}

func (a *api) adminPing(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "role": p.User.Role})
}

func (a *api) jwks(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	WriteJSON(w, http.StatusOK, a.Keys.PublicJWKS())
}

// session sets the refresh cookie and writes the session body.
func (a *api) session(w http.ResponseWriter, status int, result *auth.AuthResult) {
	http.SetCookie(w, a.Cookies.RefreshCookie(result.RefreshToken))
	WriteJSON(w, status, SessionResponse{
		AccessToken:          result.AccessToken,
		AccessTokenExpiresAt: result.AccessExpiresAt,
		User:                 result.User,
	})
}
