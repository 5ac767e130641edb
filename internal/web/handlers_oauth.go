// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/oauth"
	"github.com/agora-forum/agora/pkg/errutil"
)

// Paths on the frontend reached after the Google round trip.
const (
	completeRegistrationPath = "/complete-registration"
	signinPath               = "/signin"
)

// Error values passed to the frontend signin page.
const (
	oauthErrDenied = "oauth_denied"
	oauthErrState  = "oauth_state"
	oauthErrFailed = "oauth_failed"
)

type completeRequest struct {
	Ticket         string  `json:"ticket"`
	Username       string  `json:"username"`
	Name           string  `json:"name"`
	AcademicNumber *string `json:"academicNumber"`
}

func (a *api) googleLogin(w http.ResponseWriter, r *http.Request) {
	redirect := ""
	if target := r.URL.Query().Get("redirect"); target != "" && a.Redirects.Allowed(target) {
		redirect = target
	}
	state, binding, err := a.Signer.State(redirect)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	http.SetCookie(w, a.Cookies.StateCookie(binding, oauth.StateTTL))
	http.Redirect(w, r, a.Google.AuthCodeURL(state), http.StatusFound)
}

func (a *api) googleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	binding := a.Cookies.StateBinding(r)
	http.SetCookie(w, a.Cookies.ClearStateCookie())
	redirect, err := a.Signer.ParseState(q.Get("state"), binding)
	if err != nil {
		a.Logger.InfoContext(ctx, "oauth callback rejected", "code", errutil.Code(err))
		a.toSignin(w, r, oauthErrState)
		return
	}
	if q.Get("error") != "" {
		a.toSignin(w, r, oauthErrDenied)
		return
	}

	profile, err := a.Google.Exchange(ctx, q.Get("code"))
	if err != nil {
		errutil.LogErrorContext(ctx, a.Logger, "oauth code exchange failed", err)
		a.toSignin(w, r, oauthErrFailed)
		return
	}

	result, err := a.Auth.SigninFederated(ctx, profile, deviceFrom(r))
	if err != nil {
		a.Logger.InfoContext(ctx, "federated signin rejected", "code", errutil.Code(err))
		a.toSignin(w, r, oauthErrDenied)
		return
	}

	if result.Kind == auth.FederatedIncomplete {
		ticket, err := a.Signer.Ticket(profile)
		if err != nil {
			errutil.LogErrorContext(ctx, a.Logger, "completion ticket failed", err)
			a.toSignin(w, r, oauthErrFailed)
			return
		}
		s := result.Suggestion
		v := url.Values{}
		v.Set("email", s.Email)
		v.Set("username", s.SuggestedUsername)
		v.Set("name", s.Name)
		v.Set("picture", s.Picture)
		v.Set("ticket", ticket)
		http.Redirect(w, r, a.Redirects.Frontend()+completeRegistrationPath+"?"+v.Encode(), http.StatusFound)
		return
	}

	http.SetCookie(w, a.Cookies.RefreshCookie(result.Auth.RefreshToken))
	if redirect == "" {
		redirect = a.Redirects.Frontend()
	}
	http.Redirect(w, r, a.Redirects.Resolve(redirect), http.StatusFound)
}

func (a *api) googleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	profile, err := a.Signer.ParseTicket(req.Ticket)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var picture *string
	if profile.Picture != "" {
		picture = &profile.Picture
	}
	result, err := a.Auth.CompleteFederatedSignup(r.Context(), auth.CompleteSignupInput{
		Username:       strings.TrimSpace(req.Username),
		Email:          profile.Email,
		Name:           firstNonEmpty(req.Name, profile.Name, req.Username),
		AcademicNumber: req.AcademicNumber,
		Picture:        picture,
	}, deviceFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.session(w, http.StatusCreated, result)
}

func (a *api) toSignin(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, a.Redirects.Frontend()+signinPath+"?error="+url.QueryEscape(reason), http.StatusFound)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
