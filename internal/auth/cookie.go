// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"net/http"
	"time"
)

// Refresh cookie wire format.
const (
	RefreshCookieName = "refreshToken"
	RefreshCookiePath = "/auth/"
)

// OAuth state binding cookie. It is only sent back to the Google routes.
const (
	StateCookieName = "oauthState"
	StateCookiePath = "/auth/google/"
)

// EnvironmentProduction is the deployment environment that requires secure cookies.
const EnvironmentProduction = "production"

// CookieAttributes are the attributes of the refresh-token cookie.
type CookieAttributes struct {
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
	Path     string
	MaxAge   int // seconds
}

// AttributesFor returns the cookie attributes for a deployment environment.
// MaxAge equals the refresh token lifetime so the cookie and token expire together.
func AttributesFor(environment string, refreshTTL time.Duration) CookieAttributes {
	production := environment == EnvironmentProduction
	sameSite := http.SameSiteLaxMode
	if production {
		sameSite = http.SameSiteNoneMode
	}
	return CookieAttributes{
		HTTPOnly: true,
		Secure:   production,
		SameSite: sameSite,
		Path:     RefreshCookiePath,
		MaxAge:   int(refreshTTL / time.Second),
	}
}

// CookieTransport carries refresh tokens in an HTTP-only cookie.
type CookieTransport struct {
	attrs CookieAttributes
}

// NewCookieTransport creates a CookieTransport for the environment.
func NewCookieTransport(environment string, refreshTTL time.Duration) *CookieTransport {
	return &CookieTransport{attrs: AttributesFor(environment, refreshTTL)}
}

// Attributes returns the configured cookie attributes.
func (c *CookieTransport) Attributes() CookieAttributes {
	return c.attrs
}

// RefreshCookie returns the cookie that carries token.
func (c *CookieTransport) RefreshCookie(token string) *http.Cookie {
	return c.cookie(token, c.attrs.MaxAge)
}

// ClearCookie returns a cookie that removes the refresh token from the client.
func (c *CookieTransport) ClearCookie() *http.Cookie {
	return c.cookie("", -1)
}

// RefreshToken reads the refresh token from the request, or "" when absent.
func (c *CookieTransport) RefreshToken(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// StateCookie returns the cookie binding an OAuth state to this browser. It
// is Lax even in production since the callback arrives as a cross-site
// top-level navigation.
func (c *CookieTransport) StateCookie(binding string, ttl time.Duration) *http.Cookie {
	return c.stateCookie(binding, int(ttl/time.Second))
}

// ClearStateCookie returns a cookie that removes the OAuth state binding.
func (c *CookieTransport) ClearStateCookie() *http.Cookie {
	return c.stateCookie("", -1)
}

// StateBinding reads the OAuth state binding from the request, or "" when absent.
func (c *CookieTransport) StateBinding(r *http.Request) string {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c *CookieTransport) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     StateCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.attrs.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c *CookieTransport) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     c.attrs.Path,
		MaxAge:   maxAge,
		HttpOnly: c.attrs.HTTPOnly,
		Secure:   c.attrs.Secure,
		SameSite: c.attrs.SameSite,
	}
}
