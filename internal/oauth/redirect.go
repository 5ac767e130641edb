// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package oauth

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// RedirectPolicy decides where the browser may be sent after signin. The
// frontend origin is always allowed; other targets must match one of the
// configured glob patterns, where "*" stops at "." and "/" and "**" does not.
type RedirectPolicy struct {
	frontend   *url.URL
	patterns   []glob.Glob
	production bool
}

// NewRedirectPolicy compiles patterns. Production policies reject plain http.
func NewRedirectPolicy(frontendURL string, patterns []string, production bool) (*RedirectPolicy, error) {
	frontend, err := url.Parse(frontendURL)
	if err != nil || frontend.Scheme == "" || frontend.Host == "" {
		return nil, oops.Code("OAUTH_CONFIG_INVALID").
			With("frontend_url", frontendURL).
			Errorf("frontend url must be absolute")
	}
	p := &RedirectPolicy{frontend: frontend, production: production}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '.', '/')
		if err != nil {
			return nil, oops.Code("OAUTH_CONFIG_INVALID").
				With("pattern", pattern).
				Wrapf(err, "invalid redirect pattern")
		}
		p.patterns = append(p.patterns, g)
	}
	return p, nil
}

// Frontend returns the frontend base URL.
func (p *RedirectPolicy) Frontend() string {
	return strings.TrimSuffix(p.frontend.String(), "/")
}

// Allowed reports whether target is a safe redirect.
func (p *RedirectPolicy) Allowed(target string) bool {
	if target == "" || strings.HasPrefix(target, "//") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || u.User != nil {
		return false
	}
	switch u.Scheme {
	case "https":
	case "http":
		if p.production {
			return false
		}
	default:
		return false
	}
	if strings.EqualFold(u.Scheme, p.frontend.Scheme) && strings.EqualFold(u.Host, p.frontend.Host) {
		return true
	}
	for _, g := range p.patterns {
		if g.Match(target) {
			return true
		}
	}
	return false
}

// Resolve returns target when allowed and the frontend URL otherwise.
func (p *RedirectPolicy) Resolve(target string) string {
	if p.Allowed(target) {
		return target
	}
	return p.Frontend()
}
