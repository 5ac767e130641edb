// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

// Package web is the HTTP surface of the auth core: the /auth routes, the
// Google OAuth round trip, the JWKS document and the guard middleware that
// enforces each route's auth.RouteDescriptor.
package web
