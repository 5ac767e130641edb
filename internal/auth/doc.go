// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

// Package auth implements the session and token lifecycle of the Agora forum.
//
// # Tokens
//
// A TokenCodec signs and verifies access and refresh tokens with an asymmetric
// key pair (RS256 or EdDSA). Access tokens are verified statelessly. Refresh
// tokens are additionally tracked server-side as RefreshTokenRecord rows keyed
// by an HMAC of the raw token; the raw value is never persisted.
//
// # Services
//
//   - SessionIssuer - mints an access/refresh pair, revoking prior sessions
//   - SessionRotator - validates, rotates and revokes refresh tokens
//   - Service - signup, signin, signout, refresh and federated signin
//   - FederatedBridge - resolves external identities to local accounts
//   - Guard - authenticates bearer tokens and enforces role/approval rules
//
// Services are created with New* constructors that validate dependencies and
// accept Option values for logging, metrics and clocks.
package auth
