// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when a unique identity is already taken.
var ErrDuplicate = errors.New("duplicate")

// Error codes surfaced by this package. The HTTP boundary maps them to
// status codes; everything else is treated as an internal failure.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeDuplicateIdentity  = "AUTH_DUPLICATE_IDENTITY"
	CodeInvalidUsername    = "AUTH_INVALID_USERNAME"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeInvalidPassword    = "AUTH_INVALID_PASSWORD"
	CodeInvalidProfile     = "AUTH_INVALID_PROFILE"
	CodeUnauthorized       = "AUTH_UNAUTHORIZED"
	CodeForbiddenRole      = "AUTH_FORBIDDEN_ROLE"
	CodeApprovalRequired   = "AUTH_APPROVAL_REQUIRED"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeUsernameExhausted  = "AUTH_USERNAME_EXHAUSTED"

	CodeRefreshInvalid     = "REFRESH_INVALID"
	CodeRefreshExpired     = "REFRESH_EXPIRED"
	CodeRefreshStoreFailed = "REFRESH_STORE_FAILED"

	CodeTokenMalformed        = "TOKEN_MALFORMED"
	CodeTokenInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenWrongType        = "TOKEN_WRONG_TYPE"
)

// contextValue returns a context value attached to an oops error chain.
func contextValue(err error, key string) (any, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil, false
	}
	v, ok := oopsErr.Context()[key]
	return v, ok
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid credentials")
}

func unauthorized(reason string) error {
	return oops.Code(CodeUnauthorized).With("reason", reason).Errorf("unauthorized")
}
