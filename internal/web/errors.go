// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package web

import (
	"fmt"
	"net/http"

	"github.com/samber/oops"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/pkg/errutil"
)

// CodeBadRequest marks malformed request bodies.
const CodeBadRequest = "WEB_BAD_REQUEST"

const codeEmptyPassword = "AUTH_EMPTY_PASSWORD"

// Generic client-facing messages. Credential and token failures share one
// message so responses never reveal which check failed.
const (
	msgInvalidCredentials = "invalid credentials"
	msgForbidden          = "forbidden"
	msgInternal           = "internal server error"
)

// httpError maps an error to its status code and client-facing body.
func httpError(err error) (int, ErrorResponse) {
	switch errutil.Code(err) {
	case auth.CodeDuplicateIdentity:
		field := ""
		if oopsErr, ok := oops.AsOops(err); ok {
			if v, ok := oopsErr.Context()["field"]; ok {
				field = fmt.Sprint(v)
			}
		}
		return http.StatusBadRequest, ErrorResponse{Error: "identity already in use", Field: field}

	case auth.CodeInvalidUsername, auth.CodeInvalidEmail, auth.CodeInvalidPassword,
		auth.CodeInvalidProfile, codeEmptyPassword, CodeBadRequest:
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}

	case "OAUTH_STATE_INVALID", "OAUTH_STATE_EXPIRED":
		return http.StatusBadRequest, ErrorResponse{Error: "invalid or expired registration ticket"}

	case auth.CodeForbiddenRole, auth.CodeApprovalRequired:
		return http.StatusForbidden, ErrorResponse{Error: msgForbidden}

	case auth.CodeInvalidCredentials, auth.CodeUnauthorized,
		auth.CodeRefreshInvalid, auth.CodeRefreshExpired,
		auth.CodeTokenMalformed, auth.CodeTokenInvalidSignature,
		auth.CodeTokenExpired, auth.CodeTokenWrongType:
		return http.StatusUnauthorized, ErrorResponse{Error: msgInvalidCredentials}

	case auth.CodeUsernameExhausted:
		return http.StatusConflict, ErrorResponse{Error: "could not derive a free username"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: msgInternal}
}
