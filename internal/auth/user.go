// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Role is a user's authorization role.
type Role string

// Roles.
const (
	RoleStudent    Role = "STUDENT"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdministrative reports whether r bypasses moderation approval.
func (r Role) IsAdministrative() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// ApprovalStatus is the moderation state of a student account.
type ApprovalStatus string

// Approval states.
const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// AuthMethod records how an account authenticates.
type AuthMethod string

// Authentication methods.
const (
	AuthMethodLocal  AuthMethod = "LOCAL"
	AuthMethodGoogle AuthMethod = "GOOGLE"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 8
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// User is a forum account. The user store owns it; this package only reads it
// and updates login bookkeeping.
type User struct {
	ID             int64
	Username       string
	Email          string
	Name           string
	AcademicNumber *string
	Role           Role
	Approval       ApprovalStatus
	AuthMethod     AuthMethod
	PasswordHash   *string // nil for federated accounts
	Picture        *string
	IsActive       bool
	IsDeleted      bool
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanAuthenticate reports whether the account may hold or obtain a session.
// Deleted or inactive accounts fail every authentication check.
func (u *User) CanAuthenticate() bool {
	return u != nil && u.IsActive && !u.IsDeleted
}

// HasLocalPassword reports whether the account can sign in with a password.
func (u *User) HasLocalPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// SanitizedUser is the client-facing projection of a User. It never carries
// the password hash.
type SanitizedUser struct {
	ID             int64          `json:"id"`
	Username       string         `json:"username"`
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	AcademicNumber *string        `json:"academicNumber,omitempty"`
	Role           Role           `json:"role"`
	Approval       ApprovalStatus `json:"approvalStatus"`
	AuthMethod     AuthMethod     `json:"authMethod"`
	Picture        *string        `json:"picture,omitempty"`
	LastLoginAt    *time.Time     `json:"lastLoginAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Sanitize returns the client-facing projection of u.
func (u *User) Sanitize() SanitizedUser {
	return SanitizedUser{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		Name:           u.Name,
		AcademicNumber: u.AcademicNumber,
		Role:           u.Role,
		Approval:       u.Approval,
		AuthMethod:     u.AuthMethod,
		Picture:        u.Picture,
		LastLoginAt:    u.LastLoginAt,
		CreatedAt:      u.CreatedAt,
	}
}

// NewUser creates a validated, not yet persisted student account.
// passwordHash must be nil for federated accounts and set for local ones.
func NewUser(username, email, name string, academicNumber *string, method AuthMethod, passwordHash, picture *string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, oops.Code(CodeInvalidProfile).With("field", "name").Errorf("name cannot be empty")
	}
	if academicNumber != nil && strings.TrimSpace(*academicNumber) == "" {
		academicNumber = nil
	}
	switch method {
	case AuthMethodLocal:
		if passwordHash == nil || *passwordHash == "" {
			return nil, oops.Code(CodeInvalidPassword).Errorf("local accounts require a password")
		}
	case AuthMethodGoogle:
		passwordHash = nil
	default:
		return nil, oops.Code(CodeInvalidProfile).With("field", "authMethod").Errorf("unknown auth method %q", method)
	}

	now := time.Now()
	return &User{
		Username:       username,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		Name:           strings.TrimSpace(name),
		AcademicNumber: academicNumber,
		Role:           RoleStudent,
		Approval:       ApprovalPending,
		AuthMethod:     method,
		PasswordHash:   passwordHash,
		Picture:        picture,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeInvalidUsername).
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(CodeInvalidEmail).Errorf("email is not a valid address")
	}
	return nil
}

// ValidatePassword checks the minimum password policy for local accounts.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// UserRepository is the user store as seen by the auth core. Every lookup is
// scoped to non-deleted users.
type UserRepository interface {
	// Create stores a new user and assigns its ID.
	// Returns an error wrapping ErrDuplicate on a unique-identity conflict.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByAcademicNumber retrieves a user by academic number.
	GetByAcademicNumber(ctx context.Context, academicNumber string) (*User, error)

	// UpdateLastLogin records a successful session issuance.
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error

	// UpdatePasswordHash replaces the stored password hash.
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
}
