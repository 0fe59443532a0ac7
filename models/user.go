package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRole represents the marketplace role of a user
type UserRole string

const (
	RoleHunter UserRole = "hunter"
	RoleOwner  UserRole = "owner"
	RoleMover  UserRole = "mover"
	RoleAdmin  UserRole = "admin"
)

// DefaultRole is assigned when neither the token nor the identity provider supplies a valid role
const DefaultRole = RoleHunter

// AllRoles lists every role a user can hold
var AllRoles = []UserRole{RoleHunter, RoleOwner, RoleMover, RoleAdmin}

// ErrUnknownRole is returned by ParseUserRole for values outside AllRoles
var ErrUnknownRole = errors.New("role must be one of hunter, owner, mover, admin")

// ParseUserRole parses a raw role string. Surrounding whitespace and case are ignored.
func ParseUserRole(s string) (UserRole, error) {
	role := UserRole(strings.ToLower(strings.TrimSpace(s)))
	if !role.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return role, nil
}

// IsValid reports whether the role is part of the fixed role set
func (r UserRole) IsValid() bool {
	switch r {
	case RoleHunter, RoleOwner, RoleMover, RoleAdmin:
		return true
	}
	return false
}

func (r UserRole) String() string {
	return string(r)
}

// AuthProvider identifies the identity provider a user authenticated with
type AuthProvider string

const (
	ProviderClerk    AuthProvider = "clerk"
	ProviderFirebase AuthProvider = "firebase"
)

// IsValid reports whether p names a supported identity provider
func (p AuthProvider) IsValid() bool {
	return p == ProviderClerk || p == ProviderFirebase
}

// User is the locally persisted principal behind an external identity
type User struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	UID          string       `json:"uid" db:"uid"` // identity provider subject id
	Username     string       `json:"username" db:"username"`
	Email        string       `json:"email,omitempty" db:"email"`
	Role         UserRole     `json:"role" db:"role"`
	IsActive     bool         `json:"is_active" db:"is_active"`
	AuthProvider AuthProvider `json:"auth_provider" db:"auth_provider"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// NewUser creates a new, active User instance
func NewUser(uid, email string, role UserRole, provider AuthProvider) *User {
	now := time.Now()
	return &User{
		ID:           uuid.New(),
		UID:          uid,
		Username:     DeriveUsername(email, uid),
		Email:        email,
		Role:         role,
		IsActive:     true,
		AuthProvider: provider,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// DeriveUsername returns the local part of email, or the first 8 runes of uid when email is empty
func DeriveUsername(email, uid string) string {
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	if email != "" && !strings.Contains(email, "@") {
		return email
	}
	if r := []rune(uid); len(r) > 8 {
		return string(r[:8])
	}
	return uid
}

// IsAdmin returns true if the user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasAnyRole reports whether the user holds one of roles
func (u *User) HasAnyRole(roles ...UserRole) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// PublicProfile is the subset of a user visible to other authenticated users
type PublicProfile struct {
	UID      string   `json:"uid"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// Public strips private fields from the user
func (u *User) Public() PublicProfile {
	return PublicProfile{UID: u.UID, Username: u.Username, Role: u.Role}
}
