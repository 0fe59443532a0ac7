package models

import (
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	user := NewUser("abc123", "jane@x.com", RoleHunter, ProviderFirebase)

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "abc123", user.UID)
	assert.Equal(t, "jane", user.Username)
	assert.Equal(t, "jane@x.com", user.Email)
	assert.Equal(t, RoleHunter, user.Role)
	assert.True(t, user.IsActive)
	assert.Equal(t, ProviderFirebase, user.AuthProvider)
	assert.False(t, user.CreatedAt.IsZero())
	assert.Equal(t, user.CreatedAt, user.UpdatedAt)
}

func TestAuthProvider_IsValid(t *testing.T) {
	assert.True(t, ProviderClerk.IsValid())
	assert.True(t, ProviderFirebase.IsValid())
	assert.False(t, AuthProvider("cognito").IsValid())
	assert.False(t, AuthProvider("").IsValid())
}

func TestDeriveUsername(t *testing.T) {
	tests := []struct {
		name  string
		email string
		uid   string
		want  string
	}{
		{"email local part", "jane@x.com", "abc123", "jane"},
		{"no email uses truncated uid", "", "user_2abcdefghijk", "user_2ab"},
		{"short uid kept whole", "", "abc", "abc"},
		{"email without at sign", "jane", "abc123", "jane"},
		{"email with empty local part", "@x.com", "abcdefghij", "abcdefgh"},
		{"multibyte uid cut on rune boundary", "", "üsér_ñámé_123", "üsér_ñám"},
		{"cjk uid", "", "用户标识符一二三四五", "用户标识符一二三"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveUsername(tt.email, tt.uid)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestParseUserRole(t *testing.T) {
	t.Run("valid roles", func(t *testing.T) {
		for _, r := range AllRoles {
			got, err := ParseUserRole(string(r))
			require.NoError(t, err)
			assert.Equal(t, r, got)
		}
	})

	t.Run("case and whitespace are normalized", func(t *testing.T) {
		got, err := ParseUserRole("  Owner ")
		require.NoError(t, err)
		assert.Equal(t, RoleOwner, got)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := ParseUserRole("landlord")
		assert.ErrorIs(t, err, ErrUnknownRole)
	})

	t.Run("empty role", func(t *testing.T) {
		_, err := ParseUserRole("")
		assert.ErrorIs(t, err, ErrUnknownRole)
	})
}

func TestUser_IsAdmin(t *testing.T) {
	tests := []struct {
		role UserRole
		want bool
	}{
		{RoleAdmin, true},
		{RoleOwner, false},
		{RoleMover, false},
		{RoleHunter, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			user := &User{Role: tt.role}
			assert.Equal(t, tt.want, user.IsAdmin())
		})
	}
}

func TestUser_HasAnyRole(t *testing.T) {
	user := &User{Role: RoleMover}

	assert.True(t, user.HasAnyRole(RoleOwner, RoleMover))
	assert.False(t, user.HasAnyRole(RoleAdmin))
	assert.False(t, user.HasAnyRole())
}

func TestUser_PublicHidesPrivateFields(t *testing.T) {
	user := NewUser("abc123", "jane@x.com", RoleOwner, ProviderClerk)

	data, err := json.Marshal(user.Public())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc123", decoded["uid"])
	assert.Equal(t, "jane", decoded["username"])
	assert.Equal(t, "owner", decoded["role"])
	assert.NotContains(t, decoded, "email")
	assert.NotContains(t, decoded, "is_active")
}
