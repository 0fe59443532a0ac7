package auth

import (
	"context"

	"github.com/MoSam007/MicasaWeb/models"
)

// TokenVerifier validates a bearer token against one identity provider.
// Implementations must not touch the principal store.
type TokenVerifier interface {
	Provider() models.AuthProvider
	Verify(ctx context.Context, token string) (*Claims, error)
}

// DirectoryUser is the identity provider's own view of a user
type DirectoryUser struct {
	UID   string
	Email string
	Role  string
}

// Directory is the identity provider's admin API. It is only used while
// creating or re-roling principals.
type Directory interface {
	FetchUser(ctx context.Context, uid string) (*DirectoryUser, error)
	UpdateRoleMetadata(ctx context.Context, uid string, role models.UserRole, principalID string) error
}

// NoopDirectory is used for providers without admin API credentials
type NoopDirectory struct{}

// FetchUser always reports that nothing is known about the user
func (NoopDirectory) FetchUser(ctx context.Context, uid string) (*DirectoryUser, error) {
	return &DirectoryUser{UID: uid}, nil
}

// UpdateRoleMetadata does nothing
func (NoopDirectory) UpdateRoleMetadata(ctx context.Context, uid string, role models.UserRole, principalID string) error {
	return nil
}
