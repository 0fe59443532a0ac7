package repositories

import (
	"context"
	"errors"

	"github.com/MoSam007/MicasaWeb/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no row matches the lookup
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateUID is returned when another user already holds the subject id
	ErrDuplicateUID = errors.New("duplicate user uid")

	// ErrDuplicateEmail is returned when another user already holds the email
	ErrDuplicateEmail = errors.New("duplicate user email")
)

// IsDuplicate reports whether err is a uniqueness violation on users
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateUID) || errors.Is(err, ErrDuplicateEmail)
}

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository is the principal store. Users are never deleted; they are deactivated.
type UserRepository interface {
	// Create inserts a new user. Uniqueness violations return ErrDuplicateUID or ErrDuplicateEmail.
	Create(ctx context.Context, user *models.User) error

	// GetByUID retrieves a user by identity provider subject id
	GetByUID(ctx context.Context, uid string) (*models.User, error)

	// GetByUIDForUpdate retrieves a user and locks the row until the surrounding transaction ends
	GetByUIDForUpdate(ctx context.Context, uid string) (*models.User, error)

	// GetByEmail retrieves a user by email, case-insensitively
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// UpdateRole sets the role of the user with the given subject id
	UpdateRole(ctx context.Context, uid string, role models.UserRole) error

	// UpdateActive sets the active flag of the user with the given subject id
	UpdateActive(ctx context.Context, uid string, active bool) error

	// Relink moves an existing user to a new subject id and provider
	Relink(ctx context.Context, id uuid.UUID, uid string, provider models.AuthProvider) error

	// Search matches username or email case-insensitively, ordered by username
	Search(ctx context.Context, query string, limit, offset int) ([]*models.User, error)

	// ListActive pages through active users ordered by username
	ListActive(ctx context.Context, limit, offset int) ([]*models.User, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Users UserRepository
}
