package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/repositories"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	uniqueViolation = pq.ErrorCode("23505")

	uidConstraint   = "users_uid_key"
	emailConstraint = "users_email_lower_key"

	userColumns = `id, uid, username, email, role, is_active, auth_provider, created_at, updated_at`
)

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new user. An empty email is stored as NULL so it never collides.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		user.ID,
		user.UID,
		user.Username,
		user.Email,
		user.Role,
		user.IsActive,
		user.AuthProvider,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dupErr := duplicateError(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.Debug("user created", zap.String("id", user.ID.String()), zap.String("uid", user.UID))
	return nil
}

// GetByUID retrieves a user by identity provider subject id
func (r *UserRepository) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE uid = $1`
	return r.getOne(ctx, query, uid)
}

// GetByUIDForUpdate retrieves a user and locks its row. Only meaningful inside a transaction.
func (r *UserRepository) GetByUIDForUpdate(ctx context.Context, uid string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE uid = $1 FOR UPDATE`
	return r.getOne(ctx, query, uid)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return r.getOne(ctx, query, email)
}

// UpdateRole sets a user's role
func (r *UserRepository) UpdateRole(ctx context.Context, uid string, role models.UserRole) error {
	query := `UPDATE users SET role = $2, updated_at = $3 WHERE uid = $1`
	if err := r.execOne(ctx, query, uid, role, time.Now()); err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}

	r.logger.Debug("user role updated", zap.String("uid", uid), zap.String("role", string(role)))
	return nil
}

// UpdateActive sets a user's active flag
func (r *UserRepository) UpdateActive(ctx context.Context, uid string, active bool) error {
	query := `UPDATE users SET is_active = $2, updated_at = $3 WHERE uid = $1`
	if err := r.execOne(ctx, query, uid, active, time.Now()); err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}

	r.logger.Debug("user status updated", zap.String("uid", uid), zap.Bool("is_active", active))
	return nil
}

// Relink points an existing user at a new subject id, e.g. after an identity provider migration
func (r *UserRepository) Relink(ctx context.Context, id uuid.UUID, uid string, provider models.AuthProvider) error {
	query := `UPDATE users SET uid = $2, auth_provider = $3, updated_at = $4 WHERE id = $1`
	if err := r.execOne(ctx, query, id, uid, provider, time.Now()); err != nil {
		if dupErr := duplicateError(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to relink user: %w", err)
	}

	r.logger.Info("user relinked", zap.String("id", id.String()), zap.String("uid", uid), zap.String("provider", string(provider)))
	return nil
}

// Search finds users whose username or email contains query
func (r *UserRepository) Search(ctx context.Context, query string, limit, offset int) ([]*models.User, error) {
	sqlQuery := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username ILIKE $1 OR email ILIKE $1
		ORDER BY username ASC
		LIMIT $2 OFFSET $3
	`
	users, err := r.queryMany(ctx, sqlQuery, "%"+escapeLike(query)+"%", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

// ListActive pages through active users ordered by username
func (r *UserRepository) ListActive(ctx context.Context, limit, offset int) ([]*models.User, error) {
	sqlQuery := `
		SELECT ` + userColumns + `
		FROM users
		WHERE is_active
		ORDER BY username ASC, id ASC
		LIMIT $1 OFFSET $2
	`
	users, err := r.queryMany(ctx, sqlQuery, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	executor := GetExecutor(ctx, r.db)

	user, err := scanUser(executor.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	executor := GetExecutor(ctx, r.db)

	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var email sql.NullString

	err := row.Scan(
		&user.ID,
		&user.UID,
		&user.Username,
		&email,
		&user.Role,
		&user.IsActive,
		&user.AuthProvider,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Email = email.String
	return user, nil
}

// duplicateError maps a unique violation to the matching repository error, or returns nil
func duplicateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case emailConstraint:
		return fmt.Errorf("%w: %s", repositories.ErrDuplicateEmail, pqErr.Detail)
	default:
		return fmt.Errorf("%w: %s", repositories.ErrDuplicateUID, pqErr.Detail)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
