package principal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/repositories"
	"github.com/MoSam007/MicasaWeb/services"
	"github.com/MoSam007/MicasaWeb/services/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	exportPageSize     = 500
)

// Propagator schedules best-effort role metadata updates at the identity provider
type Propagator interface {
	Enqueue(job propagation.Job) error
}

// Config holds resolver behaviour switches
type Config struct {
	// LinkAccountsByEmail moves an existing principal onto a new subject id when
	// a first-seen identity presents an email that is already registered.
	LinkAccountsByEmail bool

	// DirectoryTimeout bounds each identity provider admin API call
	DirectoryTimeout time.Duration

	// ResolveTimeout bounds a lookup shared by concurrent requests for the same
	// subject id. It runs detached from any single caller's cancellation.
	ResolveTimeout time.Duration
}

// Resolver maps verified token claims to local principals, creating them on first sight
type Resolver struct {
	users       repositories.UserRepository
	txMgr       repositories.TransactionManager
	directories map[models.AuthProvider]auth.Directory
	propagator  Propagator
	config      Config
	logger      *zap.Logger
	group       singleflight.Group
}

// NewResolver creates a new Resolver. directories and propagator may be nil.
func NewResolver(
	users repositories.UserRepository,
	txMgr repositories.TransactionManager,
	directories map[models.AuthProvider]auth.Directory,
	propagator Propagator,
	config Config,
	logger *zap.Logger,
) *Resolver {
	if config.DirectoryTimeout <= 0 {
		config.DirectoryTimeout = 5 * time.Second
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 2 * config.DirectoryTimeout
	}
	if directories == nil {
		directories = map[models.AuthProvider]auth.Directory{}
	}
	return &Resolver{
		users:       users,
		txMgr:       txMgr,
		directories: directories,
		propagator:  propagator,
		config:      config,
		logger:      logger,
	}
}

// Resolve returns the principal for claims, creating it when the subject id is new.
// The returned role is always the stored one; a role claim only matters at creation.
func (r *Resolver) Resolve(ctx context.Context, claims *auth.Claims) (*models.User, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, services.ErrOwnerIDMissing
	}

	key := string(claims.Provider) + ":" + claims.Subject
	ch := r.group.DoChan(key, func() (interface{}, error) {
		// Every waiter shares this call, so it must not die with the first caller.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.ResolveTimeout)
		defer cancel()
		return r.resolve(shared, claims)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		user := res.Val.(*models.User)
		if res.Shared {
			// Callers must not share a mutable pointer
			cp := *user
			return &cp, nil
		}
		return user, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, claims *auth.Claims) (*models.User, error) {
	user, err := r.users.GetByUID(ctx, claims.Subject)
	if err == nil {
		r.logRoleDrift(user, claims)
		return user, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrDatabaseError.Wrap(err)
	}
	return r.create(ctx, claims)
}

func (r *Resolver) create(ctx context.Context, claims *auth.Claims) (*models.User, error) {
	email := normalizeEmail(claims.Email)
	dirUser := r.lookupDirectory(ctx, claims, email)

	dirRole := ""
	if dirUser != nil {
		if email == "" {
			email = normalizeEmail(dirUser.Email)
		}
		dirRole = dirUser.Role
	}

	user := models.NewUser(claims.Subject, email, initialRole(claims.Role, dirRole), claims.Provider)

	err := r.users.Create(ctx, user)
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrDuplicateUID):
		// Lost a first-sight race to another request
		existing, gerr := r.users.GetByUID(ctx, claims.Subject)
		if gerr != nil {
			return nil, services.ErrDatabaseError.Wrap(gerr)
		}
		return existing, nil
	case errors.Is(err, repositories.ErrDuplicateEmail):
		// The email index can fire before the uid index when another process
		// created this same subject id first.
		existing, gerr := r.users.GetByUID(ctx, claims.Subject)
		if gerr == nil {
			return existing, nil
		}
		if !errors.Is(gerr, repositories.ErrNotFound) {
			return nil, services.ErrDatabaseError.Wrap(gerr)
		}
		return r.linkByEmail(ctx, user, err)
	default:
		return nil, services.ErrDatabaseError.Wrap(err)
	}

	r.logger.Info("created principal",
		zap.String("uid", user.UID),
		zap.String("provider", string(user.AuthProvider)),
		zap.String("role", string(user.Role)))

	r.propagate(user)
	return user, nil
}

// linkByEmail re-points an existing principal at a new subject id. This is how
// users keep their account when they first sign in through the other provider.
func (r *Resolver) linkByEmail(ctx context.Context, user *models.User, cause error) (*models.User, error) {
	if !r.config.LinkAccountsByEmail {
		return nil, services.ErrDuplicateEmail.Wrap(cause)
	}

	existing, err := r.users.GetByEmail(ctx, user.Email)
	if err != nil {
		return nil, services.ErrDatabaseError.Wrap(err)
	}

	if err := r.users.Relink(ctx, existing.ID, user.UID, user.AuthProvider); err != nil {
		if repositories.IsDuplicate(err) {
			return nil, services.ErrDuplicateEmail.Wrap(err)
		}
		return nil, services.ErrDatabaseError.Wrap(err)
	}

	r.logger.Info("linked principal to new identity",
		zap.String("principal_id", existing.ID.String()),
		zap.String("previous_uid", existing.UID),
		zap.String("uid", user.UID),
		zap.String("provider", string(user.AuthProvider)))

	existing.UID = user.UID
	existing.AuthProvider = user.AuthProvider
	existing.UpdatedAt = time.Now()

	r.propagate(existing)
	return existing, nil
}

// lookupDirectory fills in what the token left out. Failures are not fatal.
func (r *Resolver) lookupDirectory(ctx context.Context, claims *auth.Claims, email string) *auth.DirectoryUser {
	if email != "" && claims.Role != "" {
		return nil
	}
	dir, ok := r.directories[claims.Provider]
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.DirectoryTimeout)
	defer cancel()

	dirUser, err := dir.FetchUser(ctx, claims.Subject)
	if err != nil {
		r.logger.Warn("identity provider user lookup failed",
			zap.String("uid", claims.Subject),
			zap.String("provider", string(claims.Provider)),
			zap.Error(err))
		return nil
	}
	return dirUser
}

func (r *Resolver) logRoleDrift(user *models.User, claims *auth.Claims) {
	if claims.Role == "" {
		return
	}
	claimed, err := models.ParseUserRole(claims.Role)
	if err != nil || claimed == user.Role {
		return
	}
	r.logger.Debug("ignoring token role that differs from stored role",
		zap.String("uid", user.UID),
		zap.String("stored_role", string(user.Role)),
		zap.String("claimed_role", string(claimed)))
}

func (r *Resolver) propagate(user *models.User) {
	if r.propagator == nil {
		return
	}
	err := r.propagator.Enqueue(propagation.Job{
		Provider:    user.AuthProvider,
		UID:         user.UID,
		Role:        user.Role,
		PrincipalID: user.ID.String(),
	})
	if err != nil {
		r.logger.Debug("role propagation not scheduled", zap.String("uid", user.UID), zap.Error(err))
	}
}

// ChangeRole sets the role of the principal with targetUID on behalf of actor.
// Admins may change anyone. Everyone else is locked to the role they registered with.
func (r *Resolver) ChangeRole(ctx context.Context, actor *models.User, targetUID, rawRole string) (*models.User, error) {
	if actor == nil {
		return nil, services.ErrUnauthorized
	}

	role, err := models.ParseUserRole(rawRole)
	if err != nil {
		return nil, services.ErrRoleInvalid.Wrap(err).WithDetail("allowed_roles", models.AllRoles)
	}

	if !actor.IsAdmin() {
		if targetUID != actor.UID {
			return nil, services.ErrForbidden
		}
		if role == actor.Role {
			return actor, nil
		}
		return nil, services.ErrRoleImmutable
	}

	changed := false
	user, err := services.WithTransactionResult(ctx, r.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.User, error) {
		user, err := r.lockUser(ctx, targetUID)
		if err != nil {
			return nil, err
		}
		if user.Role == role {
			return user, nil
		}
		if err := r.users.UpdateRole(ctx, targetUID, role); err != nil {
			return nil, storeError(err)
		}
		user.Role = role
		user.UpdatedAt = time.Now()
		changed = true
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.logger.Info("changed principal role",
			zap.String("actor_uid", actor.UID),
			zap.String("uid", user.UID),
			zap.String("role", string(role)))
		r.propagate(user)
	}
	return user, nil
}

// SetActive activates or deactivates a principal. A nil active toggles the current flag.
func (r *Resolver) SetActive(ctx context.Context, actor *models.User, targetUID string, active *bool) (*models.User, error) {
	if actor == nil {
		return nil, services.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, services.ErrInsufficientPermissions
	}

	user, err := services.WithTransactionResult(ctx, r.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.User, error) {
		user, err := r.lockUser(ctx, targetUID)
		if err != nil {
			return nil, err
		}

		next := !user.IsActive
		if active != nil {
			next = *active
		}
		if user.UID == actor.UID && !next {
			return nil, services.ErrSelfDeactivate
		}
		if next == user.IsActive {
			return user, nil
		}

		if err := r.users.UpdateActive(ctx, targetUID, next); err != nil {
			return nil, storeError(err)
		}
		user.IsActive = next
		user.UpdatedAt = time.Now()
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("set principal active flag",
		zap.String("actor_uid", actor.UID),
		zap.String("uid", user.UID),
		zap.Bool("active", user.IsActive))
	return user, nil
}

// Relink moves the principal holding targetUID onto newUID at provider. Admin
// only. Used when an account is migrated between identity providers by hand.
func (r *Resolver) Relink(ctx context.Context, actor *models.User, targetUID, newUID string, provider models.AuthProvider) (*models.User, error) {
	if actor == nil {
		return nil, services.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, services.ErrInsufficientPermissions
	}
	newUID = strings.TrimSpace(newUID)
	if newUID == "" {
		return nil, services.ErrInvalidInput.Wrap(nil).WithDetail("uid", "required")
	}
	if !provider.IsValid() {
		return nil, services.ErrInvalidInput.Wrap(nil).WithDetail("provider", "must be clerk or firebase")
	}

	changed := false
	user, err := services.WithTransactionResult(ctx, r.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.User, error) {
		user, err := r.lockUser(ctx, targetUID)
		if err != nil {
			return nil, err
		}
		if user.UID == newUID && user.AuthProvider == provider {
			return user, nil
		}
		if err := r.users.Relink(ctx, user.ID, newUID, provider); err != nil {
			if repositories.IsDuplicate(err) {
				return nil, services.ErrDuplicateUID.Wrap(err)
			}
			return nil, storeError(err)
		}
		user.UID = newUID
		user.AuthProvider = provider
		user.UpdatedAt = time.Now()
		changed = true
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.logger.Info("relinked principal",
			zap.String("actor_uid", actor.UID),
			zap.String("principal_id", user.ID.String()),
			zap.String("previous_uid", targetUID),
			zap.String("uid", user.UID),
			zap.String("provider", string(user.AuthProvider)))
		r.propagate(user)
	}
	return user, nil
}

// ExportActive returns every active principal ordered by username. Admin only.
func (r *Resolver) ExportActive(ctx context.Context, actor *models.User) ([]*models.User, error) {
	if actor == nil {
		return nil, services.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, services.ErrInsufficientPermissions
	}

	var all []*models.User
	for offset := 0; ; offset += exportPageSize {
		page, err := r.users.ListActive(ctx, exportPageSize, offset)
		if err != nil {
			return nil, services.ErrDatabaseError.Wrap(err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	r.logger.Info("exported principals", zap.String("actor_uid", actor.UID), zap.Int("count", len(all)))
	return all, nil
}

// GetByUID returns the principal with the given subject id
func (r *Resolver) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	user, err := r.users.GetByUID(ctx, uid)
	if err != nil {
		return nil, storeError(err)
	}
	return user, nil
}

// Search lists principals whose username or email contains query. Admin only.
func (r *Resolver) Search(ctx context.Context, actor *models.User, query string, limit, offset int) ([]*models.User, error) {
	if actor == nil {
		return nil, services.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, services.ErrInsufficientPermissions
	}

	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	users, err := r.users.Search(ctx, strings.TrimSpace(query), limit, offset)
	if err != nil {
		return nil, services.ErrDatabaseError.Wrap(err)
	}
	return users, nil
}

func (r *Resolver) lockUser(ctx context.Context, uid string) (*models.User, error) {
	user, err := r.users.GetByUIDForUpdate(ctx, uid)
	if err != nil {
		return nil, storeError(err)
	}
	return user, nil
}

func storeError(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrUserNotFound.Wrap(err)
	}
	return services.ErrDatabaseError.Wrap(err)
}

// initialRole picks the role for a new principal. Admin is never granted at
// creation; it can only be assigned by another admin.
func initialRole(claimed, directory string) models.UserRole {
	for _, raw := range []string{claimed, directory} {
		if raw == "" {
			continue
		}
		role, err := models.ParseUserRole(raw)
		if err == nil && role != models.RoleAdmin {
			return role
		}
	}
	return models.DefaultRole
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultSearchLimit
	case limit > maxSearchLimit:
		return maxSearchLimit
	}
	return limit
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
