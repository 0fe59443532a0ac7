package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/clerk"
	"github.com/MoSam007/MicasaWeb/config"
	"github.com/MoSam007/MicasaWeb/firebase"
	"github.com/MoSam007/MicasaWeb/handlers"
	"github.com/MoSam007/MicasaWeb/middleware"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/repositories"
	"github.com/MoSam007/MicasaWeb/repositories/postgres"
	"github.com/MoSam007/MicasaWeb/services/principal"
	"github.com/MoSam007/MicasaWeb/services/propagation"
	"go.uber.org/zap"
)

const defaultStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	TxManager repositories.TransactionManager

	// Identity providers
	Verifiers   []auth.TokenVerifier
	Directories map[models.AuthProvider]auth.Directory
	Selector    *auth.Selector

	// Services
	Propagation *propagation.Service
	Resolver    *principal.Resolver

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	UserHandler    *handlers.UserHandler
	HealthHandler  *handlers.HealthHandler
	StatusHandler  *handlers.StatusHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.wire(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// NewDependenciesFromDB wires the application over an existing connection pool
func NewDependenciesFromDB(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		RepoFactory: postgres.NewRepositoryFactoryFromDB(db, logger),
	}

	if err := deps.wire(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) wire(ctx context.Context, cfg *config.Config) error {
	d.initRepositories()

	if err := d.initIdentityProviders(ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize identity providers: %w", err)
	}

	if err := d.initServices(cfg); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	d.initHTTP(cfg)
	return nil
}

// initDatabase opens the PostgreSQL pool and applies the schema when auto-migration is on
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if cfg.Database.AutoMigrate {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return err
		}
	}

	return nil
}

func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initIdentityProviders builds a verifier for every configured provider and,
// when admin credentials are present, the matching directory client.
func (d *Dependencies) initIdentityProviders(ctx context.Context, cfg *config.Config) error {
	d.Directories = make(map[models.AuthProvider]auth.Directory)
	timeout := cfg.Auth.ProviderTimeout

	if cfg.Clerk.Enabled() {
		validator, err := clerk.NewValidator(clerk.Config{
			Issuer:       cfg.Clerk.Issuer,
			Audiences:    cfg.Clerk.Audiences,
			PublicKeyPEM: cfg.Clerk.VerificationKey,
			JWKSURL:      cfg.Clerk.JWKSURL,
			CacheTTL:     cfg.Clerk.JWKSCacheTTL,
			HTTPTimeout:  timeout,
		})
		if err != nil {
			return fmt.Errorf("clerk validator: %w", err)
		}
		d.Verifiers = append(d.Verifiers, validator)

		if cfg.Clerk.SecretKey != "" {
			d.Directories[models.ProviderClerk] = clerk.NewClient(clerk.ClientConfig{
				BaseURL:   cfg.Clerk.APIURL,
				SecretKey: cfg.Clerk.SecretKey,
				Timeout:   timeout,
			})
		} else {
			d.Logger.Warn("clerk secret key not set, directory lookups and role propagation disabled",
				zap.String("provider", string(models.ProviderClerk)))
			d.Directories[models.ProviderClerk] = auth.NoopDirectory{}
		}
		d.Logger.Info("identity provider configured", zap.String("provider", string(models.ProviderClerk)))
	}

	if cfg.Firebase.Enabled() {
		verifier, err := firebase.NewVerifier(firebase.Config{
			ProjectID:   cfg.Firebase.ProjectID,
			HTTPTimeout: timeout,
		})
		if err != nil {
			return fmt.Errorf("firebase verifier: %w", err)
		}
		d.Verifiers = append(d.Verifiers, verifier)

		credentials, err := firebaseCredentials(cfg.Firebase)
		if err != nil {
			return err
		}
		if len(credentials) > 0 {
			client, err := firebase.NewClient(ctx, firebase.ClientConfig{
				ProjectID:       cfg.Firebase.ProjectID,
				CredentialsJSON: credentials,
				Timeout:         timeout,
			})
			if err != nil {
				return fmt.Errorf("firebase client: %w", err)
			}
			d.Directories[models.ProviderFirebase] = client
		} else {
			d.Logger.Warn("firebase credentials not set, directory lookups and role propagation disabled",
				zap.String("provider", string(models.ProviderFirebase)))
			d.Directories[models.ProviderFirebase] = auth.NoopDirectory{}
		}
		d.Logger.Info("identity provider configured", zap.String("provider", string(models.ProviderFirebase)))
	}

	d.Selector = auth.NewSelector(auth.SelectorConfig{
		Header:             cfg.Auth.ProviderHeader,
		DefaultProvider:    cfg.Auth.DefaultProvider,
		PublicPathPrefixes: cfg.Auth.PublicPathPrefixes,
	}, d.Verifiers...)

	return nil
}

func firebaseCredentials(cfg config.FirebaseConfig) ([]byte, error) {
	if cfg.CredentialsJSON != "" {
		return []byte(cfg.CredentialsJSON), nil
	}
	if cfg.CredentialsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read firebase credentials: %w", err)
	}
	return data, nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Propagation = propagation.NewService(d.Directories, d.Logger, propagation.Config{
		BufferSize:  cfg.Auth.PropagationBuffer,
		WorkerCount: cfg.Auth.PropagationWorkers,
		Timeout:     cfg.Auth.ProviderTimeout,
	})
	if err := d.Propagation.Start(); err != nil {
		return err
	}

	d.Resolver = principal.NewResolver(d.Users, d.TxManager, d.Directories, d.Propagation, principal.Config{
		LinkAccountsByEmail: cfg.Auth.LinkAccountsByEmail,
		DirectoryTimeout:    cfg.Auth.ProviderTimeout,
	}, d.Logger)

	return nil
}

func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Selector, d.Resolver, d.Logger)
	d.UserHandler = handlers.NewUserHandler(d.Resolver, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Selector, d.Logger)
	d.StatusHandler = handlers.NewStatusHandler(cfg.Environment, cfg.Auth.DefaultProvider, d.Selector, d.Propagation)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Propagation != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultStopTimeout
		}
		if err := d.Propagation.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop propagation service: %w", err))
		}
		d.Propagation = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
