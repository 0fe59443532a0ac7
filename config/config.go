package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MoSam007/MicasaWeb/models"
	"github.com/joho/godotenv"
)

// DefaultPublicPathPrefixes skip token verification unless AUTH_PUBLIC_PATH_PREFIXES overrides them
var DefaultPublicPathPrefixes = []string{"/admin/", "/api/public/", "/healthz", "/readyz"}

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Clerk         ClerkConfig
	Firebase      FirebaseConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	AutoMigrate      bool
}

// AuthConfig holds provider selection and principal resolution settings
type AuthConfig struct {
	DefaultProvider    models.AuthProvider
	ProviderHeader     string
	PublicPathPrefixes []string
	// ProviderTimeout bounds every outbound call to an identity provider.
	ProviderTimeout     time.Duration
	LinkAccountsByEmail bool
	PropagationWorkers  int
	PropagationBuffer   int
}

// ClerkConfig holds Clerk session token and Backend API configuration
type ClerkConfig struct {
	Issuer          string
	Audiences       []string
	VerificationKey string // PEM; takes precedence over JWKSURL
	JWKSURL         string
	JWKSCacheTTL    time.Duration
	SecretKey       string
	APIURL          string
}

// FirebaseConfig holds Firebase ID token and admin API configuration
type FirebaseConfig struct {
	ProjectID       string
	CredentialsJSON string
	CredentialsFile string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
	LogFile   string // optional; rotated with lumberjack when set
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			DefaultProvider:     models.AuthProvider(strings.ToLower(getEnv("AUTH_DEFAULT_PROVIDER", string(models.ProviderFirebase)))),
			ProviderHeader:      getEnv("AUTH_PROVIDER_HEADER", "X-Auth-Provider"),
			PublicPathPrefixes:  getEnvAsSlice("AUTH_PUBLIC_PATH_PREFIXES", DefaultPublicPathPrefixes),
			ProviderTimeout:     getEnvAsDuration("AUTH_PROVIDER_TIMEOUT", 5*time.Second),
			LinkAccountsByEmail: getEnvAsBool("AUTH_LINK_ACCOUNTS_BY_EMAIL", false),
			PropagationWorkers:  getEnvAsInt("AUTH_PROPAGATION_WORKERS", 2),
			PropagationBuffer:   getEnvAsInt("AUTH_PROPAGATION_BUFFER", 1000),
		},
		Clerk: ClerkConfig{
			Issuer:          getEnv("CLERK_ISSUER", ""),
			Audiences:       getEnvAsSlice("CLERK_AUDIENCES", nil),
			VerificationKey: getEnv("CLERK_JWT_VERIFICATION_KEY", ""),
			JWKSURL:         getEnv("CLERK_JWKS_URL", ""),
			JWKSCacheTTL:    getEnvAsDuration("CLERK_JWKS_CACHE_TTL", time.Hour),
			SecretKey:       getEnv("CLERK_SECRET_KEY", ""),
			APIURL:          getEnv("CLERK_API_URL", "https://api.clerk.com"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsJSON: getEnv("FIREBASE_CREDENTIALS_JSON", ""),
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
			LogFile:   getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Clerk.Enabled() {
		if c.Clerk.Issuer == "" {
			return fmt.Errorf("clerk issuer is required")
		}
		if c.Clerk.VerificationKey == "" && c.Clerk.JWKSURL == "" {
			return fmt.Errorf("clerk requires CLERK_JWT_VERIFICATION_KEY or CLERK_JWKS_URL")
		}
	}
	if c.Firebase.Enabled() && c.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase project ID is required")
	}

	if len(c.Providers()) == 0 {
		return fmt.Errorf("at least one identity provider must be configured")
	}
	switch c.Auth.DefaultProvider {
	case models.ProviderClerk, models.ProviderFirebase:
	default:
		return fmt.Errorf("unknown default auth provider %q", c.Auth.DefaultProvider)
	}
	if !c.providerConfigured(c.Auth.DefaultProvider) {
		return fmt.Errorf("default auth provider %q is not configured", c.Auth.DefaultProvider)
	}
	if c.Auth.ProviderTimeout <= 0 {
		return fmt.Errorf("auth provider timeout must be positive")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Enabled reports whether any Clerk setting is present
func (c *ClerkConfig) Enabled() bool {
	return c.Issuer != "" || c.VerificationKey != "" || c.JWKSURL != ""
}

// Enabled reports whether any Firebase setting is present
func (c *FirebaseConfig) Enabled() bool {
	return c.ProjectID != "" || c.CredentialsJSON != "" || c.CredentialsFile != ""
}

// Providers lists the configured identity providers
func (c *Config) Providers() []models.AuthProvider {
	var out []models.AuthProvider
	if c.Clerk.Enabled() {
		out = append(out, models.ProviderClerk)
	}
	if c.Firebase.Enabled() {
		out = append(out, models.ProviderFirebase)
	}
	return out
}

func (c *Config) providerConfigured(p models.AuthProvider) bool {
	for _, configured := range c.Providers() {
		if configured == p {
			return true
		}
	}
	return false
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "micasa")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "micasa")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated value, dropping empty entries
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
