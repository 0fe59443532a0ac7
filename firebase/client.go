package firebase

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebasesdk "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// ErrUserNotFound is returned when the project has no account with the requested uid
var ErrUserNotFound = errors.New("firebase user not found")

// ClientConfig holds configuration for the admin client
type ClientConfig struct {
	ProjectID string
	// CredentialsJSON is a service account key. When empty and TokenSource is
	// nil, application default credentials are used.
	CredentialsJSON []byte
	TokenSource     oauth2.TokenSource
	Timeout         time.Duration
}

// accountAPI is the subset of the Admin SDK auth client the directory needs
type accountAPI interface {
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
	SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
}

// Client manages Firebase accounts through the Admin SDK
type Client struct {
	accounts accountAPI
	timeout  time.Duration
}

// NewClient creates an admin client authorized with service account credentials
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	var opts []option.ClientOption
	switch {
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}

	app, err := firebasesdk.NewApp(ctx, &firebasesdk.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	accounts, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth: %w", err)
	}
	return newClient(accounts, cfg.Timeout), nil
}

func newClient(accounts accountAPI, timeout time.Duration) *Client {
	return &Client{accounts: accounts, timeout: timeout}
}

// FetchUser looks up an account and its custom claims
func (c *Client) FetchUser(ctx context.Context, uid string) (*auth.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	record, err := c.accounts.GetUser(ctx, uid)
	if err != nil {
		return nil, classify("get user", err)
	}

	out := &auth.DirectoryUser{UID: uid, Role: auth.ClaimString(record.CustomClaims, "role")}
	if record.UserInfo != nil {
		out.UID = record.UID
		out.Email = record.Email
	}
	return out, nil
}

// UpdateRoleMetadata replaces the account's custom claims with the role.
// Firebase custom claims are overwritten as a whole.
func (c *Client) UpdateRoleMetadata(ctx context.Context, uid string, role models.UserRole, principalID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.accounts.SetCustomUserClaims(ctx, uid, map[string]interface{}{"role": string(role)}); err != nil {
		return classify("set custom claims", err)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case fbauth.IsUserNotFound(err):
		return ErrUserNotFound
	case errorutils.IsUnavailable(err),
		errorutils.IsInternal(err),
		errorutils.IsDeadlineExceeded(err),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: firebase %s: %v", auth.ErrProviderUnavailable, op, err)
	default:
		return fmt.Errorf("firebase %s failed: %w", op, err)
	}
}
