package clerk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	clerksdk "github.com/clerk/clerk-sdk-go/v2"
	clerkuser "github.com/clerk/clerk-sdk-go/v2/user"
)

// DefaultAPIURL is the Clerk Backend API base URL
const DefaultAPIURL = "https://api.clerk.com"

// ErrUserNotFound is returned when Clerk has no user with the requested id
var ErrUserNotFound = errors.New("clerk user not found")

// ClientConfig holds configuration for the Backend API client
type ClientConfig struct {
	// BaseURL is the API host; the /v1 version prefix is appended when missing.
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// userAPI is the subset of the SDK user client the directory needs
type userAPI interface {
	Get(ctx context.Context, id string) (*clerksdk.User, error)
	UpdateMetadata(ctx context.Context, id string, params *clerkuser.UpdateMetadataParams) (*clerksdk.User, error)
}

// Client reads and updates Clerk users through the Backend API SDK
type Client struct {
	users   userAPI
	timeout time.Duration
}

// NewClient creates a Backend API client
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	users := clerkuser.NewClient(&clerksdk.ClientConfig{
		BackendConfig: clerksdk.BackendConfig{
			Key:        clerksdk.String(cfg.SecretKey),
			URL:        clerksdk.String(apiURL(cfg.BaseURL)),
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
		},
	})
	return newClient(users, cfg.Timeout)
}

func newClient(users userAPI, timeout time.Duration) *Client {
	return &Client{users: users, timeout: timeout}
}

func apiURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// FetchUser loads a user's email and metadata role
func (c *Client) FetchUser(ctx context.Context, uid string) (*auth.DirectoryUser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	user, err := c.users.Get(ctx, uid)
	if err != nil {
		return nil, classify("get user", err)
	}

	out := &auth.DirectoryUser{
		UID:   user.ID,
		Email: primaryEmail(user),
	}
	if len(user.PublicMetadata) > 0 {
		var metadata map[string]interface{}
		if err := json.Unmarshal(user.PublicMetadata, &metadata); err == nil {
			out.Role = auth.ClaimString(metadata, "role")
		}
	}
	return out, nil
}

// UpdateRoleMetadata merges the role and the role-scoped principal id into the
// user's public metadata, e.g. {"role": "owner", "owner_id": "<id>"}.
func (c *Client) UpdateRoleMetadata(ctx context.Context, uid string, role models.UserRole, principalID string) error {
	metadata := map[string]interface{}{
		"role": string(role),
	}
	if principalID != "" {
		metadata[string(role)+"_id"] = principalID
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode clerk metadata: %w", err)
	}
	raw := json.RawMessage(payload)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.users.UpdateMetadata(ctx, uid, &clerkuser.UpdateMetadataParams{PublicMetadata: &raw}); err != nil {
		return classify("update metadata", err)
	}
	return nil
}

func primaryEmail(user *clerksdk.User) string {
	if user.PrimaryEmailAddressID != nil {
		for _, e := range user.EmailAddresses {
			if e != nil && e.ID == *user.PrimaryEmailAddressID {
				return e.EmailAddress
			}
		}
	}
	for _, e := range user.EmailAddresses {
		if e != nil {
			return e.EmailAddress
		}
	}
	return ""
}

// classify maps SDK failures onto the directory error contract. Anything that
// is not an API response (timeouts, refused connections) counts as an outage.
func classify(op string, err error) error {
	var apiErr *clerksdk.APIErrorResponse
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: clerk %s: %v", auth.ErrProviderUnavailable, op, err)
	}

	switch {
	case apiErr.HTTPStatusCode == http.StatusNotFound:
		return ErrUserNotFound
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests, apiErr.HTTPStatusCode >= 500:
		return fmt.Errorf("%w: clerk %s: status %d", auth.ErrProviderUnavailable, op, apiErr.HTTPStatusCode)
	default:
		return fmt.Errorf("clerk %s failed: %w", op, err)
	}
}
