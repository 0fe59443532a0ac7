package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	// IssuerPrefix is joined with the project id to form the ID token issuer
	IssuerPrefix = "https://securetoken.google.com/"

	// DefaultJWKSURL serves the keys Firebase signs ID tokens with
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// Config holds configuration for Verifier
type Config struct {
	ProjectID string
	// JWKSURL and Issuer override the Google defaults, e.g. for the auth emulator.
	JWKSURL     string
	Issuer      string
	HTTPTimeout time.Duration
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Verifier verifies Firebase ID tokens. It is built once at startup; the
// remote key set it holds is shared by every request.
type Verifier struct {
	projectID string
	issuer    string
	timeout   time.Duration
	verifier  *oidc.IDTokenVerifier
}

// NewVerifier creates a Firebase ID token verifier
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = DefaultJWKSURL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = IssuerPrefix + cfg.ProjectID
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), httpClient), cfg.JWKSURL)

	return &Verifier{
		projectID: cfg.ProjectID,
		issuer:    cfg.Issuer,
		timeout:   cfg.HTTPTimeout,
		verifier: oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
			ClientID:             cfg.ProjectID,
			SupportedSigningAlgs: []string{oidc.RS256},
			Now:                  cfg.Now,
		}),
	}, nil
}

// Provider identifies the verifier to the selector
func (v *Verifier) Provider() models.AuthProvider {
	return models.ProviderFirebase
}

// Verify validates an ID token and returns its claims. The role is taken from
// the custom claim "role", then "claims.role"; it is empty when neither is set.
func (v *Verifier) Verify(ctx context.Context, token string) (*auth.Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty token", auth.ErrMalformedToken)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, classifyVerifyError(err)
	}

	var payload map[string]interface{}
	if err := idToken.Claims(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMalformedToken, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: sub claim is empty", auth.ErrMalformedToken)
	}

	return &auth.Claims{
		Provider:  models.ProviderFirebase,
		Subject:   idToken.Subject,
		Email:     auth.ClaimString(payload, "email"),
		Role:      auth.ClaimString(payload, "role", "claims.role"),
		Issuer:    idToken.Issuer,
		Audience:  idToken.Audience,
		IssuedAt:  idToken.IssuedAt,
		ExpiresAt: idToken.Expiry,
		Raw:       payload,
	}, nil
}

// classifyVerifyError maps go-oidc failures onto the shared taxonomy. go-oidc
// formats most of its errors with %v, so only expiry survives as a typed error.
func classifyVerifyError(err error) error {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return auth.ErrTokenExpired
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "malformed jwt"), strings.Contains(msg, "failed to unmarshal claims"):
		return fmt.Errorf("%w: %v", auth.ErrMalformedToken, err)
	case strings.Contains(msg, "issued by a different provider"):
		return fmt.Errorf("%w: %v", auth.ErrInvalidIssuer, err)
	case strings.Contains(msg, "expected audience"):
		return fmt.Errorf("%w: %v", auth.ErrInvalidAudience, err)
	case strings.Contains(msg, "fetching keys"), strings.Contains(msg, "context deadline exceeded"):
		return fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", auth.ErrSignatureInvalid, err)
	}
}
