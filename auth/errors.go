package auth

import "errors"

// Verification failures shared by every provider. Provider packages wrap these
// with %w so callers can classify a failure without knowing which provider ran.
var (
	// ErrMalformedToken is returned when the token cannot be decoded
	ErrMalformedToken = errors.New("malformed token")

	// ErrTokenExpired is returned when the token expiry has passed
	ErrTokenExpired = errors.New("token expired")

	// ErrSignatureInvalid is returned when the signature does not verify against the provider key
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrInvalidIssuer is returned when the iss claim differs from the configured issuer
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when no aud value is in the accepted audience set
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrProviderUnavailable is returned when the identity provider could not be reached in time
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrProviderNotConfigured is returned when a request selects a provider this process has no verifier for
	ErrProviderNotConfigured = errors.New("identity provider not configured")
)
