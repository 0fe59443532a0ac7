package clerk

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/golang-jwt/jwt/v5"
)

// ErrKeyNotFound is returned when the token's kid is not present in the JWKS
var ErrKeyNotFound = errors.New("signing key not found")

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Config holds configuration for Validator
type Config struct {
	Issuer string
	// Audiences is the accepted aud set. Defaults to {"clerk", Issuer}.
	Audiences []string
	// PublicKeyPEM takes precedence over JWKSURL when both are set.
	PublicKeyPEM string
	JWKSURL      string
	CacheTTL     time.Duration
	// RefreshInterval is the minimum time between JWKS downloads triggered
	// by an unknown kid. Defaults to one minute.
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration
	Leeway          time.Duration
}

// Validator verifies RS256 session tokens issued by Clerk
type Validator struct {
	issuer     string
	audiences  map[string]struct{}
	staticKey  *rsa.PublicKey
	jwksURL    string
	httpClient *http.Client
	leeway     time.Duration
	now        func() time.Time

	jwksCache    *JWKS
	jwksCacheExp time.Time
	jwksCacheTTL time.Duration
	cacheMu      sync.RWMutex

	refreshInterval time.Duration
	lastDownload    time.Time
	refreshMu       sync.Mutex

	keyCache   map[string]*rsa.PublicKey
	keyCacheMu sync.RWMutex
}

// NewValidator creates a Clerk token validator. The PEM key, if any, is parsed once here.
func NewValidator(config Config) (*Validator, error) {
	if config.Issuer == "" {
		return nil, errors.New("clerk issuer is required")
	}
	if config.PublicKeyPEM == "" && config.JWKSURL == "" {
		return nil, errors.New("clerk public key or JWKS URL is required")
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 1 * time.Hour
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = time.Minute
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 5 * time.Second
	}
	if len(config.Audiences) == 0 {
		config.Audiences = []string{"clerk", config.Issuer}
	}

	v := &Validator{
		issuer:       config.Issuer,
		audiences:    make(map[string]struct{}, len(config.Audiences)),
		jwksURL:      config.JWKSURL,
		jwksCacheTTL: config.CacheTTL,
		leeway:       config.Leeway,
		now:          time.Now,

		refreshInterval: config.RefreshInterval,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		keyCache: make(map[string]*rsa.PublicKey),
	}
	for _, aud := range config.Audiences {
		v.audiences[aud] = struct{}{}
	}

	if config.PublicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalizePEM(config.PublicKeyPEM)))
		if err != nil {
			return nil, fmt.Errorf("parse clerk public key: %w", err)
		}
		v.staticKey = key
	}

	return v, nil
}

// Provider identifies the validator to the selector
func (v *Validator) Provider() models.AuthProvider {
	return models.ProviderClerk
}

// Verify validates a token and returns its claims
func (v *Validator) Verify(ctx context.Context, tokenString string) (*auth.Claims, error) {
	// Expiry is decided before the signature so an expired token is always
	// reported as expired, whatever else is wrong with it.
	unverified := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMalformedToken, err)
	}
	exp, err := unverified.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMalformedToken, err)
	}
	if exp != nil && !v.now().Before(exp.Add(v.leeway)) {
		return nil, auth.ErrTokenExpired
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	mapClaims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, mapClaims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if v.staticKey != nil {
			return v.staticKey, nil
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		return v.getPublicKey(ctx, kid)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, auth.ErrSignatureInvalid
	}

	claims := toClaims(mapClaims)

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", auth.ErrInvalidIssuer, v.issuer, claims.Issuer)
	}
	if !v.containsAudience(claims.Audience) {
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidAudience, claims.Audience)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub claim is empty", auth.ErrMalformedToken)
	}

	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, auth.ErrProviderUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", auth.ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", auth.ErrSignatureInvalid, err)
	}
}

// FetchJWKS fetches the JWKS, serving from cache while it is fresh
func (v *Validator) FetchJWKS(ctx context.Context) (*JWKS, error) {
	v.cacheMu.RLock()
	if v.jwksCache != nil && v.now().Before(v.jwksCacheExp) {
		defer v.cacheMu.RUnlock()
		return v.jwksCache, nil
	}
	v.cacheMu.RUnlock()

	return v.downloadJWKS(ctx)
}

// downloadJWKS fetches the key set from Clerk and replaces the cached copy.
func (v *Validator) downloadJWKS(ctx context.Context) (*JWKS, error) {
	v.refreshMu.Lock()
	v.lastDownload = v.now()
	v.refreshMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch JWKS: %v", auth.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch JWKS: status code %d", auth.ErrProviderUnavailable, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: decode JWKS: %v", auth.ErrProviderUnavailable, err)
	}

	v.cacheMu.Lock()
	v.jwksCache = &jwks
	v.jwksCacheExp = v.now().Add(v.jwksCacheTTL)
	v.cacheMu.Unlock()

	return &jwks, nil
}

// getPublicKey retrieves the public key for a given kid. An unknown kid
// refreshes the JWKS so rotated keys are picked up before the cache expires,
// but only when the last download is older than refreshInterval.
func (v *Validator) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.keyCacheMu.RLock()
	if key, exists := v.keyCache[kid]; exists {
		v.keyCacheMu.RUnlock()
		return key, nil
	}
	v.keyCacheMu.RUnlock()

	jwk, err := v.findKey(ctx, kid)
	if errors.Is(err, ErrKeyNotFound) && v.refreshAllowed() {
		var jwks *JWKS
		if jwks, err = v.downloadJWKS(ctx); err == nil {
			jwk, err = lookupKey(jwks, kid)
		}
	}
	if err != nil {
		return nil, err
	}

	publicKey, err := jwkToRSAPublicKey(jwk)
	if err != nil {
		return nil, fmt.Errorf("failed to convert JWK to RSA public key: %w", err)
	}

	v.keyCacheMu.Lock()
	v.keyCache[kid] = publicKey
	v.keyCacheMu.Unlock()

	return publicKey, nil
}

// refreshAllowed claims the next forced refresh slot, if one is open.
func (v *Validator) refreshAllowed() bool {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()
	now := v.now()
	if now.Sub(v.lastDownload) < v.refreshInterval {
		return false
	}
	v.lastDownload = now
	return true
}

func (v *Validator) findKey(ctx context.Context, kid string) (*JWK, error) {
	jwks, err := v.FetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	return lookupKey(jwks, kid)
}

func lookupKey(jwks *JWKS, kid string) (*JWK, error) {
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid == kid {
			return &jwks.Keys[i], nil
		}
	}
	return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// containsAudience reports whether any token audience is accepted. Values are
// compared exactly; a token without aud is never accepted.
func (v *Validator) containsAudience(audiences []string) bool {
	for _, aud := range audiences {
		if _, ok := v.audiences[aud]; ok {
			return true
		}
	}
	return false
}

// normalizePEM restores newlines in keys pasted into a single-line env var
func normalizePEM(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n")
}
