package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/services"
	"github.com/MoSam007/MicasaWeb/utils"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PrincipalResolver maps verified claims to a stored principal
type PrincipalResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (*models.User, error)
}

// AuthMiddleware populates the AuthContext and guards protected routes
type AuthMiddleware struct {
	selector *auth.Selector
	resolver PrincipalResolver
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(selector *auth.Selector, resolver PrincipalResolver, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		selector: selector,
		resolver: resolver,
		logger:   logger,
	}
}

// Authenticate verifies the bearer token, if any, and stores the AuthContext.
// Requests without a token continue anonymously; the guards decide whether that is allowed.
// Allow-listed paths are never verified.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimw.GetReqID(ctx)

		if m.selector.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, &AuthContext{})))
			return
		}

		token, present, err := extractBearerToken(r)
		if !present {
			next.ServeHTTP(w, r.WithContext(WithAuthContext(ctx, &AuthContext{})))
			return
		}
		if err != nil {
			m.logger.Warn("malformed authorization header",
				zap.String("request_id", requestID))
			m.respondError(w, services.ErrMalformedToken.Wrap(err))
			return
		}

		provider := m.selector.ProviderFor(r)
		verifier, err := m.selector.Select(r)
		if err != nil {
			m.logger.Error("no verifier for selected provider",
				zap.String("request_id", requestID),
				zap.String("provider", string(provider)))
			m.respondError(w, classifyVerifyError(err))
			return
		}

		claims, err := verifier.Verify(ctx, token)
		if err != nil {
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.String("provider", string(provider)),
				zap.Error(err))
			m.respondError(w, classifyVerifyError(err))
			return
		}

		principal, err := m.resolver.Resolve(ctx, claims)
		if err != nil {
			m.logger.Warn("principal resolution failed",
				zap.String("request_id", requestID),
				zap.String("provider", string(provider)),
				zap.String("uid", claims.Subject),
				zap.Error(err))
			m.respondError(w, err)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("provider", string(provider)),
			zap.String("uid", principal.UID),
			zap.String("role", string(principal.Role)))

		ctx = WithAuthContext(ctx, &AuthContext{
			Principal: principal,
			Claims:    claims,
			Provider:  provider,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests without an active principal
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.authenticated(w, r); !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose principal holds none of roles.
// The authentication check always runs first.
func (m *AuthMiddleware) RequireRole(roles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := m.authenticated(w, r)
			if !ok {
				return
			}

			if !principal.HasAnyRole(roles...) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.String("uid", principal.UID),
					zap.String("role", string(principal.Role)),
					zap.Any("required_roles", roles))
				m.respondError(w, services.ErrInsufficientPermissions)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) authenticated(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	principal := GetPrincipal(r.Context())
	if principal == nil {
		m.respondError(w, services.ErrUnauthorized)
		return nil, false
	}
	if !principal.IsActive {
		m.logger.Warn("inactive principal rejected",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("uid", principal.UID))
		m.respondError(w, services.ErrAccountInactive)
		return nil, false
	}
	return principal, true
}

// OwnerID returns the id of the authenticated principal for owner-scoped operations
func OwnerID(ctx context.Context) (uuid.UUID, error) {
	principal := GetPrincipal(ctx)
	if principal == nil || principal.ID == uuid.Nil {
		return uuid.Nil, services.ErrOwnerIDMissing
	}
	return principal.ID, nil
}

// classifyVerifyError maps provider failures onto the service error taxonomy
func classifyVerifyError(err error) error {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return services.ErrExpiredToken.Wrap(err)
	case errors.Is(err, auth.ErrMalformedToken):
		return services.ErrMalformedToken.Wrap(err)
	case errors.Is(err, auth.ErrInvalidIssuer):
		return services.ErrInvalidIssuer.Wrap(err)
	case errors.Is(err, auth.ErrInvalidAudience):
		return services.ErrInvalidAudience.Wrap(err)
	case errors.Is(err, auth.ErrSignatureInvalid):
		return services.ErrSignatureInvalid.Wrap(err)
	case errors.Is(err, auth.ErrProviderUnavailable), errors.Is(err, auth.ErrProviderNotConfigured):
		return services.ErrProviderUnavailable.Wrap(err)
	default:
		return services.ErrUnauthorized.Wrap(err)
	}
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, err error) {
	status := services.HTTPStatus(err)
	message := services.GetErrorMessage(err)
	if status == http.StatusInternalServerError {
		m.logger.Error("authentication internal error", zap.Error(err))
		message = "An internal error occurred"
	}

	if werr := utils.WriteCodedError(w, status, string(services.GetErrorCode(err)), message, nil); werr != nil {
		m.logger.Error("failed to write error response", zap.Error(werr))
	}
}

// extractBearerToken reads "Authorization: Bearer <token>". present is false when
// the header is absent; a present but unusable header yields auth.ErrMalformedToken.
func extractBearerToken(r *http.Request) (token string, present bool, err error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return "", false, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", true, auth.ErrMalformedToken
	}

	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", true, auth.ErrMalformedToken
	}
	return token, true, nil
}
