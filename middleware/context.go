package middleware

import (
	"context"

	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
)

type authContextKey struct{}

// AuthContext is the single request-scoped authentication record.
// Anonymous requests carry a nil Principal and nil Claims.
type AuthContext struct {
	Principal *models.User
	Claims    *auth.Claims
	Provider  models.AuthProvider
}

// Authenticated reports whether a principal was resolved for the request
func (a *AuthContext) Authenticated() bool {
	return a != nil && a.Principal != nil
}

// WithAuthContext stores ac in ctx
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// GetAuthContext retrieves the AuthContext from ctx, or nil if none was set
func GetAuthContext(ctx context.Context) *AuthContext {
	if ac, ok := ctx.Value(authContextKey{}).(*AuthContext); ok {
		return ac
	}
	return nil
}

// GetPrincipal retrieves the resolved principal, or nil for anonymous requests
func GetPrincipal(ctx context.Context) *models.User {
	if ac := GetAuthContext(ctx); ac != nil {
		return ac.Principal
	}
	return nil
}

// GetClaims retrieves the verified token claims, or nil for anonymous requests
func GetClaims(ctx context.Context) *auth.Claims {
	if ac := GetAuthContext(ctx); ac != nil {
		return ac.Claims
	}
	return nil
}
