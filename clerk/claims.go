package clerk

import (
	"github.com/MoSam007/MicasaWeb/auth"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/golang-jwt/jwt/v5"
)

// Clerk places the role in session token metadata; older tokens used public_metadata.
var roleClaimPaths = []string{"metadata.role", "public_metadata.role", "role"}

var emailClaimPaths = []string{"email", "primary_email", "email_address"}

// toClaims converts verified JWT claims into provider-neutral claims
func toClaims(mc jwt.MapClaims) *auth.Claims {
	claims := &auth.Claims{
		Provider: models.ProviderClerk,
		Email:    auth.ClaimString(mc, emailClaimPaths...),
		Role:     auth.ClaimString(mc, roleClaimPaths...),
		Raw:      mc,
	}

	claims.Subject, _ = mc.GetSubject()
	claims.Issuer, _ = mc.GetIssuer()
	if aud, err := mc.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	return claims
}
