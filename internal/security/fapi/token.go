package fapi

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

// Confirmation is the JWT `cnf` claim binding the token to the client's
// mTLS certificate and/or DPoP key (RFC 8705 / RFC 9449).
type Confirmation struct {
	X5tS256 string `json:"x5t#S256,omitempty"`
	Jkt     string `json:"jkt,omitempty"`
}

// AccessTokenClaims is the set of claims validated on an inbound FAPI
// access token, per §4.1 step 3.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Scope string       `json:"scope"`
	CNF   Confirmation `json:"cnf"`
}

// Scopes splits the space-delimited scope claim.
func (c AccessTokenClaims) Scopes() []string {
	return splitScope(c.Scope)
}

func splitScope(scope string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// TokenValidator validates an inbound FAPI access token's signature,
// standard claims, trusted issuer, audience, and `cnf` binding.
type TokenValidator struct {
	jwks            *JWKSCache
	trustedIssuer   string
	allowedAudiences map[string]bool
}

// NewTokenValidator constructs a TokenValidator trusting tokens from
// trustedIssuer and bound to one of allowedAudiences.
func NewTokenValidator(jwks *JWKSCache, trustedIssuer string, allowedAudiences []string) *TokenValidator {
	set := make(map[string]bool, len(allowedAudiences))
	for _, a := range allowedAudiences {
		set[a] = true
	}
	return &TokenValidator{jwks: jwks, trustedIssuer: trustedIssuer, allowedAudiences: set}
}

// Validate parses and verifies tokenString, then checks that its `cnf`
// claim matches both the mTLS certificate thumbprint and the DPoP proof
// key thumbprint observed on this request (§4.1 step 3).
func (v *TokenValidator) Validate(ctx context.Context, tokenString, mtlsThumbprint, dpopThumbprint string) (*AccessTokenClaims, error) {
	var claims AccessTokenClaims

	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token is missing a kid header")
		}
		return v.jwks.PublicKey(ctx, kid)
	}, jwt.WithIssuer(v.trustedIssuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, platformerrors.Security("INVALID_ACCESS_TOKEN", "access token failed signature or claim validation").
			WithDetails("cause", errString(err))
	}

	if !v.audienceAllowed(claims.RegisteredClaims.Audience) {
		return nil, platformerrors.Security("INVALID_AUDIENCE", "access token audience is not accepted by this endpoint")
	}

	if claims.CNF.X5tS256 == "" || claims.CNF.X5tS256 != mtlsThumbprint {
		return nil, platformerrors.Security("MTLS_BINDING_MISMATCH", "access token is not bound to the presented client certificate")
	}
	if claims.CNF.Jkt == "" || claims.CNF.Jkt != dpopThumbprint {
		return nil, platformerrors.Security("DPOP_BINDING_MISMATCH", "access token is not bound to the presented DPoP key")
	}

	return &claims, nil
}

func (v *TokenValidator) audienceAllowed(audiences jwt.ClaimStrings) bool {
	for _, aud := range audiences {
		if v.allowedAudiences[aud] {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
