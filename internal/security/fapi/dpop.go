package fapi

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/service_layer/internal/ratelimit"
)

// dpopClaims is the payload of a DPoP proof JWT (RFC 9449 §4.2).
type dpopClaims struct {
	jwt.RegisteredClaims
	HTM string `json:"htm"`
	HTU string `json:"htu"`
	Ath string `json:"ath,omitempty"`
}

// dpopHeader is the embedded public key carried in a DPoP proof's JWS
// header, rather than resolved via an issuer/kid lookup.
type dpopHeader struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

const maxDPoPSkew = 60 * time.Second

// DPoPVerifier verifies DPoP proof JWTs and defeats replay via a shared
// (issuer, jti) cache, per §4.1 step 4.
type DPoPVerifier struct {
	replay *ratelimit.DPoPReplayCache
}

// NewDPoPVerifier constructs a DPoPVerifier backed by replay.
func NewDPoPVerifier(replay *ratelimit.DPoPReplayCache) *DPoPVerifier {
	return &DPoPVerifier{replay: replay}
}

// Verify validates a DPoP proof against the current request's method and
// canonicalized URL and the presented access token, returning the RFC 7638
// JWK thumbprint (`jkt`) of the proof's key for binding against the access
// token's `cnf.jkt`.
func (v *DPoPVerifier) Verify(proof, issuer, method, rawURL, accessToken string, at time.Time) (jkt string, err error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("fapi: malformed DPoP proof")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("fapi: decode DPoP header: %w", err)
	}
	var rawHeader struct {
		Typ string     `json:"typ"`
		Alg string     `json:"alg"`
		JWK dpopHeader `json:"jwk"`
	}
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return "", fmt.Errorf("fapi: parse DPoP header: %w", err)
	}
	if rawHeader.Typ != "dpop+jwt" {
		return "", fmt.Errorf("fapi: DPoP proof has unexpected typ %q", rawHeader.Typ)
	}

	pub, err := keyToRSA(jwk{Kty: rawHeader.JWK.Kty, N: rawHeader.JWK.N, E: rawHeader.JWK.E})
	if err != nil {
		return "", fmt.Errorf("fapi: DPoP proof embeds an unusable key: %w", err)
	}

	var claims dpopClaims
	token, err := jwt.ParseWithClaims(proof, &claims, func(*jwt.Token) (interface{}, error) {
		return pub, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("fapi: DPoP proof signature invalid: %w", err)
	}

	if !strings.EqualFold(claims.HTM, method) {
		return "", fmt.Errorf("fapi: DPoP htm %q does not match request method %q", claims.HTM, method)
	}
	if canonicalizeURL(claims.HTU) != canonicalizeURL(rawURL) {
		return "", fmt.Errorf("fapi: DPoP htu %q does not match request URL", claims.HTU)
	}

	if claims.IssuedAt == nil {
		return "", fmt.Errorf("fapi: DPoP proof is missing iat")
	}
	skew := at.Sub(claims.IssuedAt.Time)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxDPoPSkew {
		return "", fmt.Errorf("fapi: DPoP proof iat is outside the %s freshness window", maxDPoPSkew)
	}

	if claims.ID == "" {
		return "", fmt.Errorf("fapi: DPoP proof is missing jti")
	}
	if !v.replay.ValidateAndMark(issuer, claims.ID) {
		return "", fmt.Errorf("fapi: DPoP proof jti %q is a replay", claims.ID)
	}

	if accessToken != "" {
		sum := sha256.Sum256([]byte(accessToken))
		expectedAth := base64.RawURLEncoding.EncodeToString(sum[:])
		if claims.Ath != expectedAth {
			return "", fmt.Errorf("fapi: DPoP ath does not match the presented access token")
		}
	}

	return jwkThumbprint(rawHeader.JWK), nil
}

// canonicalizeURL strips query and fragment components per RFC 9449 §4.2.
func canonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// jwkThumbprint computes the RFC 7638 JWK thumbprint of an RSA public key
// over its canonical {e, kty, n} JSON member ordering.
func jwkThumbprint(k dpopHeader) string {
	canonical := fmt.Sprintf(`{"e":%q,"kty":%q,"n":%q}`, k.E, k.Kty, k.N)
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
