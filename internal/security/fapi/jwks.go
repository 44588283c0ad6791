package fapi

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/R3E-Network/service_layer/infrastructure/cache"
)

// jwk is a single entry of a JSON Web Key Set (RFC 7517), restricted to the
// RSA fields the authorization server's JWKS is expected to publish.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

const jwksCacheKey = "jwks"

// JWKSCache fetches and caches an authorization server's JWKS, refetching on
// an unknown `kid` (§4.1 step 3: "JWKS fetched from authorization server,
// cached ≥ 5 min, refetched on unknown kid").
type JWKSCache struct {
	httpClient *http.Client
	jwksURL    string
	cache      *cache.Cache
	minTTL     time.Duration
}

// NewJWKSCache constructs a JWKSCache for the given JWKS endpoint.
func NewJWKSCache(jwksURL string, httpClient *http.Client, minTTL time.Duration) *JWKSCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if minTTL <= 0 {
		minTTL = 5 * time.Minute
	}
	return &JWKSCache{
		httpClient: httpClient,
		jwksURL:    jwksURL,
		cache:      cache.NewCache(cache.CacheConfig{DefaultTTL: minTTL}),
		minTTL:     minTTL,
	}
}

// PublicKey resolves the RSA public key for kid, fetching (or refetching on
// a cache miss) the JWKS as needed.
func (c *JWKSCache) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := c.get(ctx, false)
	if err != nil {
		return nil, err
	}
	if key, ok := findKey(set, kid); ok {
		return keyToRSA(key)
	}

	// Unknown kid: force a refetch in case the server rotated keys.
	set, err = c.get(ctx, true)
	if err != nil {
		return nil, err
	}
	key, ok := findKey(set, kid)
	if !ok {
		return nil, fmt.Errorf("fapi: no JWKS key found for kid %q", kid)
	}
	return keyToRSA(key)
}

func findKey(set *jwks, kid string) (jwk, bool) {
	for _, k := range set.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return jwk{}, false
}

func (c *JWKSCache) get(ctx context.Context, forceRefresh bool) (*jwks, error) {
	if !forceRefresh {
		if cached, ok := c.cache.Get(jwksCacheKey); ok {
			set := cached.(jwks)
			return &set, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fapi: build JWKS request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fapi: fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fapi: JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("fapi: decode JWKS: %w", err)
	}

	c.cache.Set(jwksCacheKey, set, c.minTTL)
	return &set, nil
}

func keyToRSA(k jwk) (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("fapi: unsupported JWK key type %q", k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("fapi: decode JWK modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("fapi: decode JWK exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
