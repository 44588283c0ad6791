package fapi

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
	"github.com/R3E-Network/service_layer/internal/ratelimit"
)

func selfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tpp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func TestCertificateThumbprint_IsStableAndDistinct(t *testing.T) {
	c1 := selfSignedCert(t)
	c2 := selfSignedCert(t)

	if CertificateThumbprint(c1) != CertificateThumbprint(c1) {
		t.Fatalf("thumbprint must be stable across calls")
	}
	if CertificateThumbprint(c1) == CertificateThumbprint(c2) {
		t.Fatalf("distinct certificates must produce distinct thumbprints")
	}
}

func TestValidateHeaders_RequiresAllFAPIHeaders(t *testing.T) {
	now := time.Now()
	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/ais/accounts", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	req.Header.Set("DPoP", "proof")
	req.Header.Set("x-fapi-interaction-id", uuid.NewString())
	req.Header.Set("x-fapi-auth-date", now.Format(time.RFC3339))
	req.Header.Set("x-fapi-customer-ip-address", "203.0.113.5")

	headers, err := ValidateHeaders(req, now)
	if err != nil {
		t.Fatalf("ValidateHeaders: %v", err)
	}
	if headers.Authorization != "abc.def.ghi" {
		t.Fatalf("Authorization not parsed correctly: %q", headers.Authorization)
	}
}

func TestValidateHeaders_RejectsStaleAuthDate(t *testing.T) {
	now := time.Now()
	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/ais/accounts", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	req.Header.Set("DPoP", "proof")
	req.Header.Set("x-fapi-interaction-id", uuid.NewString())
	req.Header.Set("x-fapi-auth-date", now.Add(-2*time.Minute).Format(time.RFC3339))
	req.Header.Set("x-fapi-customer-ip-address", "203.0.113.5")

	if _, err := ValidateHeaders(req, now); err == nil {
		t.Fatalf("expected a stale x-fapi-auth-date to be rejected")
	} else if !platformerrors.Is(err, platformerrors.KindSecurity) {
		t.Fatalf("expected a SECURITY error, got %v", err)
	}
}

func TestValidateHeaders_RejectsInvalidInteractionID(t *testing.T) {
	now := time.Now()
	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/ais/accounts", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	req.Header.Set("DPoP", "proof")
	req.Header.Set("x-fapi-interaction-id", "not-a-uuid")
	req.Header.Set("x-fapi-auth-date", now.Format(time.RFC3339))
	req.Header.Set("x-fapi-customer-ip-address", "203.0.113.5")

	if _, err := ValidateHeaders(req, now); err == nil {
		t.Fatalf("expected a non-UUID interaction id to be rejected")
	}
}

func TestPARStore_SingleUseConsumption(t *testing.T) {
	s := NewPARStore()
	now := time.Now()
	s.Push("urn:par:1", map[string]string{"client_id": "tpp-1"}, now, 30*time.Second)

	if _, err := s.Consume("urn:par:1", now); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if _, err := s.Consume("urn:par:1", now); err == nil {
		t.Fatalf("expected a second Consume of the same request_uri to be rejected")
	}
}

func TestPARStore_RejectsExpiredAndUnknown(t *testing.T) {
	s := NewPARStore()
	now := time.Now()
	s.Push("urn:par:1", nil, now, 10*time.Second)

	if _, err := s.Consume("urn:par:1", now.Add(time.Minute)); err == nil {
		t.Fatalf("expected an expired request_uri to be rejected")
	}
	if _, err := s.Consume("urn:par:unknown", now); err == nil {
		t.Fatalf("expected an unregistered request_uri to be rejected")
	}
}

func TestPARStore_TTLCappedAtMax(t *testing.T) {
	s := NewPARStore()
	now := time.Now()
	req := s.Push("urn:par:1", nil, now, 10*time.Minute)

	if req.ExpiresAt.After(now.Add(MaxPARTTL + time.Second)) {
		t.Fatalf("PAR TTL should be capped at %s, got expiry %s from now", MaxPARTTL, req.ExpiresAt.Sub(now))
	}
}

// rsaDPoPProof builds a self-signed DPoP proof JWT embedding its own RSA
// public key in the JWS header, as RFC 9449 requires.
func rsaDPoPProof(t *testing.T, method, htu, jti string, iat time.Time) (proof string, jkt string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	nEnc := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	eBytes := big.NewInt(int64(key.PublicKey.E)).Bytes()
	eEnc := base64.RawURLEncoding.EncodeToString(eBytes)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, dpopClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			IssuedAt: jwt.NewNumericDate(iat),
		},
		HTM: method,
		HTU: htu,
	})
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = map[string]string{"kty": "RSA", "n": nEnc, "e": eEnc}

	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign DPoP proof: %v", err)
	}

	return signed, jwkThumbprint(dpopHeader{Kty: "RSA", N: nEnc, E: eEnc})
}

func TestDPoPVerifier_AcceptsFreshProofAndRejectsReplay(t *testing.T) {
	replay := ratelimit.NewDPoPReplayCache(5*time.Minute, 0)
	verifier := NewDPoPVerifier(replay)

	now := time.Now()
	htu := "https://api.example.com/ais/accounts"
	proof, jkt := rsaDPoPProof(t, http.MethodGet, htu, "jti-1", now)

	gotJkt, err := verifier.Verify(proof, "https://tpp.example.com", http.MethodGet, htu, "", now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if gotJkt != jkt {
		t.Fatalf("jkt mismatch: got %q want %q", gotJkt, jkt)
	}

	if _, err := verifier.Verify(proof, "https://tpp.example.com", http.MethodGet, htu, "", now); err == nil {
		t.Fatalf("expected replaying the same jti to be rejected")
	}
}

func TestDPoPVerifier_RejectsMethodMismatch(t *testing.T) {
	replay := ratelimit.NewDPoPReplayCache(5*time.Minute, 0)
	verifier := NewDPoPVerifier(replay)

	now := time.Now()
	htu := "https://api.example.com/ais/accounts"
	proof, _ := rsaDPoPProof(t, http.MethodPost, htu, "jti-2", now)

	if _, err := verifier.Verify(proof, "https://tpp.example.com", http.MethodGet, htu, "", now); err == nil {
		t.Fatalf("expected an htm mismatch to be rejected")
	}
}

func TestDPoPVerifier_RejectsStaleIat(t *testing.T) {
	replay := ratelimit.NewDPoPReplayCache(5*time.Minute, 0)
	verifier := NewDPoPVerifier(replay)

	now := time.Now()
	htu := "https://api.example.com/ais/accounts"
	proof, _ := rsaDPoPProof(t, http.MethodGet, htu, "jti-3", now.Add(-2*time.Minute))

	if _, err := verifier.Verify(proof, "https://tpp.example.com", http.MethodGet, htu, "", now); err == nil {
		t.Fatalf("expected a stale iat to be rejected")
	}
}
