package httpapi

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/R3E-Network/service_layer/internal/ratelimit"
	"github.com/R3E-Network/service_layer/internal/security/fapi"
)

func b64url(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func selfSignedCert(t *testing.T, key *rsa.PrivateKey) *x509.Certificate {
	t.Helper()
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

// newEnvelope builds a fully wired fapi.Envelope backed by a real JWKS
// httptest server, returning it alongside the access-token signing key and
// the mTLS certificate the test's requests must present.
func newEnvelope(t *testing.T) (*fapi.Envelope, *rsa.PrivateKey, *x509.Certificate, string) {
	t.Helper()
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	cert := selfSignedCert(t, signingKey)

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "key-1",
				"n":   b64url(signingKey.PublicKey.N.Bytes()),
				"e":   b64url(big.NewInt(int64(signingKey.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(jwksServer.Close)

	jwks := fapi.NewJWKSCache(jwksServer.URL, jwksServer.Client(), time.Minute)
	tokens := fapi.NewTokenValidator(jwks, "https://as.example.com", []string{"open-banking-api"})
	dpop := fapi.NewDPoPVerifier(ratelimit.NewDPoPReplayCache(time.Minute, 1000))
	return fapi.NewEnvelope(tokens, dpop, "https://as.example.com"), signingKey, cert, "key-1"
}

func issueAccessToken(t *testing.T, key *rsa.PrivateKey, kid, mtlsThumbprint, dpopThumbprint string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "https://as.example.com",
		"sub":   "BANK-TPP-001",
		"aud":   "open-banking-api",
		"scope": "account-information",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
		"cnf": map[string]string{
			"x5t#S256": mtlsThumbprint,
			"jkt":      dpopThumbprint,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	return signed
}

func dpopProof(t *testing.T, dpopKey *rsa.PrivateKey, method, htu, accessToken string) string {
	t.Helper()
	ath := b64urlSHA256([]byte(accessToken))
	claims := jwt.MapClaims{
		"htm": method,
		"htu": htu,
		"iat": time.Now().Unix(),
		"jti": uuid.NewString(),
		"ath": ath,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = map[string]string{
		"kty": "RSA",
		"n":   b64url(dpopKey.PublicKey.N.Bytes()),
		"e":   b64url(big.NewInt(int64(dpopKey.PublicKey.E)).Bytes()),
	}
	signed, err := token.SignedString(dpopKey)
	if err != nil {
		t.Fatalf("sign dpop proof: %v", err)
	}
	return signed
}

func TestServer_HappyPathReachesHandlerAndEnforcesRateLimit(t *testing.T) {
	envelope, signingKey, cert, kid := newEnvelope(t)
	dpopKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate dpop key: %v", err)
	}

	limiter := ratelimit.New(1, nil) // one request per minute, forces the second call to be denied
	server := NewServer(envelope, limiter)

	calls := 0
	server.Handle("/accounts", http.MethodGet, "account-information", func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	doRequest := func() *httptest.ResponseRecorder {
		htu := "https://api.example.com/accounts"
		req := httptest.NewRequest(http.MethodGet, htu, nil)
		req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
		mtlsThumbprint := fapi.CertificateThumbprint(cert)

		accessToken := issueAccessToken(t, signingKey, kid, mtlsThumbprint, jwkThumbprintForTest(t, dpopKey))
		proof := dpopProof(t, dpopKey, http.MethodGet, htu, accessToken)

		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("DPoP", proof)
		req.Header.Set("x-fapi-interaction-id", uuid.NewString())
		req.Header.Set("x-fapi-auth-date", time.Now().UTC().Format(time.RFC3339))
		req.Header.Set("x-fapi-customer-ip-address", "203.0.113.7")

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		return rec
	}

	first := doRequest()
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d: %s", first.Code, first.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected the handler to be invoked once, got %d", calls)
	}

	second := doRequest()
	if second.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected the second request to be rate-limited, got %d: %s", second.Code, second.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected the handler not to run once rate-limited, got %d calls", calls)
	}
}

func TestServer_RejectsRequestWithoutMTLS(t *testing.T) {
	envelope, _, _, _ := newEnvelope(t)
	limiter := ratelimit.New(100, nil)
	server := NewServer(envelope, limiter)
	server.Handle("/accounts", http.MethodGet, "account-information", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/accounts", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without mTLS, got %d: %s", rec.Code, rec.Body.String())
	}
}

// jwkThumbprintForTest re-derives the RFC 7638 thumbprint for the dpop key
// outside the fapi package (unexported there), matching what DPoPVerifier
// computes internally, so the access token's cnf.jkt binds to it.
func jwkThumbprintForTest(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	canonical := `{"e":"` + b64url(big.NewInt(int64(key.PublicKey.E)).Bytes()) + `","kty":"RSA","n":"` + b64url(key.PublicKey.N.Bytes()) + `"}`
	return b64urlSHA256([]byte(canonical))
}

func b64urlSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return b64url(sum[:])
}
