// Package fapi implements the FAPI 2.0 Security Envelope (C8): mTLS
// thumbprinting, DPoP proof verification, PAR single-use consumption, and
// sender-constrained access-token validation, per spec.md §4.1. Modeled on
// the teacher's infrastructure/middleware.HeaderGateMiddleware (constant-
// time secret comparison, structured audit-on-reject) for its control-flow
// shape, and the teacher's infrastructure/serviceauth for JWT handling via
// github.com/golang-jwt/jwt/v5.
package fapi

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
)

// CertificateThumbprint computes the RFC 8705 `x5t#S256` confirmation
// value: base64url(SHA-256(DER-encoded certificate)).
func CertificateThumbprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
