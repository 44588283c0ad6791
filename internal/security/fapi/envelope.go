package fapi

import (
	"net/http"
	"time"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

// requestURL reconstructs the request's absolute URL (scheme inferred from
// whether the connection was TLS-terminated) for DPoP `htu` comparison.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// Principal is the authenticated caller resolved from a validated FAPI
// request: the TPP participant and the scopes its access token carries.
type Principal struct {
	ParticipantID string
	Scopes        []string
	InteractionID string
}

// HasScope reports whether the principal's token carries scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Envelope composes the full §4.1 FAPI security envelope: mTLS
// thumbprinting, required-header validation, DPoP proof verification, and
// sender-constrained access-token validation.
type Envelope struct {
	Tokens *TokenValidator
	DPoP   *DPoPVerifier
	Issuer string // expected DPoP `iss` / issuer identity used for the replay cache partition
}

// NewEnvelope constructs an Envelope.
func NewEnvelope(tokens *TokenValidator, dpop *DPoPVerifier, issuer string) *Envelope {
	return &Envelope{Tokens: tokens, DPoP: dpop, Issuer: issuer}
}

// Validate runs the complete §4.1 steps 1-4 chain against r (PAR
// consumption, step 5, is invoked separately by the authorization endpoint
// handler via PARStore.Consume since it only applies there).
func (e *Envelope) Validate(r *http.Request, now time.Time) (*Principal, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, platformerrors.Security("MTLS_REQUIRED", "a client certificate is required")
	}
	mtlsThumbprint := CertificateThumbprint(r.TLS.PeerCertificates[0])

	headers, err := ValidateHeaders(r, now)
	if err != nil {
		return nil, err
	}

	dpopThumbprint, err := e.DPoP.Verify(headers.DPoPProof, e.Issuer, r.Method, requestURL(r), headers.Authorization, now)
	if err != nil {
		return nil, platformerrors.Security("INVALID_DPOP_PROOF", err.Error())
	}

	claims, err := e.Tokens.Validate(r.Context(), headers.Authorization, mtlsThumbprint, dpopThumbprint)
	if err != nil {
		return nil, err
	}

	return &Principal{
		ParticipantID: claims.Subject,
		Scopes:        claims.Scopes(),
		InteractionID: headers.InteractionID,
	}, nil
}
