// Package usecase implements the common request-handling helpers shared
// by the Account Information, Bulk Payments, and FX use-case services
// (§4.5): consent/scope authorization, the canonical request hash, and
// idempotency check-and-reserve. It has no execute-persist-publish step
// and no cache-through reads.
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/R3E-Network/service_layer/internal/domain/consent"
	"github.com/R3E-Network/service_layer/internal/idempotency"
	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

// Principal is the caller resolved by the FAPI envelope (mirrors
// fapi.Principal without importing the security package into the
// use-case layer, keeping the dependency direction inward-only).
type Principal struct {
	ParticipantID string
	Scopes        []string
}

// HasScope reports whether the principal's token carries scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ConsentLoader loads a consent aggregate by id (bridges to
// consent.Repository without a direct dependency on its storage).
type ConsentLoader interface {
	Load(ctx context.Context, consentID string) (*consent.Consent, error)
}

// RequestHash computes the §4.5 step 3 canonical request hash:
// SHA-256(canonicalPayload ++ interactionID).
func RequestHash(canonicalPayload []byte, interactionID string) string {
	h := sha256.New()
	h.Write(canonicalPayload)
	h.Write([]byte(interactionID))
	return hex.EncodeToString(h.Sum(nil))
}

// AuthorizeConsent implements §4.5 step 2: the consent must belong to the
// calling participant, be AUTHORIZED and unexpired, and carry
// requiredScope; if accountID is non-empty it must be in the consent's
// account whitelist.
func AuthorizeConsent(c *consent.Consent, principal Principal, requiredScope, accountID string, now time.Time) error {
	if !c.IsUsable(principal.ParticipantID, now) {
		return platformerrors.Authorization("CONSENT_NOT_USABLE", "consent is not authorized, is expired, or belongs to a different participant")
	}
	if !c.HasScope(requiredScope) {
		return platformerrors.Authorization("SCOPE_MISSING", fmt.Sprintf("consent does not carry the required scope %q", requiredScope))
	}
	if !principal.HasScope(requiredScope) {
		return platformerrors.Authorization("TOKEN_SCOPE_MISSING", fmt.Sprintf("access token does not carry the required scope %q", requiredScope))
	}
	if accountID != "" && !c.AllowsAccount(accountID) {
		return platformerrors.Authorization("ACCOUNT_NOT_IN_CONSENT", "the requested account is not in the consent's account whitelist")
	}
	return nil
}

// IdempotencyGuard wraps the §4.5 step 3/4 idempotency check-and-reserve,
// shared by every use-case's write path.
type IdempotencyGuard struct {
	store *idempotency.Store
}

// NewIdempotencyGuard constructs an IdempotencyGuard over store.
func NewIdempotencyGuard(store *idempotency.Store) *IdempotencyGuard {
	return &IdempotencyGuard{store: store}
}

// CheckOrReserve reserves (key, participantID) for a new resource, or
// reports that an identical request already completed (replay=true), or
// fails IDEMPOTENCY_CONFLICT if the hash differs.
func (g *IdempotencyGuard) CheckOrReserve(ctx context.Context, key, participantID, requestHash, resourceID, status string) (record *idempotency.Record, replay bool, err error) {
	return g.store.CheckOrReserve(ctx, key, participantID, requestHash, resourceID, status)
}
