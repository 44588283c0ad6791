package fapi

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
)

const maxAuthDateSkew = 60 * time.Second

// RequestHeaders are the §4.1 step 2 required FAPI headers, parsed and
// validated.
type RequestHeaders struct {
	InteractionID       string
	AuthDate            time.Time
	CustomerIPAddress   string
	Authorization       string
	DPoPProof           string
}

// ValidateHeaders checks presence and format of the required FAPI headers
// (§4.1 step 2): Authorization bearer, DPoP, x-fapi-interaction-id (UUID),
// x-fapi-auth-date (ISO-8601, <=60s skew), x-fapi-customer-ip-address
// (valid IPv4/IPv6/::1).
func ValidateHeaders(r *http.Request, now time.Time) (*RequestHeaders, error) {
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if len(auth) <= len(bearerPrefix) || auth[:len(bearerPrefix)] != bearerPrefix {
		return nil, platformerrors.Security("MISSING_BEARER_TOKEN", "Authorization header must carry a Bearer token")
	}

	dpop := r.Header.Get("DPoP")
	if dpop == "" {
		return nil, platformerrors.Security("MISSING_DPOP_HEADER", "DPoP header is required")
	}

	interactionID := r.Header.Get("x-fapi-interaction-id")
	if _, err := uuid.Parse(interactionID); err != nil {
		return nil, platformerrors.Security("INVALID_INTERACTION_ID", "x-fapi-interaction-id must be a valid UUID")
	}

	authDateHeader := r.Header.Get("x-fapi-auth-date")
	authDate, err := time.Parse(time.RFC3339, authDateHeader)
	if err != nil {
		return nil, platformerrors.Security("INVALID_AUTH_DATE", "x-fapi-auth-date must be ISO-8601")
	}
	skew := now.Sub(authDate)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxAuthDateSkew {
		return nil, platformerrors.Security("AUTH_DATE_SKEW", "x-fapi-auth-date is outside the 60s freshness window")
	}

	ip := r.Header.Get("x-fapi-customer-ip-address")
	if net.ParseIP(ip) == nil {
		return nil, platformerrors.Security("INVALID_CUSTOMER_IP", "x-fapi-customer-ip-address must be a valid IP address")
	}

	return &RequestHeaders{
		InteractionID:     interactionID,
		AuthDate:          authDate,
		CustomerIPAddress: ip,
		Authorization:     auth[len(bearerPrefix):],
		DPoPProof:         dpop,
	}, nil
}
