// Package httpapi is a minimal demonstration router wiring the FAPI 2.0
// security envelope, rate limiting/admission control, and the AIS/Bulk
// Payments/FX use-case services behind github.com/gorilla/mux (the
// teacher's router of choice). HTTP routing is explicitly out of scope of
// the core per SPEC_FULL §6 — this package exists only to show how a real
// router shim would compose the pieces; it is not a production gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
	"github.com/R3E-Network/service_layer/internal/ratelimit"
	"github.com/R3E-Network/service_layer/internal/security/fapi"
	"github.com/R3E-Network/service_layer/internal/usecase"
)

type principalContextKey struct{}

// Principal returns the FAPI-resolved caller attached to r's context by
// SecurityMiddleware.
func Principal(r *http.Request) (fapi.Principal, bool) {
	p, ok := r.Context().Value(principalContextKey{}).(fapi.Principal)
	return p, ok
}

// UseCasePrincipal adapts a fapi.Principal into the use-case layer's
// Principal, keeping the two packages' dependency directions separate.
func UseCasePrincipal(p fapi.Principal) usecase.Principal {
	return usecase.Principal{ParticipantID: p.ParticipantID, Scopes: p.Scopes}
}

// Server bundles the dependencies every handler needs.
type Server struct {
	envelope *fapi.Envelope
	limiter  *ratelimit.Limiter
	router   *mux.Router
}

// NewServer constructs a Server and registers its routes on a fresh
// mux.Router.
func NewServer(envelope *fapi.Envelope, limiter *ratelimit.Limiter) *Server {
	s := &Server{envelope: envelope, limiter: limiter, router: mux.NewRouter()}
	s.router.Use(s.securityMiddleware)
	return s
}

// Router returns the underlying mux.Router so callers can register
// additional routes or mount it under http.Server.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handle registers a FAPI-gated, rate-limited handler for the given scope.
// requiredScope gates both admission control (the rate limiter buckets by
// (participantID, scope)) and should be checked again by fn against the
// consent via usecase.AuthorizeConsent.
func (s *Server) Handle(path, method, requiredScope string, fn func(http.ResponseWriter, *http.Request)) {
	s.router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		principal, ok := Principal(r)
		if !ok {
			writeError(w, platformerrors.Security("PRINCIPAL_MISSING", "no authenticated principal on request"))
			return
		}
		if err := s.limiter.Allow(principal.ParticipantID, requiredScope); err != nil {
			writeError(w, err)
			return
		}
		fn(w, r)
	}).Methods(method)
}

func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.envelope.Validate(r, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, *principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// errorBody is the §6.1 user-visible error response.
type errorBody struct {
	ErrorCode string         `json:"errorCode"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := platformerrors.HTTPStatus(err)
	body := errorBody{ErrorCode: "INTERNAL_ERROR", Message: "internal error"}
	if se, ok := platformerrors.As(err); ok {
		body.ErrorCode = se.Code
		body.Message = se.Message
		body.Details = se.Details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
