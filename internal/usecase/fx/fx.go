// Package fx implements the FX Quoting/Dealing use-case service (§4.5.3):
// rate normalization and quote/deal lifecycle with HALF_UP decimal
// rounding via github.com/shopspring/decimal, adopted from the broader
// pack's financial-decimal conventions (see DESIGN.md).
package fx

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
	"github.com/R3E-Network/service_layer/internal/usecase"
)

const RequiredScope = "fx"

// Status of a Quote or Deal.
type Status string

const (
	StatusQuoted Status = "QUOTED"
	StatusBooked Status = "BOOKED"
	StatusExpired Status = "EXPIRED"
)

const rateScale = 6
const amountScale = 2

// Quote is an FX rate quotation offered to a TPP.
type Quote struct {
	QuoteID        string
	ConsentID      string
	ParticipantID  string
	SourceCurrency string
	TargetCurrency string
	SourceAmount   decimal.Decimal
	Rate           decimal.Decimal
	TargetAmount   decimal.Decimal
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Deal is a booked FX transaction executed against a Quote.
type Deal struct {
	DealID  string
	QuoteID string
	BookedAt time.Time
}

// RatePort supplies the current market rate for a currency pair. ok=false
// signals a closed market (§4.5.3 MARKET_CLOSED).
type RatePort interface {
	GetRate(ctx context.Context, sourceCurrency, targetCurrency string) (rate decimal.Decimal, ok bool, err error)
}

// Repository persists Quote and Deal state.
type Repository interface {
	SaveQuote(ctx context.Context, q *Quote) error
	GetQuote(ctx context.Context, quoteID string) (*Quote, error)
	SaveDeal(ctx context.Context, d *Deal) error
}

// Settings tunes the quote lifecycle.
type Settings struct {
	QuoteTTL time.Duration
}

// Service implements the FX use-case (§4.5.3).
type Service struct {
	rates    RatePort
	repo     Repository
	consents usecase.ConsentLoader
	settings Settings
}

// New constructs a Service.
func New(rates RatePort, repo Repository, consents usecase.ConsentLoader, settings Settings) *Service {
	if settings.QuoteTTL <= 0 {
		settings.QuoteTTL = 30 * time.Second
	}
	return &Service{rates: rates, repo: repo, consents: consents, settings: settings}
}

// CreateQuoteRequest carries the inbound quote request.
type CreateQuoteRequest struct {
	QuoteID        string
	ConsentID      string
	ParticipantID  string
	SourceCurrency string
	TargetCurrency string
	SourceAmount   decimal.Decimal
}

// CreateQuote fetches the current rate, normalizes it to rateScale decimal
// places (HALF_UP), computes targetAmount (2 dp HALF_UP), and persists a
// QUOTED quote with the configured TTL (§4.5.3).
func (s *Service) CreateQuote(ctx context.Context, principal usecase.Principal, req CreateQuoteRequest, now time.Time) (*Quote, error) {
	c, err := s.consents.Load(ctx, req.ConsentID)
	if err != nil {
		return nil, err
	}
	if err := usecase.AuthorizeConsent(c, principal, RequiredScope, "", now); err != nil {
		return nil, err
	}

	rate, ok, err := s.rates.GetRate(ctx, req.SourceCurrency, req.TargetCurrency)
	if err != nil {
		return nil, platformerrors.Transient("RATE_LOOKUP_FAILED", "failed to fetch market rate", err)
	}
	if !ok {
		return nil, platformerrors.ServiceUnavailable("MARKET_CLOSED", "no rate is currently available for this currency pair")
	}

	normalizedRate := rate.Round(rateScale)
	targetAmount := req.SourceAmount.Mul(normalizedRate).Round(amountScale)

	quote := &Quote{
		QuoteID:        req.QuoteID,
		ConsentID:      req.ConsentID,
		ParticipantID:  req.ParticipantID,
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: req.TargetCurrency,
		SourceAmount:   req.SourceAmount,
		Rate:           normalizedRate,
		TargetAmount:   targetAmount,
		Status:         StatusQuoted,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.settings.QuoteTTL),
	}
	if err := s.repo.SaveQuote(ctx, quote); err != nil {
		return nil, platformerrors.Transient("QUOTE_SAVE_FAILED", "failed to persist quote", err)
	}
	return quote, nil
}

// ExecuteDealRequest carries the inbound deal execution payload.
type ExecuteDealRequest struct {
	QuoteID string
	DealID  string
}

// ExecuteDeal books quoteID: BOOKED already → already-finalized error;
// expired → lazily persisted EXPIRED and failed; otherwise the quote is
// saved as BOOKED and then a Deal is saved (§4.5.3). The two saves are
// separate repository calls, not one atomic write: if SaveDeal fails the
// quote stays BOOKED with no Deal, and concurrent calls on one quote are
// not serialized.
func (s *Service) ExecuteDeal(ctx context.Context, req ExecuteDealRequest, now time.Time) (*Deal, error) {
	quote, err := s.repo.GetQuote(ctx, req.QuoteID)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, platformerrors.ResourceNotFound("quote", req.QuoteID)
	}

	switch {
	case quote.Status == StatusBooked:
		return nil, platformerrors.BusinessRule("QUOTE_ALREADY_FINALIZED", "quote has already been booked")
	case quote.Status == StatusExpired || now.After(quote.ExpiresAt) || now.Equal(quote.ExpiresAt):
		if quote.Status != StatusExpired {
			quote.Status = StatusExpired
			if err := s.repo.SaveQuote(ctx, quote); err != nil {
				return nil, platformerrors.Transient("QUOTE_SAVE_FAILED", "failed to persist expired quote", err)
			}
		}
		return nil, platformerrors.BusinessRule("QUOTE_EXPIRED", "quote has expired")
	}

	quote.Status = StatusBooked
	if err := s.repo.SaveQuote(ctx, quote); err != nil {
		return nil, platformerrors.Transient("QUOTE_SAVE_FAILED", "failed to persist booked quote", err)
	}

	deal := &Deal{DealID: req.DealID, QuoteID: req.QuoteID, BookedAt: now}
	if err := s.repo.SaveDeal(ctx, deal); err != nil {
		return nil, platformerrors.Transient("DEAL_SAVE_FAILED", "failed to persist deal", err)
	}
	return deal, nil
}

// GetQuote is cache-through at the caller's layer; here it lazily
// transitions a past-TTL quote to EXPIRED on read (§4.5.3).
func (s *Service) GetQuote(ctx context.Context, quoteID string, now time.Time) (*Quote, error) {
	quote, err := s.repo.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, platformerrors.ResourceNotFound("quote", quoteID)
	}
	if quote.Status == StatusQuoted && !now.Before(quote.ExpiresAt) {
		quote.Status = StatusExpired
		if err := s.repo.SaveQuote(ctx, quote); err != nil {
			return nil, platformerrors.Transient("QUOTE_SAVE_FAILED", "failed to persist expired quote", err)
		}
	}
	return quote, nil
}
