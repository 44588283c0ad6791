// Package ais implements the Account Information use-case service (§4.5.1):
// listAccounts, getAccount, getBalances, getTransactions, each enforcing
// consent scope and filtering results through the consent's account
// whitelist.
package ais

import (
	"context"
	"sort"
	"time"

	"github.com/R3E-Network/service_layer/internal/domain/consent"
	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
	"github.com/R3E-Network/service_layer/internal/usecase"
)

const (
	RequiredScope      = "account-information"
	DefaultPageSize    = 25
	DefaultMaxPageSize = 100
)

// Account is a customer account visible to AIS reads.
type Account struct {
	AccountID string
	IBAN      string
	Currency  string
	Nickname  string
}

// Balance is a point-in-time account balance.
type Balance struct {
	AccountID string
	Type      string
	Amount    string
	Currency  string
	AsOf      time.Time
}

// Transaction is a single posted movement on an account.
type Transaction struct {
	AccountID       string
	TransactionID   string
	Amount          string
	Currency        string
	BookingDateTime time.Time
	Description     string
}

// AccountPort is the external data source backing AIS reads (bank core
// banking system, in production; an in-memory or SQL fake for tests).
type AccountPort interface {
	ListAccounts(ctx context.Context, participantID string) ([]Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetBalances(ctx context.Context, accountID string) ([]Balance, error)
	GetTransactions(ctx context.Context, accountID string) ([]Transaction, error)
}

// Settings tunes pagination limits.
type Settings struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Service implements the AIS use-case (§4.5.1).
type Service struct {
	accounts AccountPort
	consents usecase.ConsentLoader
	settings Settings
}

// New constructs a Service.
func New(accounts AccountPort, consents usecase.ConsentLoader, settings Settings) *Service {
	if settings.DefaultPageSize <= 0 {
		settings.DefaultPageSize = DefaultPageSize
	}
	if settings.MaxPageSize <= 0 {
		settings.MaxPageSize = DefaultMaxPageSize
	}
	return &Service{accounts: accounts, consents: consents, settings: settings}
}

func (s *Service) authorize(ctx context.Context, principal usecase.Principal, consentID, accountID string, now time.Time) (*consent.Consent, error) {
	c, err := s.consents.Load(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if err := usecase.AuthorizeConsent(c, principal, RequiredScope, accountID, now); err != nil {
		return nil, err
	}
	return c, nil
}

// ListAccounts returns the accounts visible under consentID, filtered
// through its account whitelist.
func (s *Service) ListAccounts(ctx context.Context, principal usecase.Principal, consentID string, now time.Time) ([]Account, error) {
	c, err := s.authorize(ctx, principal, consentID, "", now)
	if err != nil {
		return nil, err
	}

	all, err := s.accounts.ListAccounts(ctx, principal.ParticipantID)
	if err != nil {
		return nil, platformerrors.Transient("ACCOUNT_LOOKUP_FAILED", "failed to list accounts", err)
	}

	var visible []Account
	for _, a := range all {
		if c.AllowsAccount(a.AccountID) {
			visible = append(visible, a)
		}
	}
	return visible, nil
}

// GetAccount returns a single account if it is in the consent's whitelist.
func (s *Service) GetAccount(ctx context.Context, principal usecase.Principal, consentID, accountID string, now time.Time) (*Account, error) {
	if _, err := s.authorize(ctx, principal, consentID, accountID, now); err != nil {
		return nil, err
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, platformerrors.Transient("ACCOUNT_LOOKUP_FAILED", "failed to load account", err)
	}
	if account == nil {
		return nil, platformerrors.ResourceNotFound("account", accountID)
	}
	return account, nil
}

// GetBalances returns an account's balances.
func (s *Service) GetBalances(ctx context.Context, principal usecase.Principal, consentID, accountID string, now time.Time) ([]Balance, error) {
	if _, err := s.authorize(ctx, principal, consentID, accountID, now); err != nil {
		return nil, err
	}
	balances, err := s.accounts.GetBalances(ctx, accountID)
	if err != nil {
		return nil, platformerrors.Transient("BALANCE_LOOKUP_FAILED", "failed to load balances", err)
	}
	return balances, nil
}

// TransactionPage is a pagination result for getTransactions.
type TransactionPage struct {
	Transactions []Transaction
	Page         int
	PageSize     int
	TotalCount   int
}

// GetTransactions returns a page of transactions sorted by bookingDateTime
// descending, within [from, to], with pageSize clamped to
// [1, settings.maxPageSize] (§4.5.1).
func (s *Service) GetTransactions(ctx context.Context, principal usecase.Principal, consentID, accountID string, from, to time.Time, page, pageSize int, now time.Time) (*TransactionPage, error) {
	if _, err := s.authorize(ctx, principal, consentID, accountID, now); err != nil {
		return nil, err
	}

	pageSize = s.clampPageSize(pageSize)
	if page < 1 {
		page = 1
	}

	all, err := s.accounts.GetTransactions(ctx, accountID)
	if err != nil {
		return nil, platformerrors.Transient("TRANSACTION_LOOKUP_FAILED", "failed to load transactions", err)
	}

	var filtered []Transaction
	for _, t := range all {
		if !from.IsZero() && t.BookingDateTime.Before(from) {
			continue
		}
		if !to.IsZero() && t.BookingDateTime.After(to) {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].BookingDateTime.After(filtered[j].BookingDateTime)
	})

	start := (page - 1) * pageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}

	return &TransactionPage{
		Transactions: filtered[start:end],
		Page:         page,
		PageSize:     pageSize,
		TotalCount:   len(filtered),
	}, nil
}

func (s *Service) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return s.settings.DefaultPageSize
	}
	if pageSize > s.settings.MaxPageSize {
		return s.settings.MaxPageSize
	}
	return pageSize
}
