package ais

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/service_layer/internal/domain/consent"
	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
	"github.com/R3E-Network/service_layer/internal/usecase"
)

type fakeAccountPort struct {
	accounts     []Account
	transactions []Transaction
}

func (f *fakeAccountPort) ListAccounts(ctx context.Context, participantID string) ([]Account, error) {
	return f.accounts, nil
}

func (f *fakeAccountPort) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	for _, a := range f.accounts {
		if a.AccountID == accountID {
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountPort) GetBalances(ctx context.Context, accountID string) ([]Balance, error) {
	return []Balance{{AccountID: accountID, Type: "AVAILABLE", Amount: "100.00", Currency: "AED"}}, nil
}

func (f *fakeAccountPort) GetTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	return f.transactions, nil
}

type fakeConsentLoader struct {
	c *consent.Consent
}

func (f *fakeConsentLoader) Load(ctx context.Context, consentID string) (*consent.Consent, error) {
	return f.c, nil
}

func mustAuthorizedConsent(t *testing.T, accountIDs []string) *consent.Consent {
	t.Helper()
	now := time.Now()
	c, err := consent.Create(consent.CreateRequest{
		ConsentID:     "consent-1",
		CustomerID:    "customer-1",
		ParticipantID: "BANK-TPP-001",
		Scopes:        []string{RequiredScope},
		Purpose:       "account info",
	}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.Authorize(consent.AuthContext{AccountIDs: accountIDs}, now); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	return c
}

func TestService_ListAccounts_FiltersThroughWhitelist(t *testing.T) {
	c := mustAuthorizedConsent(t, []string{"acct-1"})
	port := &fakeAccountPort{accounts: []Account{{AccountID: "acct-1"}, {AccountID: "acct-2"}}}
	svc := New(port, &fakeConsentLoader{c: c}, Settings{})

	principal := usecasePrincipal(c.ParticipantID)
	accounts, err := svc.ListAccounts(context.Background(), principal, c.ConsentID, time.Now())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AccountID != "acct-1" {
		t.Fatalf("expected only the whitelisted account, got %+v", accounts)
	}
}

func TestService_GetAccount_RejectsAccountOutsideWhitelist(t *testing.T) {
	c := mustAuthorizedConsent(t, []string{"acct-1"})
	port := &fakeAccountPort{accounts: []Account{{AccountID: "acct-1"}, {AccountID: "acct-2"}}}
	svc := New(port, &fakeConsentLoader{c: c}, Settings{})

	principal := usecasePrincipal(c.ParticipantID)
	_, err := svc.GetAccount(context.Background(), principal, c.ConsentID, "acct-2", time.Now())
	if err == nil {
		t.Fatalf("expected an out-of-whitelist account to be rejected")
	}
	if !platformerrors.Is(err, platformerrors.KindAuthorization) {
		t.Fatalf("expected an AUTHORIZATION error, got %v", err)
	}
}

func TestService_GetTransactions_SortsDescendingAndClampsPageSize(t *testing.T) {
	c := mustAuthorizedConsent(t, nil)
	now := time.Now()
	port := &fakeAccountPort{
		accounts: []Account{{AccountID: "acct-1"}},
		transactions: []Transaction{
			{AccountID: "acct-1", TransactionID: "t1", BookingDateTime: now.Add(-2 * time.Hour)},
			{AccountID: "acct-1", TransactionID: "t2", BookingDateTime: now.Add(-1 * time.Hour)},
			{AccountID: "acct-1", TransactionID: "t3", BookingDateTime: now},
		},
	}
	svc := New(port, &fakeConsentLoader{c: c}, Settings{DefaultPageSize: 10, MaxPageSize: 2})

	principal := usecasePrincipal(c.ParticipantID)
	page, err := svc.GetTransactions(context.Background(), principal, c.ConsentID, "acct-1", time.Time{}, time.Time{}, 1, 1000, now)
	if err != nil {
		t.Fatalf("GetTransactions: %v", err)
	}
	if page.PageSize != 2 {
		t.Fatalf("expected pageSize to be clamped to 2, got %d", page.PageSize)
	}
	if len(page.Transactions) != 2 || page.Transactions[0].TransactionID != "t3" {
		t.Fatalf("expected the newest transactions first, got %+v", page.Transactions)
	}
}

func usecasePrincipal(participantID string) usecase.Principal {
	return usecase.Principal{ParticipantID: participantID, Scopes: []string{RequiredScope}}
}
