package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coinledger/internal/auth"
	"coinledger/internal/config"
	"coinledger/internal/middleware"
	"coinledger/internal/models"
	"coinledger/internal/services"
	"coinledger/internal/websocket"

	"github.com/google/uuid"
)

type stubLedger struct {
	createAccountFn     func(ctx context.Context) (models.Account, error)
	getAccountFn        func(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	createTransactionFn func(ctx context.Context, req services.TransferRequest) (models.Receipt, error)
	getTransactionFn    func(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error)
	listTransactionsFn  func(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error)
}

func (s stubLedger) CreateAccount(ctx context.Context) (models.Account, error) {
	if s.createAccountFn == nil {
		return models.Account{}, errors.New("unexpected CreateAccount")
	}
	return s.createAccountFn(ctx)
}

func (s stubLedger) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	if s.getAccountFn == nil {
		return models.Account{}, errors.New("unexpected GetAccount")
	}
	return s.getAccountFn(ctx, accountID)
}

func (s stubLedger) CreateTransaction(ctx context.Context, req services.TransferRequest) (models.Receipt, error) {
	if s.createTransactionFn == nil {
		return models.Receipt{}, errors.New("unexpected CreateTransaction")
	}
	return s.createTransactionFn(ctx, req)
}

func (s stubLedger) GetTransaction(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error) {
	if s.getTransactionFn == nil {
		return models.Transaction{}, errors.New("unexpected GetTransaction")
	}
	return s.getTransactionFn(ctx, transactionID, viewer)
}

func (s stubLedger) ListTransactions(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error) {
	if s.listTransactionsFn == nil {
		return nil, errors.New("unexpected ListTransactions")
	}
	return s.listTransactionsFn(ctx, accountID, start, end)
}

// stubTokens accepts "token-<uuid>" as a valid bearer for that account.
type stubTokens struct {
	issueFn  func(ctx context.Context, accountID uuid.UUID) (models.IssuedToken, error)
	revokeFn func(ctx context.Context, token string) error
}

func (s stubTokens) IssueToken(ctx context.Context, accountID uuid.UUID) (models.IssuedToken, error) {
	if s.issueFn == nil {
		return models.IssuedToken{}, errors.New("unexpected IssueToken")
	}
	return s.issueFn(ctx, accountID)
}

func (s stubTokens) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return uuid.Nil, auth.ErrTokenInvalid
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, auth.ErrTokenInvalid
	}
	return id, nil
}

func (s stubTokens) RevokeToken(ctx context.Context, token string) error {
	if s.revokeFn == nil {
		return errors.New("unexpected RevokeToken")
	}
	return s.revokeFn(ctx, token)
}

func newTestHandler(ledger Ledger, tokens Tokens, hub *websocket.Hub, limiter *middleware.RateLimiter) http.Handler {
	cfg := config.Config{AllowedOrigins: "*"}
	return New(cfg, ledger, tokens, hub, limiter, nil, nil).Routes()
}

func doRequest(t *testing.T, handler http.Handler, method, path string, accountID *uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if accountID != nil {
		req.Header.Set("Authorization", "Bearer token-"+accountID.String())
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
