package handlers

import (
	"context"

	"coinledger/internal/models"
	"coinledger/internal/services"

	"github.com/google/uuid"
)

// Ledger is the part of the command channel the gateway forwards to.
type Ledger interface {
	CreateAccount(ctx context.Context) (models.Account, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	CreateTransaction(ctx context.Context, req services.TransferRequest) (models.Receipt, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error)
}

type Tokens interface {
	IssueToken(ctx context.Context, accountID uuid.UUID) (models.IssuedToken, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	RevokeToken(ctx context.Context, token string) error
}
