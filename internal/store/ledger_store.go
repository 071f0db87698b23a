package store

import (
	"context"

	"coinledger/internal/models"

	"github.com/google/uuid"
)

type LedgerStore struct {
	db DB
}

type LedgerEntryInput struct {
	ID            uuid.UUID
	TransactionID uuid.NullUUID
	AccountID     uuid.UUID
	Amount        int64
	Description   string
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) InsertEntries(ctx context.Context, tx Execer, entries []LedgerEntryInput) error {
	query := `
		INSERT INTO ledger_entries (id, transaction_id, account_id, amount, description)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query, entry.ID, entry.TransactionID, entry.AccountID, entry.Amount, entry.Description); err != nil {
			return err
		}
	}
	return nil
}

// Drift lists accounts whose stored balance disagrees with their journal.
func (s *LedgerStore) Drift(ctx context.Context) ([]models.AccountDrift, error) {
	rows := []models.AccountDrift{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id,
		       a.balance AS stored_balance,
		       COALESCE(SUM(l.amount), 0) AS journal_balance
		FROM accounts a
		LEFT JOIN ledger_entries l ON l.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(l.amount), 0)
		ORDER BY a.id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
