package store

import (
	"context"
	"strconv"
	"time"

	"coinledger/internal/models"

	"github.com/google/uuid"
)

type TransactionStore struct {
	db DB
}

type TransactionInput struct {
	ID                 uuid.UUID
	SenderID           uuid.UUID
	ReceiverID         uuid.UUID
	Amount             int64
	Fee                int64
	SenderBalanceAfter int64
	Timestamp          time.Time
}

// TimeRange bounds a history query. From is inclusive, Until exclusive; nil
// means unbounded on that side.
type TimeRange struct {
	From  *time.Time
	Until *time.Time
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, sender_id, receiver_id, amount, fee, sender_balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, input.ID, input.SenderID, input.ReceiverID, input.Amount, input.Fee, input.SenderBalanceAfter, input.Timestamp)
	return err
}

func (s *TransactionStore) GetByID(ctx context.Context, transactionID uuid.UUID) (models.Receipt, error) {
	return s.get(ctx, s.db, transactionID)
}

// GetInTx reads a transaction inside an open store transaction, used to
// detect replays of a caller-supplied id.
func (s *TransactionStore) GetInTx(ctx context.Context, tx Getter, transactionID uuid.UUID) (models.Receipt, error) {
	return s.get(ctx, tx, transactionID)
}

func (s *TransactionStore) get(ctx context.Context, q Getter, transactionID uuid.UUID) (models.Receipt, error) {
	var row models.Receipt
	err := q.GetContext(ctx, &row, `
		SELECT id, sender_id, receiver_id, amount, fee, sender_balance_after, created_at
		FROM transactions
		WHERE id = $1
	`, transactionID)
	if err != nil {
		return models.Receipt{}, err
	}
	return row, nil
}

func (s *TransactionStore) ListByAccount(ctx context.Context, accountID uuid.UUID, window TimeRange) ([]models.Transaction, error) {
	query := `
		SELECT id, sender_id, receiver_id, amount, fee, created_at
		FROM transactions
		WHERE (sender_id = $1 OR receiver_id = $1)
	`
	args := []any{accountID}
	if window.From != nil {
		args = append(args, *window.From)
		query += " AND created_at >= $" + strconv.Itoa(len(args))
	}
	if window.Until != nil {
		args = append(args, *window.Until)
		query += " AND created_at < $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows := []models.Transaction{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
