package store

import (
	"context"

	"coinledger/internal/models"

	"github.com/google/uuid"
)

type AccountStore struct {
	db DB
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Create(ctx context.Context, tx Execer, account models.Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, created_at)
		VALUES ($1, $2, $3)
	`, account.ID, account.Balance, account.CreatedAt)
	return err
}

// InsertGenesis creates the seed account unless it already exists and reports
// whether a row was written.
func (s *AccountStore) InsertGenesis(ctx context.Context, tx Execer, account models.Account) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, account.ID, account.Balance, account.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *AccountStore) GetByID(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `
		SELECT id, balance, created_at
		FROM accounts
		WHERE id = $1
	`, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID uuid.UUID) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT id, balance, created_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) UpdateBalance(ctx context.Context, tx Execer, accountID uuid.UUID, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1
		WHERE id = $2
	`, balance, accountID)
	return err
}

func (s *AccountStore) List(ctx context.Context) ([]models.Account, error) {
	rows := []models.Account{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, balance, created_at
		FROM accounts
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *AccountStore) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(balance), 0) FROM accounts`)
	return total, err
}
