package store

import (
	"context"
	"time"

	"coinledger/internal/models"

	"github.com/google/uuid"
)

type TokenStore struct {
	db DB
}

func NewTokenStore(db DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Insert(ctx context.Context, token models.AccessToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, account_id, secret_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, token.ID, token.AccountID, token.SecretHash, token.IssuedAt, token.ExpiresAt)
	return err
}

func (s *TokenStore) GetByID(ctx context.Context, tokenID uuid.UUID) (models.AccessToken, error) {
	var row models.AccessToken
	err := s.db.GetContext(ctx, &row, `
		SELECT id, account_id, secret_hash, issued_at, expires_at
		FROM access_tokens
		WHERE id = $1
	`, tokenID)
	if err != nil {
		return models.AccessToken{}, err
	}
	return row, nil
}

func (s *TokenStore) Delete(ctx context.Context, tokenID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
