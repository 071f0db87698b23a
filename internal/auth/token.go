package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"coinledger/internal/metrics"
	"coinledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const secretLength = 32

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

type TokenStore interface {
	Insert(ctx context.Context, token models.AccessToken) error
	GetByID(ctx context.Context, tokenID uuid.UUID) (models.AccessToken, error)
	Delete(ctx context.Context, tokenID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type SecretSource interface {
	UUID() (uuid.UUID, error)
	Bytes(n int) ([]byte, error)
}

type TokenConfig struct {
	TTL      time.Duration
	CacheTTL time.Duration
	Now      func() time.Time
}

type TokenService struct {
	store     TokenStore
	pool      *HashPool
	hasher    Hasher
	secrets   SecretSource
	cache     Cache
	ttl       time.Duration
	cacheTTL  time.Duration
	now       func() time.Time
	dummyHash []byte
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewTokenService builds the service. cache may be nil. The dummy hash used
// for unknown selectors is computed here so every validation pays the same
// hashing cost.
func NewTokenService(store TokenStore, pool *HashPool, hasher Hasher, secrets SecretSource, cache Cache, cfg TokenConfig, collector *metrics.Collector, logger *zap.Logger) (*TokenService, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	filler, err := secrets.Bytes(secretLength)
	if err != nil {
		return nil, fmt.Errorf("generate dummy secret: %w", err)
	}
	dummy, err := hasher.Hash(filler)
	if err != nil {
		return nil, fmt.Errorf("hash dummy secret: %w", err)
	}
	return &TokenService{
		store:     store,
		pool:      pool,
		hasher:    hasher,
		secrets:   secrets,
		cache:     cache,
		ttl:       cfg.TTL,
		cacheTTL:  cfg.CacheTTL,
		now:       cfg.Now,
		dummyHash: dummy,
		metrics:   collector,
		logger:    logger,
	}, nil
}

func (s *TokenService) IssueToken(ctx context.Context, accountID uuid.UUID) (models.IssuedToken, error) {
	selector, err := s.secrets.UUID()
	if err != nil {
		return models.IssuedToken{}, err
	}
	secret, err := s.secrets.Bytes(secretLength)
	if err != nil {
		return models.IssuedToken{}, err
	}
	var hash []byte
	err = s.pool.Submit(ctx, "issue", func() error {
		var err error
		hash, err = s.hasher.Hash(secret)
		return err
	})
	if err != nil {
		s.metrics.RecordTokenOperation("issue", "error")
		return models.IssuedToken{}, err
	}
	issuedAt := s.now().UTC().Truncate(time.Microsecond)
	row := models.AccessToken{
		ID:         selector,
		AccountID:  accountID,
		SecretHash: hash,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(s.ttl),
	}
	if err := s.store.Insert(ctx, row); err != nil {
		s.metrics.RecordTokenOperation("issue", "error")
		return models.IssuedToken{}, err
	}
	s.metrics.RecordTokenOperation("issue", "ok")
	return models.IssuedToken{
		Token:     formatToken(selector, secret),
		AccountID: accountID,
		Expiry:    row.ExpiresAt,
	}, nil
}

// ValidateToken returns the account bound to token. ErrTokenInvalid and
// ErrTokenExpired are authentication failures; any other error is a fault.
func (s *TokenService) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	accountID, err := s.validate(ctx, token)
	switch {
	case err == nil:
		s.metrics.RecordTokenOperation("validate", "ok")
	case errors.Is(err, ErrTokenInvalid):
		s.metrics.RecordTokenOperation("validate", "invalid")
	case errors.Is(err, ErrTokenExpired):
		s.metrics.RecordTokenOperation("validate", "expired")
	default:
		s.metrics.RecordTokenOperation("validate", "error")
	}
	return accountID, err
}

func (s *TokenService) validate(ctx context.Context, token string) (uuid.UUID, error) {
	selector, secret, err := parseToken(token)
	if err != nil {
		return uuid.Nil, err
	}
	key := cacheKey(token)
	if s.cache != nil {
		accountID, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("token cache read failed", zap.Error(err))
		} else if ok {
			return accountID, nil
		}
	}

	row, err := s.store.GetByID(ctx, selector)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("load token: %w", err)
	}
	hash := s.dummyHash
	if found {
		hash = row.SecretHash
	}
	var mismatch error
	err = s.pool.Submit(ctx, "validate", func() error {
		mismatch = s.hasher.Compare(hash, secret)
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if !found || mismatch != nil {
		return uuid.Nil, ErrTokenInvalid
	}
	now := s.now()
	if now.After(row.ExpiresAt) {
		return uuid.Nil, ErrTokenExpired
	}

	if s.cache != nil && s.cacheTTL > 0 {
		ttl := s.cacheTTL
		if remaining := row.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
		if ttl > 0 {
			if err := s.cache.Set(ctx, key, row.AccountID, ttl); err != nil {
				s.logger.Warn("token cache write failed", zap.Error(err))
			}
		}
	}
	return row.AccountID, nil
}

// RevokeToken deletes a valid token so it can no longer be used.
func (s *TokenService) RevokeToken(ctx context.Context, token string) error {
	if _, err := s.ValidateToken(ctx, token); err != nil {
		return err
	}
	selector, _, err := parseToken(token)
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(token)); err != nil {
			return fmt.Errorf("evict token: %w", err)
		}
	}
	if _, err := s.store.Delete(ctx, selector); err != nil {
		return err
	}
	s.metrics.RecordTokenOperation("revoke", "ok")
	return nil
}

// PurgeExpired removes rows that can no longer validate.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

func formatToken(selector uuid.UUID, secret []byte) string {
	return hex.EncodeToString(selector[:]) + "." + hex.EncodeToString(secret)
}

func parseToken(token string) (uuid.UUID, []byte, error) {
	rawSelector, rawSecret, ok := strings.Cut(token, ".")
	if !ok {
		return uuid.Nil, nil, ErrTokenInvalid
	}
	selectorBytes, err := hex.DecodeString(rawSelector)
	if err != nil {
		return uuid.Nil, nil, ErrTokenInvalid
	}
	selector, err := uuid.FromBytes(selectorBytes)
	if err != nil {
		return uuid.Nil, nil, ErrTokenInvalid
	}
	secret, err := hex.DecodeString(rawSecret)
	if err != nil || len(secret) != secretLength {
		return uuid.Nil, nil, ErrTokenInvalid
	}
	return selector, secret, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
