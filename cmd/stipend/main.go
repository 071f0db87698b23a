// Command stipend pays coins from the seed account. With -to it makes a
// single payment; otherwise it pays every account whose balance is at or
// below -min.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"coinledger/internal/channel"
	"coinledger/internal/config"
	"coinledger/internal/logger"
	"coinledger/internal/models"
	"coinledger/internal/services"
	"coinledger/internal/validator"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var errOverLimit = errors.New("requested amount over the limit")

type ledger interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	CreateTransaction(ctx context.Context, req services.TransferRequest) (models.Receipt, error)
}

type stipend struct {
	ledger ledger
	max    int64
	logger *zap.Logger
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)
	defer log.Sync()

	minimum := flag.Int64("min", 0, "pay accounts whose balance is at or below this")
	amount := flag.Int64("amount", 0, "coins per payment")
	to := flag.String("to", "", "pay a single account instead of scanning")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s := stipend{
		ledger: channel.NewClient(cfg.CoreSocketPath, cfg.ChannelTimeout),
		max:    cfg.StipendMax,
		logger: log,
	}
	var err error
	if *to != "" {
		var receiver uuid.UUID
		receiver, err = validator.ParseID(*to)
		if err == nil {
			_, err = s.payOne(ctx, receiver, *amount)
		}
	} else {
		_, err = s.payEligible(ctx, *minimum, *amount)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "stipend:", err)
		os.Exit(1)
	}
}

func (s stipend) checkAmount(amount int64) error {
	if amount <= 0 {
		return services.ErrInvalidAmount
	}
	if amount > s.max {
		return fmt.Errorf("%w: %d > %d", errOverLimit, amount, s.max)
	}
	return nil
}

func (s stipend) payOne(ctx context.Context, receiver uuid.UUID, amount int64) (models.Receipt, error) {
	if err := s.checkAmount(amount); err != nil {
		return models.Receipt{}, err
	}
	// Each payment carries its own idempotency key. After an outage the
	// logged key can be looked up to learn whether the payment landed.
	id := uuid.New()
	receipt, err := s.ledger.CreateTransaction(ctx, services.TransferRequest{
		ID:         &id,
		SenderID:   services.GenesisAccountID,
		ReceiverID: receiver,
		Amount:     amount,
	})
	if err != nil {
		s.logger.Warn("stipend payment not confirmed",
			zap.String("account_id", receiver.String()),
			zap.String("transaction_id", id.String()),
			zap.Error(err),
		)
		return models.Receipt{}, err
	}
	s.logger.Info("stipend paid",
		zap.String("account_id", receiver.String()),
		zap.String("transaction_id", receipt.ID.String()),
		zap.Int64("amount", amount),
		zap.Int64("seed_balance_after", receipt.SenderBalanceAfter),
	)
	return receipt, nil
}

// payEligible pays every non-seed account at or below minimum. A failed
// payment is logged and the scan continues; it stops early only when the seed
// account runs dry or the core is unreachable.
func (s stipend) payEligible(ctx context.Context, minimum, amount int64) (int, error) {
	if err := s.checkAmount(amount); err != nil {
		return 0, err
	}
	accounts, err := s.ledger.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	var eligible []models.Account
	for _, account := range accounts {
		if account.ID != services.GenesisAccountID && account.Balance <= minimum {
			eligible = append(eligible, account)
		}
	}
	s.logger.Info("stipend scan",
		zap.Int("accounts", len(accounts)),
		zap.Int("eligible", len(eligible)),
	)

	paid := 0
	for _, account := range eligible {
		_, err := s.payOne(ctx, account.ID, amount)
		switch {
		case err == nil:
			paid++
		case errors.Is(err, services.ErrInsufficientFunds), errors.Is(err, channel.ErrChannelUnavailable):
			return paid, err
		default:
			s.logger.Warn("stipend failed",
				zap.String("account_id", account.ID.String()),
				zap.Error(err),
			)
		}
	}
	return paid, nil
}
