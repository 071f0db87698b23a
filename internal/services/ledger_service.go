package services

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"time"

	"coinledger/internal/db"
	"coinledger/internal/models"
	"coinledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	GenesisAccountID = uuid.MustParse("4e9b616a-f11e-48b6-8c2f-9534d482e48e")
	GenesisCreatedAt = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
)

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, account models.Account) error
	InsertGenesis(ctx context.Context, tx store.Execer, account models.Account) (bool, error)
	GetByID(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID uuid.UUID) (models.Account, error)
	UpdateBalance(ctx context.Context, tx store.Execer, accountID uuid.UUID, balance int64) error
	List(ctx context.Context) ([]models.Account, error)
	TotalBalance(ctx context.Context) (int64, error)
}

type LedgerStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerEntryInput) error
	Drift(ctx context.Context) ([]models.AccountDrift, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByID(ctx context.Context, transactionID uuid.UUID) (models.Receipt, error)
	GetInTx(ctx context.Context, tx store.Getter, transactionID uuid.UUID) (models.Receipt, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, window store.TimeRange) ([]models.Transaction, error)
}

type IDSource interface {
	UUID() (uuid.UUID, error)
}

type LedgerConfig struct {
	TotalSupply int64
	Fees        FeePolicy
	Ranges      RangePolicy
	Now         func() time.Time
}

// LedgerService owns every balance mutation. Callers serialize commands
// through a single goroutine and each command still runs serializable.
type LedgerService struct {
	txRunner     db.TxRunner
	accounts     AccountStore
	ledger       LedgerStore
	transactions TransactionStore
	ids          IDSource
	supply       int64
	fees         FeePolicy
	ranges       RangePolicy
	now          func() time.Time
	logger       *zap.Logger
}

func NewLedgerService(txRunner db.TxRunner, accounts AccountStore, ledger LedgerStore, transactions TransactionStore, ids IDSource, cfg LedgerConfig, logger *zap.Logger) *LedgerService {
	if cfg.Fees == nil {
		cfg.Fees = ZeroFee{}
	}
	if cfg.Ranges == nil {
		cfg.Ranges = CalendarDays{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		txRunner:     txRunner,
		accounts:     accounts,
		ledger:       ledger,
		transactions: transactions,
		ids:          ids,
		supply:       cfg.TotalSupply,
		fees:         cfg.Fees,
		ranges:       cfg.Ranges,
		now:          cfg.Now,
		logger:       logger,
	}
}

// Bootstrap creates the seed account holding the whole supply. Running it
// against an initialised store is a no-op.
func (s *LedgerService) Bootstrap(ctx context.Context) error {
	var created bool
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		created, err = s.accounts.InsertGenesis(ctx, tx, models.Account{
			ID:        GenesisAccountID,
			Balance:   s.supply,
			CreatedAt: GenesisCreatedAt,
		})
		if err != nil || !created {
			return err
		}
		entryID, err := s.ids.UUID()
		if err != nil {
			return err
		}
		return s.ledger.InsertEntries(ctx, tx, []store.LedgerEntryInput{{
			ID:          entryID,
			AccountID:   GenesisAccountID,
			Amount:      s.supply,
			Description: "Genesis supply",
		}})
	})
	if err != nil {
		return storeFault(err)
	}
	if created {
		s.logger.Info("seed account created", zap.String("account_id", GenesisAccountID.String()), zap.Int64("supply", s.supply))
	}
	return nil
}

func (s *LedgerService) CreateAccount(ctx context.Context) (models.Account, error) {
	id, err := s.ids.UUID()
	if err != nil {
		return models.Account{}, storeFault(err)
	}
	account := models.Account{ID: id, CreatedAt: s.timestamp()}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.accounts.Create(ctx, tx, account)
	})
	if err != nil {
		return models.Account{}, storeFault(err)
	}
	return account, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, storeFault(err)
	}
	return account, nil
}

func (s *LedgerService) ListAccounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, storeFault(err)
	}
	return accounts, nil
}

type TransferRequest struct {
	// ID is an optional caller-chosen transaction id. Resubmitting the same
	// id with the same parties and amount returns the original receipt.
	ID         *uuid.UUID
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Amount     int64
}

func (s *LedgerService) CreateTransaction(ctx context.Context, req TransferRequest) (models.Receipt, error) {
	if req.Amount <= 0 {
		return models.Receipt{}, ErrInvalidAmount
	}
	if req.SenderID == req.ReceiverID {
		return models.Receipt{}, ErrInvalidTransaction
	}
	fee := s.fees.Fee(req.SenderID, req.ReceiverID, req.Amount)
	if fee < 0 || req.Amount > math.MaxInt64-fee {
		return models.Receipt{}, ErrInvalidAmount
	}

	var receipt models.Receipt
	replayed := false
	attempt := func(tx *sqlx.Tx) error {
		replayed = false
		if req.ID != nil {
			existing, err := s.transactions.GetInTx(ctx, tx, *req.ID)
			switch {
			case err == nil:
				if existing.SenderID != req.SenderID || existing.ReceiverID != req.ReceiverID || existing.Amount != req.Amount {
					return ErrInvalidTransaction
				}
				receipt = existing
				replayed = true
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		parties := []uuid.UUID{req.SenderID, req.ReceiverID}
		if fee > 0 {
			parties = append(parties, s.fees.Sink())
		}
		locked, err := lockAccounts(ctx, tx, s.accounts, parties...)
		if err != nil {
			return err
		}
		if locked[req.SenderID].Balance < req.Amount+fee {
			return ErrInsufficientFunds
		}

		transactionID, err := s.transactionID(req)
		if err != nil {
			return err
		}
		txRef := uuid.NullUUID{UUID: transactionID, Valid: true}
		entries := []store.LedgerEntryInput{
			{TransactionID: txRef, AccountID: req.SenderID, Amount: -(req.Amount + fee), Description: "Transfer debit"},
			{TransactionID: txRef, AccountID: req.ReceiverID, Amount: req.Amount, Description: "Transfer credit"},
		}
		if fee > 0 {
			entries = append(entries, store.LedgerEntryInput{TransactionID: txRef, AccountID: s.fees.Sink(), Amount: fee, Description: "Transfer fee"})
		}
		for i := range entries {
			if entries[i].ID, err = s.ids.UUID(); err != nil {
				return err
			}
		}
		if err := ensureBalanced(entries); err != nil {
			return err
		}

		balances := applyEntries(locked, entries)
		for _, id := range sortedIDs(balances) {
			if err := s.accounts.UpdateBalance(ctx, tx, id, balances[id]); err != nil {
				return err
			}
		}

		receipt = models.Receipt{
			Transaction: models.Transaction{
				ID:         transactionID,
				SenderID:   req.SenderID,
				ReceiverID: req.ReceiverID,
				Amount:     req.Amount,
				Fee:        fee,
				Timestamp:  s.timestamp(),
			},
			SenderBalanceAfter: balances[req.SenderID],
		}
		if err := s.transactions.Create(ctx, tx, store.TransactionInput{
			ID:                 receipt.ID,
			SenderID:           receipt.SenderID,
			ReceiverID:         receipt.ReceiverID,
			Amount:             receipt.Amount,
			Fee:                receipt.Fee,
			SenderBalanceAfter: receipt.SenderBalanceAfter,
			Timestamp:          receipt.Timestamp,
		}); err != nil {
			return err
		}
		return s.ledger.InsertEntries(ctx, tx, entries)
	}
	err := s.txRunner.WithTx(ctx, attempt)
	if err != nil && req.ID != nil && db.IsUniqueViolation(err) {
		// Another submission of the same id committed first; a second pass
		// sees it and replays.
		err = s.txRunner.WithTx(ctx, attempt)
	}
	if err != nil {
		return models.Receipt{}, storeFault(err)
	}
	if replayed {
		s.logger.Info("transaction replayed", zap.String("transaction_id", receipt.ID.String()))
	}
	return receipt, nil
}

// timestamp matches the microsecond precision of the store.
func (s *LedgerService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *LedgerService) transactionID(req TransferRequest) (uuid.UUID, error) {
	if req.ID != nil {
		return *req.ID, nil
	}
	return s.ids.UUID()
}

// GetTransaction loads a transaction. When viewer is set the transaction is
// reported missing unless viewer is one of its parties.
func (s *LedgerService) GetTransaction(ctx context.Context, transactionID uuid.UUID, viewer *uuid.UUID) (models.Transaction, error) {
	row, err := s.transactions.GetByID(ctx, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return models.Transaction{}, storeFault(err)
	}
	if viewer != nil && *viewer != row.SenderID && *viewer != row.ReceiverID {
		return models.Transaction{}, ErrTransactionNotFound
	}
	return row.Transaction, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, accountID uuid.UUID, start, end string) ([]models.Transaction, error) {
	window, err := s.ranges.Window(start, end)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := s.transactions.ListByAccount(ctx, accountID, window)
	if err != nil {
		return nil, storeFault(err)
	}
	return rows, nil
}

// Reconcile checks that balances add up to the genesis supply and that every
// stored balance matches its journal.
func (s *LedgerService) Reconcile(ctx context.Context) (models.ReconcileReport, error) {
	total, err := s.accounts.TotalBalance(ctx)
	if err != nil {
		return models.ReconcileReport{}, storeFault(err)
	}
	drift, err := s.ledger.Drift(ctx)
	if err != nil {
		return models.ReconcileReport{}, storeFault(err)
	}
	report := models.ReconcileReport{
		TotalSupply:        s.supply,
		TotalBalance:       total,
		Balanced:           total == s.supply && len(drift) == 0,
		MismatchedAccounts: drift,
	}
	if !report.Balanced {
		s.logger.Error("ledger out of balance", zap.Int64("total_balance", total), zap.Int64("supply", s.supply), zap.Int("drifted_accounts", len(drift)))
	}
	return report, nil
}

func ensureBalanced(entries []store.LedgerEntryInput) error {
	var sum int64
	for _, entry := range entries {
		sum += entry.Amount
	}
	if sum != 0 {
		return errors.New("ledger entries are not balanced")
	}
	return nil
}

// lockAccounts takes row locks in ascending id order so that concurrent
// transfers touching the same accounts cannot deadlock.
func lockAccounts(ctx context.Context, tx store.Getter, accounts AccountStore, ids ...uuid.UUID) (map[uuid.UUID]models.Account, error) {
	locked := make(map[uuid.UUID]models.Account, len(ids))
	for _, id := range ids {
		locked[id] = models.Account{}
	}
	for _, id := range sortedIDs(locked) {
		account, err := accounts.GetForUpdate(ctx, tx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

func applyEntries(locked map[uuid.UUID]models.Account, entries []store.LedgerEntryInput) map[uuid.UUID]int64 {
	balances := make(map[uuid.UUID]int64, len(locked))
	for id, account := range locked {
		balances[id] = account.Balance
	}
	for _, entry := range entries {
		balances[entry.AccountID] += entry.Amount
	}
	return balances
}

func sortedIDs[V any](set map[uuid.UUID]V) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}
