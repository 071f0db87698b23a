package services

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"coinledger/internal/models"
	"coinledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// memLedger is an in-memory stand-in for the three ledger tables. memTxRunner
// snapshots it before each callback and restores the snapshot on error, which
// gives the tests real rollback semantics.
type memLedger struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]models.Account
	transactions map[uuid.UUID]models.Receipt
	entries      []store.LedgerEntryInput

	updateCalls   int
	failUpdateAt  int
	failUpdateErr error
	getErr        error
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts:     map[uuid.UUID]models.Account{},
		transactions: map[uuid.UUID]models.Receipt{},
	}
}

type memSnapshot struct {
	accounts     map[uuid.UUID]models.Account
	transactions map[uuid.UUID]models.Receipt
	entries      []store.LedgerEntryInput
}

func (m *memLedger) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		accounts:     make(map[uuid.UUID]models.Account, len(m.accounts)),
		transactions: make(map[uuid.UUID]models.Receipt, len(m.transactions)),
		entries:      append([]store.LedgerEntryInput(nil), m.entries...),
	}
	for k, v := range m.accounts {
		snap.accounts[k] = v
	}
	for k, v := range m.transactions {
		snap.transactions[k] = v
	}
	return snap
}

func (m *memLedger) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = snap.accounts
	m.transactions = snap.transactions
	m.entries = snap.entries
}

func (m *memLedger) balance(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

func (m *memLedger) sum() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, account := range m.accounts {
		total += account.Balance
	}
	return total
}

func (m *memLedger) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *memLedger) Create(_ context.Context, _ store.Execer, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return &pq.Error{Code: "23505"}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *memLedger) InsertGenesis(_ context.Context, _ store.Execer, account models.Account) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return false, nil
	}
	m.accounts[account.ID] = account
	return true, nil
}

func (m *memLedger) GetByID(_ context.Context, accountID uuid.UUID) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.Account{}, m.getErr
	}
	account, ok := m.accounts[accountID]
	if !ok {
		return models.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (m *memLedger) GetForUpdate(ctx context.Context, _ store.Getter, accountID uuid.UUID) (models.Account, error) {
	return m.GetByID(ctx, accountID)
}

func (m *memLedger) UpdateBalance(_ context.Context, _ store.Execer, accountID uuid.UUID, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failUpdateErr != nil && m.updateCalls == m.failUpdateAt {
		return m.failUpdateErr
	}
	if balance < 0 {
		return &pq.Error{Code: "23514"}
	}
	account := m.accounts[accountID]
	account.Balance = balance
	m.accounts[accountID] = account
	return nil
}

func (m *memLedger) List(context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]models.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		rows = append(rows, account)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	return rows, nil
}

func (m *memLedger) TotalBalance(context.Context) (int64, error) {
	return m.sum(), nil
}

func (m *memLedger) InsertEntries(_ context.Context, _ store.Execer, entries []store.LedgerEntryInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memLedger) Drift(context.Context) ([]models.AccountDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	journal := map[uuid.UUID]int64{}
	for _, entry := range m.entries {
		journal[entry.AccountID] += entry.Amount
	}
	drift := []models.AccountDrift{}
	for id, account := range m.accounts {
		if account.Balance != journal[id] {
			drift = append(drift, models.AccountDrift{AccountID: id, StoredBalance: account.Balance, JournalBalance: journal[id]})
		}
	}
	return drift, nil
}

func (m *memLedger) CreateTransaction(_ context.Context, _ store.Execer, input store.TransactionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[input.ID]; ok {
		return &pq.Error{Code: "23505"}
	}
	m.transactions[input.ID] = models.Receipt{
		Transaction: models.Transaction{
			ID:         input.ID,
			SenderID:   input.SenderID,
			ReceiverID: input.ReceiverID,
			Amount:     input.Amount,
			Fee:        input.Fee,
			Timestamp:  input.Timestamp,
		},
		SenderBalanceAfter: input.SenderBalanceAfter,
	}
	return nil
}

func (m *memLedger) getTransaction(transactionID uuid.UUID) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.transactions[transactionID]
	if !ok {
		return models.Receipt{}, sql.ErrNoRows
	}
	return row, nil
}

func (m *memLedger) ListByAccount(_ context.Context, accountID uuid.UUID, window store.TimeRange) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := []models.Transaction{}
	for _, row := range m.transactions {
		if row.SenderID != accountID && row.ReceiverID != accountID {
			continue
		}
		if window.From != nil && row.Timestamp.Before(*window.From) {
			continue
		}
		if window.Until != nil && !row.Timestamp.Before(*window.Until) {
			continue
		}
		rows = append(rows, row.Transaction)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	return rows, nil
}

// memTransactions exposes the transaction half of memLedger under the method
// names the service expects.
type memTransactions struct {
	*memLedger
}

func (t memTransactions) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	return t.memLedger.CreateTransaction(ctx, tx, input)
}

func (t memTransactions) GetByID(_ context.Context, transactionID uuid.UUID) (models.Receipt, error) {
	return t.getTransaction(transactionID)
}

func (t memTransactions) GetInTx(_ context.Context, _ store.Getter, transactionID uuid.UUID) (models.Receipt, error) {
	return t.getTransaction(transactionID)
}

type memTxRunner struct {
	mu     *sync.Mutex
	ledger *memLedger
}

func (r memTxRunner) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.ledger.snapshot()
	if err := fn(nil); err != nil {
		r.ledger.restore(snap)
		return err
	}
	return nil
}

type sequentialIDs struct {
	mu   sync.Mutex
	next uint64
}

func (s *sequentialIDs) UUID() (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], s.next)
	id[6] = 0x40
	id[8] |= 0x80
	return id, nil
}

type failingIDs struct{}

func (failingIDs) UUID() (uuid.UUID, error) {
	return uuid.Nil, errors.New("entropy exhausted")
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	service *LedgerService
	ledger  *memLedger
	clock   *fakeClock
}

func newHarness(cfg LedgerConfig) harness {
	ledger := newMemLedger()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	if cfg.TotalSupply == 0 {
		cfg.TotalSupply = 100000
	}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	service := NewLedgerService(
		memTxRunner{mu: &sync.Mutex{}, ledger: ledger},
		ledger,
		ledger,
		memTransactions{ledger},
		&sequentialIDs{},
		cfg,
		nil,
	)
	return harness{service: service, ledger: ledger, clock: clock}
}
