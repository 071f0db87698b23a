package models

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID        uuid.UUID `db:"id" json:"account_id"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Transaction is the record visible to either party.
type Transaction struct {
	ID         uuid.UUID `db:"id" json:"transaction_id"`
	SenderID   uuid.UUID `db:"sender_id" json:"sender_id"`
	ReceiverID uuid.UUID `db:"receiver_id" json:"receiver_id"`
	Amount     int64     `db:"amount" json:"amount"`
	Fee        int64     `db:"fee" json:"fee"`
	Timestamp  time.Time `db:"created_at" json:"timestamp"`
}

// Receipt is returned to the sender of a committed transfer.
type Receipt struct {
	Transaction
	SenderBalanceAfter int64 `db:"sender_balance_after" json:"sender_balance_after"`
}

type LedgerEntry struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	TransactionID uuid.NullUUID `db:"transaction_id" json:"transaction_id"`
	AccountID     uuid.UUID     `db:"account_id" json:"account_id"`
	Amount        int64         `db:"amount" json:"amount"`
	Description   string        `db:"description" json:"description"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

type AccessToken struct {
	ID         uuid.UUID `db:"id"`
	AccountID  uuid.UUID `db:"account_id"`
	SecretHash []byte    `db:"secret_hash"`
	IssuedAt   time.Time `db:"issued_at"`
	ExpiresAt  time.Time `db:"expires_at"`
}

type IssuedToken struct {
	Token     string    `json:"token"`
	AccountID uuid.UUID `json:"account_id"`
	Expiry    time.Time `json:"token_expiry"`
}

type AccountDrift struct {
	AccountID      uuid.UUID `db:"id" json:"account_id"`
	StoredBalance  int64     `db:"stored_balance" json:"stored_balance"`
	JournalBalance int64     `db:"journal_balance" json:"journal_balance"`
}

type ReconcileReport struct {
	TotalSupply        int64          `json:"total_supply"`
	TotalBalance       int64          `json:"total_balance"`
	Balanced           bool           `json:"balanced"`
	MismatchedAccounts []AccountDrift `json:"mismatched_accounts"`
}
