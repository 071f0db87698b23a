package services

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrDatabase            = errors.New("database fault")
)

var domainErrors = []error{
	ErrAccountNotFound,
	ErrTransactionNotFound,
	ErrInvalidAmount,
	ErrInvalidTransaction,
	ErrInsufficientFunds,
	ErrInvalidQuery,
	ErrDatabase,
}

// storeFault tags err as a database fault while keeping the driver error
// reachable through errors.As, which the retry loop depends on.
func storeFault(err error) error {
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrDatabase, err)
}
