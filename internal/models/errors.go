package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPoolNotInitialized is returned when the singleton pool account
	// has not been seeded yet.
	ErrPoolNotInitialized = errors.New("pool account not initialized")

	ErrBalanceNotFound     = errors.New("user balance not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrVersionConflict marks an optimistic-concurrency failure inside a
	// unit of work. The transaction runner retries it like any other
	// transient storage conflict.
	ErrVersionConflict = errors.New("version conflict")
)

// InsufficientFundsError reports a balance-sufficiency failure with the
// exact figures so callers can surface the shortfall verbatim.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s",
		e.Required.String(), e.Available.String())
}

// NewInsufficientFunds builds the error for a failed sufficiency check.
func NewInsufficientFunds(required, available decimal.Decimal) error {
	return &InsufficientFundsError{Required: required, Available: available}
}

// InvalidStateTransitionError is returned when a transaction status change
// is not in the allowed transition table.
type InvalidStateTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// ValidationError reports a rejected input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// StorageError wraps a storage-layer failure after internal retries are
// exhausted. The unit of work it covers left no partial effect.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsInsufficientFunds reports whether err is a sufficiency failure.
func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
