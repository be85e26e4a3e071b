package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntryType classifies the business event behind a ledger entry.
type EntryType string

const (
	EntryDeposit    EntryType = "DEPOSIT"
	EntrySale       EntryType = "SALE"
	EntryRefund     EntryType = "REFUND"
	EntryPayout     EntryType = "PAYOUT"
	EntryAdjustment EntryType = "ADJUSTMENT"
)

// Operation is the closed set of ways an entry affects the available
// balance. Adjustments carry an explicit direction so balance-after
// computation stays exhaustive.
type Operation string

const (
	OperationCredit     Operation = "credit"
	OperationDebit      Operation = "debit"
	OperationAdjustment Operation = "adjustment"
)

// Adjustment directions.
const (
	DirectionUp   = 1
	DirectionDown = -1
)

// LedgerEntry is one immutable audit record of an available-balance
// mutation, carrying the before and after balances. Entries are never
// updated or deleted; they are the sole source of truth for reconciliation.
type LedgerEntry struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	EntryID string             `bson:"entry_id" json:"entry_id"`
	UserID  int64              `bson:"user_id" json:"user_id"`

	EntryType EntryType `bson:"entry_type" json:"entry_type"`
	Operation Operation `bson:"operation" json:"operation"`
	// Direction is meaningful for adjustments only: +1 or -1.
	Direction int `bson:"direction,omitempty" json:"direction,omitempty"`

	Amount        decimal.Decimal `bson:"amount" json:"amount"`
	BalanceBefore decimal.Decimal `bson:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `bson:"balance_after" json:"balance_after"`

	Description string            `bson:"description" json:"description"`
	Metadata    map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Timestamp   time.Time         `bson:"timestamp" json:"timestamp"`
}

// NewLedgerEntry builds an entry and computes balance_after from the
// operation. Amount must be positive; the operation carries the sign.
func NewLedgerEntry(userID int64, entryType EntryType, op Operation, direction int, amount, balanceBefore decimal.Decimal, description string) (*LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	after, err := op.Apply(balanceBefore, amount, direction)
	if err != nil {
		return nil, err
	}
	return &LedgerEntry{
		EntryID:       fmt.Sprintf("LED-%s", uuid.New().String()),
		UserID:        userID,
		EntryType:     entryType,
		Operation:     op,
		Direction:     direction,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  after,
		Description:   description,
		Timestamp:     time.Now(),
	}, nil
}

// Apply computes the balance after applying amount under the operation.
// The switch is exhaustive over the closed Operation set.
func (op Operation) Apply(balance, amount decimal.Decimal, direction int) (decimal.Decimal, error) {
	switch op {
	case OperationCredit:
		return balance.Add(amount), nil
	case OperationDebit:
		return balance.Sub(amount), nil
	case OperationAdjustment:
		switch direction {
		case DirectionUp:
			return balance.Add(amount), nil
		case DirectionDown:
			return balance.Sub(amount), nil
		default:
			return decimal.Zero, &ValidationError{Field: "direction", Reason: "adjustment direction must be +1 or -1"}
		}
	default:
		return decimal.Zero, &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", op)}
	}
}

// SignedAmount returns the entry's contribution to a ledger replay:
// positive for credits, negative for debits, per direction for adjustments.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	switch e.Operation {
	case OperationCredit:
		return e.Amount
	case OperationDebit:
		return e.Amount.Neg()
	case OperationAdjustment:
		if e.Direction == DirectionDown {
			return e.Amount.Neg()
		}
		return e.Amount
	default:
		return decimal.Zero
	}
}

// LedgerSummary aggregates a user's entries within a window.
type LedgerSummary struct {
	UserID           int64           `json:"user_id"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	CreditCount      int             `json:"credit_count"`
	DebitCount       int             `json:"debit_count"`
	AdjustmentCount  int             `json:"adjustment_count"`
	TotalCredits     decimal.Decimal `json:"total_credits"`
	TotalDebits      decimal.Decimal `json:"total_debits"`
	TotalAdjustments decimal.Decimal `json:"total_adjustments"`
	NetChange        decimal.Decimal `json:"net_change"`
}
