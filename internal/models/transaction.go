package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TransactionType classifies a business event.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeSale       TransactionType = "SALE"
	TypeRefund     TransactionType = "REFUND"
	TypePayout     TransactionType = "PAYOUT"
	TypeFee        TransactionType = "FEE"
	TypeAdjustment TransactionType = "ADJUSTMENT"
)

// TransactionStatus is the state machine's current state.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusRefunded   TransactionStatus = "REFUNDED"
	StatusCancelled  TransactionStatus = "CANCELLED"
)

// allowedTransitions is the full status lifecycle. REFUNDED and CANCELLED
// are terminal; FAILED may be retried back into PENDING or PROCESSING.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     {StatusPending, StatusProcessing},
	StatusRefunded:   {},
	StatusCancelled:  {},
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s TransactionStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Transaction records one business event against a user's balance. It is
// created when the action is initiated and mutated only via TransitionTo.
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionID string             `bson:"transaction_id" json:"transaction_id"`
	UserID        int64              `bson:"user_id" json:"user_id"`

	Type     TransactionType   `bson:"type" json:"type"`
	Status   TransactionStatus `bson:"status" json:"status"`
	Amount   decimal.Decimal   `bson:"amount" json:"amount"`
	Currency string            `bson:"currency" json:"currency"`

	Description string `bson:"description,omitempty" json:"description,omitempty"`
	// ParentTransactionID links a refund to its original sale. One level
	// only, never a general graph.
	ParentTransactionID string `bson:"parent_transaction_id,omitempty" json:"parent_transaction_id,omitempty"`

	FailureReason string `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	FailedAt    *time.Time `bson:"failed_at,omitempty" json:"failed_at,omitempty"`
}

// NewTransaction creates a transaction in PENDING.
func NewTransaction(userID int64, txType TransactionType, amount decimal.Decimal, currency, description string) *Transaction {
	now := time.Now()
	return &Transaction{
		TransactionID: fmt.Sprintf("TXN-%s", uuid.New().String()),
		UserID:        userID,
		Type:          txType,
		Status:        StatusPending,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TransitionTo moves the transaction to next, enforcing the lifecycle table
// and stamping completion/failure times.
func (t *Transaction) TransitionTo(next TransactionStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return &InvalidStateTransitionError{From: t.Status, To: next}
	}
	now := time.Now()
	t.Status = next
	t.UpdatedAt = now
	switch next {
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusFailed:
		t.FailedAt = &now
	}
	return nil
}

// MarkFailed transitions to FAILED and records the reason.
func (t *Transaction) MarkFailed(reason string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	t.FailureReason = reason
	return nil
}

// Refundable reports whether this transaction can back a refund.
func (t *Transaction) Refundable() bool {
	return t.Type == TypeSale && t.Status == StatusCompleted
}

// Validate checks structural fields before persisting.
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return &ValidationError{Field: "transaction_id", Reason: "is required"}
	}
	if t.UserID <= 0 {
		return &ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	switch t.Type {
	case TypeDeposit, TypeSale, TypeRefund, TypePayout, TypeFee, TypeAdjustment:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", t.Type)}
	}
	if _, ok := allowedTransitions[t.Status]; !ok {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", t.Status)}
	}
	return nil
}
