package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserBalance tracks one merchant's share of the pool. It is created lazily
// on first allocation and mutated only by the pool and balance engines, each
// mutation paired with a ledger entry in the same transaction.
type UserBalance struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID   int64              `bson:"user_id" json:"user_id"`
	Currency string             `bson:"currency" json:"currency"`

	Available decimal.Decimal `bson:"available_balance" json:"available_balance"`
	Pending   decimal.Decimal `bson:"pending_balance" json:"pending_balance"`
	Reserved  decimal.Decimal `bson:"reserved_balance" json:"reserved_balance"`

	TotalEarned    decimal.Decimal `bson:"total_earned" json:"total_earned"`
	TotalWithdrawn decimal.Decimal `bson:"total_withdrawn" json:"total_withdrawn"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewUserBalance creates an empty balance for a user.
func NewUserBalance(userID int64, currency string) *UserBalance {
	now := time.Now()
	return &UserBalance{
		UserID:         userID,
		Currency:       currency,
		Available:      decimal.Zero,
		Pending:        decimal.Zero,
		Reserved:       decimal.Zero,
		TotalEarned:    decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Credit adds amount to the available balance.
func (b *UserBalance) Credit(amount decimal.Decimal) {
	b.Available = b.Available.Add(amount)
	b.UpdatedAt = time.Now()
}

// Debit removes amount from the available balance.
func (b *UserBalance) Debit(amount decimal.Decimal) error {
	if b.Available.LessThan(amount) {
		return NewInsufficientFunds(amount, b.Available)
	}
	b.Available = b.Available.Sub(amount)
	b.UpdatedAt = time.Now()
	return nil
}

// ReserveFromAvailable earmarks amount for an in-flight transaction.
func (b *UserBalance) ReserveFromAvailable(amount decimal.Decimal) error {
	if b.Available.LessThan(amount) {
		return NewInsufficientFunds(amount, b.Available)
	}
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
	b.UpdatedAt = time.Now()
	return nil
}

// ReleaseReserved returns an earmarked amount to the available balance,
// used when the in-flight transaction fails or is cancelled.
func (b *UserBalance) ReleaseReserved(amount decimal.Decimal) error {
	if b.Reserved.LessThan(amount) {
		return NewInsufficientFunds(amount, b.Reserved)
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)
	b.UpdatedAt = time.Now()
	return nil
}

// CompleteReserved clears an earmarked amount without crediting it back:
// the funds were settled against the pool.
func (b *UserBalance) CompleteReserved(amount decimal.Decimal) error {
	if b.Reserved.LessThan(amount) {
		return NewInsufficientFunds(amount, b.Reserved)
	}
	b.Reserved = b.Reserved.Sub(amount)
	b.UpdatedAt = time.Now()
	return nil
}

// MoveToPending records an inbound amount awaiting admin approval.
func (b *UserBalance) MoveToPending(amount decimal.Decimal) {
	b.Pending = b.Pending.Add(amount)
	b.UpdatedAt = time.Now()
}

// ApprovePending moves an approved amount from pending to available and
// counts it toward lifetime earnings.
func (b *UserBalance) ApprovePending(amount decimal.Decimal) error {
	if b.Pending.LessThan(amount) {
		return NewInsufficientFunds(amount, b.Pending)
	}
	b.Pending = b.Pending.Sub(amount)
	b.Available = b.Available.Add(amount)
	b.TotalEarned = b.TotalEarned.Add(amount)
	b.UpdatedAt = time.Now()
	return nil
}

// RejectPending removes a rejected amount from pending.
func (b *UserBalance) RejectPending(amount decimal.Decimal) error {
	if b.Pending.LessThan(amount) {
		return NewInsufficientFunds(amount, b.Pending)
	}
	b.Pending = b.Pending.Sub(amount)
	b.UpdatedAt = time.Now()
	return nil
}

// Validate checks the non-negativity invariant on every component.
func (b *UserBalance) Validate() error {
	if b.UserID <= 0 {
		return &ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	if b.Available.IsNegative() {
		return &ValidationError{Field: "available_balance", Reason: "cannot be negative"}
	}
	if b.Pending.IsNegative() {
		return &ValidationError{Field: "pending_balance", Reason: "cannot be negative"}
	}
	if b.Reserved.IsNegative() {
		return &ValidationError{Field: "reserved_balance", Reason: "cannot be negative"}
	}
	if b.Currency == "" {
		return &ValidationError{Field: "currency", Reason: "is required"}
	}
	return nil
}
