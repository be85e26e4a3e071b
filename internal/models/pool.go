package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolAccount is the single custodial account holding all facilitated funds
// before per-user attribution. Exactly one document exists; it is seeded at
// bootstrap and mutated only through the pool engine's transfer operations.
type PoolAccount struct {
	// ID is a fixed key so the collection can only ever hold one document.
	ID               string `bson:"_id,omitempty" json:"id,omitempty"`
	GatewayAccountID string `bson:"gateway_account_id" json:"gateway_account_id"`
	Currency         string `bson:"currency" json:"currency"`

	TotalBalance     decimal.Decimal `bson:"total_balance" json:"total_balance"`
	AllocatedBalance decimal.Decimal `bson:"allocated_balance" json:"allocated_balance"`
	ReservedBalance  decimal.Decimal `bson:"reserved_balance" json:"reserved_balance"`

	// Version guards read-modify-write cycles against lost updates.
	Version int64 `bson:"version" json:"-"`

	LastSyncedAt time.Time `bson:"last_synced_at" json:"last_synced_at"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// NewPoolAccount seeds the singleton with a configured opening balance.
func NewPoolAccount(initialBalance decimal.Decimal, currency, gatewayAccountID string) *PoolAccount {
	now := time.Now()
	return &PoolAccount{
		GatewayAccountID: gatewayAccountID,
		Currency:         currency,
		TotalBalance:     initialBalance,
		AllocatedBalance: decimal.Zero,
		ReservedBalance:  decimal.Zero,
		LastSyncedAt:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Unallocated returns total - allocated - reserved, the headroom available
// for new allocations.
func (p *PoolAccount) Unallocated() decimal.Decimal {
	return p.TotalBalance.Sub(p.AllocatedBalance).Sub(p.ReservedBalance)
}

// AllocationPercent returns allocated as a share of total, in percent.
func (p *PoolAccount) AllocationPercent() decimal.Decimal {
	if p.TotalBalance.IsZero() {
		return decimal.Zero
	}
	return p.AllocatedBalance.Div(p.TotalBalance).Mul(decimal.NewFromInt(100))
}

// Allocate moves amount from unallocated headroom into the allocated share.
func (p *PoolAccount) Allocate(amount decimal.Decimal) error {
	if unallocated := p.Unallocated(); unallocated.LessThan(amount) {
		return NewInsufficientFunds(amount, unallocated)
	}
	p.AllocatedBalance = p.AllocatedBalance.Add(amount)
	p.UpdatedAt = time.Now()
	return nil
}

// Deallocate returns amount from the allocated share to unallocated headroom.
func (p *PoolAccount) Deallocate(amount decimal.Decimal) error {
	if p.AllocatedBalance.LessThan(amount) {
		return NewInsufficientFunds(amount, p.AllocatedBalance)
	}
	p.AllocatedBalance = p.AllocatedBalance.Sub(amount)
	p.UpdatedAt = time.Now()
	return nil
}

// Reserve earmarks amount of unallocated headroom so concurrent operations
// cannot jointly overcommit it.
func (p *PoolAccount) Reserve(amount decimal.Decimal) error {
	if unallocated := p.Unallocated(); unallocated.LessThan(amount) {
		return NewInsufficientFunds(amount, unallocated)
	}
	p.ReservedBalance = p.ReservedBalance.Add(amount)
	p.UpdatedAt = time.Now()
	return nil
}

// Release returns a pool-level reservation to unallocated headroom.
func (p *PoolAccount) Release(amount decimal.Decimal) error {
	if p.ReservedBalance.LessThan(amount) {
		return NewInsufficientFunds(amount, p.ReservedBalance)
	}
	p.ReservedBalance = p.ReservedBalance.Sub(amount)
	p.UpdatedAt = time.Now()
	return nil
}

// AddFunds increases the custodial total (admin top-up).
func (p *PoolAccount) AddFunds(amount decimal.Decimal) {
	p.TotalBalance = p.TotalBalance.Add(amount)
	p.UpdatedAt = time.Now()
}

// RemoveFunds decreases the custodial total. It fails when the withdrawal
// would dip into allocated or reserved funds.
func (p *PoolAccount) RemoveFunds(amount decimal.Decimal) error {
	if unallocated := p.Unallocated(); unallocated.LessThan(amount) {
		return NewInsufficientFunds(amount, unallocated)
	}
	p.TotalBalance = p.TotalBalance.Sub(amount)
	p.UpdatedAt = time.Now()
	return nil
}

// Validate checks the pool invariant: allocated + reserved never exceeds
// total, and no component is negative.
func (p *PoolAccount) Validate() error {
	if p.TotalBalance.IsNegative() {
		return &ValidationError{Field: "total_balance", Reason: "cannot be negative"}
	}
	if p.AllocatedBalance.IsNegative() {
		return &ValidationError{Field: "allocated_balance", Reason: "cannot be negative"}
	}
	if p.ReservedBalance.IsNegative() {
		return &ValidationError{Field: "reserved_balance", Reason: "cannot be negative"}
	}
	if p.AllocatedBalance.Add(p.ReservedBalance).GreaterThan(p.TotalBalance) {
		return &ValidationError{Field: "total_balance", Reason: "allocated + reserved exceeds total"}
	}
	if p.Currency == "" {
		return &ValidationError{Field: "currency", Reason: "is required"}
	}
	return nil
}

// PoolHealthStatus levels reported by the pool health check.
const (
	PoolHealthy  = "healthy"
	PoolWarning  = "warning"
	PoolCritical = "critical"
)
