package models

import (
	"time"

	"github.com/google/uuid"
)

// Domain event names emitted after committed operations.
const (
	EventTransactionCreated   = "transaction.created"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransactionRefunded  = "transaction.refunded"
	EventDepositInitiated     = "deposit.initiated"
	EventDepositApproved      = "deposit.approved"
	EventDepositRejected      = "deposit.rejected"
	EventPoolAllocated        = "pool.allocated"
	EventPoolDeallocated      = "pool.deallocated"
	EventPoolFundsAdded       = "pool.funds_added"
	EventPoolFundsRemoved     = "pool.funds_removed"
	EventPoolReconciled       = "pool.reconciled"
	EventPoolAlert            = "pool.alert"
)

// Event is a domain notification produced by a committed operation. Engines
// return events instead of publishing them; the caller decides delivery.
// Consumers must treat delivery as best-effort, at-least-once.
type Event struct {
	EventID   string                 `json:"event_id"`
	Name      string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(name string, payload map[string]interface{}) Event {
	return Event{
		EventID:   uuid.New().String(),
		Name:      name,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
