package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Domain event types written to the outbox.
const (
	EventBedAssigned      = "bed.assigned"
	EventBedDischarged    = "bed.discharged"
	EventInvoicePaid      = "invoice.paid"
	EventInvoiceCancelled = "invoice.cancelled"
)

// OutboxClaimLease is how long a claimed event is hidden from other pollers
// before it becomes due again.
const OutboxClaimLease = time.Minute

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Actor        string          `db:"actor" json:"actor,omitempty"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}
