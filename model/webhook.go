package model

import (
	"strings"
	"time"
)

// RetryStatus is the lifecycle state of a webhook retry record.
type RetryStatus string

const (
	RetryStatusPending           RetryStatus = "pending_retry"
	RetryStatusPermanentlyFailed RetryStatus = "permanently_failed"
	RetryStatusResolved          RetryStatus = "resolved"
)

// WebhookEvent is the audit record of a single provider delivery. One row is
// written for every delivery that passes signature verification, whatever the
// processing outcome.
type WebhookEvent struct {
	ID            int64     `json:"-"`
	EventID       string    `json:"event_id"`
	Provider      string    `json:"provider"`
	SourceIP      string    `json:"source_ip"`
	RawPayload    []byte    `json:"raw_payload"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Normalized    string    `json:"normalized_status,omitempty"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// WebhookRetryRecord is the durable state of a failed webhook awaiting
// reprocessing. Records are never deleted: they are marked resolved on
// success and permanently_failed once the attempt budget is exhausted.
type WebhookRetryRecord struct {
	ID          int64       `json:"-"`
	RetryID     string      `json:"retry_id"`
	Provider    string      `json:"provider"`
	RawPayload  []byte      `json:"raw_payload"`
	RetryCount  int         `json:"retry_count"`
	NextRetryAt time.Time   `json:"next_retry_at"`
	Status      RetryStatus `json:"status"`
	LastError   string      `json:"last_error,omitempty"`
	ClaimedAt   *time.Time  `json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NormalizedEvent is the canonical shape every provider payload is parsed
// into before it reaches the status machine.
type NormalizedEvent struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Message       string `json:"message,omitempty"`
}

// NormalizeProviderStatus maps the status vocabulary providers actually send
// into the canonical transaction statuses. Anything unrecognized is left
// pending so redelivery with a final status can still settle the transaction.
func NormalizeProviderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful", "paid", "completed", "ts":
		return StatusCompleted
	case "failed", "failure", "cancelled", "canceled", "expired", "rejected", "tf":
		return StatusFailed
	default:
		return StatusPending
	}
}
