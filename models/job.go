package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type JobKind string

const (
	JobIssueTicket      JobKind = "issue_ticket"
	JobSendNotification JobKind = "send_notification"
	JobReconcilePayment JobKind = "reconcile_payment"
)

// Job is a queued work item. The idempotency key is derived from the
// triggering business event, not from the queue message, so retries across
// process restarts dedupe correctly.
type Job struct {
	ID             string          `json:"id"`
	Kind           JobKind         `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	Attempt        int             `json:"attempt"`
}

type IssuancePayload struct {
	OrderID string `json:"order_id"`
}

type NotificationPayload struct {
	TicketID string `json:"ticket_id"`
	Channel  string `json:"channel"` // email, sms, push
}

type ReconciliationPayload struct {
	ProviderEventID   string          `json:"provider_event_id"`
	ProviderEventType string          `json:"provider_event_type"`
	OrderReference    string          `json:"order_reference"`
	Amount            decimal.Decimal `json:"amount"`
}
