package models

import (
	"time"
)

type TicketStatus string

const (
	TicketUnissued  TicketStatus = "unissued"
	TicketIssued    TicketStatus = "issued"
	TicketCheckedIn TicketStatus = "checked_in"
	TicketRevoked   TicketStatus = "revoked"
)

// Ticket is one admitted seat/entry. Version increments on every state
// mutation and orders all transitions for a ticket regardless of which
// worker or gate performed them.
type Ticket struct {
	ID              string       `json:"id"`
	OrderID         string       `json:"order_id"`
	EventID         string       `json:"event_id"`
	LineItemID      string       `json:"line_item_id"`
	Status          TicketStatus `json:"status"` // unissued, issued, checked_in, revoked
	Version         int64        `json:"version"`
	GateID          string       `json:"gate_id,omitempty"`
	ScannerID       string       `json:"scanner_id,omitempty"`
	LastValidatedAt *time.Time   `json:"last_validated_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// AuditRecord is emitted on every successful admission.
type AuditRecord struct {
	TicketID  string    `json:"ticket_id"`
	GateID    string    `json:"gate_id"`
	ScannerID string    `json:"scanner_id"`
	RequestID string    `json:"request_id"`
	ScannedAt time.Time `json:"scanned_at"`
}
