package models

type DenyReason string

const (
	DenyInvalidToken  DenyReason = "invalid_token"
	DenyUnknownTicket DenyReason = "unknown_ticket"
	DenyStaleToken    DenyReason = "stale_token"
	DenyAlreadyUsed   DenyReason = "already_used"
	DenyRevoked       DenyReason = "revoked"
)

// ScanResult is the outcome of a gate scan. Echo is true when the result is
// a replay of an admission already granted to the same scanner and request
// id within the echo window.
type ScanResult struct {
	Admit    bool       `json:"admit"`
	Reason   DenyReason `json:"reason,omitempty"`
	TicketID string     `json:"ticket_id,omitempty"`
	Echo     bool       `json:"echo,omitempty"`
}
