package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderFailed   OrderStatus = "failed"
	OrderRefunded OrderStatus = "refunded"
)

type Order struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	BuyerID    string          `json:"buyer_id"`
	BuyerEmail string          `json:"buyer_email,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	LineItems  int             `json:"line_items"`
	Status     OrderStatus     `json:"status"` // pending, paid, failed, refunded
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
}
