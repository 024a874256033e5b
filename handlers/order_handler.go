package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/shopspring/decimal"

	"ticket-pipeline/models"
	"ticket-pipeline/store"
)

type OrderHandler struct {
	store *store.Store
}

func NewOrderHandler(st *store.Store) *OrderHandler {
	return &OrderHandler{store: st}
}

type CreateOrderRequest struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	BuyerID    string          `json:"buyer_id"`
	BuyerEmail string          `json:"buyer_email"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	LineItems  int             `json:"line_items"`
}

// CreateOrder - register a pending order awaiting payment. Tickets are only
// minted once the payment provider confirms via webhook.
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	var req CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.EventID == "" || req.BuyerID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event_id and buyer_id are required"})
	}
	if req.LineItems < 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "line_items must be at least 1"})
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	order := models.Order{
		ID:         req.ID,
		EventID:    req.EventID,
		BuyerID:    req.BuyerID,
		BuyerEmail: req.BuyerEmail,
		Amount:     req.Amount,
		Currency:   req.Currency,
		LineItems:  req.LineItems,
		Status:     models.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.PutOrder(c.Request().Context(), order); err != nil {
		log.Printf("Failed to create order %s: %v", order.ID, err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Storage unavailable"})
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"order_id": order.ID,
		"status":   string(order.Status),
	})
}

// GetOrder - look up an order and its status
func (h *OrderHandler) GetOrder(c echo.Context) error {
	id := c.PathParam("id")
	order, err := h.store.GetOrder(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Order not found"})
	}
	return c.JSON(http.StatusOK, order)
}
