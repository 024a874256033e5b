package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/shopspring/decimal"

	"ticket-pipeline/models"
	"ticket-pipeline/queue"
	"ticket-pipeline/utils"
)

type WebhookHandler struct {
	queue         *queue.Client
	webhookSecret []byte
}

func NewWebhookHandler(q *queue.Client, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		queue:         q,
		webhookSecret: []byte(webhookSecret),
	}
}

type providerEvent struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Object struct {
		OrderReference string          `json:"order_reference"`
		Amount         decimal.Decimal `json:"amount"`
	} `json:"object"`
}

// HandlePaymentEvent - receive a signed payment provider webhook and hand it
// to the reconciliation worker
func (h *WebhookHandler) HandlePaymentEvent(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
	}

	signature := c.Request().Header.Get("X-Signature")
	if !utils.VerifyHmac256(body, h.webhookSecret, signature) {
		log.Printf("Webhook rejected: bad signature")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
	}

	var event providerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid event payload"})
	}
	if event.ID == "" || event.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing event id or type"})
	}

	payload, err := json.Marshal(models.ReconciliationPayload{
		ProviderEventID:   event.ID,
		ProviderEventType: event.Type,
		OrderReference:    event.Object.OrderReference,
		Amount:            event.Object.Amount,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal error"})
	}

	receipt, err := h.queue.Enqueue(c.Request().Context(), models.Job{
		Kind:           models.JobReconcilePayment,
		IdempotencyKey: event.ID,
		Payload:        payload,
	})
	if err != nil {
		log.Printf("Failed to enqueue reconciliation for event %s: %v", event.ID, err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Queue unavailable"})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"job_id":    receipt.JobID,
		"duplicate": receipt.Duplicate,
	})
}
