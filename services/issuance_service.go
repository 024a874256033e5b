package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"ticket-pipeline/internal/status"
	"ticket-pipeline/ledger"
	"ticket-pipeline/models"
	"ticket-pipeline/queue"
	"ticket-pipeline/store"
)

// IssuanceService turns a paid order into tickets, one per line item. Re-runs
// of the same job are upsert-safe: a crash after minting ticket 3 of 5 resumes
// without duplicating the first three.
type IssuanceService struct {
	store  *store.Store
	ledger *ledger.Ledger
	queue  *queue.Client
}

func NewIssuanceService(st *store.Store, ld *ledger.Ledger, q *queue.Client) *IssuanceService {
	return &IssuanceService{store: st, ledger: ld, queue: q}
}

func (s *IssuanceService) Handle(ctx context.Context, job models.Job) error {
	var payload models.IssuancePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("issuance job %s: bad payload: %w", job.ID, err)
	}

	decision, err := s.ledger.Begin(ctx, models.JobIssueTicket, job.IdempotencyKey)
	if err != nil {
		return err
	}
	switch decision.State {
	case ledger.AlreadyCompleted:
		log.Printf("Issuance for order %s already completed, skipping", payload.OrderID)
		return nil
	case ledger.Busy:
		return status.ErrRetryLater
	}

	order, err := s.store.GetOrder(ctx, payload.OrderID)
	if err != nil {
		// Reconciliation may still be writing the order record; let the
		// visibility timeout bring the job back.
		log.Printf("Issuance for order %s deferred: %v", payload.OrderID, err)
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}
	if order.Status != models.OrderPaid {
		log.Printf("Issuance for order %s deferred: status %s", order.ID, order.Status)
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}

	now := time.Now().UTC()
	for i := 0; i < order.LineItems; i++ {
		ticket := models.Ticket{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			EventID:    order.EventID,
			LineItemID: fmt.Sprintf("li-%d", i),
			Status:     models.TicketIssued,
			CreatedAt:  now,
		}

		ticketID, created, err := s.store.EnsureTicket(ctx, ticket)
		if err != nil {
			return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
		}
		if created {
			log.Printf("Issued ticket %s for order %s (%s)", ticketID, order.ID, ticket.LineItemID)
		}

		notify := models.NotificationPayload{TicketID: ticketID, Channel: "email"}
		raw, err := json.Marshal(notify)
		if err != nil {
			return fmt.Errorf("issuance job %s: %w", job.ID, err)
		}
		if _, err := s.queue.Enqueue(ctx, models.Job{
			Kind:           models.JobSendNotification,
			IdempotencyKey: ticketID,
			Payload:        raw,
		}); err != nil {
			return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
		}
	}

	if err := s.ledger.Commit(ctx, models.JobIssueTicket, job.IdempotencyKey, decision.Owner, ledger.OutcomeSuccess); err != nil {
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}
	return nil
}

// retryLater gives the lease back before deferring, so the redelivery can
// re-attempt immediately instead of burning attempts on Busy.
func (s *IssuanceService) retryLater(ctx context.Context, key, owner string) error {
	if err := s.ledger.Release(ctx, models.JobIssueTicket, key, owner); err != nil {
		log.Printf("Failed to release issuance lease for %s: %v", key, err)
	}
	return status.ErrRetryLater
}
