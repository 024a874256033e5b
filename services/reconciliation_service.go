package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"ticket-pipeline/internal/status"
	"ticket-pipeline/ledger"
	"ticket-pipeline/models"
	"ticket-pipeline/queue"
	"ticket-pipeline/store"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentReversed  = "payment.reversed"
)

// ReconciliationService applies payment provider events to orders. Events
// arrive at-least-once and out of order; the ledger dedupes by provider event
// id and out-of-order events are retried until their precondition holds or
// attempts run out.
type ReconciliationService struct {
	store  *store.Store
	ledger *ledger.Ledger
	queue  *queue.Client
}

func NewReconciliationService(st *store.Store, ld *ledger.Ledger, q *queue.Client) *ReconciliationService {
	return &ReconciliationService{store: st, ledger: ld, queue: q}
}

func (s *ReconciliationService) Handle(ctx context.Context, job models.Job) error {
	var payload models.ReconciliationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("reconciliation job %s: bad payload: %w", job.ID, err)
	}

	decision, err := s.ledger.Begin(ctx, models.JobReconcilePayment, job.IdempotencyKey)
	if err != nil {
		return err
	}
	switch decision.State {
	case ledger.AlreadyCompleted:
		log.Printf("Provider event %s already reconciled, skipping", payload.ProviderEventID)
		return nil
	case ledger.Busy:
		return status.ErrRetryLater
	}

	switch payload.ProviderEventType {
	case EventPaymentSucceeded:
		return s.paymentSucceeded(ctx, job, payload, decision.Owner)
	case EventPaymentFailed:
		return s.paymentFailed(ctx, job, payload, decision.Owner)
	case EventPaymentReversed:
		return s.paymentReversed(ctx, job, payload, decision.Owner)
	default:
		// Unknown event types keep retrying and end up parked for operator
		// review rather than being silently dropped.
		log.Printf("Unknown provider event type %s (%s)", payload.ProviderEventType, payload.ProviderEventID)
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}
}

func (s *ReconciliationService) paymentSucceeded(ctx context.Context, job models.Job, payload models.ReconciliationPayload, owner string) error {
	tr, err := s.store.TransitionOrder(ctx, payload.OrderReference, models.OrderPending, models.OrderPaid)
	if err != nil {
		if errors.Is(err, status.ErrOrderNotFound) {
			// Webhook can beat the order write; retry until it lands.
			log.Printf("Payment for unknown order %s, retrying", payload.OrderReference)
		}
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}
	if tr.Result == store.TransitionConflict {
		// Already failed or refunded; record the event so redeliveries stop,
		// but mint nothing.
		log.Printf("Payment succeeded for order %s in state %s, ignoring", payload.OrderReference, tr.Current)
		return s.commit(ctx, job, owner, ledger.OutcomeSuccess)
	}

	issue := models.IssuancePayload{OrderID: payload.OrderReference}
	raw, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("reconciliation job %s: %w", job.ID, err)
	}
	if _, err := s.queue.Enqueue(ctx, models.Job{
		Kind:           models.JobIssueTicket,
		IdempotencyKey: payload.OrderReference,
		Payload:        raw,
	}); err != nil {
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}

	log.Printf("Order %s marked paid, issuance queued", payload.OrderReference)
	return s.commit(ctx, job, owner, ledger.OutcomeSuccess)
}

func (s *ReconciliationService) paymentFailed(ctx context.Context, job models.Job, payload models.ReconciliationPayload, owner string) error {
	tr, err := s.store.TransitionOrder(ctx, payload.OrderReference, models.OrderPending, models.OrderFailed)
	if err != nil {
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}
	if tr.Result == store.TransitionConflict {
		log.Printf("Payment failed for order %s in state %s, ignoring", payload.OrderReference, tr.Current)
	}
	return s.commit(ctx, job, owner, ledger.OutcomeSuccess)
}

func (s *ReconciliationService) paymentReversed(ctx context.Context, job models.Job, payload models.ReconciliationPayload, owner string) error {
	tr, err := s.store.TransitionOrder(ctx, payload.OrderReference, models.OrderPaid, models.OrderRefunded)
	if err != nil {
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}
	if tr.Result == store.TransitionConflict && tr.Current == models.OrderPending {
		// Reversal arrived before the success event; wait for it.
		log.Printf("Reversal for order %s ahead of payment, retrying", payload.OrderReference)
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}

	// ok, or noop when already refunded: revoke every ticket so outstanding
	// tokens go stale on next scan.
	ids, err := s.store.TicketsForOrder(ctx, payload.OrderReference)
	if err != nil {
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}
	for _, id := range ids {
		changed, err := s.store.RevokeTicket(ctx, id)
		if err != nil {
			return s.retryLater(ctx, job.IdempotencyKey, owner)
		}
		if changed {
			log.Printf("Revoked ticket %s for refunded order %s", id, payload.OrderReference)
		}
	}

	return s.commit(ctx, job, owner, ledger.OutcomeSuccess)
}

func (s *ReconciliationService) commit(ctx context.Context, job models.Job, owner string, outcome ledger.Outcome) error {
	if err := s.ledger.Commit(ctx, models.JobReconcilePayment, job.IdempotencyKey, owner, outcome); err != nil {
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}
	return nil
}

func (s *ReconciliationService) retryLater(ctx context.Context, key, owner string) error {
	if err := s.ledger.Release(ctx, models.JobReconcilePayment, key, owner); err != nil {
		log.Printf("Failed to release reconciliation lease for %s: %v", key, err)
	}
	return status.ErrRetryLater
}
