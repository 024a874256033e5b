package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	pubnub "github.com/pubnub/go"

	"ticket-pipeline/internal/status"
	"ticket-pipeline/ledger"
	"ticket-pipeline/models"
	"ticket-pipeline/store"
	"ticket-pipeline/token"
	"ticket-pipeline/utils"
)

type DeliveryResult string

const (
	DeliverySent             DeliveryResult = "sent"
	DeliveryTransientFailure DeliveryResult = "transient_failure"
	DeliveryPermanentFailure DeliveryResult = "permanent_failure"
)

// DeliveryRequest carries everything a provider needs to reach the buyer.
type DeliveryRequest struct {
	TicketID   string
	BuyerID    string
	BuyerEmail string
	Channel    string // email, sms, push
	Content    string
}

// DeliveryProvider sends a rendered ticket message to the buyer over the
// requested channel.
type DeliveryProvider interface {
	Send(ctx context.Context, req DeliveryRequest) (DeliveryResult, error)
}

// PubNubProvider pushes ticket messages onto the buyer's realtime channel.
type PubNubProvider struct {
	client *pubnub.PubNub
}

func NewPubNubProvider(client *pubnub.PubNub) *PubNubProvider {
	return &PubNubProvider{client: client}
}

func (p *PubNubProvider) Send(ctx context.Context, req DeliveryRequest) (DeliveryResult, error) {
	_, _, err := p.client.Publish().
		Channel(fmt.Sprintf("guest-%s", req.BuyerID)).
		Message(map[string]interface{}{
			"type":      "ticket_delivery",
			"ticket_id": req.TicketID,
			"channel":   req.Channel,
			"email":     req.BuyerEmail,
			"content":   req.Content,
		}).
		Execute()
	if err != nil {
		return DeliveryTransientFailure, err
	}
	return DeliverySent, nil
}

// NotificationService delivers a freshly minted ticket token to the buyer.
// Tokens are minted at send time so the buyer always receives one bound to
// the ticket's current version.
type NotificationService struct {
	store    *store.Store
	ledger   *ledger.Ledger
	codec    *token.Codec
	provider DeliveryProvider
	breaker  *utils.CircuitBreaker
	tokenTTL time.Duration
}

func NewNotificationService(st *store.Store, ld *ledger.Ledger, codec *token.Codec, provider DeliveryProvider, tokenTTL time.Duration) *NotificationService {
	return &NotificationService{
		store:    st,
		ledger:   ld,
		codec:    codec,
		provider: provider,
		breaker:  utils.NewCircuitBreaker("delivery-provider"),
		tokenTTL: tokenTTL,
	}
}

func (s *NotificationService) Handle(ctx context.Context, job models.Job) error {
	var payload models.NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("notification job %s: bad payload: %w", job.ID, err)
	}

	decision, err := s.ledger.Begin(ctx, models.JobSendNotification, job.IdempotencyKey)
	if err != nil {
		return err
	}
	switch decision.State {
	case ledger.AlreadyCompleted:
		return nil
	case ledger.Busy:
		return status.ErrRetryLater
	}

	ticket, err := s.store.GetTicket(ctx, payload.TicketID)
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			log.Printf("Notification for unknown ticket %s, retrying", payload.TicketID)
		}
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}
	if ticket.Status == models.TicketRevoked {
		// Nothing to deliver; a revoked ticket's token would be dead on
		// arrival anyway.
		log.Printf("Skipping notification for revoked ticket %s", ticket.ID)
		return s.commit(ctx, job, decision.Owner, ledger.OutcomeSuccess)
	}

	order, err := s.store.GetOrder(ctx, ticket.OrderID)
	if err != nil {
		log.Printf("Notification for ticket %s deferred, order %s unavailable: %v", ticket.ID, ticket.OrderID, err)
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}

	signed, err := s.codec.Encode(ticket.ID, ticket.Version, time.Now().Add(s.tokenTTL))
	if err != nil {
		return fmt.Errorf("notification job %s: %w", job.ID, err)
	}

	res, err := s.breaker.Execute(ctx, func() (any, error) {
		return s.provider.Send(ctx, DeliveryRequest{
			TicketID:   ticket.ID,
			BuyerID:    order.BuyerID,
			BuyerEmail: order.BuyerEmail,
			Channel:    payload.Channel,
			Content:    signed,
		})
	})
	if err != nil {
		log.Printf("Delivery for ticket %s failed: %v", ticket.ID, err)
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}

	result, _ := res.(DeliveryResult)
	switch result {
	case DeliverySent:
		log.Printf("Delivered ticket %s to buyer %s over %s", ticket.ID, order.BuyerID, payload.Channel)
		return s.commit(ctx, job, decision.Owner, ledger.OutcomeSuccess)
	case DeliveryPermanentFailure:
		log.Printf("Delivery for ticket %s rejected permanently", ticket.ID)
		return s.commit(ctx, job, decision.Owner, ledger.OutcomeFailure)
	default:
		return s.retryLater(ctx, job.IdempotencyKey, decision.Owner)
	}
}

func (s *NotificationService) commit(ctx context.Context, job models.Job, owner string, outcome ledger.Outcome) error {
	if err := s.ledger.Commit(ctx, models.JobSendNotification, job.IdempotencyKey, owner, outcome); err != nil {
		return s.retryLater(ctx, job.IdempotencyKey, owner)
	}
	return nil
}

func (s *NotificationService) retryLater(ctx context.Context, key, owner string) error {
	if err := s.ledger.Release(ctx, models.JobSendNotification, key, owner); err != nil {
		log.Printf("Failed to release notification lease for %s: %v", key, err)
	}
	return status.ErrRetryLater
}
