package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-pipeline/internal/status"
	"ticket-pipeline/ledger"
	"ticket-pipeline/models"
	"ticket-pipeline/store"
	"ticket-pipeline/token"
)

type fakeProvider struct {
	result DeliveryResult
	err    error
	calls  int
	last   DeliveryRequest
}

func (f *fakeProvider) Send(ctx context.Context, req DeliveryRequest) (DeliveryResult, error) {
	f.calls++
	f.last = req
	return f.result, f.err
}

func setupNotification(provider *fakeProvider) (*NotificationService, redismock.ClientMock, *token.Codec) {
	db, mock := redismock.NewClientMock()
	st := store.New(db)
	ld := ledger.New(db, 60*time.Second, 24*time.Hour)
	codec := token.NewCodec("test-secret")
	return NewNotificationService(st, ld, codec, provider, 72*time.Hour), mock, codec
}

func notificationJob(t *testing.T, ticketID string) models.Job {
	t.Helper()
	raw, err := json.Marshal(models.NotificationPayload{TicketID: ticketID, Channel: "email"})
	require.NoError(t, err)
	return models.Job{
		ID:             "job-1",
		Kind:           models.JobSendNotification,
		IdempotencyKey: ticketID,
		Payload:        raw,
	}
}

func issuedTicketFields(status string) map[string]string {
	return map[string]string{
		"id":           "tkt-1",
		"order_id":     "ord-1",
		"event_id":     "evt-9",
		"line_item_id": "li-0",
		"status":       status,
		"version":      "3",
		"created_at":   "2026-03-01T12:00:00Z",
	}
}

func TestNotificationService_Handle_DeliversCurrentToken(t *testing.T) {
	provider := &fakeProvider{result: DeliverySent}
	svc, mock, codec := setupNotification(provider)

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("ticket:tkt-1").SetVal(issuedTicketFields("issued"))
	mock.ExpectHGetAll("order:ord-1").SetVal(paidOrderFields("2"))
	expectLedgerEval(mock, "ok")

	err := svc.Handle(context.Background(), notificationJob(t, "tkt-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "email", provider.last.Channel)

	// delivery is routed to the order's buyer
	assert.Equal(t, "buyer-1", provider.last.BuyerID)
	assert.Equal(t, "guest@example.com", provider.last.BuyerEmail)

	// the delivered token is bound to the ticket's current version
	claims, err := codec.Decode(provider.last.Content)
	require.NoError(t, err)
	assert.Equal(t, "tkt-1", claims.TicketID)
	assert.Equal(t, int64(3), claims.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationService_Handle_SkipsRevokedTicket(t *testing.T) {
	provider := &fakeProvider{result: DeliverySent}
	svc, mock, _ := setupNotification(provider)

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("ticket:tkt-1").SetVal(issuedTicketFields("revoked"))
	expectLedgerEval(mock, "ok")

	err := svc.Handle(context.Background(), notificationJob(t, "tkt-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationService_Handle_TransientFailureRetries(t *testing.T) {
	provider := &fakeProvider{result: DeliveryTransientFailure}
	svc, mock, _ := setupNotification(provider)

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("ticket:tkt-1").SetVal(issuedTicketFields("issued"))
	mock.ExpectHGetAll("order:ord-1").SetVal(paidOrderFields("2"))
	expectLedgerEval(mock, int64(1)) // lease released before deferring

	err := svc.Handle(context.Background(), notificationJob(t, "tkt-1"))
	assert.ErrorIs(t, err, status.ErrRetryLater)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationService_Handle_PermanentFailureRecorded(t *testing.T) {
	provider := &fakeProvider{result: DeliveryPermanentFailure}
	svc, mock, _ := setupNotification(provider)

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("ticket:tkt-1").SetVal(issuedTicketFields("issued"))
	mock.ExpectHGetAll("order:ord-1").SetVal(paidOrderFields("2"))
	expectLedgerEval(mock, "ok") // committed as failure, job acked

	err := svc.Handle(context.Background(), notificationJob(t, "tkt-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationService_Handle_TicketMissingRetries(t *testing.T) {
	provider := &fakeProvider{result: DeliverySent}
	svc, mock, _ := setupNotification(provider)

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("ticket:tkt-1").SetVal(map[string]string{})
	expectLedgerEval(mock, int64(1))

	err := svc.Handle(context.Background(), notificationJob(t, "tkt-1"))
	assert.ErrorIs(t, err, status.ErrRetryLater)
	assert.Equal(t, 0, provider.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationService_Handle_AlreadyDelivered(t *testing.T) {
	provider := &fakeProvider{result: DeliverySent}
	svc, mock, _ := setupNotification(provider)

	expectLedgerEval(mock, []interface{}{"done", "success"})

	err := svc.Handle(context.Background(), notificationJob(t, "tkt-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
