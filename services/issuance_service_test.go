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
	"ticket-pipeline/queue"
	"ticket-pipeline/store"
)

func setupIssuance() (*IssuanceService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	st := store.New(db)
	ld := ledger.New(db, 60*time.Second, 24*time.Hour)
	q := queue.NewClient(db, 30*time.Second, 5, 24*time.Hour)
	return NewIssuanceService(st, ld, q), mock
}

func issuanceJob(t *testing.T, orderID string) models.Job {
	t.Helper()
	raw, err := json.Marshal(models.IssuancePayload{OrderID: orderID})
	require.NoError(t, err)
	return models.Job{
		ID:             "job-1",
		Kind:           models.JobIssueTicket,
		IdempotencyKey: orderID,
		Payload:        raw,
	}
}

func paidOrderFields(lineItems string) map[string]string {
	return map[string]string{
		"id":          "ord-1",
		"event_id":    "evt-9",
		"buyer_id":    "buyer-1",
		"buyer_email": "guest@example.com",
		"amount":      "49.50",
		"currency":    "USD",
		"line_items":  lineItems,
		"status":      "paid",
		"version":     "1",
		"created_at":  "2026-03-01T12:00:00Z",
	}
}

func expectLedgerEval(mock redismock.ClientMock, reply interface{}) {
	switch reply.(type) {
	case []interface{}: // beginScript: record + lease keys, owner + lease ms
		expectAnyEval(mock, 2, 2).SetVal(reply)
	case int64: // releaseScript: lease key, owner
		expectAnyEval(mock, 1, 1).SetVal(reply)
	default: // commitScript: record + lease keys, owner + outcome + retention ms
		expectAnyEval(mock, 2, 3).SetVal(reply)
	}
}

func TestIssuanceService_Handle_MintsTicketPerLineItem(t *testing.T) {
	svc, mock := setupIssuance()

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("order:ord-1").SetVal(paidOrderFields("2"))

	// two line items: ensure ticket + notification enqueue, twice
	expectAnyEval(mock, 3, 6).SetVal([]interface{}{"tkt-a", int64(1)})
	expectAnyEval(mock, 2, 2).SetVal("queued")
	expectAnyEval(mock, 3, 6).SetVal([]interface{}{"tkt-b", int64(1)})
	expectAnyEval(mock, 2, 2).SetVal("queued")

	expectLedgerEval(mock, "ok") // commit

	err := svc.Handle(context.Background(), issuanceJob(t, "ord-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssuanceService_Handle_RedeliveryReusesExistingTickets(t *testing.T) {
	svc, mock := setupIssuance()

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("order:ord-1").SetVal(paidOrderFields("1"))

	// line item already has a ticket; notification enqueue dedupes too
	expectAnyEval(mock, 3, 6).SetVal([]interface{}{"tkt-a", int64(0)})
	expectAnyEval(mock, 2, 2).SetVal("duplicate")

	expectLedgerEval(mock, "ok")

	err := svc.Handle(context.Background(), issuanceJob(t, "ord-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssuanceService_Handle_AlreadyCompleted(t *testing.T) {
	svc, mock := setupIssuance()

	expectLedgerEval(mock, []interface{}{"done", "success"})

	err := svc.Handle(context.Background(), issuanceJob(t, "ord-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssuanceService_Handle_LeaseHeldElsewhere(t *testing.T) {
	svc, mock := setupIssuance()

	expectLedgerEval(mock, []interface{}{"busy", ""})

	err := svc.Handle(context.Background(), issuanceJob(t, "ord-1"))
	assert.ErrorIs(t, err, status.ErrRetryLater)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssuanceService_Handle_OrderNotPaidYet(t *testing.T) {
	svc, mock := setupIssuance()

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	fields := paidOrderFields("2")
	fields["status"] = "pending"
	mock.ExpectHGetAll("order:ord-1").SetVal(fields)
	expectLedgerEval(mock, int64(1)) // lease released before deferring

	err := svc.Handle(context.Background(), issuanceJob(t, "ord-1"))
	assert.ErrorIs(t, err, status.ErrRetryLater)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssuanceService_Handle_OrderMissing(t *testing.T) {
	svc, mock := setupIssuance()

	expectLedgerEval(mock, []interface{}{"proceed", ""})
	mock.ExpectHGetAll("order:ord-1").SetVal(map[string]string{})
	expectLedgerEval(mock, int64(1))

	err := svc.Handle(context.Background(), issuanceJob(t, "ord-1"))
	assert.ErrorIs(t, err, status.ErrRetryLater)
	assert.NoError(t, mock.ExpectationsWereMet())
}
