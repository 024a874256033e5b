package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-pipeline/models"
	"ticket-pipeline/token"
)

func setupCheckin(t *testing.T) (*CheckinService, redismock.ClientMock, string) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	codec := token.NewCodec("test-secret")
	svc := NewCheckinService(db, codec, 30*time.Second)

	signed, err := codec.Encode("tkt-1", 0, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return svc, mock, signed
}

// scan args carry the current time and an audit JSON blob
func anyEvalArgs(expected, actual []interface{}) error {
	return nil
}

// redismock rejects on argument-count mismatch before consulting the custom
// matcher, so expectations must carry placeholder keys and args matching the
// arity of the Eval call they stand in for.
func expectAnyEval(mock redismock.ClientMock, numKeys, numArgs int) *redismock.ExpectedCmd {
	keys := make([]string, numKeys)
	args := make([]interface{}, numArgs)
	for i := range args {
		args[i] = "" // a lone nil arg would be dropped when the command is built
	}
	return mock.CustomMatch(anyEvalArgs).ExpectEval("", keys, args...)
}

func expectScan(mock redismock.ClientMock, outcome string) {
	mock.CustomMatch(anyEvalArgs).ExpectEval(validateScript,
		[]string{"scan:echo:tkt-1:scanner-1:req-1", "ticket:tkt-1", KeyAuditLog},
		int64(0), "gate-1", "scanner-1", "", int64(30000), "",
	).SetVal(outcome)
}

func TestCheckinService_Validate_Admit(t *testing.T) {
	svc, mock, signed := setupCheckin(t)
	expectScan(mock, "admit")

	result, err := svc.Validate(context.Background(), signed, "gate-1", "scanner-1", "req-1")
	require.NoError(t, err)
	assert.True(t, result.Admit)
	assert.Equal(t, "tkt-1", result.TicketID)
	assert.False(t, result.Echo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Validate_EchoReplay(t *testing.T) {
	svc, mock, signed := setupCheckin(t)
	expectScan(mock, "admit_echo")

	result, err := svc.Validate(context.Background(), signed, "gate-1", "scanner-1", "req-1")
	require.NoError(t, err)
	assert.True(t, result.Admit)
	assert.True(t, result.Echo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Validate_DenyReasons(t *testing.T) {
	cases := []struct {
		outcome string
		reason  models.DenyReason
	}{
		{"unknown_ticket", models.DenyUnknownTicket},
		{"already_used", models.DenyAlreadyUsed},
		{"stale_token", models.DenyStaleToken},
		{"revoked", models.DenyRevoked},
	}

	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			svc, mock, signed := setupCheckin(t)
			expectScan(mock, tc.outcome)

			result, err := svc.Validate(context.Background(), signed, "gate-1", "scanner-1", "req-1")
			require.NoError(t, err)
			assert.False(t, result.Admit)
			assert.Equal(t, tc.reason, result.Reason)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckinService_Validate_InvalidToken(t *testing.T) {
	svc, mock, _ := setupCheckin(t)

	result, err := svc.Validate(context.Background(), "not-a-token", "gate-1", "scanner-1", "req-1")
	require.NoError(t, err)
	assert.False(t, result.Admit)
	assert.Equal(t, models.DenyInvalidToken, result.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinService_Validate_ForgedToken(t *testing.T) {
	svc, mock, _ := setupCheckin(t)

	forged, err := token.NewCodec("other-secret").Encode("tkt-1", 0, time.Now().Add(time.Hour))
	require.NoError(t, err)

	result, err := svc.Validate(context.Background(), forged, "gate-1", "scanner-1", "req-1")
	require.NoError(t, err)
	assert.False(t, result.Admit)
	assert.Equal(t, models.DenyInvalidToken, result.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
