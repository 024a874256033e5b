package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-pipeline/models"
	"ticket-pipeline/store"
	"ticket-pipeline/token"
)

// KeyAuditLog holds one JSON record per admission, newest first.
const KeyAuditLog = "audit:admissions"

// validateScript resolves a scan in one atomic step so that two gates
// presenting the same ticket in the same instant still produce exactly one
// admission. Resolution order:
//
//	echo replay -> unknown -> already used -> stale version -> revoked -> admit
//
// KEYS[1] = echo key, KEYS[2] = ticket hash, KEYS[3] = audit list
// ARGV[1] = token version, ARGV[2] = gate, ARGV[3] = scanner,
// ARGV[4] = now (RFC3339), ARGV[5] = echo window ms, ARGV[6] = audit JSON
const validateScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 'admit_echo'
end
if redis.call('EXISTS', KEYS[2]) == 0 then
    return 'unknown_ticket'
end
local status = redis.call('HGET', KEYS[2], 'status')
if status == 'checked_in' then
    return 'already_used'
end
local version = redis.call('HGET', KEYS[2], 'version')
if version ~= ARGV[1] then
    return 'stale_token'
end
if status == 'revoked' then
    return 'revoked'
end
if status ~= 'issued' then
    return 'unknown_ticket'
end
redis.call('HSET', KEYS[2], 'status', 'checked_in', 'gate_id', ARGV[2], 'scanner_id', ARGV[3], 'last_validated_at', ARGV[4])
redis.call('HINCRBY', KEYS[2], 'version', 1)
redis.call('SET', KEYS[1], '1', 'PX', ARGV[5])
redis.call('LPUSH', KEYS[3], ARGV[6])
return 'admit'
`

// CheckinService validates gate scans against live ticket state.
type CheckinService struct {
	redis      *redis.Client
	codec      *token.Codec
	echoWindow time.Duration
}

func NewCheckinService(client *redis.Client, codec *token.Codec, echoWindow time.Duration) *CheckinService {
	return &CheckinService{
		redis:      client,
		codec:      codec,
		echoWindow: echoWindow,
	}
}

func echoKey(ticketID, scannerID, requestID string) string {
	return fmt.Sprintf("scan:echo:%s:%s:%s", ticketID, scannerID, requestID)
}

// Validate decodes the presented token and resolves the scan atomically.
// A scanner retrying the same request id within the echo window gets the
// original Admit back without a second state change.
func (s *CheckinService) Validate(ctx context.Context, rawToken, gateID, scannerID, requestID string) (models.ScanResult, error) {
	claims, err := s.codec.Decode(rawToken)
	if err != nil {
		var tokenErr *token.InvalidTokenError
		if errors.As(err, &tokenErr) {
			log.Printf("Scan denied at gate %s: %s token", gateID, tokenErr.Reason)
			return models.ScanResult{Admit: false, Reason: models.DenyInvalidToken}, nil
		}
		return models.ScanResult{}, err
	}

	now := time.Now().UTC()
	audit, err := json.Marshal(models.AuditRecord{
		TicketID:  claims.TicketID,
		GateID:    gateID,
		ScannerID: scannerID,
		RequestID: requestID,
		ScannedAt: now,
	})
	if err != nil {
		return models.ScanResult{}, err
	}

	keys := []string{
		echoKey(claims.TicketID, scannerID, requestID),
		store.TicketKey(claims.TicketID),
		KeyAuditLog,
	}
	outcome, err := s.redis.Eval(ctx, validateScript, keys,
		claims.Version,
		gateID,
		scannerID,
		now.Format(time.RFC3339Nano),
		s.echoWindow.Milliseconds(),
		string(audit),
	).Text()
	if err != nil {
		return models.ScanResult{}, fmt.Errorf("failed to resolve scan: %w", err)
	}

	switch outcome {
	case "admit":
		return models.ScanResult{Admit: true, TicketID: claims.TicketID}, nil
	case "admit_echo":
		return models.ScanResult{Admit: true, TicketID: claims.TicketID, Echo: true}, nil
	case "unknown_ticket":
		return models.ScanResult{Admit: false, Reason: models.DenyUnknownTicket, TicketID: claims.TicketID}, nil
	case "already_used":
		return models.ScanResult{Admit: false, Reason: models.DenyAlreadyUsed, TicketID: claims.TicketID}, nil
	case "stale_token":
		return models.ScanResult{Admit: false, Reason: models.DenyStaleToken, TicketID: claims.TicketID}, nil
	case "revoked":
		return models.ScanResult{Admit: false, Reason: models.DenyRevoked, TicketID: claims.TicketID}, nil
	default:
		return models.ScanResult{}, fmt.Errorf("unexpected scan outcome %q", outcome)
	}
}
