package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ticket-pipeline/internal/status"
	"ticket-pipeline/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Orders and tickets live in Redis hashes keyed by id. Every mutation goes
// through a Lua script that compares state before writing, so concurrent
// workers resolve conflicts at write time instead of holding locks.

func OrderKey(id string) string {
	return fmt.Sprintf("order:%s", id)
}

func TicketKey(id string) string {
	return fmt.Sprintf("ticket:%s", id)
}

func orderTicketsKey(orderID string) string {
	return fmt.Sprintf("order:tickets:%s", orderID)
}

func lineItemKey(orderID, lineItemID string) string {
	return fmt.Sprintf("ticket:byitem:%s:%s", orderID, lineItemID)
}

type TransitionResult string

const (
	TransitionOK       TransitionResult = "ok"
	TransitionNoop     TransitionResult = "noop"
	TransitionConflict TransitionResult = "conflict"
)

type Transition struct {
	Result  TransitionResult
	Current models.OrderStatus
}

// transitionOrderScript moves an order from one status to another and bumps
// the version. Re-running with the target status already set is a noop, so
// redelivered reconciliation events stay idempotent.
const transitionOrderScript = `
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return {'missing', ''}
end
if cur == ARGV[2] then
  return {'noop', cur}
end
if cur ~= ARGV[1] then
  return {'conflict', cur}
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return {'ok', ARGV[2]}
`

// ensureTicketScript mints a ticket for an order line item exactly once.
// The byitem alias makes re-running an issuance job upsert-safe.
const ensureTicketScript = `
local existing = redis.call('GET', KEYS[1])
if existing then
  return {existing, 0}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'id', ARGV[1],
  'order_id', ARGV[2],
  'event_id', ARGV[3],
  'line_item_id', ARGV[4],
  'status', ARGV[5],
  'version', 0,
  'created_at', ARGV[6])
redis.call('SADD', KEYS[3], ARGV[1])
return {ARGV[1], 1}
`

// revokeTicketScript sets a ticket revoked and bumps the version so every
// outstanding token for it goes stale. Idempotent.
const revokeTicketScript = `
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return 'missing'
end
if st == 'revoked' then
  return 'noop'
end
redis.call('HSET', KEYS[1], 'status', 'revoked')
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 'ok'
`

type Store struct {
	Redis *redis.Client
}

func New(redisClient *redis.Client) *Store {
	return &Store{Redis: redisClient}
}

// PutOrder writes an order record. Upsert-style on purpose: the API layer
// may resubmit order creation and reconciliation may race it.
func (s *Store) PutOrder(ctx context.Context, o models.Order) error {
	fields := map[string]any{
		"id":          o.ID,
		"event_id":    o.EventID,
		"buyer_id":    o.BuyerID,
		"buyer_email": o.BuyerEmail,
		"amount":      o.Amount.String(),
		"currency":    o.Currency,
		"line_items":  o.LineItems,
		"status":      string(o.Status),
		"version":     o.Version,
		"created_at":  o.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.Redis.HSet(ctx, OrderKey(o.ID), fields).Err(); err != nil {
		return fmt.Errorf("put order %s: %w", o.ID, err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	fields, err := s.Redis.HGetAll(ctx, OrderKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, status.ErrOrderNotFound
	}

	// A record that stopped parsing is corrupt, not absent; surface it
	// instead of decoding to zero values.
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return nil, fmt.Errorf("get order %s: corrupt amount %q: %w", id, fields["amount"], err)
	}
	lineItems, err := strconv.Atoi(fields["line_items"])
	if err != nil {
		return nil, fmt.Errorf("get order %s: corrupt line_items %q: %w", id, fields["line_items"], err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("get order %s: corrupt version %q: %w", id, fields["version"], err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("get order %s: corrupt created_at %q: %w", id, fields["created_at"], err)
	}

	return &models.Order{
		ID:         fields["id"],
		EventID:    fields["event_id"],
		BuyerID:    fields["buyer_id"],
		BuyerEmail: fields["buyer_email"],
		Amount:     amount,
		Currency:   fields["currency"],
		LineItems:  lineItems,
		Status:     models.OrderStatus(fields["status"]),
		Version:    version,
		CreatedAt:  createdAt,
	}, nil
}

// TransitionOrder performs a compare-and-swap status transition.
func (s *Store) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus) (Transition, error) {
	res, err := s.Redis.Eval(ctx, transitionOrderScript, []string{OrderKey(id)},
		string(from), string(to)).Result()
	if err != nil {
		return Transition{}, fmt.Errorf("transition order %s: %w", id, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return Transition{}, fmt.Errorf("transition order %s: unexpected reply %v", id, res)
	}

	result, _ := reply[0].(string)
	current, _ := reply[1].(string)
	if result == "missing" {
		return Transition{}, status.ErrOrderNotFound
	}
	return Transition{Result: TransitionResult(result), Current: models.OrderStatus(current)}, nil
}

// EnsureTicket mints a ticket for (order, line item) if none exists yet and
// returns the canonical ticket id either way.
func (s *Store) EnsureTicket(ctx context.Context, t models.Ticket) (string, bool, error) {
	res, err := s.Redis.Eval(ctx, ensureTicketScript,
		[]string{lineItemKey(t.OrderID, t.LineItemID), TicketKey(t.ID), orderTicketsKey(t.OrderID)},
		t.ID, t.OrderID, t.EventID, t.LineItemID, string(t.Status),
		t.CreatedAt.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return "", false, fmt.Errorf("ensure ticket %s/%s: %w", t.OrderID, t.LineItemID, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return "", false, fmt.Errorf("ensure ticket %s/%s: unexpected reply %v", t.OrderID, t.LineItemID, res)
	}

	id, _ := reply[0].(string)
	created, _ := reply[1].(int64)
	return id, created == 1, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	fields, err := s.Redis.HGetAll(ctx, TicketKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, status.ErrTicketNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: corrupt version %q: %w", id, fields["version"], err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: corrupt created_at %q: %w", id, fields["created_at"], err)
	}

	ticket := &models.Ticket{
		ID:         fields["id"],
		OrderID:    fields["order_id"],
		EventID:    fields["event_id"],
		LineItemID: fields["line_item_id"],
		Status:     models.TicketStatus(fields["status"]),
		Version:    version,
		GateID:     fields["gate_id"],
		ScannerID:  fields["scanner_id"],
		CreatedAt:  createdAt,
	}
	if raw := fields["last_validated_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("get ticket %s: corrupt last_validated_at %q: %w", id, raw, err)
		}
		ticket.LastValidatedAt = &ts
	}
	return ticket, nil
}

func (s *Store) TicketsForOrder(ctx context.Context, orderID string) ([]string, error) {
	ids, err := s.Redis.SMembers(ctx, orderTicketsKey(orderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("tickets for order %s: %w", orderID, err)
	}
	return ids, nil
}

// RevokeTicket invalidates a ticket and all tokens minted for it.
func (s *Store) RevokeTicket(ctx context.Context, id string) (bool, error) {
	res, err := s.Redis.Eval(ctx, revokeTicketScript, []string{TicketKey(id)}).Result()
	if err != nil {
		return false, fmt.Errorf("revoke ticket %s: %w", id, err)
	}
	if res == "missing" {
		return false, status.ErrTicketNotFound
	}
	return res == "ok", nil
}
