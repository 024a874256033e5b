package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ticket-pipeline/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	KeyPending    = "jobs:pending"
	KeyProcessing = "jobs:processing"
	KeyParked     = "jobs:parked"

	attemptsPrefix = "jobs:attempts:"
	seenPrefix     = "jobs:seen:"
)

// enqueueScript suppresses duplicate enqueues for the same (kind, key)
// within the retention window. The queue itself may still hold duplicates
// after a crash between marker and push; the idempotency ledger restores
// correctness at consumption time.
const enqueueScript = `
local seen = redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[2])
if not seen then
  return 'duplicate'
end
redis.call('LPUSH', KEYS[1], ARGV[1])
return 'queued'
`

// dequeueScript pops one job and parks it in the processing set with a
// visibility deadline. The attempt counter lives outside the payload so the
// processing member stays byte-identical for Ack.
const dequeueScript = `
local raw = redis.call('RPOP', KEYS[1])
if not raw then
  return false
end
local job = cjson.decode(raw)
local attempts = redis.call('INCR', 'jobs:attempts:' .. job['id'])
redis.call('ZADD', KEYS[2], ARGV[1], raw)
return {raw, attempts}
`

// reapScript moves deliveries past their visibility deadline back to the
// pending list, or to the parked list once attempts are exhausted.
const reapScript = `
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
local requeued = 0
local parked = 0
for _, raw in ipairs(expired) do
  redis.call('ZREM', KEYS[2], raw)
  local job = cjson.decode(raw)
  local attempts = tonumber(redis.call('GET', 'jobs:attempts:' .. job['id']) or '0')
  if attempts >= tonumber(ARGV[2]) then
    redis.call('LPUSH', KEYS[3], raw)
    redis.call('DEL', 'jobs:attempts:' .. job['id'])
    parked = parked + 1
  else
    redis.call('LPUSH', KEYS[1], raw)
    requeued = requeued + 1
  end
end
return {requeued, parked}
`

type Receipt struct {
	JobID     string
	Duplicate bool
}

// Delivery is one at-least-once delivery of a job. Attempt counts this
// delivery, starting at 1.
type Delivery struct {
	Job     models.Job
	Attempt int

	raw string
}

// Client is a Redis-backed task queue with at-least-once delivery. There is
// no ordering guarantee across job kinds and FIFO is not guaranteed under
// redelivery; consumers must tolerate reordering and duplication.
type Client struct {
	Redis       *redis.Client
	visibility  time.Duration
	maxAttempts int
	seenTTL     time.Duration
}

func NewClient(redisClient *redis.Client, visibility time.Duration, maxAttempts int, seenTTL time.Duration) *Client {
	return &Client{
		Redis:       redisClient,
		visibility:  visibility,
		maxAttempts: maxAttempts,
		seenTTL:     seenTTL,
	}
}

// Enqueue submits a job. Calling it again with the same kind and idempotency
// key is safe and reports Duplicate instead of queueing a second copy.
func (c *Client) Enqueue(ctx context.Context, job models.Job) (*Receipt, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.Kind, err)
	}

	seenKey := fmt.Sprintf("%s%s:%s", seenPrefix, job.Kind, job.IdempotencyKey)
	res, err := c.Redis.Eval(ctx, enqueueScript, []string{KeyPending, seenKey},
		string(raw), c.seenTTL.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.Kind, err)
	}

	return &Receipt{JobID: job.ID, Duplicate: res == "duplicate"}, nil
}

// Dequeue pulls one job, or returns nil when the queue is empty.
func (c *Client) Dequeue(ctx context.Context) (*Delivery, error) {
	deadline := time.Now().Add(c.visibility).UnixMilli()
	res, err := c.Redis.Eval(ctx, dequeueScript, []string{KeyPending, KeyProcessing}, deadline).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply %v", res)
	}

	raw, _ := reply[0].(string)
	attempts, _ := reply[1].(int64)

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	job.Attempt = int(attempts)

	return &Delivery{Job: job, Attempt: int(attempts), raw: raw}, nil
}

// Ack marks a delivery as processed. Unacked deliveries are redelivered by
// Reap once the visibility deadline passes.
func (c *Client) Ack(ctx context.Context, d *Delivery) error {
	if err := c.Redis.ZRem(ctx, KeyProcessing, d.raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.Job.ID, err)
	}
	c.Redis.Del(ctx, attemptsPrefix+d.Job.ID)
	return nil
}

// Reap redelivers timed-out deliveries and parks jobs whose attempts are
// exhausted. Returns (requeued, parked).
func (c *Client) Reap(ctx context.Context) (int64, int64, error) {
	res, err := c.Redis.Eval(ctx, reapScript, []string{KeyPending, KeyProcessing, KeyParked},
		time.Now().UnixMilli(), c.maxAttempts).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("reap: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, 0, fmt.Errorf("reap: unexpected reply %v", res)
	}

	requeued, _ := reply[0].(int64)
	parked, _ := reply[1].(int64)
	return requeued, parked, nil
}
