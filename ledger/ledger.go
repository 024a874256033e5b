package ledger

import (
	"context"
	"fmt"
	"time"

	"ticket-pipeline/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type State int

const (
	// Proceed grants the caller a lease to execute the job.
	Proceed State = iota
	// AlreadyCompleted means a terminal record exists; skip the work.
	AlreadyCompleted
	// Busy means another worker holds the lease right now. Leave the
	// delivery unacked; redelivery re-attempts Begin after the lease
	// expires or the holder commits.
	Busy
)

type Decision struct {
	State   State
	Outcome Outcome
	Owner   string
}

// beginScript atomically checks the terminal record and reserves the lease,
// so two workers holding redelivered copies of the same job cannot both
// proceed.
const beginScript = `
local outcome = redis.call('GET', KEYS[1])
if outcome then
  return {'done', outcome}
end
local ok = redis.call('SET', KEYS[2], ARGV[1], 'NX', 'PX', ARGV[2])
if ok then
  return {'proceed', ''}
end
return {'busy', ''}
`

// releaseScript drops the lease without writing a record, only for its
// owner. A worker deferring a job gives the lease back so the redelivery is
// not stuck behind it until the lease TTL runs out.
const releaseScript = `
local holder = redis.call('GET', KEYS[1])
if holder == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`

// commitScript releases the lease (only for its owner) and writes the
// terminal record. The record TTL is the retention window, which garbage
// collects it after the maximum plausible redelivery delay.
const commitScript = `
local holder = redis.call('GET', KEYS[2])
if holder == ARGV[1] then
  redis.call('DEL', KEYS[2])
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 'ok'
`

// Ledger records which (job kind, idempotency key) pairs have completed.
// Records are created on first successful Commit and never mutated; a
// crashed worker's lease expires so the job is retried rather than starved.
type Ledger struct {
	Redis     *redis.Client
	lease     time.Duration
	retention time.Duration
}

func New(redisClient *redis.Client, lease, retention time.Duration) *Ledger {
	return &Ledger{Redis: redisClient, lease: lease, retention: retention}
}

func recordKey(kind models.JobKind, key string) string {
	return fmt.Sprintf("idem:record:%s:%s", kind, key)
}

func leaseKey(kind models.JobKind, key string) string {
	return fmt.Sprintf("idem:lease:%s:%s", kind, key)
}

func (l *Ledger) Begin(ctx context.Context, kind models.JobKind, key string) (Decision, error) {
	owner := uuid.NewString()
	res, err := l.Redis.Eval(ctx, beginScript,
		[]string{recordKey(kind, key), leaseKey(kind, key)},
		owner, l.lease.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ledger begin %s/%s: %w", kind, key, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("ledger begin %s/%s: unexpected reply %v", kind, key, res)
	}

	state, _ := reply[0].(string)
	outcome, _ := reply[1].(string)

	switch state {
	case "proceed":
		return Decision{State: Proceed, Owner: owner}, nil
	case "done":
		return Decision{State: AlreadyCompleted, Outcome: Outcome(outcome)}, nil
	default:
		return Decision{State: Busy}, nil
	}
}

// Release gives a lease back without recording an outcome. Call it when a
// job defers after winning Begin, so the next delivery can proceed
// immediately instead of bouncing off Busy.
func (l *Ledger) Release(ctx context.Context, kind models.JobKind, key, owner string) error {
	err := l.Redis.Eval(ctx, releaseScript, []string{leaseKey(kind, key)}, owner).Err()
	if err != nil {
		return fmt.Errorf("ledger release %s/%s: %w", kind, key, err)
	}
	return nil
}

func (l *Ledger) Commit(ctx context.Context, kind models.JobKind, key, owner string, outcome Outcome) error {
	err := l.Redis.Eval(ctx, commitScript,
		[]string{recordKey(kind, key), leaseKey(kind, key)},
		owner, string(outcome), l.retention.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("ledger commit %s/%s: %w", kind, key, err)
	}
	return nil
}
