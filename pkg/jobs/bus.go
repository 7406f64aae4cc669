package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bus is the Redis-backed job bus.
//
// Per queue Q:
//   cadence:jobs:{Q}:ready   - ZSET, score = priority·2^32 + seq (FIFO within priority)
//   cadence:jobs:{Q}:delayed - ZSET, score = ready-at epoch ms
//   cadence:jobs:{Q}:leased  - ZSET, score = lease expiry epoch ms
//   cadence:jobs:{Q}:data    - HASH, job id → JSON
//   cadence:jobs:{Q}:seq     - INCR counter for FIFO ordering
type Bus struct {
	rdb   redis.UniversalClient
	lease time.Duration
}

// NewBus creates the bus. lease bounds how long a dequeued job may be
// held before it is considered failed and redelivered.
func NewBus(rdb redis.UniversalClient, lease time.Duration) *Bus {
	return &Bus{rdb: rdb, lease: lease}
}

func queueKeys(queue string) (ready, delayed, leased, data, seq string) {
	prefix := "cadence:jobs:" + queue
	return prefix + ":ready", prefix + ":delayed", prefix + ":leased", prefix + ":data", prefix + ":seq"
}

// priority occupies the high bits so FIFO order within one priority
// survives as the sequence counter grows.
const prioritySpan = 1 << 32

// enqueueScript stores the payload and places the id on ready or
// delayed depending on ARGV[4] (ready-at epoch ms; 0 = immediate).
var enqueueScript = redis.NewScript(`
redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
local readyAt = tonumber(ARGV[4])
if readyAt > 0 then
  redis.call('ZADD', KEYS[2], readyAt, ARGV[1])
else
  local seq = redis.call('INCR', KEYS[5])
  local score = tonumber(ARGV[3]) * 4294967296 + seq
  redis.call('ZADD', KEYS[1], score, ARGV[1])
end
return 1
`)

// dequeueScript promotes due delayed jobs, then pops the lowest-score
// ready job and leases it.
var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  local seq = redis.call('INCR', KEYS[5])
  local payload = redis.call('HGET', KEYS[4], id)
  if payload then
    local job = cjson.decode(payload)
    local prio = tonumber(job['priority']) or 5
    redis.call('ZADD', KEYS[1], prio * 4294967296 + seq, id)
  end
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
local id = popped[1]
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), id)
return redis.call('HGET', KEYS[4], id)
`)

// ackScript removes a completed job entirely.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return 1
`)

// reapScript returns expired leases to the ready set for redelivery.
var reapScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, 100)
local n = 0
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  local payload = redis.call('HGET', KEYS[4], id)
  if payload then
    local job = cjson.decode(payload)
    local prio = tonumber(job['priority']) or 5
    local seq = redis.call('INCR', KEYS[5])
    redis.call('ZADD', KEYS[1], prio * 4294967296 + seq, id)
    n = n + 1
  end
end
return n
`)

// Enqueue places a payload on a queue. Priority follows the voice
// convention (lower drains sooner); delay defers visibility.
func (b *Bus) Enqueue(ctx context.Context, queue string, payload any, priority int, delay time.Duration) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s job payload: %w", queue, err)
	}
	job := &Job{
		ID:         uuid.New().String(),
		Queue:      queue,
		Priority:   priority,
		Attempt:    1,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	return job, b.enqueueJob(ctx, job, delay)
}

// Requeue puts an already-dequeued job back with a delay, bumping the
// attempt counter. Used for capacity-rejected voice jobs.
func (b *Bus) Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	job.Attempt++
	return b.enqueueJob(ctx, job, delay)
}

func (b *Bus) enqueueJob(ctx context.Context, job *Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	ready, delayed, leased, data, seq := queueKeys(job.Queue)
	var readyAt int64
	if delay > 0 {
		readyAt = time.Now().Add(delay).UnixMilli()
	}
	if err := enqueueScript.Run(ctx, b.rdb,
		[]string{ready, delayed, leased, data, seq},
		job.ID, string(raw), job.Priority, readyAt,
	).Err(); err != nil {
		return fmt.Errorf("enqueuing on %s: %w", job.Queue, err)
	}
	return nil
}

// Dequeue pops the highest-priority ready job, leasing it for the bus
// lease duration. Returns ErrNoJobs when the queue is idle.
func (b *Bus) Dequeue(ctx context.Context, queue string) (*Job, error) {
	ready, delayed, leased, data, seq := queueKeys(queue)
	now := time.Now()
	res, err := dequeueScript.Run(ctx, b.rdb,
		[]string{ready, delayed, leased, data, seq},
		now.UnixMilli(), now.Add(b.lease).UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJobs
	}
	if err != nil {
		return nil, fmt.Errorf("dequeuing from %s: %w", queue, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(res), &job); err != nil {
		return nil, fmt.Errorf("decoding job from %s: %w", queue, err)
	}
	return &job, nil
}

// Ack marks a leased job complete and removes it from the bus.
func (b *Bus) Ack(ctx context.Context, job *Job) error {
	_, _, leased, data, _ := queueKeys(job.Queue)
	if err := ackScript.Run(ctx, b.rdb, []string{leased, data}, job.ID).Err(); err != nil {
		return fmt.Errorf("acking job %s on %s: %w", job.ID, job.Queue, err)
	}
	return nil
}

// ReapExpired returns jobs whose lease expired to the ready set.
// Handlers must therefore be idempotent on provider ids.
func (b *Bus) ReapExpired(ctx context.Context, queue string) (int, error) {
	ready, delayed, leased, data, seq := queueKeys(queue)
	n, err := reapScript.Run(ctx, b.rdb,
		[]string{ready, delayed, leased, data, seq},
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reaping %s leases: %w", queue, err)
	}
	return n, nil
}

// Depth returns the number of ready plus delayed jobs, for health
// reporting.
func (b *Bus) Depth(ctx context.Context, queue string) (int64, error) {
	ready, delayed, _, _, _ := queueKeys(queue)
	pipe := b.rdb.Pipeline()
	readyCmd := pipe.ZCard(ctx, ready)
	delayedCmd := pipe.ZCard(ctx, delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("measuring %s depth: %w", queue, err)
	}
	return readyCmd.Val() + delayedCmd.Val(), nil
}
