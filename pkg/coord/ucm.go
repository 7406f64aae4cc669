package coord

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AcquireResult is the outcome of a slot acquisition attempt.
type AcquireResult string

const (
	Acquired     AcquireResult = "acquired"
	UmbrellaFull AcquireResult = "umbrella_full"
	TenantCap    AcquireResult = "tenant_cap"
)

// Rejected reports whether the attempt did not obtain a slot.
func (r AcquireResult) Rejected() bool { return r != Acquired }

// Keys per umbrella U:
//   cadence:umbrella:{U}:current   - total outstanding calls
//   cadence:umbrella:{U}:limit     - provider concurrency limit L
//   cadence:umbrella:{U}:last_sync - epoch ms of last provider sync
//   cadence:umbrella:{U}:tenants   - hash tenant id → outstanding calls
func umbrellaKeys(umbrellaID string) (current, limit, lastSync, tenants string) {
	prefix := "cadence:umbrella:" + umbrellaID
	return prefix + ":current", prefix + ":limit", prefix + ":last_sync", prefix + ":tenants"
}

// tryAcquireScript checks the umbrella total against L, then the tenant
// usage against the soft cap, and increments both counters only when
// both checks pass. Runs atomically inside Redis.
var tryAcquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return 'umbrella_full'
end
local cap = tonumber(ARGV[2])
if cap > 0 then
  local usage = tonumber(redis.call('HGET', KEYS[2], ARGV[3]) or '0')
  if usage >= cap then
    return 'tenant_cap'
  end
end
redis.call('INCR', KEYS[1])
redis.call('HINCRBY', KEYS[2], ARGV[3], 1)
return 'acquired'
`)

// releaseScript decrements both counters, never below zero, so a
// double release is absorbed safely.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
  redis.call('DECR', KEYS[1])
end
local usage = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
if usage > 0 then
  redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
elseif usage ~= 0 then
  redis.call('HSET', KEYS[2], ARGV[1], 0)
end
return 1
`)

// syncScript clamps the total to the provider-reported truth. The
// per-tenant hash is left alone: it is a soft fairness control and may
// drift from the total after a sync.
var syncScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[3], ARGV[3])
return 1
`)

// Manager is the umbrella concurrency manager.
type Manager struct {
	rdb redis.UniversalClient
}

// NewManager creates the UCM over an established Redis client.
func NewManager(rdb redis.UniversalClient) *Manager {
	return &Manager{rdb: rdb}
}

// TryAcquire attempts to take one voice slot on the umbrella for the
// tenant, under the umbrella limit and the per-tenant soft cap (cap 0
// means uncapped).
func (m *Manager) TryAcquire(ctx context.Context, umbrellaID, tenantID string, limit, cap int) (AcquireResult, error) {
	current, _, _, tenants := umbrellaKeys(umbrellaID)
	res, err := tryAcquireScript.Run(ctx, m.rdb,
		[]string{current, tenants},
		limit, cap, tenantID,
	).Text()
	if err != nil {
		return "", fmt.Errorf("ucm acquire on umbrella %s: %w", umbrellaID, err)
	}
	return AcquireResult(res), nil
}

// Release returns one slot for the tenant. Releasing more than was
// acquired never drives a counter negative.
func (m *Manager) Release(ctx context.Context, umbrellaID, tenantID string) error {
	current, _, _, tenants := umbrellaKeys(umbrellaID)
	if err := releaseScript.Run(ctx, m.rdb,
		[]string{current, tenants},
		tenantID,
	).Err(); err != nil {
		return fmt.Errorf("ucm release on umbrella %s: %w", umbrellaID, err)
	}
	return nil
}

// SyncFromWebhook overwrites the total and limit with the values the
// provider reported and stamps the sync time.
func (m *Manager) SyncFromWebhook(ctx context.Context, umbrellaID string, reportedCurrent, reportedLimit int, at time.Time) error {
	current, limit, lastSync, _ := umbrellaKeys(umbrellaID)
	if err := syncScript.Run(ctx, m.rdb,
		[]string{current, limit, lastSync},
		reportedCurrent, reportedLimit, at.UnixMilli(),
	).Err(); err != nil {
		return fmt.Errorf("ucm sync on umbrella %s: %w", umbrellaID, err)
	}
	return nil
}

// CleanupTenant drops the tenant's usage entry after reassignment.
func (m *Manager) CleanupTenant(ctx context.Context, umbrellaID, tenantID string) error {
	_, _, _, tenants := umbrellaKeys(umbrellaID)
	if err := m.rdb.HDel(ctx, tenants, tenantID).Err(); err != nil {
		return fmt.Errorf("ucm tenant cleanup on umbrella %s: %w", umbrellaID, err)
	}
	return nil
}

// Snapshot is a point-in-time view of an umbrella's counters.
type Snapshot struct {
	Current     int
	Limit       int
	LastSync    time.Time
	TenantUsage map[string]int
}

// Snapshot reads the umbrella counters. Not atomic with respect to
// concurrent operations; intended for health and reconciliation checks.
func (m *Manager) Snapshot(ctx context.Context, umbrellaID string) (*Snapshot, error) {
	currentKey, limitKey, lastSyncKey, tenantsKey := umbrellaKeys(umbrellaID)

	pipe := m.rdb.Pipeline()
	currentCmd := pipe.Get(ctx, currentKey)
	limitCmd := pipe.Get(ctx, limitKey)
	lastSyncCmd := pipe.Get(ctx, lastSyncKey)
	tenantsCmd := pipe.HGetAll(ctx, tenantsKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("ucm snapshot on umbrella %s: %w", umbrellaID, err)
	}

	snap := &Snapshot{TenantUsage: map[string]int{}}
	snap.Current, _ = strconv.Atoi(currentCmd.Val())
	snap.Limit, _ = strconv.Atoi(limitCmd.Val())
	if ms, err := strconv.ParseInt(lastSyncCmd.Val(), 10, 64); err == nil && ms > 0 {
		snap.LastSync = time.UnixMilli(ms)
	}
	for tenant, v := range tenantsCmd.Val() {
		n, _ := strconv.Atoi(v)
		snap.TenantUsage[tenant] = n
	}
	return snap, nil
}

// StaleSince reports whether the umbrella has not synced with the
// provider within the horizon. Stale counters are overridden by the next
// concurrency-sync webhook rather than trusted indefinitely.
func (m *Manager) StaleSince(ctx context.Context, umbrellaID string, horizon time.Duration, now time.Time) (bool, error) {
	snap, err := m.Snapshot(ctx, umbrellaID)
	if err != nil {
		return false, err
	}
	if snap.LastSync.IsZero() {
		return false, nil
	}
	return now.Sub(snap.LastSync) > horizon, nil
}
