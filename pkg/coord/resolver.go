package coord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// UmbrellaSource is the slice of the durable store the resolver reads.
type UmbrellaSource interface {
	Get(ctx context.Context, id string) (*models.Umbrella, error)
	AssignmentForTenant(ctx context.Context, tenantID string) (*models.UmbrellaAssignment, error)
}

// ResolvedUmbrella is everything a voice worker needs to gate and place
// a call for one tenant.
type ResolvedUmbrella struct {
	UmbrellaID     string
	ProviderOrgID  string
	ProviderAPIKey string
	Limit          int
	TenantCap      int
	PriorityWeight int
}

// Resolver maps tenant → umbrella assignment with an in-process TTL
// cache, invalidated on reassignment.
type Resolver struct {
	source UmbrellaSource
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]resolvedEntry
}

type resolvedEntry struct {
	value     ResolvedUmbrella
	expiresAt time.Time
}

// NewResolver creates a resolver with the given cache TTL.
func NewResolver(source UmbrellaSource, ttl time.Duration) *Resolver {
	return &Resolver{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]resolvedEntry),
	}
}

// Resolve returns the tenant's umbrella assignment, from cache when
// fresh.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*ResolvedUmbrella, error) {
	r.mu.RLock()
	entry, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		v := entry.value
		return &v, nil
	}

	assignment, err := r.source.AssignmentForTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving umbrella for tenant %s: %w", tenantID, err)
	}
	umbrella, err := r.source.Get(ctx, assignment.UmbrellaID)
	if err != nil {
		return nil, fmt.Errorf("loading umbrella %s: %w", assignment.UmbrellaID, err)
	}

	resolved := ResolvedUmbrella{
		UmbrellaID:     umbrella.ID,
		ProviderOrgID:  umbrella.ProviderOrgID,
		ProviderAPIKey: umbrella.ProviderAPIKey,
		Limit:          umbrella.ConcurrencyLimit,
		TenantCap:      assignment.TenantCap,
		PriorityWeight: assignment.PriorityWeight,
	}

	r.mu.Lock()
	r.cache[tenantID] = resolvedEntry{value: resolved, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return &resolved, nil
}

// Invalidate drops the cached assignment for a tenant (called on
// reassignment).
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}
