package coord

import (
	"context"
	"log/slog"
	"sync"
)

// SlotTracker remembers which umbrella slots this process acquired for
// calls that have not yet ended. The end-of-call webhook is the normal
// release path; the tracker exists so a draining process can give back
// the slots it still owns instead of leaking them until the next sync.
type SlotTracker struct {
	mu    sync.Mutex
	slots map[string]slotRef // provider call id -> slot
}

type slotRef struct {
	umbrellaID string
	tenantID   string
}

// NewSlotTracker creates an empty tracker.
func NewSlotTracker() *SlotTracker {
	return &SlotTracker{slots: make(map[string]slotRef)}
}

// Track records a held slot under the provider call id.
func (t *SlotTracker) Track(callID, umbrellaID, tenantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[callID] = slotRef{umbrellaID: umbrellaID, tenantID: tenantID}
}

// Untrack forgets a slot once its call ended and the slot was released.
// Unknown call ids are ignored; the call may have been placed by
// another process.
func (t *SlotTracker) Untrack(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, callID)
}

// ReleaseAll gives back every slot still held, in shutdown.
func (t *SlotTracker) ReleaseAll(ctx context.Context, ucm *Manager, logger *slog.Logger) {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[string]slotRef)
	t.mu.Unlock()

	for callID, ref := range slots {
		if err := ucm.Release(ctx, ref.umbrellaID, ref.tenantID); err != nil {
			logger.Error("failed to release slot during drain",
				"call_id", callID, "umbrella_id", ref.umbrellaID, "error", err)
			continue
		}
		logger.Info("released held slot during drain",
			"call_id", callID, "umbrella_id", ref.umbrellaID, "tenant_id", ref.tenantID)
	}
}
