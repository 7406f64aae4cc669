package coord

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

type activeUmbrellaLister interface {
	ListActive(ctx context.Context) ([]*models.Umbrella, error)
}

// SyncMonitor watches how long each active umbrella has gone without a
// provider concurrency-sync webhook. Counters past the horizon may be
// carrying slots from missed end-of-call events; the next sync webhook
// overwrites them, so the monitor's job is to make the silence visible.
type SyncMonitor struct {
	ucm       *Manager
	umbrellas activeUmbrellaLister
	horizon   time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSyncMonitor creates a monitor. Start begins sweeping.
func NewSyncMonitor(ucm *Manager, umbrellas activeUmbrellaLister, horizon, interval time.Duration, logger *slog.Logger) *SyncMonitor {
	return &SyncMonitor{
		ucm:       ucm,
		umbrellas: umbrellas,
		horizon:   horizon,
		interval:  interval,
		logger:    logger.With("component", "sync_monitor"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop. It runs until Stop is called or the
// context is cancelled.
func (m *SyncMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(m.interval):
			}
			m.sweep(ctx)
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit. Safe to call
// more than once.
func (m *SyncMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *SyncMonitor) sweep(ctx context.Context) {
	umbrellas, err := m.umbrellas.ListActive(ctx)
	if err != nil {
		m.logger.Error("failed to list active umbrellas", "error", err)
		return
	}

	for _, u := range umbrellas {
		stale, err := m.ucm.StaleSince(ctx, u.ID, m.horizon, m.now())
		if err != nil {
			m.logger.Error("failed to check umbrella sync freshness",
				"umbrella_id", u.ID, "error", err)
			continue
		}
		if !stale {
			continue
		}
		snap, err := m.ucm.Snapshot(ctx, u.ID)
		if err != nil {
			m.logger.Error("failed to snapshot stale umbrella",
				"umbrella_id", u.ID, "error", err)
			continue
		}
		m.logger.Warn("umbrella has not synced within horizon, counters may hold orphaned slots",
			"umbrella_id", u.ID,
			"current", snap.Current,
			"limit", snap.Limit,
			"last_sync", snap.LastSync)
	}
}
