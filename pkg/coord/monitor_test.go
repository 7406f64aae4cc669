package coord

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/models"
)

type staticUmbrellas struct {
	umbrellas []*models.Umbrella
}

func (s *staticUmbrellas) ListActive(_ context.Context) ([]*models.Umbrella, error) {
	return s.umbrellas, nil
}

func TestSyncMonitorWarnsOnStaleUmbrella(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	syncedAt := time.Now().Add(-10 * time.Minute)
	require.NoError(t, m.SyncFromWebhook(ctx, "umb-stale", 4, 10, syncedAt))
	require.NoError(t, m.SyncFromWebhook(ctx, "umb-fresh", 2, 10, time.Now()))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	lister := &staticUmbrellas{umbrellas: []*models.Umbrella{
		{ID: "umb-stale", Active: true},
		{ID: "umb-fresh", Active: true},
		{ID: "umb-never-synced", Active: true},
	}}
	mon := NewSyncMonitor(m, lister, 5*time.Minute, time.Minute, logger)
	mon.sweep(ctx)

	out := buf.String()
	assert.Contains(t, out, "umb-stale")
	assert.NotContains(t, out, "umb-fresh")
	assert.NotContains(t, out, "umb-never-synced")
}

func TestSyncMonitorStopIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	m := NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	mon := NewSyncMonitor(m, &staticUmbrellas{}, 5*time.Minute, 10*time.Millisecond, slog.New(slog.DiscardHandler))
	mon.Start(context.Background())
	mon.Stop()
	mon.Stop()
}
