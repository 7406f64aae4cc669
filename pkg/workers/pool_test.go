package workers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/jobs"
)

func newPoolBus(t *testing.T) *jobs.Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return jobs.NewBus(rdb, time.Minute)
}

func TestPoolProcessesJobs(t *testing.T) {
	bus := newPoolBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, job *jobs.Job) error {
		var sj jobs.SMSJob
		if err := job.Decode(&sj); err != nil {
			return err
		}
		mu.Lock()
		handled = append(handled, sj.EnrollmentID)
		mu.Unlock()
		return nil
	}

	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := bus.Enqueue(ctx, jobs.QueueSMS, jobs.SMSJob{EnrollmentID: id}, 5, 0)
		require.NoError(t, err)
	}

	pool := NewPool("sms", jobs.QueueSMS, 2, bus, handler,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, 5*time.Second, 20*time.Millisecond)

	pool.Stop()

	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, handled)

	// Every job was acked; nothing remains on the queue.
	depth, err := bus.Depth(ctx, jobs.QueueSMS)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	bus := newPoolBus(t)
	pool := NewPool("idle", jobs.QueueEmail, 1, bus,
		func(context.Context, *jobs.Job) error { return nil },
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
}
