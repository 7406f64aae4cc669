package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, lease time.Duration) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBus(rdb, lease)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	bus := newTestBus(t, time.Minute)
	ctx := context.Background()

	enq, err := bus.Enqueue(ctx, QueueSMS, SMSJob{EnrollmentID: "enr-1", Body: "hi"}, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, enq.Attempt)

	job, err := bus.Dequeue(ctx, QueueSMS)
	require.NoError(t, err)
	assert.Equal(t, enq.ID, job.ID)

	var payload SMSJob
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "enr-1", payload.EnrollmentID)
	assert.Equal(t, "hi", payload.Body)

	_, err = bus.Dequeue(ctx, QueueSMS)
	assert.ErrorIs(t, err, ErrNoJobs)
}

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	bus := newTestBus(t, time.Minute)
	ctx := context.Background()

	low1, err := bus.Enqueue(ctx, QueueVoice, VoiceJob{EnrollmentID: "a"}, 8, 0)
	require.NoError(t, err)
	low2, err := bus.Enqueue(ctx, QueueVoice, VoiceJob{EnrollmentID: "b"}, 8, 0)
	require.NoError(t, err)
	urgent, err := bus.Enqueue(ctx, QueueVoice, VoiceJob{EnrollmentID: "c"}, 1, 0)
	require.NoError(t, err)

	// Lower priority value drains first; equal priorities keep FIFO.
	for _, want := range []string{urgent.ID, low1.ID, low2.ID} {
		job, err := bus.Dequeue(ctx, QueueVoice)
		require.NoError(t, err)
		assert.Equal(t, want, job.ID)
	}
}

func TestDelayedJobBecomesVisible(t *testing.T) {
	bus := newTestBus(t, time.Minute)
	ctx := context.Background()

	_, err := bus.Enqueue(ctx, QueueEvents, EventJob{Kind: EventSMSReply}, 5, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = bus.Dequeue(ctx, QueueEvents)
	assert.ErrorIs(t, err, ErrNoJobs)

	time.Sleep(80 * time.Millisecond)

	job, err := bus.Dequeue(ctx, QueueEvents)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
}

func TestRequeueBumpsAttempt(t *testing.T) {
	bus := newTestBus(t, time.Minute)
	ctx := context.Background()

	_, err := bus.Enqueue(ctx, QueueVoice, VoiceJob{EnrollmentID: "a"}, 3, 0)
	require.NoError(t, err)

	job, err := bus.Dequeue(ctx, QueueVoice)
	require.NoError(t, err)
	require.NoError(t, bus.Requeue(ctx, job, 0))

	again, err := bus.Dequeue(ctx, QueueVoice)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempt)
	assert.Equal(t, 3, again.Priority)
}

func TestAckRemovesJob(t *testing.T) {
	bus := newTestBus(t, 50*time.Millisecond)
	ctx := context.Background()

	_, err := bus.Enqueue(ctx, QueueSMS, SMSJob{Body: "x"}, 5, 0)
	require.NoError(t, err)

	job, err := bus.Dequeue(ctx, QueueSMS)
	require.NoError(t, err)
	require.NoError(t, bus.Ack(ctx, job))

	// Even after the lease would have expired, nothing comes back.
	time.Sleep(80 * time.Millisecond)
	n, err := bus.ReapExpired(ctx, QueueSMS)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = bus.Dequeue(ctx, QueueSMS)
	assert.ErrorIs(t, err, ErrNoJobs)
}

func TestReapExpiredRedelivers(t *testing.T) {
	bus := newTestBus(t, 30*time.Millisecond)
	ctx := context.Background()

	_, err := bus.Enqueue(ctx, QueueVoice, VoiceJob{EnrollmentID: "a"}, 5, 0)
	require.NoError(t, err)

	job, err := bus.Dequeue(ctx, QueueVoice)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	n, err := bus.ReapExpired(ctx, QueueVoice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	redelivered, err := bus.Dequeue(ctx, QueueVoice)
	require.NoError(t, err)
	assert.Equal(t, job.ID, redelivered.ID)
}

func TestDepthCountsReadyAndDelayed(t *testing.T) {
	bus := newTestBus(t, time.Minute)
	ctx := context.Background()

	_, err := bus.Enqueue(ctx, QueueEmail, EmailJob{To: "a@b.c"}, 5, 0)
	require.NoError(t, err)
	_, err = bus.Enqueue(ctx, QueueEmail, EmailJob{To: "d@e.f"}, 5, time.Hour)
	require.NoError(t, err)

	depth, err := bus.Depth(ctx, QueueEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}
