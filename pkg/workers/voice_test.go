package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/coord"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/providers"
)

type stubResolver struct {
	resolved coord.ResolvedUmbrella
}

func (s *stubResolver) Resolve(_ context.Context, _ string) (*coord.ResolvedUmbrella, error) {
	r := s.resolved
	return &r, nil
}

type stubPlacer struct {
	callID string
	err    error
	calls  []providers.CallRequest
}

func (s *stubPlacer) InitiateCall(_ context.Context, in providers.CallRequest) (string, error) {
	s.calls = append(s.calls, in)
	return s.callID, s.err
}

type capturingAudit struct {
	entries []models.ExecutionLogEntry
}

func (c *capturingAudit) LogExecution(_ context.Context, entry models.ExecutionLogEntry) error {
	c.entries = append(c.entries, entry)
	return nil
}

type capturingInteractions struct {
	appended []models.Interaction
}

func (c *capturingInteractions) Append(_ context.Context, in *models.Interaction) (bool, error) {
	c.appended = append(c.appended, *in)
	return true, nil
}

type voiceFixture struct {
	worker       *VoiceWorker
	ucm          *coord.Manager
	tracker      *coord.SlotTracker
	bus          *jobs.Bus
	placer       *stubPlacer
	audit        *capturingAudit
	interactions *capturingInteractions
}

func newVoiceFixture(t *testing.T, limit int) *voiceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &voiceFixture{
		ucm:          coord.NewManager(rdb),
		tracker:      coord.NewSlotTracker(),
		bus:          jobs.NewBus(rdb, time.Minute),
		placer:       &stubPlacer{callID: "call-1"},
		audit:        &capturingAudit{},
		interactions: &capturingInteractions{},
	}
	f.worker = NewVoiceWorker(
		config.VoiceConfig{Concurrency: 5, RetryDelay: 30 * time.Second, MaxRetries: 3, LockLease: time.Minute},
		&stubResolver{resolved: coord.ResolvedUmbrella{
			UmbrellaID:     "umb-1",
			ProviderAPIKey: "key-1",
			Limit:          limit,
		}},
		f.ucm, f.tracker, f.placer, f.bus, f.audit, f.interactions,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func voiceJob(t *testing.T, vj jobs.VoiceJob) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(vj)
	require.NoError(t, err)
	return &jobs.Job{ID: "job-1", Queue: jobs.QueueVoice, Priority: vj.Priority, Payload: raw}
}

func TestVoiceHandlePlacesCall(t *testing.T) {
	f := newVoiceFixture(t, 5)

	err := f.worker.Handle(context.Background(), voiceJob(t, jobs.VoiceJob{
		TenantID:     "t1",
		EnrollmentID: "e1",
		StepID:       "st1",
		ContactID:    "c1",
		Phone:        "+15550100",
		Content:      models.VoiceContent{FirstMessage: "Hello"},
		Priority:     3,
	}))
	require.NoError(t, err)

	require.Len(t, f.placer.calls, 1)
	assert.Equal(t, "key-1", f.placer.calls[0].APIKey)
	assert.Equal(t, "+15550100", f.placer.calls[0].Phone)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.ActionCallInitiated, f.audit.entries[0].Action)
	assert.Equal(t, "call-1", f.audit.entries[0].ProviderCallID)

	require.Len(t, f.interactions.appended, 1)
	assert.Equal(t, models.DirectionOutbound, f.interactions.appended[0].Direction)
	assert.Equal(t, "call_initiated", f.interactions.appended[0].EventType)

	// The slot stays held until the end-of-call webhook.
	snap, err := f.ucm.Snapshot(context.Background(), "umb-1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Current)
}

func TestVoiceCapacityRejectionRequeues(t *testing.T) {
	f := newVoiceFixture(t, 0) // umbrella already full

	err := f.worker.Handle(context.Background(), voiceJob(t, jobs.VoiceJob{
		TenantID:     "t1",
		EnrollmentID: "e1",
		Priority:     3,
		Retry:        0,
	}))
	require.NoError(t, err)

	assert.Empty(t, f.placer.calls)
	assert.Empty(t, f.audit.entries)

	// The retry sits on the delayed set with its priority intact.
	depth, err := f.bus.Depth(context.Background(), jobs.QueueVoice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestVoiceCapacityExhaustedDrops(t *testing.T) {
	f := newVoiceFixture(t, 0)

	err := f.worker.Handle(context.Background(), voiceJob(t, jobs.VoiceJob{
		TenantID:     "t1",
		EnrollmentID: "e1",
		StepID:       "st1",
		Retry:        3, // retry budget spent
	}))
	require.NoError(t, err)

	depth, err := f.bus.Depth(context.Background(), jobs.QueueVoice)
	require.NoError(t, err)
	assert.Zero(t, depth)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.ActionSkippedCapacity, f.audit.entries[0].Action)
	assert.Equal(t, "capacity_exhausted", f.audit.entries[0].Status)
}

func TestVoiceProviderFailureReleasesAndHeals(t *testing.T) {
	f := newVoiceFixture(t, 5)
	f.placer.err = errors.New("connection reset")

	err := f.worker.Handle(context.Background(), voiceJob(t, jobs.VoiceJob{
		TenantID:     "t1",
		EnrollmentID: "e1",
	}))
	require.NoError(t, err)

	// Slot given back immediately.
	snap, err := f.ucm.Snapshot(context.Background(), "umb-1")
	require.NoError(t, err)
	assert.Zero(t, snap.Current)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.ActionCallInitiationFailed, f.audit.entries[0].Action)

	job, err := f.bus.Dequeue(context.Background(), jobs.QueueHealing)
	require.NoError(t, err)
	var healing jobs.HealingJob
	require.NoError(t, job.Decode(&healing))
	assert.Equal(t, models.FailureCallFailed, healing.FailureType)
}

func TestVoicePermanentRejectionHealsAsProviderRejected(t *testing.T) {
	f := newVoiceFixture(t, 5)
	f.placer.err = &providers.Error{StatusCode: 400, Body: "invalid phone number"}

	err := f.worker.Handle(context.Background(), voiceJob(t, jobs.VoiceJob{
		TenantID:     "t1",
		EnrollmentID: "e1",
	}))
	require.NoError(t, err)

	job, err := f.bus.Dequeue(context.Background(), jobs.QueueHealing)
	require.NoError(t, err)
	var healing jobs.HealingJob
	require.NoError(t, job.Decode(&healing))
	assert.Equal(t, models.FailureProviderRejected, healing.FailureType)
}

func TestVoiceUndecodableJobIsDropped(t *testing.T) {
	f := newVoiceFixture(t, 5)

	err := f.worker.Handle(context.Background(), &jobs.Job{
		ID:      "bad",
		Queue:   jobs.QueueVoice,
		Payload: json.RawMessage(`{not json`),
	})
	require.NoError(t, err)
	assert.Empty(t, f.placer.calls)
}
