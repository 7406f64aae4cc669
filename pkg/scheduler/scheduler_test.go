package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/clock"
	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/content"
	"github.com/cadencehq/cadence/pkg/convo"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/store"
)

var tickNow = time.Date(2026, time.March, 4, 15, 0, 0, 0, time.UTC) // inside the regulatory window

type fakeEnrollments struct {
	due []models.Enrollment

	advanced       bool
	advancedOrder  int
	advancedFire   time.Time
	dispatchedFlag bool

	rescheduled *time.Time
	terminal    *models.EnrollmentStatus
	reason      string
}

func (f *fakeEnrollments) Due(_ context.Context, _ time.Time, _ int) ([]models.Enrollment, error) {
	return f.due, nil
}

func (f *fakeEnrollments) Advance(_ context.Context, _ string, newOrder int, nextFire time.Time, dispatched bool) error {
	f.advanced = true
	f.advancedOrder = newOrder
	f.advancedFire = nextFire
	f.dispatchedFlag = dispatched
	return nil
}

func (f *fakeEnrollments) Reschedule(_ context.Context, _ string, nextFire time.Time) error {
	f.rescheduled = &nextFire
	return nil
}

func (f *fakeEnrollments) SetTerminal(_ context.Context, _ string, status models.EnrollmentStatus, reason string) error {
	f.terminal = &status
	f.reason = reason
	return nil
}

// SetChannelOverrides and AppendFailure satisfy the healer's store slice
// so one fake can back both components.
func (f *fakeEnrollments) SetChannelOverrides(context.Context, string, models.ChannelOverrides) error {
	return nil
}

func (f *fakeEnrollments) AppendFailure(context.Context, string, models.FailureRecord) error {
	return nil
}

type fakeSequences struct {
	seq      *models.Sequence
	steps    map[int]*models.Step
	variants []models.StepVariant

	variantSent string
}

func (f *fakeSequences) Get(_ context.Context, _ string) (*models.Sequence, error) {
	return f.seq, nil
}

func (f *fakeSequences) Step(_ context.Context, _ string, order int) (*models.Step, error) {
	step, ok := f.steps[order]
	if !ok {
		return nil, store.ErrNotFound
	}
	return step, nil
}

func (f *fakeSequences) ActiveVariants(_ context.Context, _ string) ([]models.StepVariant, error) {
	return f.variants, nil
}

func (f *fakeSequences) RecordVariantSent(_ context.Context, id string) error {
	f.variantSent = id
	return nil
}

type fakeContacts struct {
	contact *models.Contact
	tenant  *models.Tenant
}

func (f *fakeContacts) Get(_ context.Context, _ string) (*models.Contact, error) {
	return f.contact, nil
}

func (f *fakeContacts) GetTenant(_ context.Context, _ string) (*models.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeContacts) SetLandline(context.Context, string, bool) error { return nil }

type fakeAudit struct {
	entries []models.ExecutionLogEntry
	healing []models.HealingLogEntry
}

func (f *fakeAudit) LogExecution(_ context.Context, entry models.ExecutionLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) LogHealing(_ context.Context, entry models.HealingLogEntry) error {
	f.healing = append(f.healing, entry)
	return nil
}

func (f *fakeAudit) SaveMutation(context.Context, models.MutationRecord) error { return nil }

type enqueued struct {
	queue    string
	payload  any
	priority int
	delay    time.Duration
}

type fakeBus struct {
	jobs []enqueued
	err  error
}

func (f *fakeBus) Enqueue(_ context.Context, queue string, payload any, priority int, delay time.Duration) (*jobs.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, enqueued{queue: queue, payload: payload, priority: priority, delay: delay})
	return &jobs.Job{ID: "job-1", Queue: queue}, nil
}

type noLLM struct{}

func (noLLM) AnalyzeMessage(context.Context, llm.MessageInput) (*llm.Analysis, error) {
	return nil, errors.New("unavailable")
}

func (noLLM) AnalyzeTranscript(context.Context, llm.TranscriptInput) (*llm.Analysis, error) {
	return nil, errors.New("unavailable")
}

func (noLLM) MutateContent(context.Context, llm.MutateInput) (*llm.MutationResult, error) {
	return nil, errors.New("unavailable")
}

func (noLLM) GenerateSequence(context.Context, llm.SequenceInput) ([]llm.GeneratedStep, error) {
	return nil, errors.New("unavailable")
}

type noHistory struct{}

func (noHistory) Recent(context.Context, string, int) ([]models.Interaction, error) {
	return nil, nil
}

func (noHistory) FirstContactAt(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

type fixture struct {
	sched       *Scheduler
	enrollments *fakeEnrollments
	sequences   *fakeSequences
	contacts    *fakeContacts
	audit       *fakeAudit
	bus         *fakeBus
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	email := "dana@example.com"
	f := &fixture{
		enrollments: &fakeEnrollments{},
		sequences: &fakeSequences{
			seq: &models.Sequence{
				ID:      "seq-1",
				Urgency: models.UrgencyHigh,
			},
			steps: map[int]*models.Step{},
		},
		contacts: &fakeContacts{
			contact: &models.Contact{
				ID:          "c1",
				Phone:       "+15550100",
				Email:       &email,
				DisplayName: "Dana Smith",
			},
			tenant: &models.Tenant{ID: "t1", Timezone: "UTC"},
		},
		audit: &fakeAudit{},
		bus:   &fakeBus{},
	}

	clk := clock.NewAt(func() time.Time { return tickNow })
	logger := quietLogger()
	healer := content.NewHealer(f.enrollments, f.contacts, f.audit, clk, logger)
	mutator := content.NewMutator(noLLM{}, f.audit, 0.5, logger)
	memory := convo.NewBuilder(noHistory{})

	f.sched = New(
		config.SchedulerConfig{PollInterval: 5 * time.Second, BatchSize: 100},
		f.enrollments, f.sequences, f.contacts, f.audit, f.bus,
		clk, healer, mutator, memory, logger,
	)
	return f
}

func smsStep(order, delaySeconds int) *models.Step {
	return &models.Step{
		ID:           "step-" + string(rune('0'+order)),
		SequenceID:   "seq-1",
		StepOrder:    order,
		Channel:      models.ChannelSMS,
		DelaySeconds: delaySeconds,
		Content: models.StepContent{
			Channel: models.ChannelSMS,
			SMS:     &models.SMSContent{Body: "Hi {{first_name}}, quick check-in."},
		},
	}
}

func activeEnrollment() models.Enrollment {
	return models.Enrollment{
		ID:               "e1",
		TenantID:         "t1",
		ContactID:        "c1",
		SequenceID:       "seq-1",
		CurrentStepOrder: 0,
		Status:           models.StatusActive,
		EnrolledAt:       tickNow.Add(-time.Hour),
	}
}

func TestTickDispatchesSMSStep(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	f.sequences.steps[2] = smsStep(2, 3600)
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	f.sched.Tick(context.Background())

	require.Len(t, f.bus.jobs, 1)
	job := f.bus.jobs[0]
	assert.Equal(t, jobs.QueueSMS, job.queue)
	assert.Equal(t, models.UrgencyHigh.QueuePriority(), job.priority)
	sms, ok := job.payload.(jobs.SMSJob)
	require.True(t, ok)
	assert.Equal(t, "Hi Dana, quick check-in.", sms.Body)

	assert.True(t, f.enrollments.advanced)
	assert.Equal(t, 1, f.enrollments.advancedOrder)
	assert.True(t, f.enrollments.dispatchedFlag)
	assert.Equal(t, tickNow.Add(time.Hour), f.enrollments.advancedFire)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.ActionStepDispatched, f.audit.entries[0].Action)
}

func TestHotLeadCompressesDelay(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	f.sequences.steps[2] = smsStep(2, 3600)
	e := activeEnrollment()
	e.Emotional.EmotionalStateCache = models.EmotionalStateCache{
		IsHotLead:      true,
		SentimentTrend: models.TrendHot,
	}
	f.enrollments.due = []models.Enrollment{e}

	f.sched.Tick(context.Background())

	require.True(t, f.enrollments.advanced)
	assert.Equal(t, tickNow.Add(2160*time.Second), f.enrollments.advancedFire)
}

func TestColdTrendStretchesDelay(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	f.sequences.steps[2] = smsStep(2, 3600)
	e := activeEnrollment()
	e.Emotional.EmotionalStateCache = models.EmotionalStateCache{SentimentTrend: models.TrendCold}
	f.enrollments.due = []models.Enrollment{e}

	f.sched.Tick(context.Background())

	require.True(t, f.enrollments.advanced)
	assert.Equal(t, tickNow.Add(7200*time.Second), f.enrollments.advancedFire)
}

func TestSkipConditionAdvancesWithoutDispatch(t *testing.T) {
	f := newFixture(t)
	step := smsStep(1, 0)
	step.SkipConditions = models.StringList{"contact_replied"}
	f.sequences.steps[1] = step
	e := activeEnrollment()
	e.ContactReplied = true
	f.enrollments.due = []models.Enrollment{e}

	f.sched.Tick(context.Background())

	assert.Empty(t, f.bus.jobs)
	assert.True(t, f.enrollments.advanced)
	assert.False(t, f.enrollments.dispatchedFlag)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.ActionStepSkipped, f.audit.entries[0].Action)
	assert.Equal(t, "contact_replied", f.audit.entries[0].Detail)
}

func TestExhaustedSequenceCompletes(t *testing.T) {
	f := newFixture(t)
	e := activeEnrollment()
	e.CurrentStepOrder = 3
	f.enrollments.due = []models.Enrollment{e}

	f.sched.Tick(context.Background())

	require.NotNil(t, f.enrollments.terminal)
	assert.Equal(t, models.StatusCompleted, *f.enrollments.terminal)
	assert.Equal(t, "sequence exhausted", f.enrollments.reason)
	assert.Empty(t, f.bus.jobs)
}

func TestTimeoutFailsEnrollment(t *testing.T) {
	f := newFixture(t)
	f.sequences.seq.TimeoutHours = 24
	f.sequences.steps[1] = smsStep(1, 0)
	e := activeEnrollment()
	e.EnrolledAt = tickNow.Add(-48 * time.Hour)
	f.enrollments.due = []models.Enrollment{e}

	f.sched.Tick(context.Background())

	require.NotNil(t, f.enrollments.terminal)
	assert.Equal(t, models.StatusFailed, *f.enrollments.terminal)
	assert.Equal(t, "timeout", f.enrollments.reason)
	assert.Empty(t, f.bus.jobs)
}

func TestNeedsHumanLeavesEnrollmentUntouched(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	e := activeEnrollment()
	e.NeedsHuman = true
	f.enrollments.due = []models.Enrollment{e}

	f.sched.Tick(context.Background())

	// Only an external action moves a held enrollment; the scheduler
	// neither advances nor reschedules it.
	assert.Empty(t, f.bus.jobs)
	assert.False(t, f.enrollments.advanced)
	assert.Nil(t, f.enrollments.rescheduled)
	assert.Nil(t, f.enrollments.terminal)
}

func TestComplianceWindowDefersSMS(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	// 23:00 local is outside the 08:00-21:00 regulatory window.
	night := time.Date(2026, time.March, 4, 23, 0, 0, 0, time.UTC)
	clk := clock.NewAt(func() time.Time { return night })
	logger := quietLogger()
	f.sched = New(
		config.SchedulerConfig{PollInterval: 5 * time.Second, BatchSize: 100},
		f.enrollments, f.sequences, f.contacts, f.audit, f.bus,
		clk,
		content.NewHealer(f.enrollments, f.contacts, f.audit, clk, logger),
		content.NewMutator(noLLM{}, f.audit, 0.5, logger),
		convo.NewBuilder(noHistory{}),
		logger,
	)

	f.sched.Tick(context.Background())

	assert.Empty(t, f.bus.jobs)
	assert.False(t, f.enrollments.advanced)
	require.NotNil(t, f.enrollments.rescheduled)
	assert.Equal(t, time.Date(2026, time.March, 5, 8, 0, 0, 0, time.UTC), *f.enrollments.rescheduled)
}

func TestBusinessHoursRespectedWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.sequences.seq.RespectBusinessHours = true
	f.contacts.tenant.BusinessHours = models.BusinessHours{
		WeekdayStart: 16, WeekdayEnd: 18,
		WeekendStart: 16, WeekendEnd: 18,
	}
	f.sequences.steps[1] = smsStep(1, 0)
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	// 15:00 is inside the regulatory window but before business opening.
	f.sched.Tick(context.Background())

	assert.Empty(t, f.bus.jobs)
	require.NotNil(t, f.enrollments.rescheduled)
	assert.Equal(t, time.Date(2026, time.March, 4, 16, 0, 0, 0, time.UTC), *f.enrollments.rescheduled)
}

func TestEmailIgnoresWindows(t *testing.T) {
	f := newFixture(t)
	f.sequences.seq.RespectBusinessHours = true
	f.contacts.tenant.BusinessHours = models.BusinessHours{WeekdayStart: 16, WeekdayEnd: 18}
	f.sequences.steps[1] = &models.Step{
		ID: "step-1", SequenceID: "seq-1", StepOrder: 1,
		Channel: models.ChannelEmail,
		Content: models.StepContent{
			Channel: models.ChannelEmail,
			Email:   &models.EmailContent{Subject: "Hello", TextBody: "Hi there", HTMLBody: "Hi there"},
		},
	}
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	f.sched.Tick(context.Background())

	require.Len(t, f.bus.jobs, 1)
	assert.Equal(t, jobs.QueueEmail, f.bus.jobs[0].queue)
	assert.Nil(t, f.enrollments.rescheduled)
}

func TestChannelOverrideAdaptsContent(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = &models.Step{
		ID: "step-1", SequenceID: "seq-1", StepOrder: 1,
		Channel: models.ChannelVoice,
		Content: models.StepContent{
			Channel: models.ChannelVoice,
			Voice:   &models.VoiceContent{FirstMessage: "Hi {{first_name}}, calling about your quote."},
		},
	}
	e := activeEnrollment()
	e.ChannelOverrides = models.ChannelOverrides{models.ChannelVoice: models.ChannelSMS}
	f.enrollments.due = []models.Enrollment{e}

	f.sched.Tick(context.Background())

	require.Len(t, f.bus.jobs, 1)
	assert.Equal(t, jobs.QueueSMS, f.bus.jobs[0].queue)
	sms, ok := f.bus.jobs[0].payload.(jobs.SMSJob)
	require.True(t, ok)
	assert.Equal(t, "Hi Dana, calling about your quote.", sms.Body)
}

func TestUnaddressableContactQueuesHealing(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	f.contacts.contact.Phone = ""
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	f.sched.Tick(context.Background())

	require.Len(t, f.bus.jobs, 1)
	assert.Equal(t, jobs.QueueHealing, f.bus.jobs[0].queue)
	healing, ok := f.bus.jobs[0].payload.(jobs.HealingJob)
	require.True(t, ok)
	assert.Equal(t, models.FailureNoContactMethod, healing.FailureType)
	assert.False(t, f.enrollments.advanced)
}

func TestDispatchFailureLeavesEnrollmentDue(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	f.bus.err = errors.New("redis down")
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	f.sched.Tick(context.Background())

	assert.False(t, f.enrollments.advanced)
	assert.Nil(t, f.enrollments.terminal)
	assert.Empty(t, f.audit.entries)
}

func TestVariantSelectionRecordsSend(t *testing.T) {
	f := newFixture(t)
	f.sequences.steps[1] = smsStep(1, 0)
	f.sequences.variants = []models.StepVariant{{
		ID:     "var-1",
		Weight: 1,
		Active: true,
		Content: models.StepContent{
			Channel: models.ChannelSMS,
			SMS:     &models.SMSContent{Body: "Variant copy for {{first_name}}."},
		},
	}}
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	f.sched.Tick(context.Background())

	require.Len(t, f.bus.jobs, 1)
	sms, ok := f.bus.jobs[0].payload.(jobs.SMSJob)
	require.True(t, ok)
	assert.Equal(t, "Variant copy for Dana.", sms.Body)
	assert.Equal(t, "var-1", f.sequences.variantSent)
}

func TestVoiceDispatchCarriesUrgencyPriority(t *testing.T) {
	f := newFixture(t)
	f.sequences.seq.Urgency = models.UrgencyCritical
	f.sequences.steps[1] = &models.Step{
		ID: "step-1", SequenceID: "seq-1", StepOrder: 1,
		Channel: models.ChannelVoice,
		Content: models.StepContent{
			Channel: models.ChannelVoice,
			Voice:   &models.VoiceContent{FirstMessage: "Hello", SystemPrompt: "You are a helpful assistant."},
		},
	}
	f.enrollments.due = []models.Enrollment{activeEnrollment()}

	f.sched.Tick(context.Background())

	require.Len(t, f.bus.jobs, 1)
	assert.Equal(t, jobs.QueueVoice, f.bus.jobs[0].queue)
	assert.Equal(t, 1, f.bus.jobs[0].priority)
	voice, ok := f.bus.jobs[0].payload.(jobs.VoiceJob)
	require.True(t, ok)
	assert.Equal(t, 1, voice.Priority)
	assert.Equal(t, "+15550100", voice.Phone)
}

func TestDelayMultiplier(t *testing.T) {
	assert.Equal(t, 0.6, DelayMultiplier(models.EmotionalStateCache{IsHotLead: true, SentimentTrend: models.TrendHot}))
	assert.Equal(t, 0.8, DelayMultiplier(models.EmotionalStateCache{SentimentTrend: models.TrendHot}))
	assert.Equal(t, 0.8, DelayMultiplier(models.EmotionalStateCache{SentimentTrend: models.TrendWarming}))
	assert.Equal(t, 1.5, DelayMultiplier(models.EmotionalStateCache{SentimentTrend: models.TrendCooling}))
	assert.Equal(t, 2.0, DelayMultiplier(models.EmotionalStateCache{SentimentTrend: models.TrendCold}))
	assert.Equal(t, 1.8, DelayMultiplier(models.EmotionalStateCache{LastEmotion: "angry"}))
	assert.Equal(t, 1.3, DelayMultiplier(models.EmotionalStateCache{IsAtRisk: true}))
	assert.Equal(t, 1.0, DelayMultiplier(models.EmotionalStateCache{}))
}
