package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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
)

type recordedSync struct {
	id       string
	reported int
	limit    int
}

type fakeUmbrellas struct {
	byOrg map[string]*models.Umbrella
	syncs []recordedSync
}

func (f *fakeUmbrellas) GetByProviderOrg(_ context.Context, orgID string) (*models.Umbrella, error) {
	u, ok := f.byOrg[orgID]
	if !ok {
		return nil, errors.New("umbrella not found")
	}
	return u, nil
}

func (f *fakeUmbrellas) RecordSync(_ context.Context, id string, reported, limit int, _ time.Time) error {
	f.syncs = append(f.syncs, recordedSync{id: id, reported: reported, limit: limit})
	return nil
}

type fakeContacts struct {
	byPhone map[string]*models.Contact
}

func (f *fakeContacts) GetByPhone(_ context.Context, _, phone string) (*models.Contact, error) {
	c, ok := f.byPhone[phone]
	if !ok {
		return nil, errors.New("contact not found")
	}
	return c, nil
}

type apiFixture struct {
	engine    http.Handler
	bus       *jobs.Bus
	ucm       *coord.Manager
	umbrellas *fakeUmbrellas
	contacts  *fakeContacts
	secret    string
}

func newAPIFixture(t *testing.T, secret string) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := jobs.NewBus(rdb, time.Minute)
	ucm := coord.NewManager(rdb)

	umbrellas := &fakeUmbrellas{byOrg: map[string]*models.Umbrella{
		"org-1": {ID: "umb-1", Name: "Umbrella One", ProviderOrgID: "org-1", ConcurrencyLimit: 10},
	}}
	contacts := &fakeContacts{byPhone: map[string]*models.Contact{
		"+15550001111": {ID: "contact-1", DisplayName: "Dana Smith", Phone: "+15550001111"},
	}}

	cfg := &config.Config{WebhookSigningSecret: secret}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, nil, bus, ucm, umbrellas, contacts, logger)

	return &apiFixture{
		engine:    srv.Routes(),
		bus:       bus,
		ucm:       ucm,
		umbrellas: umbrellas,
		contacts:  contacts,
		secret:    secret,
	}
}

func (f *apiFixture) post(path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if f.secret != "" {
		mac := hmac.New(sha256.New, []byte(f.secret))
		mac.Write(body)
		req.Header.Set(signatureHeader, hex.EncodeToString(mac.Sum(nil)))
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) drainEvents(t *testing.T) []jobs.EventJob {
	t.Helper()
	var out []jobs.EventJob
	for {
		job, err := f.bus.Dequeue(context.Background(), jobs.QueueEvents)
		if errors.Is(err, jobs.ErrNoJobs) {
			return out
		}
		require.NoError(t, err)
		var ev jobs.EventJob
		require.NoError(t, job.Decode(&ev))
		out = append(out, ev)
	}
}

func TestVerifySignature(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")
	body := []byte(`{"type":"reply","messageId":"msg-1","body":"hi","metadata":{"enrollmentId":"enr-1","tenantId":"ten-1"}}`)

	t.Run("valid signature accepted", func(t *testing.T) {
		w := f.post("/webhooks/sms", body)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", bytes.NewReader(body))
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong signature rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", bytes.NewReader(body))
		req.Header.Set(signatureHeader, "deadbeef")
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestVerifySignatureSkippedWithoutSecret(t *testing.T) {
	f := newAPIFixture(t, "")
	body := []byte(`{"type":"reply","messageId":"msg-1","body":"hi","metadata":{"enrollmentId":"enr-1","tenantId":"ten-1"}}`)

	w := f.post("/webhooks/sms", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVoiceCallEventsEndOfCallReport(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	body := []byte(`{"message":{
		"type":"end-of-call-report",
		"endedReason":"customer-ended-call",
		"durationSeconds":94.7,
		"transcript":"inline transcript",
		"artifact":{"transcript":"artifact transcript"},
		"call":{"id":"call-1","orgId":"org-1","metadata":{"tenantId":"ten-1","umbrellaId":"umb-1","enrollmentId":"enr-1"}}
	}}`)

	w := f.post("/webhooks/voice/call-events", body)
	require.Equal(t, http.StatusOK, w.Code)

	events := f.drainEvents(t)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, jobs.EventCallOutcome, ev.Kind)
	assert.Equal(t, "call-1", ev.ProviderID)
	assert.Equal(t, "ten-1", ev.TenantID)
	assert.Equal(t, "umb-1", ev.UmbrellaID)
	assert.Equal(t, "enr-1", ev.EnrollmentID)
	assert.Equal(t, "completed", ev.Disposition)
	assert.Equal(t, "customer-ended-call", ev.EndedReason)
	assert.Equal(t, "artifact transcript", ev.Transcript)
	assert.Equal(t, 94, ev.DurationSeconds)
}

func TestVoiceCallEventsStatusUpdate(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	t.Run("in-progress update ignored", func(t *testing.T) {
		body := []byte(`{"message":{"type":"status-update","status":"in-progress","call":{"id":"call-2","metadata":{}}}}`)
		w := f.post("/webhooks/voice/call-events", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, f.drainEvents(t))
	})

	t.Run("ended update enqueued", func(t *testing.T) {
		body := []byte(`{"message":{
			"type":"status-update","status":"ended","endedReason":"no-answer",
			"call":{"id":"call-3","metadata":{"enrollmentId":"enr-1","tenantId":"ten-1"}}
		}}`)
		w := f.post("/webhooks/voice/call-events", body)
		require.Equal(t, http.StatusOK, w.Code)

		events := f.drainEvents(t)
		require.Len(t, events, 1)
		assert.Equal(t, "ended", events[0].Disposition)
		assert.Equal(t, "no-answer", events[0].EndedReason)
	})
}

func TestVoiceCallEventsFunctionCall(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	t.Run("booking function becomes answered event", func(t *testing.T) {
		body := []byte(`{"message":{
			"type":"function-call",
			"functionCall":{"name":"book_appointment","parameters":{"slot":"tomorrow 2pm"}},
			"call":{"id":"call-4","metadata":{"enrollmentId":"enr-1","tenantId":"ten-1"}}
		}}`)
		w := f.post("/webhooks/voice/call-events", body)
		require.Equal(t, http.StatusOK, w.Code)

		events := f.drainEvents(t)
		require.Len(t, events, 1)
		assert.Equal(t, "answered", events[0].Disposition)
		assert.True(t, events[0].AppointmentBooked)
	})

	t.Run("other functions ignored", func(t *testing.T) {
		body := []byte(`{"message":{
			"type":"function-call",
			"functionCall":{"name":"lookup_weather"},
			"call":{"id":"call-5","metadata":{}}
		}}`)
		w := f.post("/webhooks/voice/call-events", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, f.drainEvents(t))
	})
}

func TestAssistantRequest(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	t.Run("known caller gets personalized greeting", func(t *testing.T) {
		body := []byte(`{"message":{
			"type":"assistant-request",
			"call":{"orgId":"org-1","metadata":{"tenantId":"ten-1"},"customer":{"number":"+15550001111"}}
		}}`)
		w := f.post("/webhooks/voice/call-events", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Hi Dana Smith, thanks for calling back")
		assert.Contains(t, w.Body.String(), `"umbrellaId":"umb-1"`)
	})

	t.Run("unknown caller gets generic greeting", func(t *testing.T) {
		body := []byte(`{"message":{
			"type":"assistant-request",
			"call":{"orgId":"org-1","metadata":{"tenantId":"ten-1"},"customer":{"number":"+15559999999"}}
		}}`)
		w := f.post("/webhooks/voice/call-events", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Hi, thanks for calling back")
	})

	t.Run("unknown organization rejected", func(t *testing.T) {
		body := []byte(`{"message":{"type":"assistant-request","call":{"orgId":"org-unknown"}}}`)
		w := f.post("/webhooks/voice/call-events", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestConcurrencySync(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")
	ctx := context.Background()

	w := f.post("/webhooks/voice/concurrency-sync", []byte(`{"orgId":"org-1","current":3,"limit":8}`))
	require.Equal(t, http.StatusOK, w.Code)

	snap, err := f.ucm.Snapshot(ctx, "umb-1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 8, snap.Limit)
	assert.False(t, snap.LastSync.IsZero())

	require.Len(t, f.umbrellas.syncs, 1)
	assert.Equal(t, recordedSync{id: "umb-1", reported: 3, limit: 8}, f.umbrellas.syncs[0])
}

func TestConcurrencySyncUnknownOrg(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	w := f.post("/webhooks/voice/concurrency-sync", []byte(`{"orgId":"org-unknown","current":1,"limit":5}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.umbrellas.syncs)
}

func TestConcurrencySyncRequiresOrgID(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	w := f.post("/webhooks/voice/concurrency-sync", []byte(`{"current":1,"limit":5}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSMSWebhook(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	t.Run("reply", func(t *testing.T) {
		body := []byte(`{"type":"reply","messageId":"sms-1","body":"yes let's talk","metadata":{"enrollmentId":"enr-1","tenantId":"ten-1"}}`)
		w := f.post("/webhooks/sms", body)
		require.Equal(t, http.StatusOK, w.Code)

		events := f.drainEvents(t)
		require.Len(t, events, 1)
		assert.Equal(t, jobs.EventSMSReply, events[0].Kind)
		assert.Equal(t, "sms-1", events[0].ProviderID)
		assert.Equal(t, "yes let's talk", events[0].Body)
		assert.Equal(t, "enr-1", events[0].EnrollmentID)
	})

	t.Run("delivery status", func(t *testing.T) {
		body := []byte(`{"type":"delivery","messageId":"sms-2","status":"undelivered","metadata":{"enrollmentId":"enr-1","tenantId":"ten-1"}}`)
		w := f.post("/webhooks/sms", body)
		require.Equal(t, http.StatusOK, w.Code)

		events := f.drainEvents(t)
		require.Len(t, events, 1)
		assert.Equal(t, jobs.EventSMSDelivery, events[0].Kind)
		assert.Equal(t, "undelivered", events[0].DeliveryStatus)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		w := f.post("/webhooks/sms", []byte(`{"type":"read-receipt","messageId":"sms-3"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, f.drainEvents(t))
	})
}

func TestEmailWebhook(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	cases := []struct {
		event string
		kind  jobs.EventKind
	}{
		{"opened", jobs.EventEmailOpened},
		{"clicked", jobs.EventEmailClicked},
		{"bounced", jobs.EventEmailBounced},
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			body := []byte(`{"event":"` + tc.event + `","messageId":"em-1","metadata":{"enrollmentId":"enr-1","tenantId":"ten-1"}}`)
			w := f.post("/webhooks/email", body)
			require.Equal(t, http.StatusOK, w.Code)

			events := f.drainEvents(t)
			require.Len(t, events, 1)
			assert.Equal(t, tc.kind, events[0].Kind)
			assert.Equal(t, "em-1", events[0].ProviderID)
		})
	}

	t.Run("unknown event rejected", func(t *testing.T) {
		w := f.post("/webhooks/email", []byte(`{"event":"unsubscribed","messageId":"em-2"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newAPIFixture(t, "hook-secret")

	for _, path := range []string{
		"/webhooks/voice/call-events",
		"/webhooks/voice/concurrency-sync",
		"/webhooks/sms",
		"/webhooks/email",
	} {
		w := f.post(path, []byte(`{not json`))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}
