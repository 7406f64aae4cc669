package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadencehq/cadence/pkg/jobs"
)

// voiceEvent is the provider's call-event envelope. Field names follow
// the provider's wire format.
type voiceEvent struct {
	Message struct {
		Type            string  `json:"type"`
		Status          string  `json:"status"`
		EndedReason     string  `json:"endedReason"`
		DurationSeconds float64 `json:"durationSeconds"`
		Transcript      string  `json:"transcript"`
		Artifact        struct {
			Transcript string `json:"transcript"`
		} `json:"artifact"`
		Call struct {
			ID       string            `json:"id"`
			OrgID    string            `json:"orgId"`
			Metadata map[string]string `json:"metadata"`
			Customer struct {
				Number string `json:"number"`
			} `json:"customer"`
		} `json:"call"`
		FunctionCall struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"functionCall"`
	} `json:"message"`
}

func (e *voiceEvent) transcript() string {
	if e.Message.Artifact.Transcript != "" {
		return e.Message.Artifact.Transcript
	}
	return e.Message.Transcript
}

func (s *Server) handleVoiceCallEvents(c *gin.Context) {
	var ev voiceEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	meta := ev.Message.Call.Metadata
	base := jobs.EventJob{
		Kind:         jobs.EventCallOutcome,
		ProviderID:   ev.Message.Call.ID,
		TenantID:     meta["tenantId"],
		UmbrellaID:   meta["umbrellaId"],
		EnrollmentID: meta["enrollmentId"],
	}

	switch ev.Message.Type {
	case "status-update":
		if ev.Message.Status != "ended" {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		base.Disposition = "ended"
		base.EndedReason = ev.Message.EndedReason
		base.Transcript = ev.transcript()
		base.DurationSeconds = int(ev.Message.DurationSeconds)

	case "end-of-call-report":
		base.Disposition = "completed"
		base.EndedReason = ev.Message.EndedReason
		base.Transcript = ev.transcript()
		base.DurationSeconds = int(ev.Message.DurationSeconds)

	case "function-call":
		if ev.Message.FunctionCall.Name != "book_appointment" {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		base.Disposition = "answered"
		base.AppointmentBooked = true

	case "assistant-request":
		s.handleAssistantRequest(c, &ev)
		return

	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if _, err := s.bus.Enqueue(c.Request.Context(), jobs.QueueEvents, base, 0, 0); err != nil {
		s.logger.Error("failed to enqueue voice event", "call_id", base.ProviderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleAssistantRequest answers the provider's inbound-call hook with
// an assistant configuration, personalized when the caller's number
// matches a known contact.
func (s *Server) handleAssistantRequest(c *gin.Context, ev *voiceEvent) {
	ctx := c.Request.Context()

	umbrella, err := s.umbrellas.GetByProviderOrg(ctx, ev.Message.Call.OrgID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown organization"})
		return
	}

	firstMessage := "Hi, thanks for calling back. How can I help you today?"
	if tenantID := ev.Message.Call.Metadata["tenantId"]; tenantID != "" && ev.Message.Call.Customer.Number != "" {
		if contact, err := s.contacts.GetByPhone(ctx, tenantID, ev.Message.Call.Customer.Number); err == nil {
			firstMessage = "Hi " + contact.DisplayName + ", thanks for calling back. How can I help you today?"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"assistant": gin.H{
			"firstMessage": firstMessage,
			"metadata":     gin.H{"umbrellaId": umbrella.ID},
		},
	})
}

type concurrencySync struct {
	OrgID     string `json:"orgId" binding:"required"`
	Current   int    `json:"current"`
	Limit     int    `json:"limit"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleConcurrencySync(c *gin.Context) {
	var sync concurrencySync
	if err := c.ShouldBindJSON(&sync); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	ctx := c.Request.Context()
	umbrella, err := s.umbrellas.GetByProviderOrg(ctx, sync.OrgID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown organization"})
		return
	}

	now := time.Now().UTC()
	if err := s.ucm.SyncFromWebhook(ctx, umbrella.ID, sync.Current, sync.Limit, now); err != nil {
		s.logger.Error("concurrency sync failed", "umbrella_id", umbrella.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}
	if err := s.umbrellas.RecordSync(ctx, umbrella.ID, sync.Current, sync.Limit, now); err != nil {
		s.logger.Error("failed to persist sync snapshot", "umbrella_id", umbrella.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type smsWebhook struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	Metadata  struct {
		EnrollmentID string `json:"enrollmentId"`
		TenantID     string `json:"tenantId"`
	} `json:"metadata"`
}

func (s *Server) handleSMSWebhook(c *gin.Context) {
	var hook smsWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	ev := jobs.EventJob{
		ProviderID:   hook.MessageID,
		TenantID:     hook.Metadata.TenantID,
		EnrollmentID: hook.Metadata.EnrollmentID,
	}
	switch hook.Type {
	case "reply", "inbound":
		ev.Kind = jobs.EventSMSReply
		ev.Body = hook.Body
	case "delivery", "status":
		ev.Kind = jobs.EventSMSDelivery
		ev.DeliveryStatus = hook.Status
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown sms event type"})
		return
	}

	if _, err := s.bus.Enqueue(c.Request.Context(), jobs.QueueEvents, ev, 0, 0); err != nil {
		s.logger.Error("failed to enqueue sms event", "message_id", hook.MessageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type emailWebhook struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	Metadata  struct {
		EnrollmentID string `json:"enrollmentId"`
		TenantID     string `json:"tenantId"`
	} `json:"metadata"`
}

func (s *Server) handleEmailWebhook(c *gin.Context) {
	var hook emailWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	ev := jobs.EventJob{
		ProviderID:   hook.MessageID,
		TenantID:     hook.Metadata.TenantID,
		EnrollmentID: hook.Metadata.EnrollmentID,
	}
	switch hook.Event {
	case "opened":
		ev.Kind = jobs.EventEmailOpened
	case "clicked":
		ev.Kind = jobs.EventEmailClicked
	case "bounced":
		ev.Kind = jobs.EventEmailBounced
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown email event"})
		return
	}

	if _, err := s.bus.Enqueue(c.Request.Context(), jobs.QueueEvents, ev, 0, 0); err != nil {
		s.logger.Error("failed to enqueue email event", "message_id", hook.MessageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
