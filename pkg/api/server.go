// Package api is the webhook-receiving HTTP surface. Handlers verify
// the delivery and enqueue an event; all real processing happens in
// the event worker pool.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/coord"
	"github.com/cadencehq/cadence/pkg/database"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/models"
)

type umbrellaLookup interface {
	GetByProviderOrg(ctx context.Context, orgID string) (*models.Umbrella, error)
	RecordSync(ctx context.Context, id string, reported, limit int, at time.Time) error
}

type contactLookup interface {
	GetByPhone(ctx context.Context, tenantID, phone string) (*models.Contact, error)
}

// Server hosts the webhook endpoints and the health probe.
type Server struct {
	cfg       *config.Config
	db        *database.Client
	bus       *jobs.Bus
	ucm       *coord.Manager
	umbrellas umbrellaLookup
	contacts  contactLookup
	logger    *slog.Logger
	http      *http.Server
}

// NewServer creates a Server. Run starts serving.
func NewServer(cfg *config.Config, db *database.Client, bus *jobs.Bus, ucm *coord.Manager, umbrellas umbrellaLookup, contacts contactLookup, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		db:        db,
		bus:       bus,
		ucm:       ucm,
		umbrellas: umbrellas,
		contacts:  contacts,
		logger:    logger.With("component", "api"),
	}
}

// Routes builds the gin engine with all endpoints mounted.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", s.handleHealth)

	hooks := r.Group("/webhooks", verifySignature(s.cfg.WebhookSigningSecret, s.logger))
	hooks.POST("/voice/call-events", s.handleVoiceCallEvents)
	hooks.POST("/voice/concurrency-sync", s.handleConcurrencySync)
	hooks.POST("/sms", s.handleSMSWebhook)
	hooks.POST("/email", s.handleEmailWebhook)

	return r
}

// Run serves until the context is cancelled, then shuts down within
// the graceful timeout.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              ":" + s.cfg.HTTPPort,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", s.cfg.HTTPPort)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
