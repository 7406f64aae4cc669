// Cadence sequencer server runs the scheduler loop, the channel
// worker pools, the event processor, and the webhook HTTP surface.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cadencehq/cadence/pkg/api"
	"github.com/cadencehq/cadence/pkg/clock"
	"github.com/cadencehq/cadence/pkg/config"
	"github.com/cadencehq/cadence/pkg/content"
	"github.com/cadencehq/cadence/pkg/convo"
	"github.com/cadencehq/cadence/pkg/coord"
	"github.com/cadencehq/cadence/pkg/database"
	"github.com/cadencehq/cadence/pkg/eventproc"
	"github.com/cadencehq/cadence/pkg/jobs"
	"github.com/cadencehq/cadence/pkg/llm"
	"github.com/cadencehq/cadence/pkg/providers"
	"github.com/cadencehq/cadence/pkg/scheduler"
	"github.com/cadencehq/cadence/pkg/store"
	"github.com/cadencehq/cadence/pkg/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, continuing with existing environment", "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("Starting cadence", "http_port", cfg.HTTPPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store.
	db, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	repos := store.New(db.DB)
	slog.Info("Connected to PostgreSQL database")

	// Coordination store.
	rdb, err := coord.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	ucm := coord.NewManager(rdb)
	tracker := coord.NewSlotTracker()
	resolver := coord.NewResolver(repos.Umbrellas, cfg.Umbrella.CacheTTL)
	bus := jobs.NewBus(rdb, cfg.Voice.LockLease)
	slog.Info("Connected to coordination store")

	// Domain services.
	clk := clock.New()
	llmClient := llm.WithFallback(llm.NewHTTPClient(cfg.LLM))
	analyzer := convo.NewAnalyzer(llmClient)
	memory := convo.NewBuilder(repos.Interactions)
	healer := content.NewHealer(repos.Enrollments, repos.Contacts, repos.Audit, clk, logger)
	mutator := content.NewMutator(llmClient, repos.Audit, cfg.Mutation.MinConfidence, logger)

	// Scheduler loop.
	sched := scheduler.New(
		cfg.Scheduler, repos.Enrollments, repos.Sequences, repos.Contacts,
		repos.Audit, bus, clk, healer, mutator, memory, logger,
	)
	sched.Start(ctx)

	// Channel worker pools.
	voiceWorker := workers.NewVoiceWorker(
		cfg.Voice, resolver, ucm, tracker, providers.NewVoiceClient(cfg.Providers),
		bus, repos.Audit, repos.Interactions, logger,
	)
	voicePool := workers.NewPool("voice", jobs.QueueVoice, cfg.Voice.Concurrency, bus, voiceWorker.Handle, logger)
	voicePool.Start(ctx)

	smsWorker := workers.NewSMSWorker(cfg.Workers, providers.NewSMSClient(cfg.Providers), bus, repos.Audit, repos.Interactions, logger)
	smsPool := workers.NewPool("sms", jobs.QueueSMS, cfg.Workers.SMSConcurrency, bus, smsWorker.Handle, logger)
	smsPool.Start(ctx)

	emailWorker := workers.NewEmailWorker(cfg.Workers, providers.NewEmailClient(cfg.Providers), bus, repos.Audit, repos.Interactions, logger)
	emailPool := workers.NewPool("email", jobs.QueueEmail, cfg.Workers.EmailConcurrency, bus, emailWorker.Handle, logger)
	emailPool.Start(ctx)

	// Event processing.
	processor := eventproc.NewProcessor(
		repos.Enrollments, repos.Contacts, repos.Interactions, repos.Audit,
		ucm, tracker, resolver, analyzer, memory, bus, clk, logger,
	)
	eventPool := workers.NewPool("events", jobs.QueueEvents, cfg.Workers.EventConcurrency, bus, processor.Handle, logger)
	eventPool.Start(ctx)

	healingHandler := eventproc.NewHealingHandler(repos.Enrollments, repos.Contacts, healer, processor, logger)
	healingPool := workers.NewPool("healing", jobs.QueueHealing, 1, bus, healingHandler.Handle, logger)
	healingPool.Start(ctx)

	monitor := coord.NewSyncMonitor(ucm, repos.Umbrellas, cfg.Umbrella.SyncHorizon, time.Minute, logger)
	monitor.Start(ctx)

	slog.Info("Cadence started",
		"voice_workers", cfg.Voice.Concurrency,
		"sms_workers", cfg.Workers.SMSConcurrency,
		"email_workers", cfg.Workers.EmailConcurrency,
		"event_workers", cfg.Workers.EventConcurrency)

	// Webhook HTTP surface.
	server := api.NewServer(cfg, db, bus, ucm, repos.Umbrellas, repos.Contacts, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Graceful drain: scheduler first so nothing new is enqueued, then
	// the pools, then give back any umbrella slots still held here.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer drainCancel()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		voicePool.Stop()
		smsPool.Stop()
		emailPool.Stop()
		eventPool.Stop()
		healingPool.Stop()
		monitor.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Workers drained gracefully")
	case <-drainCtx.Done():
		slog.Warn("Shutdown timeout exceeded, abandoning in-flight jobs")
	}

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer releaseCancel()
	tracker.ReleaseAll(releaseCtx, ucm, logger)

	cancel()
	slog.Info("Shutdown complete")
}
