// Package workers runs the channel worker pools over the job bus: a
// voice pool gated by the umbrella concurrency manager, plus sms and
// email pools with provider retry.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/jobs"
)

const (
	pollInterval = 500 * time.Millisecond
	reapInterval = 15 * time.Second
)

// Handler processes one dequeued job. Returning an error leaves the
// job leased; the reaper redelivers it when the lease expires.
type Handler func(ctx context.Context, job *jobs.Job) error

// Pool drains one queue with a fixed number of goroutines and a lease
// reaper. Jobs are acked after the handler returns without error.
type Pool struct {
	name        string
	queue       string
	concurrency int
	bus         *jobs.Bus
	handler     Handler
	logger      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a Pool. Start must be called before jobs flow.
func NewPool(name, queue string, concurrency int, bus *jobs.Bus, handler Handler, logger *slog.Logger) *Pool {
	return &Pool{
		name:        name,
		queue:       queue,
		concurrency: concurrency,
		bus:         bus,
		handler:     handler,
		logger:      logger.With("pool", name),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns the worker goroutines and the lease reaper.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting worker pool", "queue", p.queue, "concurrency", p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.wg.Add(1)
	go p.reap(ctx)
}

// Stop signals all workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With("worker", id)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.bus.Dequeue(ctx, p.queue)
		if err != nil {
			if errors.Is(err, jobs.ErrNoJobs) {
				p.sleep(pollInterval)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", "queue", p.queue, "error", err)
			p.sleep(time.Second)
			continue
		}

		if err := p.handler(ctx, job); err != nil {
			// Leave the job leased; the reaper redelivers it.
			log.Error("job failed, leaving for redelivery",
				"queue", p.queue, "job_id", job.ID, "attempt", job.Attempt, "error", err)
			continue
		}
		if err := p.bus.Ack(ctx, job); err != nil {
			log.Error("ack failed", "queue", p.queue, "job_id", job.ID, "error", err)
		}
	}
}

func (p *Pool) reap(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.bus.ReapExpired(ctx, p.queue)
			if err != nil {
				p.logger.Error("lease reap failed", "queue", p.queue, "error", err)
				continue
			}
			if n > 0 {
				p.logger.Warn("redelivered expired leases", "queue", p.queue, "count", n)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}
