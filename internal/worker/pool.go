// Package worker consumes campaign dispatch jobs.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"chatdispatch/internal/observability"
	"chatdispatch/internal/queue"
)

const (
	DefaultConcurrency   = 5
	DefaultJobsPerMinute = 20
	DefaultMaxAttempts   = 3
)

type Processor interface {
	Process(ctx context.Context, job queue.Job) error
	GiveUp(ctx context.Context, job queue.Job, cause error)
}

type Pool struct {
	Consumer    queue.Consumer
	Processor   Processor
	Concurrency int
	Limiter     *rate.Limiter
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// NewLimiter allows perMinute job starts in any rolling minute, one at a time.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Backoff is the delay after the given failed attempt: 2s, 4s, 8s, ...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return 2 * time.Second << (attempt - 1)
}

func (p *Pool) Run(ctx context.Context) error {
	workers := p.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if gc, ok := p.Consumer.(queue.GatedConsumer); ok && p.Limiter != nil {
		return gc.PollGated(ctx, workers, p.Limiter.Wait, p.process)
	}
	return p.Consumer.PollConcurrent(ctx, workers, p.Handle)
}

// Handle waits on the limiter, then processes and settles one delivery.
func (p *Pool) Handle(ctx context.Context, d queue.Delivery) {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			// shutting down; the queue redelivers unsettled jobs
			return
		}
	}
	p.process(ctx, d)
}

func (p *Pool) process(ctx context.Context, d queue.Delivery) {
	job := d.Job()
	log := slog.With("kind", job.Kind, "attempt", job.Attempt)

	err := p.Processor.Process(ctx, job)
	if err == nil {
		observability.DispatchJobs.WithLabelValues("ok").Inc()
		if err := d.Ack(ctx); err != nil {
			log.Error("ack job failed", "err", err)
		}
		return
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if job.Attempt >= maxAttempts {
		observability.DispatchJobs.WithLabelValues("failed").Inc()
		log.Error("job failed permanently", "err", err)
		p.Processor.GiveUp(ctx, job, err)
		if err := d.Ack(ctx); err != nil {
			log.Error("ack job failed", "err", err)
		}
		return
	}

	backoff := Backoff
	if p.Backoff != nil {
		backoff = p.Backoff
	}
	delay := backoff(job.Attempt)
	observability.DispatchRetries.Inc()
	log.Warn("job failed, retrying", "err", err, "delay", delay)
	if err := d.Retry(ctx, delay); err != nil {
		log.Error("schedule retry failed", "err", err)
	}
}
