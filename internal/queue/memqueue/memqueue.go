// Package memqueue is a single-process delayed queue for local runs and tests.
package memqueue

import (
	"context"
	"sync"
	"time"

	"chatdispatch/internal/queue"
)

type Queue struct {
	ready chan queue.Job

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

var (
	_ queue.Enqueuer = (*Queue)(nil)
	_ queue.Consumer = (*Queue)(nil)
)

func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Queue{ready: make(chan queue.Job, buffer), timers: map[*time.Timer]struct{}{}}
}

// Enqueue makes job ready after delay.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	if err := job.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return context.Canceled
	}
	if delay <= 0 {
		q.push(job)
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, t)
		if !q.closed {
			q.push(job)
		}
	})
	q.timers[t] = struct{}{}
	return nil
}

// push must run with q.mu held.
func (q *Queue) push(job queue.Job) {
	select {
	case q.ready <- job:
	default:
		// full buffer: hand off without holding the lock
		go func() { q.ready <- job }()
	}
}

// Pending reports jobs still waiting on their delay.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close drops every delayed job.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
}

func (q *Queue) PollConcurrent(ctx context.Context, workers int, handler queue.Handler) error {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.ready:
					handler(ctx, &delivery{q: q, job: job})
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

type delivery struct {
	q   *Queue
	job queue.Job
}

func (d *delivery) Job() queue.Job { return d.job }

func (d *delivery) Ack(ctx context.Context) error { return nil }

func (d *delivery) Retry(ctx context.Context, delay time.Duration) error {
	return d.q.Enqueue(ctx, d.job.Next(), delay)
}
