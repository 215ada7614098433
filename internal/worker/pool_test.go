package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"chatdispatch/internal/queue"
	"chatdispatch/internal/queue/memqueue"
)

type fakeDelivery struct {
	job     queue.Job
	acked   bool
	retried []time.Duration
}

func (d *fakeDelivery) Job() queue.Job { return d.job }
func (d *fakeDelivery) Ack(ctx context.Context) error {
	d.acked = true
	return nil
}
func (d *fakeDelivery) Retry(ctx context.Context, delay time.Duration) error {
	d.retried = append(d.retried, delay)
	return nil
}

type funcProcessor struct {
	process func(ctx context.Context, job queue.Job) error
	gaveUp  atomic.Int32
}

func (p *funcProcessor) Process(ctx context.Context, job queue.Job) error { return p.process(ctx, job) }
func (p *funcProcessor) GiveUp(ctx context.Context, job queue.Job, cause error) {
	p.gaveUp.Add(1)
}

func testJob(id string) queue.Job {
	return queue.NewSendMessage(queue.SendMessage{CampaignID: "c", ContactID: id, PhoneNumber: "+1"})
}

func TestBackoffDoubles(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := Backoff(i + 1); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
}

func TestNewLimiterSpacesJobStarts(t *testing.T) {
	lim := NewLimiter(20)
	if lim.Limit() != rate.Every(3*time.Second) || lim.Burst() != 1 {
		t.Fatalf("unexpected limiter: limit=%v burst=%d", lim.Limit(), lim.Burst())
	}
}

func TestHandleRetriesThenGivesUp(t *testing.T) {
	proc := &funcProcessor{process: func(context.Context, queue.Job) error { return errors.New("boom") }}
	p := &Pool{Processor: proc, MaxAttempts: 3}

	job := testJob("x")
	var delays []time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		d := &fakeDelivery{job: job}
		p.Handle(context.Background(), d)
		delays = append(delays, d.retried...)
		if attempt < 3 && (d.acked || len(d.retried) != 1) {
			t.Fatalf("attempt %d should retry, got %+v", attempt, d)
		}
		if attempt == 3 && (!d.acked || len(d.retried) != 0) {
			t.Fatalf("last attempt should settle, got %+v", d)
		}
		job = job.Next()
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("unexpected backoff %v", delays)
	}
	if proc.gaveUp.Load() != 1 {
		t.Fatalf("expected one give up, got %d", proc.gaveUp.Load())
	}
}

func TestHandleAcksSuccess(t *testing.T) {
	proc := &funcProcessor{process: func(context.Context, queue.Job) error { return nil }}
	p := &Pool{Processor: proc}
	d := &fakeDelivery{job: testJob("x")}
	p.Handle(context.Background(), d)
	if !d.acked || len(d.retried) != 0 {
		t.Fatalf("expected ack, got %+v", d)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	q := memqueue.New(32)
	const jobs = 12
	for i := 0; i < jobs; i++ {
		_ = q.Enqueue(context.Background(), testJob(string(rune('a'+i))), 0)
	}

	var inFlight, peak, done atomic.Int32
	var once sync.Once
	finished := make(chan struct{})
	proc := &funcProcessor{process: func(ctx context.Context, job queue.Job) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		if done.Add(1) == jobs {
			once.Do(func() { close(finished) })
		}
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &Pool{Consumer: q, Processor: proc, Concurrency: 3}
	go p.Run(ctx)

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatalf("only %d of %d jobs processed", done.Load(), jobs)
	}
	if peak.Load() > 3 {
		t.Fatalf("concurrency exceeded: peak %d", peak.Load())
	}
}

type gatedConsumer struct {
	gated bool
	d     *fakeDelivery
}

func (c *gatedConsumer) PollConcurrent(ctx context.Context, workers int, h queue.Handler) error {
	h(ctx, c.d)
	return nil
}

func (c *gatedConsumer) PollGated(ctx context.Context, workers int, gate queue.Gate, h queue.Handler) error {
	c.gated = true
	if err := gate(ctx); err != nil {
		return err
	}
	h(ctx, c.d)
	return nil
}

func TestRunWaitsOnLimiterBeforeReceiving(t *testing.T) {
	c := &gatedConsumer{d: &fakeDelivery{job: testJob("a")}}
	proc := &funcProcessor{process: func(ctx context.Context, job queue.Job) error { return nil }}
	// one token: a second wait in the handler would block past the deadline
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	p := &Pool{Consumer: c, Processor: proc, Limiter: lim}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !c.gated {
		t.Fatalf("expected the limiter to gate receives")
	}
	if !c.d.acked {
		t.Fatalf("expected the job to be processed without a second wait")
	}
}
