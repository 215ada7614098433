// Package scheduler runs periodic maintenance on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSpec = "@every 30s"

// Starter starts scheduled campaigns whose time has come.
type Starter interface {
	StartDue(ctx context.Context) (int, error)
}

type Scheduler struct {
	Starter Starter
	Spec    string
	Timeout time.Duration

	mu sync.Mutex
	c  *cron.Cron
}

// Start registers the due-campaign sweep and starts the cron loop. Each run
// derives its context from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	spec := s.Spec
	if spec == "" {
		spec = DefaultSpec
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	slog.Info("scheduler started", "spec", spec)
	return nil
}

// RunOnce performs one sweep.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := s.Starter.StartDue(ctx)
	if err != nil {
		slog.Error("scheduled campaign sweep failed", "err", err)
		return n
	}
	if n > 0 {
		slog.Info("scheduled campaigns started", "count", n)
	}
	return n
}

// Stop halts the cron loop and waits for a running sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
