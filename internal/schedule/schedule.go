// Package schedule re-runs a job on a cron expression until cancelled.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
)

// Job is one scheduled run. Errors are logged and the schedule continues.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron string
	job  Job

	// Immediate runs the job once before the first tick.
	Immediate bool

	retryDelay time.Duration
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	running bool
	runs    int
}

func New(cron string, job Job) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid cron expression %q", cron)
	}
	return &Scheduler{
		cron:       cron,
		job:        job,
		retryDelay: 30 * time.Second,
		now:        time.Now,
		after:      time.After,
	}, nil
}

// Runs reports how many times the job has started.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("schedule_started", "cron", s.cron, "immediate", s.Immediate)
	if s.Immediate {
		s.runJob(ctx)
	}
	for {
		if ctx.Err() != nil {
			logger.Info("schedule_stopped", "cron", s.cron, "runs", s.Runs())
			return nil
		}
		now := s.now()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err != nil {
			logger.Error("schedule_nexttick_failed", "cron", s.cron, "error", err)
			s.wait(ctx, s.retryDelay)
			continue
		}
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		logger.Debug("schedule_next_tick", "at", next, "wait", wait)
		if s.wait(ctx, wait) {
			s.runJob(ctx)
		}
	}
}

// wait reports false when ctx ended first.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-s.after(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runs++
	run := s.runs
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		logger.Error("schedule_run_failed", "run", run, "error", err, "elapsed", time.Since(start))
		return
	}
	logger.Info("schedule_run_done", "run", run, "elapsed", time.Since(start))
}
