package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule triggers a sweep every two hours.
const DefaultSchedule = "@every 2h"

// Service drives a Scheduler from a cron timer. A sweep also runs right
// after Start; the global interval decides whether it does any work.
type Service struct {
	sched    *Scheduler
	schedule string
	logger   *zap.Logger

	// OnSweep is called after every timer-driven sweep.
	OnSweep func(res SweepResult, err error)

	stopMu  sync.Mutex
	mu      sync.Mutex
	cron    *rcron.Cron
	entryID rcron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	running sync.WaitGroup
}

// NewService wraps sched. An empty schedule means DefaultSchedule.
func NewService(sched *Scheduler, schedule string, logger *zap.Logger) *Service {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sched: sched, schedule: schedule, logger: logger.Named("service")}
}

// Start registers the sweep job and starts the timer. Cancelling ctx stops
// the service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return errors.New("service already started")
	}
	c := rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger)))
	id, err := c.AddFunc(s.schedule, s.tick)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("register schedule %q: %w", s.schedule, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.cron = c
	s.entryID = id
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.mu.Unlock()

	c.Start()
	s.logger.Info("started", zap.String("schedule", s.schedule), zap.Int("voices", len(s.sched.Voices())))

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.tick()
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	res, err := s.sched.Sweep(ctx, SweepOptions{})
	switch {
	case err != nil:
		s.logger.Warn("sweep abandoned", zap.Error(err))
	case res.Skipped:
		s.logger.Debug("sweep skipped, global interval not elapsed")
	}
	if s.OnSweep != nil {
		s.OnSweep(res, err)
	}
}

// Force runs a forced sweep now. The timer schedule is unaffected.
func (s *Service) Force(ctx context.Context, cooldownOverride bool) (SweepResult, error) {
	return s.sched.Sweep(ctx, SweepOptions{Force: true, OverrideCooldown: cooldownOverride})
}

// Next returns the next timer-driven sweep, or zero when stopped.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop cancels any running sweep and waits for it to return. Concurrent
// calls all return after the service has stopped.
func (s *Service) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	stopCh := s.stopCh
	s.cron = nil
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	close(stopCh)

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("stop timeout waiting for running sweep")
	}
	s.running.Wait()
	s.logger.Info("stopped")
}
