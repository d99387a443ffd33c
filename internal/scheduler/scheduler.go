// Package scheduler periodically reloads the rule registry so that rule
// edits made on other nodes converge even when a bus notification is lost.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultReloadSpec is used when no spec is configured.
const DefaultReloadSpec = "@every 5m"

// ReloadFunc performs one reload.
type ReloadFunc func(ctx context.Context) error

// Scheduler runs registry reloads on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	reload  ReloadFunc
	timeout time.Duration

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// New creates a scheduler that calls reload on spec. Overlapping runs are
// skipped.
func New(spec string, reload ReloadFunc) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultReloadSpec
	}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DiscardLogger),
		)),
		reload:  reload,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid reload spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := s.reload(ctx)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		slog.Error("scheduled rule reload failed", "error", err)
		return
	}
	slog.Debug("scheduled rule reload done", "duration_ms", time.Since(start).Milliseconds())
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running reload to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// LastRun returns the start time and outcome of the most recent reload.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
