package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stackpilot/stackpilot/internal/logging"
)

// Scheduler fires backup runs in-process on the configured cron
// schedule. Serve mode uses it so backups happen even on hosts where the
// crontab entry was never installed.
type Scheduler struct {
	manager  *Manager
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	lastRun time.Time
}

// NewScheduler creates a scheduler over the manager.
func NewScheduler(manager *Manager, schedule string) *Scheduler {
	return &Scheduler{manager: manager, schedule: schedule}
}

// Start begins firing on the schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New()
	entry, err := c.AddFunc(s.schedule, func() { s.fire(ctx) })
	if err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	logging.L().Info("backup scheduler started",
		"schedule", s.schedule,
		"next_run", c.Entry(entry).Next,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule. In-flight runs finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
		logging.L().Info("backup scheduler stopped")
	}
}

// NextRun reports when the next scheduled backup fires.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}, false
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}

// LastRun reports when the scheduler last fired.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) fire(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logging.L().Warn("backup still running, skipping scheduled fire")
		return
	}
	s.running = true
	s.lastRun = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.manager.Run(ctx, "schedule"); err != nil {
		logging.L().Error("scheduled backup failed", "error", err)
	}
}
