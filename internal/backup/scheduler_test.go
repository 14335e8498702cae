package backup

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	m, _, _ := managerFixture(t)
	s := NewScheduler(m, "not a schedule")
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("bad schedule accepted")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	m, _, _ := managerFixture(t)
	s := NewScheduler(m, "0 2 * * *")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("double start accepted")
	}

	next, ok := s.NextRun()
	if !ok || !next.After(time.Now()) {
		t.Fatalf("next run not in the future: %v %v", next, ok)
	}

	s.Stop()
	if _, ok := s.NextRun(); ok {
		t.Fatal("stopped scheduler still reports a next run")
	}
}
