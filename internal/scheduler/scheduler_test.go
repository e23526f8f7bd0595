package scheduler

import (
	"context"
	"testing"

	"github.com/gourab8389/migrata-new/internal/orchestrator"
)

type fakeTrigger struct {
	calls int
	err   error
}

func (f *fakeTrigger) StartRun(context.Context, string) (*orchestrator.RunHandle, error) {
	f.calls++
	return nil, f.err
}

func TestFireTriggersRun(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, "@hourly", "sched1")
	s.fire()
	if trigger.calls != 1 {
		t.Fatalf("expected 1 trigger call, got %d", trigger.calls)
	}
}

func TestFireSkipsWhenRunActive(t *testing.T) {
	trigger := &fakeTrigger{err: orchestrator.ErrAlreadyRunning}
	s := New(trigger, "@hourly", "sched1")
	// Must not panic or propagate; the next tick retries.
	s.fire()
	s.fire()
	if trigger.calls != 2 {
		t.Fatalf("expected 2 trigger attempts, got %d", trigger.calls)
	}
}

func TestStartRequiresSpecAndSchedule(t *testing.T) {
	if err := New(&fakeTrigger{}, "", "sched1").Start(); err == nil {
		t.Fatal("expected error for empty spec")
	}
	if err := New(&fakeTrigger{}, "@hourly", "").Start(); err == nil {
		t.Fatal("expected error for empty schedule id")
	}
}

func TestStartAndStop(t *testing.T) {
	s := New(&fakeTrigger{}, "@every 1h", "sched1")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
