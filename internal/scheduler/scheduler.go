// Package scheduler triggers migration runs on a cron cadence.
package scheduler

import (
	"context"
	"errors"
	"log"

	"github.com/robfig/cron"

	"github.com/gourab8389/migrata-new/internal/orchestrator"
)

// Trigger starts a migration run for a schedule.
type Trigger interface {
	StartRun(ctx context.Context, scheduleID string) (*orchestrator.RunHandle, error)
}

// Scheduler fires a fixed schedule id on a cron spec. A tick that loses the
// run lock is skipped silently; the next tick tries again.
type Scheduler struct {
	cron       *cron.Cron
	trigger    Trigger
	spec       string
	scheduleID string
}

func New(trigger Trigger, spec, scheduleID string) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		trigger:    trigger,
		spec:       spec,
		scheduleID: scheduleID,
	}
}

// Start registers the cron entry and starts ticking.
func (s *Scheduler) Start() error {
	if s.spec == "" || s.scheduleID == "" {
		return errors.New("cron spec and schedule id are required")
	}
	if err := s.cron.AddFunc(s.spec, s.fire); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("scheduler: schedule %s armed with spec %q", s.scheduleID, s.spec)
	return nil
}

// Stop halts the cron loop; an in-flight run keeps going.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) fire() {
	_, err := s.trigger.StartRun(context.Background(), s.scheduleID)
	switch {
	case err == nil:
		log.Printf("scheduler: triggered run for schedule %s", s.scheduleID)
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		log.Printf("scheduler: schedule %s skipped, run already in progress", s.scheduleID)
	default:
		log.Printf("scheduler: trigger schedule %s: %v", s.scheduleID, err)
	}
}
