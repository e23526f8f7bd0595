// Package notify delivers run completion notifications. Delivery is best
// effort: a failed notification never fails the run.
package notify

import (
	"context"
	"log"

	"github.com/gourab8389/migrata-new/internal/runstore"
)

// Notifier receives run completion events.
type Notifier interface {
	RunCompleted(ctx context.Context, run runstore.Run)
}

// LogNotifier writes completion summaries to the process log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) RunCompleted(_ context.Context, run runstore.Run) {
	total := runstore.ObjectOutcome{}
	for _, o := range run.Objects {
		total.Inserted += o.Inserted
		total.Updated += o.Updated
		total.Failed += o.Failed
	}
	log.Printf("notify: run %s (schedule %s) finished %s: %d objects, inserted=%d updated=%d failed=%d",
		run.ID, run.ScheduleID, run.Status, len(run.Objects), total.Inserted, total.Updated, total.Failed)
}

// Multi fans a completion event out to several notifiers.
type Multi []Notifier

func (m Multi) RunCompleted(ctx context.Context, run runstore.Run) {
	for _, n := range m {
		n.RunCompleted(ctx, run)
	}
}
