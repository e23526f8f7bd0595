// Package runstore persists migration runs and schema diff results. It is
// the single source of truth for run status queries.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/gourab8389/migrata-new/internal/schemadiff"
)

// Run status values.
const (
	StatusQueued     = "Queued"
	StatusInProgress = "In-Progress"
	StatusSuccess    = "Success"
	StatusFailed     = "Failed"
)

// ErrNotFound is returned when no run or diff matches the query.
var ErrNotFound = errors.New("not found")

// ObjectOutcome is the per-object result inside a run.
type ObjectOutcome struct {
	Object     string    `json:"object"`
	Status     string    `json:"status,omitempty"`
	Fetched    int       `json:"fetched"`
	Staged     int       `json:"staged"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped,omitempty"`
	Error      string    `json:"error,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Run is one migration run record.
type Run struct {
	ID          string          `json:"id"`
	ScheduleID  string          `json:"scheduleId"`
	BatchID     string          `json:"batchId,omitempty"`
	SourceOrg   string          `json:"sourceOrg,omitempty"`
	TargetOrg   string          `json:"targetOrg,omitempty"`
	Status      string          `json:"status"`
	ObjectOrder []string        `json:"objectOrder,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	Objects     []ObjectOutcome `json:"objects,omitempty"`
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

// Store persists runs and diff results.
type Store interface {
	// SaveRun inserts or replaces the run by id.
	SaveRun(ctx context.Context, run Run) error

	// GetRun fetches a run by id; ErrNotFound when absent.
	GetRun(ctx context.Context, id string) (Run, error)

	// LatestRun fetches the most recently started run for a schedule;
	// ErrNotFound when the schedule never ran.
	LatestRun(ctx context.Context, scheduleID string) (Run, error)

	// SaveDiff inserts or replaces the diff result for its schedule.
	SaveDiff(ctx context.Context, res schemadiff.Result) error

	// GetDiff fetches the stored diff result; ErrNotFound when absent.
	GetDiff(ctx context.Context, scheduleID string) (schemadiff.Result, error)

	Close() error
}
