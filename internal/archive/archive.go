// Package archive writes finished run reports to an object store so they
// survive run-store retention and can be pulled for audits.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/gourab8389/migrata-new/internal/runstore"
)

// ObjectStore abstracts the minimal object operations report archival needs.
type ObjectStore interface {
	Ping(ctx context.Context) error
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Archiver snapshots run reports into one bucket.
type Archiver struct {
	store  ObjectStore
	bucket string
}

func NewArchiver(store ObjectStore, bucket string) *Archiver {
	return &Archiver{store: store, bucket: bucket}
}

func reportKey(run runstore.Run) string {
	return fmt.Sprintf("reports/%s/%s.json", run.ScheduleID, run.ID)
}

// SaveReport writes the run as a JSON object. Callers treat archival as
// best effort; the run result stands regardless.
func (a *Archiver) SaveReport(ctx context.Context, run runstore.Run) error {
	if err := a.store.EnsureBucket(ctx, a.bucket); err != nil {
		return err
	}
	doc, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	if err := a.store.PutObject(ctx, a.bucket, reportKey(run), doc); err != nil {
		return err
	}
	log.Printf("archive: stored report %s", reportKey(run))
	return nil
}

// GetReport fetches one archived run.
func (a *Archiver) GetReport(ctx context.Context, scheduleID, runID string) (runstore.Run, error) {
	data, err := a.store.GetObject(ctx, a.bucket,
		reportKey(runstore.Run{ScheduleID: scheduleID, ID: runID}))
	if err != nil {
		return runstore.Run{}, err
	}
	var run runstore.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return runstore.Run{}, err
	}
	return run, nil
}

// ListReports returns the archived report keys for a schedule, sorted.
func (a *Archiver) ListReports(ctx context.Context, scheduleID string) ([]string, error) {
	keys, err := a.store.ListPrefix(ctx, a.bucket, "reports/"+scheduleID+"/")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// WaitReachable polls Ping until the store answers or the deadline passes.
func WaitReachable(ctx context.Context, store ObjectStore, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := store.Ping(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
