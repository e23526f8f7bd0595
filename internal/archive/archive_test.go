package archive

import (
	"context"
	"testing"
	"time"

	"github.com/gourab8389/migrata-new/internal/runstore"
)

func TestSaveAndGetReport(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	arch := NewArchiver(store, "migration-reports")
	ctx := context.Background()

	run := runstore.Run{
		ID:         "r1",
		ScheduleID: "s1",
		Status:     runstore.StatusSuccess,
		StartedAt:  time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
		Objects:    []runstore.ObjectOutcome{{Object: "Account", Inserted: 10}},
	}
	if err := arch.SaveReport(ctx, run); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := arch.GetReport(ctx, "s1", "r1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Status != runstore.StatusSuccess || got.Objects[0].Inserted != 10 {
		t.Fatalf("report round trip lost data: %+v", got)
	}
}

func TestListReportsScopedToSchedule(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	arch := NewArchiver(store, "migration-reports")
	ctx := context.Background()

	for _, run := range []runstore.Run{
		{ID: "r1", ScheduleID: "s1"},
		{ID: "r2", ScheduleID: "s1"},
		{ID: "r3", ScheduleID: "s2"},
	} {
		if err := arch.SaveReport(ctx, run); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}

	keys, err := arch.ListReports(ctx, "s1")
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 reports for s1, got %v", keys)
	}
}

func TestLocalStoreListPrefixMissingBucket(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	keys, err := store.ListPrefix(context.Background(), "nope", "reports/")
	if err != nil {
		t.Fatalf("ListPrefix on missing bucket must not fail: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}
