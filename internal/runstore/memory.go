package runstore

import (
	"context"
	"sync"

	"github.com/gourab8389/migrata-new/internal/schemadiff"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu    sync.Mutex
	runs  map[string]Run
	diffs map[string]schemadiff.Result
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  map[string]Run{},
		diffs: map[string]schemadiff.Result{},
	}
}

func (m *MemoryStore) SaveRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(run), nil
}

func (m *MemoryStore) LatestRun(_ context.Context, scheduleID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest Run
	found := false
	for _, run := range m.runs {
		if run.ScheduleID != scheduleID {
			continue
		}
		if !found || run.StartedAt.After(latest.StartedAt) {
			latest = run
			found = true
		}
	}
	if !found {
		return Run{}, ErrNotFound
	}
	return cloneRun(latest), nil
}

func (m *MemoryStore) SaveDiff(_ context.Context, res schemadiff.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffs[res.ScheduleID] = res
	return nil
}

func (m *MemoryStore) GetDiff(_ context.Context, scheduleID string) (schemadiff.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.diffs[scheduleID]
	if !ok {
		return schemadiff.Result{}, ErrNotFound
	}
	return res, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneRun(run Run) Run {
	out := run
	out.Objects = append([]ObjectOutcome(nil), run.Objects...)
	return out
}

var _ Store = (*MemoryStore)(nil)
