package orchestrator

import "errors"

// ErrAlreadyRunning is returned when a run trigger loses the lock race.
var ErrAlreadyRunning = errors.New("a migration run is already in progress")

// RunLock is a single-permit lock shared by every run trigger (HTTP and
// scheduler), so at most one migration run is in flight process-wide.
type RunLock struct {
	sem chan struct{}
}

func NewRunLock() *RunLock {
	return &RunLock{sem: make(chan struct{}, 1)}
}

// TryAcquire takes the permit without blocking.
func (l *RunLock) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns the permit. Releasing an unheld lock is a no-op.
func (l *RunLock) Release() {
	select {
	case <-l.sem:
	default:
	}
}

// Held reports whether the permit is currently taken.
func (l *RunLock) Held() bool {
	return len(l.sem) == 1
}
