package orchestrator

import (
	"sync"

	"github.com/gourab8389/migrata-new/internal/runstore"
)

// RunHandle tracks one background run. Callers may wait on Done or poll the
// run store; the handle never exposes the goroutine itself.
type RunHandle struct {
	RunID string

	mu     sync.Mutex
	done   chan struct{}
	result runstore.Run
}

func newRunHandle(runID string) *RunHandle {
	return &RunHandle{RunID: runID, done: make(chan struct{})}
}

// Done closes when the run reaches a terminal state.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Result returns the final run record. Valid only after Done is closed;
// before that it returns the zero Run.
func (h *RunHandle) Result() runstore.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *RunHandle) finish(run runstore.Run) {
	h.mu.Lock()
	h.result = run
	h.mu.Unlock()
	close(h.done)
}
