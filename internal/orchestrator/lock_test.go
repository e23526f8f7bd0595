package orchestrator

import "testing"

func TestRunLockSinglePermit(t *testing.T) {
	l := NewRunLock()
	if !l.TryAcquire() {
		t.Fatal("fresh lock must be acquirable")
	}
	if l.TryAcquire() {
		t.Fatal("second acquire must fail while held")
	}
	if !l.Held() {
		t.Fatal("lock should report held")
	}
	l.Release()
	if l.Held() {
		t.Fatal("lock should report free after release")
	}
	if !l.TryAcquire() {
		t.Fatal("lock must be reusable after release")
	}
}

func TestRunLockReleaseUnheldIsNoop(t *testing.T) {
	l := NewRunLock()
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("unheld release must not corrupt the permit")
	}
}
