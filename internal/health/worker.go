package health

import "sync/atomic"

// ThreadState distinguishes a hung worker (still Running — its resources
// must not be reclaimed) from one that has exited, and whether an exited
// worker crashed (non-zero exit, resources reclaimable) or stopped
// cleanly. Mirrors spec 4.H step 2's GetThreadState contract; on this
// runtime a goroutine has no kernel-level exit code, so "crashed" is
// whatever MarkCrashed records before the handle's Done channel closes.
type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadExited
	ThreadCrashed
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "Running"
	case ThreadCrashed:
		return "Crashed"
	default:
		return "Exited"
	}
}

// WorkerHandle is the per-role handle the supervisor's recovery path
// queries via State() and waits on via Done, standing in for the kernel
// thread handle spec 4.H's GetThreadState/WaitForSingleObject describe.
type WorkerHandle struct {
	Done    chan struct{}
	crashed atomic.Bool
}

func NewWorkerHandle() *WorkerHandle {
	return &WorkerHandle{Done: make(chan struct{})}
}

// MarkCrashed records that the worker is exiting abnormally. Call before
// closing Done; a worker that never calls this and simply closes Done is
// treated as having exited cleanly.
func (h *WorkerHandle) MarkCrashed() { h.crashed.Store(true) }

// State reports the worker's current lifecycle state.
func (h *WorkerHandle) State() ThreadState {
	select {
	case <-h.Done:
		if h.crashed.Load() {
			return ThreadCrashed
		}
		return ThreadExited
	default:
		return ThreadRunning
	}
}
