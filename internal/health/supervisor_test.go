package health

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/replaycore/replaycore/internal/errs"
)

func tinyConfig() Config {
	return Config{
		SoftThreshold:  20 * time.Millisecond,
		HardThreshold:  40 * time.Millisecond,
		CheckInterval:  10 * time.Millisecond,
		RecoveryWait:   30 * time.Millisecond,
		GracePeriod:    60 * time.Millisecond,
		MaxRecoveries:  3,
		RecoveryWindow: time.Second,
	}
}

// TestStallTriggersRestartNotification mirrors spec scenario 6: a frozen
// worker whose heartbeat goes stale past the hard threshold yields a
// Stalled restart notification classified as a buffer stall, after the
// pipeline's stop signal has been requested exactly once.
func TestStallTriggersRestartNotification(t *testing.T) {
	bus := NewBus()
	bus.Beat(RoleCapture)

	var stopCalls int32
	s := New(bus, tinyConfig(), func() map[Role]*WorkerHandle { return nil }, func() {
		atomic.AddInt32(&stopCalls, 1)
	}, nil)
	go s.Run()
	defer s.Stop()

	select {
	case n := <-s.Notifications():
		if n.Kind != errs.Stalled {
			t.Fatalf("expected Stalled notification, got %v", n.Kind)
		}
		if n.StallKind != StallBuffer {
			t.Fatalf("expected StallBuffer for a lone capture stall, got %v", n.StallKind)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a stall notification")
	}

	if atomic.LoadInt32(&stopCalls) != 1 {
		t.Fatalf("expected requestStop called once, got %d", stopCalls)
	}
}

// TestPermanentFailureAfterMaxRecoveries mirrors spec scenario 6's tail:
// freezing the same worker repeatedly within the recovery window should
// hit PermanentFailure on the (MaxRecoveries+1)th stall, and the
// supervisor stops monitoring afterward.
func TestPermanentFailureAfterMaxRecoveries(t *testing.T) {
	bus := NewBus()
	cfg := tinyConfig()
	cfg.GracePeriod = 5 * time.Millisecond // shrink so the test runs quickly

	s := New(bus, cfg, func() map[Role]*WorkerHandle { return nil }, func() {}, nil)

	var kinds []errs.Kind
	for i := 0; i < cfg.MaxRecoveries+1; i++ {
		bus.Beat(RoleCapture)
		atomic.StoreInt32(&s.stop, 0)
		go s.Run()
		select {
		case n := <-s.Notifications():
			kinds = append(kinds, n.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: expected a notification", i)
		}
		s.Stop()
		time.Sleep(cfg.CheckInterval * 2) // let Run observe the stop flag and exit
	}

	for i, k := range kinds {
		if i < cfg.MaxRecoveries && k != errs.Stalled {
			t.Fatalf("expected Stalled at iteration %d, got %v", i, k)
		}
	}
	if kinds[len(kinds)-1] != errs.PermanentFailure {
		t.Fatalf("expected PermanentFailure on the final iteration, got %v", kinds[len(kinds)-1])
	}
}

func TestMultipleStalledRolesClassifiedAsMultiple(t *testing.T) {
	if got := classify([]Role{RoleCapture, RoleMixer}); got != StallMultiple {
		t.Fatalf("expected StallMultiple, got %v", got)
	}
	if got := classify([]Role{RoleEncoder}); got != StallEncoder {
		t.Fatalf("expected StallEncoder, got %v", got)
	}
	if got := classify([]Role{RoleCapture}); got != StallBuffer {
		t.Fatalf("expected StallBuffer, got %v", got)
	}
}

func TestWorkerHandleStateTransitions(t *testing.T) {
	h := NewWorkerHandle()
	if h.State() != ThreadRunning {
		t.Fatalf("expected ThreadRunning before Done closes")
	}
	close(h.Done)
	if h.State() != ThreadExited {
		t.Fatalf("expected ThreadExited for a clean close")
	}

	h2 := NewWorkerHandle()
	h2.MarkCrashed()
	close(h2.Done)
	if h2.State() != ThreadCrashed {
		t.Fatalf("expected ThreadCrashed when MarkCrashed preceded Done closing")
	}
}
