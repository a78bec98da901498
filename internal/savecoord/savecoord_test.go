package savecoord

import (
	"testing"
	"time"

	"github.com/replaycore/replaycore/internal/errs"
	"github.com/replaycore/replaycore/internal/ring"
)

func TestSaveAsyncRejectsWhenNotCapturing(t *testing.T) {
	c := New(ring.New(4, 1e9), ring.New(4, 1e9), nil, func() bool { return false }, nil)
	if c.SaveAsync("/tmp/out.mp4", nil) {
		t.Fatal("expected SaveAsync to reject when canSave reports false")
	}
}

func TestSaveAsyncRejectsWhenAlreadyInProgress(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := New(ring.New(4, 1e9), ring.New(4, 1e9), nil, func() bool { return true }, func(saving bool) {
		if saving {
			close(started)
			<-release
		}
	})

	notify := make(chan Result, 1)
	if !c.SaveAsync("/tmp/out.mp4", notify) {
		t.Fatal("expected first SaveAsync to be accepted")
	}
	<-started

	if c.SaveAsync("/tmp/out2.mp4", nil) {
		t.Fatal("expected concurrent SaveAsync to be rejected while a save is in progress")
	}
	if !c.IsSaving() {
		t.Fatal("expected IsSaving to report true while a save is in progress")
	}
	close(release)

	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the first save to complete")
	}
}

func TestSaveAsyncReportsFailureForEmptyVideoRing(t *testing.T) {
	var sawSaving, sawCapturing bool
	c := New(ring.New(4, 1e9), ring.New(4, 1e9), nil, func() bool { return true }, func(saving bool) {
		if saving {
			sawSaving = true
		} else {
			sawCapturing = true
		}
	})

	notify := make(chan Result, 1)
	if !c.SaveAsync("/tmp/out.mp4", notify) {
		t.Fatal("expected SaveAsync to be accepted")
	}

	var res Result
	select {
	case res = <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a completion result")
	}

	if res.Success {
		t.Fatal("expected failure when the video ring is empty")
	}
	if res.Kind != errs.ContainerWriteFailed {
		t.Fatalf("expected ContainerWriteFailed, got %v", res.Kind)
	}
	if !sawSaving || !sawCapturing {
		t.Fatal("expected setSaving(true) then setSaving(false) around the save")
	}
	if c.IsSaving() {
		t.Fatal("expected IsSaving to report false after completion")
	}
}
