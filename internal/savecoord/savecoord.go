// Package savecoord implements the async save request/complete signaling
// of spec 4.I, grounded on the teacher's renderer/offscreen.go
// `errc := make(chan error, 1); go func(){ errc <- ... }()` pattern for
// off-hot-path work with a result channel, generalized from a single
// render-to-file call to a ring-snapshot-then-mux call.
package savecoord

import (
	"log"
	"sync/atomic"

	"github.com/replaycore/replaycore/internal/errs"
	"github.com/replaycore/replaycore/internal/muxer"
	"github.com/replaycore/replaycore/internal/ring"
)

// Result is posted on a save's notification channel on completion (spec
// §7: "reports ContainerWriteFailed/ContainerFinalizeFailed asynchronously
// through the completion channel with a boolean success and the kind").
type Result struct {
	Success bool
	Kind    errs.Kind // zero value when Success is true
	Err     error
}

// Coordinator owns no state of its own beyond the in-flight flag; the
// video/audio rings and sequence-header accessor it snapshots, and the
// pipeline-state hooks it reports through, are supplied by the pipeline
// controller that embeds it.
type Coordinator struct {
	videoRing  *ring.Ring
	audioRing  *ring.Ring
	seqHeader  func() []byte
	canSave    func() bool
	setSaving  func(bool)
	inProgress int32 // atomic bool
}

// New wires a Coordinator to the controller's rings and state hooks.
// canSave reports whether the pipeline is currently in a state that
// allows a save (Capturing, per spec 4.I); setSaving(true/false) flips
// the controller's overall state to/from Saving around the snapshot+mux.
func New(videoRing, audioRing *ring.Ring, seqHeader func() []byte, canSave func() bool, setSaving func(bool)) *Coordinator {
	return &Coordinator{
		videoRing: videoRing,
		audioRing: audioRing,
		seqHeader: seqHeader,
		canSave:   canSave,
		setSaving: setSaving,
	}
}

// IsSaving reports whether a save is currently in flight.
func (c *Coordinator) IsSaving() bool { return atomic.LoadInt32(&c.inProgress) == 1 }

// SaveAsync enqueues a save to path and returns immediately, true iff the
// pipeline was Capturing and no save was already in progress (spec 4.I).
// Completion is posted on notify, if non-nil, with a success boolean.
func (c *Coordinator) SaveAsync(path string, notify chan<- Result) bool {
	if c.canSave != nil && !c.canSave() {
		return false
	}
	if !atomic.CompareAndSwapInt32(&c.inProgress, 0, 1) {
		return false
	}
	go c.run(path, notify)
	return true
}

// run is the save worker: set Saving, snapshot both rings, mux off the hot
// path, restore state, and report.
func (c *Coordinator) run(path string, notify chan<- Result) {
	if c.setSaving != nil {
		c.setSaving(true)
	}

	video, warnVideo := c.videoRing.Snapshot()
	if warnVideo {
		log.Printf("savecoord: oldest retained video packet is not a keyframe; save may not be seekable from its start")
	}
	audioPackets, _ := c.audioRing.Snapshot()

	var seqHeader []byte
	if c.seqHeader != nil {
		seqHeader = c.seqHeader()
	}

	err := muxer.Mux(video, audioPackets, seqHeader, path)
	result := Result{Success: err == nil}
	if err != nil {
		result.Err = err
		if e, ok := err.(*errs.Error); ok {
			result.Kind = e.Kind
		} else {
			result.Kind = errs.ContainerWriteFailed
		}
		log.Printf("savecoord: save to %s failed: %v", path, err)
	} else {
		log.Printf("savecoord: saved %s (%d video, %d audio samples)", path, len(video), len(audioPackets))
	}

	atomic.StoreInt32(&c.inProgress, 0)
	if c.setSaving != nil {
		c.setSaving(false)
	}

	if notify != nil {
		notify <- result
	}
}
