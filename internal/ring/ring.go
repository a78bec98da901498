// Package ring implements the bounded, time-retention sample ring shared by
// the video and audio encoded-packet paths (spec 4.C/4.D). It generalizes the
// mutex-protected circular-buffer shape of the teacher's
// audio.SharedAudioBuffer from fixed-size float32 samples to variable-size
// owned packets with duration-based eviction.
package ring

import (
	"sync"

	"github.com/replaycore/replaycore/internal/types"
)

// Ring is a thread-safe FIFO of owned encoded packets, retaining at most
// MaxDuration (100-ns units) worth of content and at most Capacity slots.
type Ring struct {
	mu       sync.Mutex
	slots    []*types.Packet
	head     int
	tail     int
	count    int
	capacity int

	totalDuration int64
	maxDuration   int64
}

// New creates a ring with the given slot capacity and maximum retained
// duration (100-ns units). Capacity should be ceil(duration*fps*1.5) for the
// video ring, clamped to a sane minimum, per spec §3.
func New(capacity int, maxDuration int64) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		slots:       make([]*types.Packet, capacity),
		capacity:    capacity,
		maxDuration: maxDuration,
	}
}

// Add evicts from the tail while the ring is over-capacity or over-duration,
// then emplaces packet at head. Ownership of packet.Data transfers to the
// ring; callers must not mutate it afterward.
func (r *Ring) Add(packet *types.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count > 0 && (r.totalDuration+packet.Duration > r.maxDuration || r.count == r.capacity) {
		evicted := r.slots[r.tail]
		r.slots[r.tail] = nil
		r.totalDuration -= evicted.Duration
		r.tail = (r.tail + 1) % r.capacity
		r.count--
	}

	r.slots[r.head] = packet
	r.head = (r.head + 1) % r.capacity
	r.count++
	r.totalDuration += packet.Duration
}

// GetDuration returns the total retained duration in 100-ns units.
func (r *Ring) GetDuration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalDuration
}

// GetCount returns the number of occupied slots.
func (r *Ring) GetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// GetMemoryUsage returns the sum of occupied packets' payload sizes in bytes.
func (r *Ring) GetMemoryUsage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	idx := r.tail
	for i := 0; i < r.count; i++ {
		total += len(r.slots[idx].Data)
		idx = (idx + 1) % r.capacity
	}
	return total
}

// Clear frees every occupied slot and resets the ring to empty.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.head, r.tail, r.count, r.totalDuration = 0, 0, 0, 0
}

// Snapshot clones every occupied packet in tail-to-head (oldest-to-newest,
// i.e. timestamp) order and returns it. Cloning out, rather than holding the
// lock for the muxer's whole read, satisfies the save-isolation invariant:
// a packet being written by the muxer can never be freed by a concurrent Add.
// warnNonKeyframe reports whether the oldest retained packet is not a
// keyframe (video-only concern; always false for an audio ring since
// Keyframe is meaningless there).
func (r *Ring) Snapshot() (packets []*types.Packet, warnNonKeyframe bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packets = make([]*types.Packet, 0, r.count)
	idx := r.tail
	for i := 0; i < r.count; i++ {
		packets = append(packets, r.slots[idx].Clone())
		idx = (idx + 1) % r.capacity
	}
	if len(packets) > 0 && packets[0].Codec != types.CodecAAC && !packets[0].Keyframe {
		warnNonKeyframe = true
	}
	return packets, warnNonKeyframe
}
