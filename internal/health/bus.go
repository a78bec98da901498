// Package health implements the heartbeat bus and stall-recovery
// supervisor of spec 4.H: a process-wide map from thread role to
// last-alive timestamp, and a supervisor goroutine that watches it and
// orchestrates a rate-limited restart when a worker's heartbeat goes
// stale. Grounded on the state-plus-counters bookkeeping of the pack's
// tomtom215/lyrebirdaudio-go stream.Manager (attempts/failures counters,
// a backoff policy, a State enum) re-expressed in the teacher's plain
// log.Printf idiom rather than that file's slog usage, and driven by
// heartbeat age rather than process-exit detection.
package health

import (
	"sync"
	"time"
)

// Role names one of the pipeline's long-running workers in the heartbeat
// bus (spec §6 "Heartbeat bus"). Per-source audio workers use
// AudioSourceRole(deviceID) to get a distinct key per device.
type Role string

const (
	RoleCapture Role = "capture"
	RoleEncoder Role = "encoder"
	RoleMixer   Role = "mixer"
)

// AudioSourceRole returns the bus key for a per-device audio source
// worker, keyed by its opaque device id.
func AudioSourceRole(deviceID string) Role {
	return Role("audiosource:" + deviceID)
}

// Bus is the process-wide ThreadRole -> last-alive timestamp map spec §6
// describes. Writes are atomic under a mutex; readers compute age as
// now - last.
type Bus struct {
	mu   sync.Mutex
	last map[Role]time.Time
}

func NewBus() *Bus {
	return &Bus{last: make(map[Role]time.Time)}
}

// Beat records role as alive at the current time.
func (b *Bus) Beat(role Role) {
	b.mu.Lock()
	b.last[role] = time.Now()
	b.mu.Unlock()
}

// HeartbeatFunc returns a closure a worker can call on every loop
// iteration, the same shape audiosource.Worker and audiomixer.Mixer
// already accept.
func (b *Bus) HeartbeatFunc(role Role) func() {
	return func() { b.Beat(role) }
}

// Age returns how long ago role last beat, and whether it has ever beaten
// at all (a role that never registered is not considered stalled — it
// simply isn't running yet).
func (b *Bus) Age(role Role) (age time.Duration, known bool) {
	b.mu.Lock()
	last, ok := b.last[role]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	return time.Since(last), true
}

// Roles returns every role that has ever beaten, in no particular order.
func (b *Bus) Roles() []Role {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Role, 0, len(b.last))
	for r := range b.last {
		out = append(out, r)
	}
	return out
}

// Forget removes role from the bus, used by the supervisor when a worker
// is being torn down as part of recovery so a stale heartbeat from before
// the restart doesn't immediately re-trigger a stall.
func (b *Bus) Forget(role Role) {
	b.mu.Lock()
	delete(b.last, role)
	b.mu.Unlock()
}
