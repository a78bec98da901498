package health

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/replaycore/replaycore/internal/errs"
)

// StallKind classifies which part of the pipeline a detected stall points
// at (spec 4.H step 2's StallKind ∈ {buffer, encoder, multiple}).
type StallKind int

const (
	StallBuffer StallKind = iota
	StallEncoder
	StallMultiple
)

func (k StallKind) String() string {
	switch k {
	case StallEncoder:
		return "encoder"
	case StallMultiple:
		return "multiple"
	default:
		return "buffer"
	}
}

// Notification is what the supervisor posts to its notify channel: either
// a Stalled event (a restart was requested and performed) or a
// PermanentFailure (too many restarts within the recovery window; the
// pipeline stops and is not restarted).
type Notification struct {
	Kind      errs.Kind // errs.Stalled or errs.PermanentFailure
	StallKind StallKind
	Roles     []Role
	Message   string
}

// Config holds the supervisor's tunables, defaulting to the values
// spec 4.H names.
type Config struct {
	SoftThreshold  time.Duration // T_soft, ~2s
	HardThreshold  time.Duration // T_hard, ~5s
	CheckInterval  time.Duration // P_h, ~500ms
	RecoveryWait   time.Duration // T_rec, ~5s: join timeout during recovery
	GracePeriod    time.Duration // T_grace, ~10s: suppression after a restart
	MaxRecoveries  int           // M_rec, 3
	RecoveryWindow time.Duration // W_rec, 5min
}

// DefaultConfig returns spec 4.H's named defaults.
func DefaultConfig() Config {
	return Config{
		SoftThreshold:  2 * time.Second,
		HardThreshold:  5 * time.Second,
		CheckInterval:  500 * time.Millisecond,
		RecoveryWait:   5 * time.Second,
		GracePeriod:    10 * time.Second,
		MaxRecoveries:  3,
		RecoveryWindow: 5 * time.Minute,
	}
}

// FromMillis overrides Soft/Hard/CheckInterval from the config keys spec
// §6 recognizes (health.softThresholdMs etc.), keeping the recovery-path
// tunables at their defaults.
func FromMillis(softMs, hardMs, checkMs int) Config {
	cfg := DefaultConfig()
	if softMs > 0 {
		cfg.SoftThreshold = time.Duration(softMs) * time.Millisecond
	}
	if hardMs > 0 {
		cfg.HardThreshold = time.Duration(hardMs) * time.Millisecond
	}
	if checkMs > 0 {
		cfg.CheckInterval = time.Duration(checkMs) * time.Millisecond
	}
	return cfg
}

// Supervisor is the dedicated thread of spec 4.H: it wakes every
// CheckInterval, ages every known role against Soft/Hard thresholds, and
// on a hard stall orchestrates recovery — disable monitoring, query
// thread state, signal stop, wait with a timeout, best-effort encoder
// cleanup, record the restart, and either request a restart or declare
// permanent failure.
type Supervisor struct {
	bus    *Bus
	cfg    Config
	notify chan Notification

	handles        func() map[Role]*WorkerHandle
	requestStop    func()
	encoderCleanup func()

	warned     map[Role]bool
	restarts   []time.Time
	graceUntil time.Time

	stop int32 // atomic bool
}

// New builds a supervisor. handles returns the current set of worker
// handles keyed by Role (used for GetThreadState and the post-stop wait);
// requestStop signals the pipeline's stop-event; encoderCleanup is the
// best-effort GPU-session release entry point spec 4.H step 4 calls.
func New(bus *Bus, cfg Config, handles func() map[Role]*WorkerHandle, requestStop func(), encoderCleanup func()) *Supervisor {
	return &Supervisor{
		bus:            bus,
		cfg:            cfg,
		notify:         make(chan Notification, 4),
		handles:        handles,
		requestStop:    requestStop,
		encoderCleanup: encoderCleanup,
		warned:         make(map[Role]bool),
	}
}

// Notifications returns the channel Stalled/PermanentFailure events are
// posted on, for the host ("UI") to subscribe to — it owns the apartment
// needed to actually call Start again (spec 4.H step 6).
func (s *Supervisor) Notifications() <-chan Notification { return s.notify }

// Stop ends the supervisor's monitoring loop. Safe to call multiple times.
func (s *Supervisor) Stop() { atomic.StoreInt32(&s.stop, 1) }

// Run is the supervisor's check-interval loop (spec 4.H). It returns once
// Stop is called or a PermanentFailure has been declared.
func (s *Supervisor) Run() {
	for atomic.LoadInt32(&s.stop) == 0 {
		time.Sleep(s.cfg.CheckInterval)
		if atomic.LoadInt32(&s.stop) == 1 {
			return
		}
		if time.Now().Before(s.graceUntil) {
			continue // stall detection suppressed during the post-restart grace period
		}
		s.check()
	}
}

// check ages every known role once and either warns or escalates to
// recovery.
func (s *Supervisor) check() {
	var stalled []Role
	for _, role := range s.bus.Roles() {
		age, known := s.bus.Age(role)
		if !known {
			continue
		}
		switch {
		case age > s.cfg.HardThreshold:
			stalled = append(stalled, role)
		case age > s.cfg.SoftThreshold:
			if !s.warned[role] {
				log.Printf("health: %s heartbeat age %s exceeds soft threshold %s", role, age, s.cfg.SoftThreshold)
				s.warned[role] = true
			}
		default:
			s.warned[role] = false
		}
	}
	if len(stalled) > 0 {
		s.recover(stalled)
	}
}

func classify(stalled []Role) StallKind {
	if len(stalled) > 1 {
		return StallMultiple
	}
	if stalled[0] == RoleEncoder {
		return StallEncoder
	}
	return StallBuffer
}

// recover runs spec 4.H's steps 1-7: disable monitoring, inspect and
// signal each stalled worker, best-effort encoder cleanup, record the
// restart, and notify either a restart request or permanent failure.
func (s *Supervisor) recover(stalled []Role) {
	kind := classify(stalled)
	log.Printf("health: stall declared (%s) for roles %v", kind, stalled)

	handles := map[Role]*WorkerHandle{}
	if s.handles != nil {
		handles = s.handles()
	}
	for _, role := range stalled {
		h, ok := handles[role]
		if !ok {
			continue
		}
		switch h.State() {
		case ThreadRunning:
			log.Printf("health: %s is hung (Running); its resources will not be reclaimed", role)
		case ThreadCrashed:
			log.Printf("health: %s crashed; its resources are reclaimable", role)
		case ThreadExited:
			log.Printf("health: %s had already exited cleanly before the stall check", role)
		}
	}

	if s.requestStop != nil {
		s.requestStop()
	}

	deadline := time.Now().Add(s.cfg.RecoveryWait)
	for _, role := range stalled {
		h, ok := handles[role]
		if !ok {
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = 0
		}
		select {
		case <-h.Done:
			s.bus.Forget(role)
		case <-time.After(remaining):
			log.Printf("health: %s did not stop within %s; orphaning", role, s.cfg.RecoveryWait)
		}
	}

	if s.encoderCleanup != nil {
		s.encoderCleanup()
	}

	now := time.Now()
	s.restarts = append(s.restarts, now)
	s.pruneRestarts(now)

	if len(s.restarts) > s.cfg.MaxRecoveries {
		msg := "permanent failure: too many recoveries within the recovery window"
		log.Printf("health: %s", msg)
		s.notify <- Notification{Kind: errs.PermanentFailure, StallKind: kind, Roles: stalled, Message: msg}
		s.Stop()
		return
	}

	s.notify <- Notification{Kind: errs.Stalled, StallKind: kind, Roles: stalled, Message: "stall detected, restart requested"}
	s.graceUntil = now.Add(s.cfg.GracePeriod)
	s.warned = make(map[Role]bool)
}

// pruneRestarts drops restart timestamps older than RecoveryWindow so
// count_within(W_rec) only reflects the trailing window (spec §8's
// recovery-bound invariant).
func (s *Supervisor) pruneRestarts(now time.Time) {
	cutoff := now.Add(-s.cfg.RecoveryWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept
}
