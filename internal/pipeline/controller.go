// Package pipeline implements the pipeline controller of spec 4.G: the
// lifecycle (init/start/stop) state machine that owns every worker and
// wires the encoder callback to the video ring. Grounded on cmd/main.go's
// init/start/run/shutdown sequencing and renderer.Run()'s tight capture
// loop, generalized from a one-shot CLI flow into a reusable, restartable
// state machine.
package pipeline

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/replaycore/replaycore/internal/audioencoder"
	"github.com/replaycore/replaycore/internal/audiomixer"
	"github.com/replaycore/replaycore/internal/audiosource"
	"github.com/replaycore/replaycore/internal/config"
	"github.com/replaycore/replaycore/internal/errs"
	"github.com/replaycore/replaycore/internal/gpuencoder"
	"github.com/replaycore/replaycore/internal/health"
	"github.com/replaycore/replaycore/internal/ring"
	"github.com/replaycore/replaycore/internal/savecoord"
	"github.com/replaycore/replaycore/internal/types"
)

// State is the controller's lifecycle state (spec 4.G/4.I).
type State int32

const (
	StateUninitialized State = iota
	StateCapturing
	StateStopping
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "Capturing"
	case StateStopping:
		return "Stopping"
	case StateSaving:
		return "Saving"
	default:
		return "Uninitialized"
	}
}

const (
	// stopTimeout is T_stop, the per-worker join timeout on a normal stop.
	stopTimeout = 3 * time.Second

	// DefaultWidth/DefaultHeight size the encoder session when the host
	// doesn't otherwise know the capture resolution; spec §6's
	// replay.captureSource selects *what* to capture but not its pixel
	// dimensions; those are assumed resolved upstream of this package.
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Controller owns every component handle and coordinates the lifecycle
// spec 4.G describes.
type Controller struct {
	state atomic.Int32

	mu       sync.Mutex
	videoSrc VideoSource

	cfg       *config.Config
	videoRing *ring.Ring
	audioRing *ring.Ring

	encoder  *gpuencoder.Session
	mixer    *audiomixer.Mixer
	audioEnc *audioencoder.Encoder

	sourceWorkers []*audiosource.Worker

	bus        *health.Bus
	handles    map[health.Role]*health.WorkerHandle
	supervisor *health.Supervisor
	saver      *savecoord.Coordinator

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startTime time.Time
}

// New creates a controller that pulls frames from videoSrc on its capture
// thread. videoSrc is owned by the controller from Start through Stop.
func New(videoSrc VideoSource) *Controller {
	return &Controller{videoSrc: videoSrc}
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Notifications exposes the health supervisor's Stalled/PermanentFailure
// channel once Start has run; nil before then.
func (c *Controller) Notifications() <-chan health.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor == nil {
		return nil
	}
	return c.supervisor.Notifications()
}

// Start runs spec 4.G's Start sequence: create audio sources, start the
// encoder session, start all workers and the mixer, start the
// capture->encoder feed, transition to Capturing. EncoderInitError and
// ConfigInvalid surface synchronously, per spec §7.
func (c *Controller) Start(cfg *config.Config) error {
	if c.State() != StateUninitialized {
		return fmt.Errorf("pipeline: Start called from state %s", c.State())
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	c.bus = health.NewBus()
	c.handles = make(map[health.Role]*health.WorkerHandle)
	c.stopCh = make(chan struct{})

	videoCapacity := ringCapacity(cfg.DurationSeconds, cfg.VideoFPS)
	maxDuration := int64(cfg.DurationSeconds) * 1e7
	c.videoRing = ring.New(videoCapacity, maxDuration)
	audioCapacity := ringCapacity(cfg.DurationSeconds, 47) // ~48000/1024 AAC frames/sec
	c.audioRing = ring.New(audioCapacity, maxDuration)

	var mixSources []*audiomixer.Source
	c.sourceWorkers = nil
	if cfg.AudioEnabled {
		for i, src := range cfg.ActiveSources() {
			dev, err := newAudioDevice(src)
			if err != nil {
				// Loss of a single audio device degrades silently to
				// silence for that source (spec §7); a NullDevice never
				// produces, so the mixer treats it as always-active-silent.
				log.Printf("pipeline: audio source %d (%s) failed to open, degrading to silence: %v", i+1, src.DeviceID, err)
				dev = audiosource.NewNullDevice(audiomixer.SampleRate)
			}
			role := health.AudioSourceRole(src.DeviceID)
			handle := health.NewWorkerHandle()
			c.handles[role] = handle

			w := audiosource.NewWorker(src.DeviceID, src.Kind, dev, audiomixer.SampleRate, c.bus.HeartbeatFunc(role))
			c.sourceWorkers = append(c.sourceWorkers, w)
			mixSources = append(mixSources, &audiomixer.Source{
				Ring:           w.Ring(),
				Gain:           int32(src.Volume),
				LastPacketTime: w.LastPacketTime,
			})
		}
	}
	c.mixer = audiomixer.New(mixSources)
	c.mixer.SetHeartbeat(c.bus.HeartbeatFunc(health.RoleMixer))
	c.handles[health.RoleMixer] = health.NewWorkerHandle()

	encCfg := gpuencoder.Config{
		Codec:      codecForFormat(cfg.VideoFormat),
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		FPS:        cfg.VideoFPS,
		GOPSeconds: 2,
		Surfaces:   gpuencoder.MinSurfaces,
		QP:         qpForQuality(cfg.VideoQuality),
	}
	sess, err := gpuencoder.NewSession(encCfg)
	if err != nil {
		return errs.New(errs.EncoderInitError, err)
	}
	c.encoder = sess
	sess.SetCallback(func(p *types.Packet) {
		c.bus.Beat(health.RoleEncoder)
		c.videoRing.Add(p)
	})
	// Submit runs on the capture thread in this controller, so GetThreadState
	// for an encoder stall queries the same handle as the capture role.
	captureHandle := health.NewWorkerHandle()
	c.handles[health.RoleCapture] = captureHandle
	c.handles[health.RoleEncoder] = captureHandle

	if cfg.AudioEnabled {
		audEnc, err := audioencoder.New(audiomixer.SampleRate, "")
		if err != nil {
			log.Printf("pipeline: audio encoder failed to start, continuing without audio: %v", err)
		} else {
			c.audioEnc = audEnc
			c.wg.Add(1)
			go c.runAudioEncodeFeed()
		}
	}

	for _, w := range c.sourceWorkers {
		role := health.AudioSourceRole(w.DeviceID)
		handle := c.handles[role]
		c.wg.Add(1)
		go func(w *audiosource.Worker, h *health.WorkerHandle) {
			defer c.wg.Done()
			defer close(h.Done)
			w.Run()
			if w.Invalidated() {
				// spec §7: loss of a single device degrades silently to
				// silence for that source; the mixer's dormancy check on
				// LastPacketTime already does the degrading mechanically,
				// this just makes the cause observable.
				log.Printf("pipeline: audio source %s invalidated, mixing continues without it", w.DeviceID)
			}
		}(w, handle)
	}

	c.wg.Add(1)
	mixerHandle := c.handles[health.RoleMixer]
	go func() {
		defer c.wg.Done()
		defer close(mixerHandle.Done)
		c.mixer.Run()
	}()

	c.wg.Add(1)
	go c.runCaptureLoop(captureHandle)

	sup := health.New(c.bus, health.FromMillis(cfg.SoftThresholdMs, cfg.HardThresholdMs, cfg.CheckIntervalMs),
		func() map[health.Role]*health.WorkerHandle { return c.handles },
		func() { close(c.stopCh) },
		func() {
			if c.encoder != nil {
				c.encoder.Destroy()
			}
		})
	c.supervisor = sup
	go sup.Run()

	c.saver = savecoord.New(c.videoRing, c.audioRing, sess.GetSequenceHeader,
		func() bool { return c.State() == StateCapturing },
		func(saving bool) {
			if saving {
				c.state.Store(int32(StateSaving))
			} else {
				c.state.Store(int32(StateCapturing))
			}
		})

	c.startTime = time.Now()
	c.state.Store(int32(StateCapturing))
	return nil
}

// runAudioEncodeFeed drains the mixer's canonical PCM output through the
// audio encoder and appends its packets to the audio ring, the elaboration
// of the "audio-encoder" external collaborator spec 9 leaves unspecified.
func (c *Controller) runAudioEncodeFeed() {
	defer c.wg.Done()
	buf := make([]byte, audiomixer.BytesPerSec/10) // ~100ms chunks

	go func() {
		for p := range c.audioEnc.Packets() {
			c.audioRing.Add(p)
		}
	}()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		n, _ := c.mixer.Read(buf)
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err := c.audioEnc.Feed(buf[:n]); err != nil {
			log.Printf("pipeline: audio encoder feed failed: %v", err)
			return
		}
	}
}

// runCaptureLoop is the capture thread of spec §2's data flow: it pulls a
// frame from the video source at the configured fps and submits it to the
// encoder.
func (c *Controller) runCaptureLoop(handle *health.WorkerHandle) {
	defer c.wg.Done()
	defer close(handle.Done)

	fps := c.cfg.VideoFPS
	if fps <= 0 {
		fps = 60
	}
	interval := time.Second / time.Duration(fps)
	frameDur := int64(1e7) / int64(fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frameNum int64
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}
		planeY, planeUV, ok := c.videoSrc.NextFrame()
		if !ok {
			continue
		}
		c.bus.Beat(health.RoleCapture)
		ts := frameNum * frameDur
		if err := c.encoder.Submit(planeY, planeUV, ts); err != nil {
			log.Printf("pipeline: encoder submit failed: %v", err)
		}
		frameNum++
	}
}

// Stop runs spec 4.G's Stop sequence: request Stopping, deactivate every
// worker, wait up to T_stop, release the encoder, transition to
// Uninitialized.
func (c *Controller) Stop() error {
	if c.State() != StateCapturing {
		return fmt.Errorf("pipeline: Stop called from state %s", c.State())
	}
	c.state.Store(int32(StateStopping))

	c.mu.Lock()
	supervisor := c.supervisor
	sourceWorkers := c.sourceWorkers
	mixer := c.mixer
	audioEnc := c.audioEnc
	encoder := c.encoder
	videoRing := c.videoRing
	audioRing := c.audioRing
	videoSrc := c.videoSrc
	stopCh := c.stopCh
	c.mu.Unlock()

	if supervisor != nil {
		supervisor.Stop()
	}
	select {
	case <-stopCh: // already closed by a prior supervisor-triggered recovery
	default:
		close(stopCh)
	}

	for _, w := range sourceWorkers {
		w.Stop()
	}
	if mixer != nil {
		mixer.Stop()
	}
	if audioEnc != nil {
		audioEnc.Close()
	}
	if videoSrc != nil {
		videoSrc.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Printf("pipeline: stop timed out after %s; some workers may be orphaned", stopTimeout)
	}

	if encoder != nil {
		encoder.Shutdown()
	}
	if videoRing != nil {
		videoRing.Clear()
	}
	if audioRing != nil {
		audioRing.Clear()
	}

	c.state.Store(int32(StateUninitialized))
	return nil
}

// RequestSave enqueues an async save (spec 4.G/4.I); see savecoord.SaveAsync.
func (c *Controller) RequestSave(path string, notify chan<- savecoord.Result) bool {
	c.mu.Lock()
	saver := c.saver
	c.mu.Unlock()
	if saver == nil {
		return false
	}
	return saver.SaveAsync(path, notify)
}

// IsSaving reports whether a save is currently in flight.
func (c *Controller) IsSaving() bool {
	c.mu.Lock()
	saver := c.saver
	c.mu.Unlock()
	return saver != nil && saver.IsSaving()
}

// GetStatus returns a human-readable status line (spec §6) with buffered
// duration, sample count, approximate RAM usage, and lifecycle state.
func (c *Controller) GetStatus() string {
	c.mu.Lock()
	videoRing, audioRing := c.videoRing, c.audioRing
	c.mu.Unlock()

	if videoRing == nil {
		return fmt.Sprintf("state=%s", c.State())
	}
	bufDur := time.Duration(videoRing.GetDuration()*100) * time.Nanosecond
	count := videoRing.GetCount()
	mem := videoRing.GetMemoryUsage()
	if audioRing != nil {
		mem += audioRing.GetMemoryUsage()
	}
	return fmt.Sprintf("state=%s buffered=%s samples=%d mem=%dKB", c.State(), bufDur, count, mem/1024)
}

func codecForFormat(format string) types.Codec {
	if format == "hevc" {
		return types.CodecHEVC
	}
	return types.CodecH264
}

func qpForQuality(quality string) int {
	switch quality {
	case "low":
		return 35
	case "medium":
		return 28
	case "lossless":
		return 0
	default: // high
		return 23
	}
}

// ringCapacity is ceil(duration*rate*1.5), clamped to a sane minimum, per
// spec §3's sample-ring sizing rule.
func ringCapacity(durationSeconds, ratePerSec int) int {
	c := int(float64(durationSeconds)*float64(ratePerSec)*1.5 + 0.999999)
	if c < 8 {
		c = 8
	}
	return c
}

func newAudioDevice(src config.AudioSource) (audiosource.AudioDevice, error) {
	if src.Kind == "loopback" {
		return audiosource.NewFFmpegLoopback(src.DeviceID), nil
	}
	return audiosource.NewMicrophone(src.DeviceID, audiomixer.SampleRate)
}
