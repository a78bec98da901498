// worker.go is the per-device polling loop of spec 4.A, adapted from a
// push-style raw-byte channel producer onto the spec's pull/ring contract:
// decode the device's native format, resample to R_pcm, downmix or
// duplicate to stereo, clamp, encode to canonical 16-bit PCM, and append to
// the source's ring under its own lock — the same fan-in discipline the
// teacher's audio.Tee documents for a single producer feeding multiple
// consumers, specialized here to one producer and one ring.
package audiosource

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/replaycore/replaycore/internal/errs"
	"github.com/replaycore/replaycore/internal/pcm"
	"github.com/replaycore/replaycore/internal/pcmring"
)

const maxConsecutiveErrors = 100

// Worker drains one AudioDevice into its per-source canonical-PCM ring.
type Worker struct {
	DeviceID string
	Kind     string // "capture" | "loopback"

	device     AudioDevice
	ring       *pcmring.Ring
	resampler  *pcm.Resampler
	format     pcm.SampleFormat
	channels   int
	targetRate int

	invalidated int32 // atomic bool
	active      int32 // atomic bool
	errorCount  int

	lastPacketTime atomic.Int64 // unix nanos
	heartbeat      func()
}

// NewWorker wires device (already Start()-able) to a fresh ring sized
// bytesPerSec*2 (two seconds of canonical PCM at targetRate), resampling from the device's native rate and
// decoding from the device's reported native format/channel count.
func NewWorker(deviceID, kind string, device AudioDevice, targetRate int, heartbeat func()) *Worker {
	bytesPerSec := targetRate * 4 // stereo 16-bit
	w := &Worker{
		DeviceID:   deviceID,
		Kind:       kind,
		device:     device,
		ring:       pcmring.New(bytesPerSec * 2),
		resampler:  pcm.NewResampler(device.SampleRate(), targetRate),
		format:     device.Format(),
		channels:   device.Channels(),
		targetRate: targetRate,
		heartbeat:  heartbeat,
	}
	atomic.StoreInt32(&w.active, 1)
	return w
}

func (w *Worker) Ring() *pcmring.Ring { return w.ring }

// Invalidated reports whether the device was marked unusable (e.g. a
// device-not-found / service-not-running condition, or the device's
// channel closing outside of a Stop() call).
func (w *Worker) Invalidated() bool { return atomic.LoadInt32(&w.invalidated) == 1 }

// LastPacketTime returns the timestamp of the most recently ingested
// packet, used by the mixer's dormancy check. It returns the zero Time
// until the first packet arrives, so a source that has never produced
// anything is not mistaken for a dormant one.
func (w *Worker) LastPacketTime() time.Time {
	nanos := w.lastPacketTime.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Stop clears the active flag; Run observes it on its next iteration.
func (w *Worker) Stop() {
	atomic.StoreInt32(&w.active, 0)
	w.device.Stop()
}

// Run is the worker's polling loop (spec 4.A step 3). It blocks until the
// device's channel closes, Stop is called, or a terminal error occurs.
func (w *Worker) Run() {
	audioChan, err := w.device.Start()
	if err != nil {
		log.Printf("audiosource[%s]: failed to start device: %v", w.DeviceID, err)
		atomic.StoreInt32(&w.invalidated, 1)
		return
	}
	if audioChan == nil {
		// NullDevice: nothing will ever arrive, so return at once. The ring
		// stays empty and LastPacketTime stays zero, so the mixer treats the
		// source as active-but-silent rather than dormant.
		return
	}

	for atomic.LoadInt32(&w.active) == 1 {
		raw, ok := <-audioChan
		if !ok {
			if atomic.LoadInt32(&w.active) == 1 {
				// The channel closed on its own, not in response to Stop():
				// a device-invalidation / service-not-running condition per
				// spec 4.A step 4, distinct from a graceful stop.
				invalidateErr := errs.New(errs.DeviceInvalidated, fmt.Errorf("device channel closed unexpectedly"))
				log.Printf("audiosource[%s]: %v, degrading to silence", w.DeviceID, invalidateErr)
				atomic.StoreInt32(&w.invalidated, 1)
			}
			return
		}
		if w.heartbeat != nil {
			w.heartbeat()
		}
		if err := w.ingest(raw); err != nil {
			w.errorCount++
			if w.errorCount > maxConsecutiveErrors {
				log.Printf("audiosource[%s]: exceeded %d consecutive errors, exiting: %v", w.DeviceID, maxConsecutiveErrors, err)
				return
			}
			continue
		}
		w.errorCount = 0
	}
}

// ingest decodes one native-format chunk (spec 4.A step 3: decode, resample
// to the canonical rate, downmix-or-duplicate to stereo, clamp, encode as
// 16-bit PCM) and appends it to the ring. Downmixing happens before
// resampling rather than after: the resampler interpolates a flat
// single-channel stream, so collapsing to mono first keeps every element
// of that stream a genuine sample instead of an alternating L/R pair.
func (w *Worker) ingest(raw []byte) error {
	decoded := pcm.DecodeToFloat32(raw, w.format)
	if len(decoded) == 0 {
		if len(raw) > 0 {
			return fmt.Errorf("audiosource[%s]: unable to decode %d bytes in format %d", w.DeviceID, len(raw), w.format)
		}
		return nil
	}

	var mono []float32
	switch w.channels {
	case 1:
		mono = decoded
	case 2:
		mono = pcm.DownmixStereoToMono(decoded)
	default:
		return fmt.Errorf("audiosource[%s]: unsupported channel count %d", w.DeviceID, w.channels)
	}

	resampled := w.resampler.Resample(mono)
	stereo := pcm.DuplicateMonoToStereo(resampled)
	encoded := pcm.EncodeStereoPCM16(stereo)
	w.ring.Write(encoded)
	w.lastPacketTime.Store(time.Now().UnixNano())
	return nil
}
