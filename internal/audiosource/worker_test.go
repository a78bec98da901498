package audiosource

import (
	"testing"
	"time"

	"github.com/replaycore/replaycore/internal/pcm"
)

type fakeDevice struct {
	rate     int
	format   pcm.SampleFormat
	channels int
	ch       chan []byte
}

func (f *fakeDevice) Start() (<-chan []byte, error) { return f.ch, nil }
func (f *fakeDevice) Stop() error                   { close(f.ch); return nil }
func (f *fakeDevice) SampleRate() int               { return f.rate }
func (f *fakeDevice) Format() pcm.SampleFormat      { return f.format }
func (f *fakeDevice) Channels() int                 { return f.channels }

func TestWorkerIngestDecodesInt16StereoAndDownmixes(t *testing.T) {
	dev := &fakeDevice{rate: 48000, format: pcm.FormatInt16, channels: 2, ch: make(chan []byte, 1)}
	w := NewWorker("dev0", "capture", dev, 48000, nil)

	// One stereo int16 frame (L=0.5, R=-0.5) -> downmix to mono -> duplicate
	// back to stereo -> 1 stereo int16 frame -> 4 bytes.
	raw := pcm.EncodeStereoPCM16([]float32{0.5, -0.5})
	if err := w.ingest(raw); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if w.Ring().Available() != 4 {
		t.Fatalf("expected 4 bytes in ring, got %d", w.Ring().Available())
	}
}

func TestWorkerIngestDecodesFloat32Mono(t *testing.T) {
	dev := &fakeDevice{rate: 48000, format: pcm.FormatFloat32, channels: 1, ch: make(chan []byte, 1)}
	w := NewWorker("dev0", "capture", dev, 48000, nil)

	raw := pcm.EncodeFloat32LE([]float32{0.25, -0.25})
	if err := w.ingest(raw); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	// mono->stereo duplication doubles sample count; 2 source samples -> 4
	// stereo int16 samples -> 8 bytes.
	if w.Ring().Available() != 8 {
		t.Fatalf("expected 8 bytes in ring, got %d", w.Ring().Available())
	}
}

func TestWorkerIngestUnrecognizedFormatIsError(t *testing.T) {
	dev := &fakeDevice{rate: 48000, format: pcm.FormatUnknown, channels: 1, ch: make(chan []byte, 1)}
	w := NewWorker("dev0", "capture", dev, 48000, nil)

	if err := w.ingest([]byte{1, 2, 3, 4}); err == nil {
		t.Fatal("expected an error decoding a nonempty buffer in an unrecognized format")
	}
}

func TestWorkerRunReturnsAfterStop(t *testing.T) {
	dev := &fakeDevice{rate: 48000, format: pcm.FormatInt16, channels: 2, ch: make(chan []byte, 4)}
	w := NewWorker("dev0", "capture", dev, 48000, nil)
	dev.ch <- pcm.EncodeStereoPCM16([]float32{0.1, 0.1, 0.2, 0.2})
	dev.ch <- pcm.EncodeStereoPCM16([]float32{0.3, 0.3})
	w.Stop() // marks inactive and closes the channel via device.Stop()

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel closed")
	}
}

func TestWorkerUnexpectedChannelCloseInvalidates(t *testing.T) {
	dev := &fakeDevice{rate: 48000, format: pcm.FormatInt16, channels: 2, ch: make(chan []byte)}
	w := NewWorker("dev0", "capture", dev, 48000, nil)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()
	close(dev.ch) // simulate the device dying mid-stream, not a Stop()-driven close

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after unexpected channel close")
	}
	if !w.Invalidated() {
		t.Fatal("expected worker to be invalidated after an unexpected channel close")
	}
}

func TestWorkerNullDeviceNeverInvalidates(t *testing.T) {
	null := NewNullDevice(44100)
	w := NewWorker("null", "capture", null, 48000, nil)
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return promptly when the device has nothing to produce")
	}
	if w.Invalidated() {
		t.Fatalf("null device worker should not be invalidated")
	}
}
