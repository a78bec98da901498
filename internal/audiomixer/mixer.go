// Package audiomixer implements the single-worker N-source PCM mixer of
// spec 4.B. Its wall-clock rate limiting generalizes the ticker-paced
// output pacing of the teacher's audio.AudioPlayer.runOutputLoop
// (audio/player.go) from single-stream playback pacing to gain-weighted
// mixing across multiple sources; peak-level observability additionally
// runs an FFT magnitude pass (github.com/mjibson/go-dsp/fft) the same way
// the teacher's inputs.MicChannel.Update does (inputs/mic.go), as a coarse
// spectral-energy figure alongside the required abs-peak tracking.
package audiomixer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	fft "github.com/mjibson/go-dsp/fft"

	"github.com/replaycore/replaycore/internal/pcmring"
)

const (
	SampleRate     = 48000 // R_pcm
	BytesPerSec    = SampleRate * 4 // R_pcm=48kHz, stereo, 16-bit
	chunkFrames    = 24000 / 2 // ~0.25s of stereo frames at 48kHz (C_mix)
	outputSeconds  = 5
	dormancyMillis = 100
	reportEvery    = 500
	fftWindowSize  = 1024
)

// Source is one mixer input: a PCM ring fed by an audiosource.Worker, a
// gain 0..100, and the last-packet-time accessor the dormancy check needs.
type Source struct {
	Ring           *pcmring.Ring
	Gain           int32 // atomic, 0..100
	LastPacketTime func() time.Time
	everProduced   bool
}

// Mixer combines up to len(Sources) rings into one output PCM ring with
// per-source gain, silence for dormant sources, and wall-clock pacing so
// the long-term output rate matches BytesPerSec regardless of per-source
// producer jitter.
type Mixer struct {
	mu      sync.Mutex
	sources []*Source
	output  *pcmring.Ring

	t0           time.Time
	bytesWritten int64

	iteration  int64
	peakLeft   int32
	peakRight  int32
	lastReport struct {
		peakLeft, peakRight int32
		spectralEnergy      float32
	}

	heartbeat func()
	stop      int32 // atomic bool
}

func New(sources []*Source) *Mixer {
	return &Mixer{
		sources: sources,
		output:  pcmring.New(BytesPerSec * outputSeconds),
	}
}

func (m *Mixer) Output() *pcmring.Ring { return m.output }

func (m *Mixer) Stop() { atomic.StoreInt32(&m.stop, 1) }

// SetHeartbeat registers the callback the mixer's worker loop publishes
// liveness through on every wake, the same heartbeat contract
// audiosource.Worker.Run exercises for its own loop.
func (m *Mixer) SetHeartbeat(fn func()) { m.heartbeat = fn }

// Run is the mixer's single worker loop (spec 4.B): gated on wall-clock
// rate limiting, it mixes one chunk per allowed interval until Stop.
func (m *Mixer) Run() {
	m.t0 = time.Now()
	m.bytesWritten = 0

	for atomic.LoadInt32(&m.stop) == 0 {
		if m.heartbeat != nil {
			m.heartbeat()
		}
		allowed := m.allowedBytes()
		if allowed < (chunkFrames*4)/2 {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		m.mixOneChunk()
	}
}

// allowedBytes computes expected-bytesWritten against wall-clock elapsed
// time, the rate-limiting formula of spec 4.B.
func (m *Mixer) allowedBytes() int64 {
	elapsed := time.Since(m.t0)
	expected := int64(elapsed.Seconds() * BytesPerSec)
	return expected - m.bytesWritten
}

func (m *Mixer) mixOneChunk() {
	left := make([]int32, chunkFrames)
	right := make([]int32, chunkFrames)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, src := range m.sources {
		if src == nil {
			continue
		}
		gain := atomic.LoadInt32(&src.Gain)
		if m.isDormant(src) {
			continue // silence, without stalling the mixer
		}
		chunk := make([]byte, chunkFrames*4)
		n := src.Ring.Read(chunk)
		frames := n / 4
		for i := 0; i < frames; i++ {
			l := int16(uint16(chunk[i*4]) | uint16(chunk[i*4+1])<<8)
			r := int16(uint16(chunk[i*4+2]) | uint16(chunk[i*4+3])<<8)
			left[i] += int32(l) * gain / 100
			right[i] += int32(r) * gain / 100
		}
	}

	out := make([]byte, chunkFrames*4)
	var peakL, peakR int32
	for i := 0; i < chunkFrames; i++ {
		l := clampInt16(left[i])
		r := clampInt16(right[i])
		if abs32(int32(l)) > peakL {
			peakL = abs32(int32(l))
		}
		if abs32(int32(r)) > peakR {
			peakR = abs32(int32(r))
		}
		out[i*4] = byte(uint16(l))
		out[i*4+1] = byte(uint16(l) >> 8)
		out[i*4+2] = byte(uint16(r))
		out[i*4+3] = byte(uint16(r) >> 8)
	}

	m.output.Write(out)
	m.bytesWritten += int64(len(out))

	if peakL > m.peakLeft {
		m.peakLeft = peakL
	}
	if peakR > m.peakRight {
		m.peakRight = peakR
	}
	m.iteration++
	if m.iteration%reportEvery == 0 {
		m.lastReport.peakLeft = m.peakLeft
		m.lastReport.peakRight = m.peakRight
		m.lastReport.spectralEnergy = spectralEnergy(out)
		m.peakLeft, m.peakRight = 0, 0
	}
}

// isDormant reports whether src has produced at least one packet but none
// within the last dormancyMillis ms, per spec 4.B's dormancy rule.
func (m *Mixer) isDormant(src *Source) bool {
	if src.LastPacketTime == nil {
		return false
	}
	last := src.LastPacketTime()
	if last.IsZero() {
		return false // never produced: treated as active-but-silent, not dormant
	}
	if !src.everProduced {
		src.everProduced = true
	}
	return time.Since(last) > dormancyMillis*time.Millisecond
}

// PeakLevels returns the most recently reported (every reportEvery
// iterations) peak absolute left/right levels and a coarse FFT-derived
// spectral-energy figure. pipeline.Controller.GetStatus does not include
// these figures in its status line.
func (m *Mixer) PeakLevels() (peakLeft, peakRight int32, spectralEnergy float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport.peakLeft, m.lastReport.peakRight, m.lastReport.spectralEnergy
}

// spectralEnergy runs a windowed FFT over the mixed chunk's left channel
// and returns the mean bin magnitude, a cheap observability signal distinct
// from the required abs-peak tracking.
func spectralEnergy(pcm16 []byte) float32 {
	n := fftWindowSize
	if len(pcm16)/4 < n {
		n = len(pcm16) / 4
	}
	if n == 0 {
		return 0
	}
	samples := make([]float64, n)
	window := hanningWindow(n)
	for i := 0; i < n; i++ {
		l := int16(uint16(pcm16[i*4]) | uint16(pcm16[i*4+1])<<8)
		samples[i] = (float64(l) / 32768.0) * window[i]
	}
	result := fft.FFTReal(samples)
	var energy float64
	for _, c := range result {
		energy += math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
	}
	return float32(energy / float64(len(result)))
}

func hanningWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Read copies up to len(buf) bytes from the output ring, returning the
// number of bytes copied and a 100-ns-unit timestamp anchored at the
// mixer's start time (spec 4.B reader contract).
func (m *Mixer) Read(buf []byte) (n int, timestamp100ns int64) {
	n = m.output.Read(buf)
	timestamp100ns = time.Since(m.t0).Nanoseconds() / 100
	return n, timestamp100ns
}
