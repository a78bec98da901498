// Package audiosource implements the per-device audio capture backends and
// the polling worker that drains them into a source's PCM ring (spec 4.A).
// The AudioDevice interface and NullDevice are carried over from the
// teacher's audio/device.go, extended with the native-format/channel-count
// pair the worker needs to perform spec 4.A's decode step itself rather
// than trusting the backend to have already done it.
package audiosource

import "github.com/replaycore/replaycore/internal/pcm"

// AudioDevice is a producer of raw native-format PCM chunks at its own
// sample rate and channel count. A capture-kind device addresses a physical
// input; a loopback-kind device pulls the mix output of a render device as
// if it were an input. Start's channel carries undecoded bytes in the
// format Format() reports, with Channels() interleaved samples per frame —
// the worker, not the device, performs spec 4.A's decode/resample/downmix
// pipeline against that contract.
type AudioDevice interface {
	Start() (<-chan []byte, error)
	Stop() error
	SampleRate() int
	Format() pcm.SampleFormat
	Channels() int
}

// NullDevice produces silence: Start returns a nil channel, on which the
// worker's Run returns at once without writing anything to its ring,
// standing in for a device that could not be opened without crashing the
// pipeline.
type NullDevice struct {
	rate int
}

func NewNullDevice(sampleRate int) *NullDevice {
	return &NullDevice{rate: sampleRate}
}

func (d *NullDevice) Start() (<-chan []byte, error) { return nil, nil }
func (d *NullDevice) Stop() error                   { return nil }
func (d *NullDevice) SampleRate() int               { return d.rate }
func (d *NullDevice) Format() pcm.SampleFormat      { return pcm.FormatFloat32 }
func (d *NullDevice) Channels() int                 { return 1 }
