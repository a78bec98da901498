// microphone.go wraps gordonklaus/portaudio for capture-kind devices,
// carried over from the teacher's audio/microphone.go with device selection
// generalized from "always the default input" to an opaque device id that
// names a native device by index or exact name match.
package audiosource

import (
	"fmt"
	"log"
	"strconv"

	"github.com/gordonklaus/portaudio"
	"github.com/replaycore/replaycore/internal/pcm"
)

// Microphone is a pure producer: it sends captured chunks to a channel and
// never blocks the portaudio callback thread. portaudio's Go binding always
// hands the callback already-decoded mono float32 samples, so Microphone
// re-encodes them to raw little-endian bytes before handing them to the
// AudioDevice channel, reporting FormatFloat32/1 channel — the same
// decode/downmix path the worker runs for every other backend runs here
// too, instead of a special-cased bypass.
type Microphone struct {
	deviceID    string
	sampleRate  int
	stream      *portaudio.Stream
	audioChan   chan []byte
	isStreaming bool
}

func NewMicrophone(deviceID string, sampleRate int) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &Microphone{deviceID: deviceID, sampleRate: sampleRate}, nil
}

func (m *Microphone) audioCallback(in []float32) {
	encoded := pcm.EncodeFloat32LE(in)

	select {
	case m.audioChan <- encoded:
	default:
		log.Println("Warning: audio channel buffer is full, dropping audio frame.")
	}
}

// resolveDevice maps the opaque device id to a portaudio device info: an
// integer id is a device index (an error if out of range), any other id is
// matched against device names exactly. It falls back to the host API's
// default input device when the id is empty or no device has that name.
func (m *Microphone) resolveDevice() (*portaudio.DeviceInfo, error) {
	host, err := portaudio.DefaultHostApi()
	if err != nil {
		return nil, err
	}
	if m.deviceID == "" {
		return host.DefaultInputDevice, nil
	}
	if idx, err := strconv.Atoi(m.deviceID); err == nil {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(devices) {
			return nil, fmt.Errorf("device index %d out of range", idx)
		}
		return devices[idx], nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == m.deviceID {
			return d, nil
		}
	}
	log.Printf("audio device %q not found, falling back to default input", m.deviceID)
	return host.DefaultInputDevice, nil
}

func (m *Microphone) Start() (<-chan []byte, error) {
	m.audioChan = make(chan []byte, 16)

	device, err := m.resolveDevice()
	if err != nil {
		close(m.audioChan)
		return nil, err
	}

	params := portaudio.HighLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(m.sampleRate)

	stream, err := portaudio.OpenStream(params, m.audioCallback)
	if err != nil {
		close(m.audioChan)
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		close(m.audioChan)
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	m.stream = stream
	m.isStreaming = true
	return m.audioChan, nil
}

func (m *Microphone) Stop() error {
	if !m.isStreaming {
		return nil
	}
	if err := m.stream.Close(); err != nil {
		portaudio.Terminate()
		return err
	}
	m.isStreaming = false
	close(m.audioChan)
	return portaudio.Terminate()
}

func (m *Microphone) SampleRate() int          { return m.sampleRate }
func (m *Microphone) Format() pcm.SampleFormat { return pcm.FormatFloat32 }
func (m *Microphone) Channels() int            { return 1 }
