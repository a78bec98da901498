// Package pcm converts a device's native PCM format to the pipeline's
// canonical format: stereo, 16-bit signed little-endian, at the configured
// sample rate (spec 4.A). Resampling uses the same linear-interpolation
// approach as the pack's voice-assistant resampler
// (agalue-sherpa-voice-assistant/internal/audio/resampler.go), generalized
// from float32-in/float32-out to the source-format decode this pipeline
// needs; downmix/duplication follows the teacher's
// audio.DownmixStereoToMono shape (audio/util.go).
package pcm

import (
	"encoding/binary"
	"math"
)

// SampleFormat identifies the native format a captured packet carries,
// per spec 4.A's "integer 16-bit, integer 24-bit sign-extended, or
// IEEE-754 32-bit float" decode list.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatInt16
	FormatInt24
	FormatFloat32
)

// Resampler performs linear-interpolation resampling on a mono float32
// stream. It records the last input sample of each call, but every output
// sample is interpolated from the current chunk's own samples: the start of
// a chunk is not blended with the end of the previous one.
type Resampler struct {
	ratio      float64
	lastSample float32
}

func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{ratio: float64(toRate) / float64(fromRate)}
}

func (r *Resampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}
	outLen := int(float64(len(input)) * r.ratio)
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / r.ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s1 := r.lastSample
		if srcIdx < len(input) {
			s1 = input[srcIdx]
		}
		s2 := s1
		if srcIdx+1 < len(input) {
			s2 = input[srcIdx+1]
		} else if srcIdx < len(input) {
			s2 = input[len(input)-1]
		}
		out[i] = s1 + (s2-s1)*frac
	}
	r.lastSample = input[len(input)-1]
	return out
}

// DecodeToFloat32 decodes a native-format byte buffer into normalized
// float32 samples in [-1, 1]. An unrecognized format yields an empty slice;
// audiosource.Worker reports that as a decode error for a nonempty buffer
// and writes nothing to its ring, so the source adds nothing to the mix.
func DecodeToFloat32(data []byte, format SampleFormat) []float32 {
	switch format {
	case FormatInt16:
		n := len(data) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			out[i] = float32(v) / 32768.0
		}
		return out
	case FormatInt24:
		n := len(data) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 { // sign-extend
				v |= ^0xFFFFFF
			}
			out[i] = float32(v) / 8388608.0
		}
		return out
	case FormatFloat32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(data[i*4:])
			out[i] = math.Float32frombits(bits)
		}
		return out
	default:
		return nil
	}
}

// DuplicateMonoToStereo duplicates a single channel to both stereo
// channels, per spec 4.A: "the single channel is duplicated to both
// stereo channels."
func DuplicateMonoToStereo(mono []float32) []float32 {
	out := make([]float32, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// DownmixStereoToMono averages left/right channels, matching
// audio.DownmixStereoToMono's shape.
func DownmixStereoToMono(stereo []float32) []float32 {
	if len(stereo)%2 != 0 {
		stereo = stereo[:len(stereo)-1]
	}
	mono := make([]float32, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) * 0.5
	}
	return mono
}

// EncodeFloat32LE is the inverse of DecodeToFloat32's FormatFloat32 branch:
// it serializes normalized float32 samples back to raw IEEE-754 bytes, for
// backends (e.g. portaudio) that only ever hand the caller already-decoded
// native-format samples and need to re-present them as a byte-native device.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// EncodeStereoPCM16 clamps interleaved stereo float32 samples to [-1,1] and
// encodes them as 16-bit signed little-endian PCM, the pipeline's canonical
// on-the-wire format.
func EncodeStereoPCM16(interleaved []float32) []byte {
	out := make([]byte, len(interleaved)*2)
	for i, s := range interleaved {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
