// Package types holds the wire-level data shapes shared by the ring,
// encoder, and muxer packages: encoded packets and canonical PCM blocks.
package types

// Codec tags the compression format carried by a Packet.
type Codec int

const (
	CodecH264 Codec = iota
	CodecHEVC
	CodecAAC
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecAAC:
		return "aac"
	default:
		return "unknown"
	}
}

// Packet is an owned, encoded sample: a video packet when Codec is
// CodecH264/CodecHEVC, an audio packet when Codec is CodecAAC (Keyframe is
// meaningless for audio and always true).
type Packet struct {
	Data      []byte
	PTS       int64 // 100-ns units since capture start
	Duration  int64 // 100-ns units
	Keyframe  bool
	Codec     Codec
}

// Clone deep-copies the packet's payload so a snapshot reader can retain it
// independent of the ring slot it came from.
func (p *Packet) Clone() *Packet {
	cp := *p
	cp.Data = make([]byte, len(p.Data))
	copy(cp.Data, p.Data)
	return &cp
}

// PCMFrame is a block of canonical PCM: stereo, 16-bit signed little-endian,
// at the configured sample rate. Len(Data) is always a multiple of 4.
type PCMFrame struct {
	Data []byte
	PTS  int64
}

const BytesPerFrame = 4 // stereo, 16-bit

// FrameCount returns how many stereo sample-frames a PCM block holds.
func FrameCount(data []byte) int {
	return len(data) / BytesPerFrame
}
