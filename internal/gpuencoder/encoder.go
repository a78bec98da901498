// Package gpuencoder drives the GPU hardware video encoder (spec 4.E). It
// reuses the teacher's cgo + libavcodec idiom from encoder/encoder.go —
// avcodec_find_encoder_by_name with a prioritized hardware-then-software
// fallback list, the av_frame_make_writable / avcodec_send_frame /
// avcodec_receive_packet loop, av_error_str for diagnostics — but replaces
// its WHAT: the teacher's FFmpegEncoder muxes directly into an
// AVFormatContext; this driver only owns the codec context and a fixed
// pool of reusable AVFrame "registered input surfaces", delivering encoded
// packets through a callback instead of writing them, because muxing is
// the separate concern of this pipeline's internal/muxer package.
package gpuencoder

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/opt.h>
#include <stdlib.h>
#include <string.h>

static inline const char* av_error_str(int errnum) {
    static char str[AV_ERROR_MAX_STRING_SIZE];
    av_make_error_string(str, AV_ERROR_MAX_STRING_SIZE, errnum);
    return str;
}

static int averror(int errnum) {
    return AVERROR(errnum);
}
*/
import "C"

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"unsafe"

	"github.com/replaycore/replaycore/internal/gpucontext"
	"github.com/replaycore/replaycore/internal/types"
)

type State int

const (
	Uninitialized State = iota
	Creating
	Ready
	Encoding
	Flushing
	Destroyed
	Failed
)

// MinSurfaces is K, the minimum registered-input-surface pool size spec
// 4.E requires ("≥ 4").
const MinSurfaces = 4

// Config describes one encoder session (spec 3's "Encoder session").
type Config struct {
	Codec         types.Codec // CodecH264 or CodecHEVC
	Width, Height int
	FPS           int
	GOPSeconds    int // G_s, typically 2
	Surfaces      int // K, clamped to >= MinSurfaces
	Bitrate       int64
	QP            int // used when Bitrate == 0
}

// Session owns the codec context and its registered surface pool. One
// owner-thread creates/destroys it; Submit is not re-entrant (spec 4.E).
type Session struct {
	mu    sync.Mutex
	state State

	gpuCtx gpucontext.Context
	ctx    *C.AVCodecContext
	codec  *C.AVCodec

	frames     []*C.AVFrame // registered input surfaces, length K
	pendingPTS []int64      // FIFO of timestamps awaiting their encoded packet
	frameNum   int64
	gopLength  int64
	frameDur   int64 // constant per-frame duration, 100-ns units

	callback func(*types.Packet)
}

// findEncoder resolves a hardware encoder first, falling back to software,
// mirroring encoder.findBestVideoEncoder's per-OS priority lists.
func findEncoder(codec types.Codec) (*C.AVCodec, string) {
	var names []string
	switch codec {
	case types.CodecHEVC:
		switch runtime.GOOS {
		case "linux":
			names = []string{"hevc_nvenc", "libx265"}
		case "darwin":
			names = []string{"hevc_videotoolbox", "libx265"}
		case "windows":
			names = []string{"hevc_nvenc", "hevc_amf", "hevc_qsv", "libx265"}
		default:
			names = []string{"libx265"}
		}
	default:
		switch runtime.GOOS {
		case "linux":
			names = []string{"h264_nvenc", "libx264"}
		case "darwin":
			names = []string{"h264_videotoolbox", "libx264"}
		case "windows":
			names = []string{"h264_nvenc", "h264_amf", "h264_qsv", "libx264"}
		default:
			names = []string{"libx264"}
		}
	}
	for _, name := range names {
		cName := C.CString(name)
		c := C.avcodec_find_encoder_by_name(cName)
		C.free(unsafe.Pointer(cName))
		if c != nil {
			log.Printf("gpuencoder: selected encoder %s", name)
			return c, name
		}
	}
	return nil, ""
}

// NewSession runs the startup sequence of spec 4.E steps 1-6. Any
// non-success step is terminal; the session is torn down and
// EncoderInitError-equivalent is returned to the caller (the controller
// wraps it).
func NewSession(cfg Config) (*Session, error) {
	s := &Session{state: Creating}

	codec, name := findEncoder(cfg.Codec)
	if codec == nil {
		s.state = Failed
		return nil, fmt.Errorf("gpuencoder: no suitable encoder for %s", cfg.Codec)
	}
	s.codec = codec

	gpuCtx, err := gpucontext.New()
	if err != nil {
		s.state = Failed
		return nil, fmt.Errorf("gpuencoder: failed to create GPU context: %w", err)
	}
	s.gpuCtx = gpuCtx

	s.ctx = C.avcodec_alloc_context3(codec)
	if s.ctx == nil {
		s.Destroy()
		return nil, fmt.Errorf("gpuencoder: could not allocate codec context")
	}

	surfaces := cfg.Surfaces
	if surfaces < MinSurfaces {
		surfaces = MinSurfaces
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = 60
	}
	gopSeconds := cfg.GOPSeconds
	if gopSeconds <= 0 {
		gopSeconds = 2
	}

	s.ctx.width = C.int(cfg.Width)
	s.ctx.height = C.int(cfg.Height)
	s.ctx.time_base = C.AVRational{num: 1, den: C.int(fps)}
	s.ctx.framerate = C.AVRational{num: C.int(fps), den: 1}
	s.ctx.pix_fmt = C.AV_PIX_FMT_NV12
	s.ctx.gop_size = C.int(fps * gopSeconds) // gopLength = fps * G_s
	s.ctx.max_b_frames = 0                   // disable B-frames (spec 4.E step 5)

	if cfg.Bitrate > 0 {
		s.ctx.bit_rate = C.int64_t(cfg.Bitrate)
	} else {
		qpKey, qpVal := C.CString("qp"), C.CString(fmt.Sprint(cfg.QP))
		C.av_opt_set(s.ctx.priv_data, qpKey, qpVal, 0)
		C.free(unsafe.Pointer(qpKey))
		C.free(unsafe.Pointer(qpVal))
	}

	switch name {
	case "libx264", "libx265":
		presetKey, tuneKey := C.CString("preset"), C.CString("tune")
		preset, tune := C.CString("fast"), C.CString("zerolatency")
		C.av_opt_set(s.ctx.priv_data, presetKey, preset, 0)
		C.av_opt_set(s.ctx.priv_data, tuneKey, tune, 0)
		C.free(unsafe.Pointer(presetKey))
		C.free(unsafe.Pointer(tuneKey))
		C.free(unsafe.Pointer(preset))
		C.free(unsafe.Pointer(tune))
	case "h264_nvenc", "hevc_nvenc":
		presetKey, tuneKey, rcKey := C.CString("preset"), C.CString("tune"), C.CString("rc")
		preset, tune := C.CString("p1"), C.CString("ull")
		C.av_opt_set(s.ctx.priv_data, presetKey, preset, 0)
		C.av_opt_set(s.ctx.priv_data, tuneKey, tune, 0)
		rc := C.CString("constqp")
		C.av_opt_set(s.ctx.priv_data, rcKey, rc, 0)
		C.free(unsafe.Pointer(presetKey))
		C.free(unsafe.Pointer(tuneKey))
		C.free(unsafe.Pointer(rcKey))
		C.free(unsafe.Pointer(preset))
		C.free(unsafe.Pointer(tune))
		C.free(unsafe.Pointer(rc))
	}

	// Request global headers so the encoder populates ctx.extradata and
	// GetSequenceHeader has a parameter-set blob to hand the muxer (spec
	// 4.E's GetSequenceHeader).
	s.ctx.flags |= C.AV_CODEC_FLAG_GLOBAL_HEADER

	if C.avcodec_open2(s.ctx, codec, nil) < 0 {
		s.Destroy()
		return nil, fmt.Errorf("gpuencoder: avcodec_open2 failed")
	}

	s.frames = make([]*C.AVFrame, surfaces)
	for i := range s.frames {
		f := C.av_frame_alloc()
		f.format = C.int(C.AV_PIX_FMT_NV12)
		f.width = s.ctx.width
		f.height = s.ctx.height
		if C.av_frame_get_buffer(f, 32) < 0 {
			s.Destroy()
			return nil, fmt.Errorf("gpuencoder: could not allocate input surface %d", i)
		}
		s.frames[i] = f
	}

	s.gopLength = int64(fps * gopSeconds)
	s.frameDur = int64(1e7) / int64(fps)
	s.state = Ready
	return s, nil
}

// SetCallback registers the consumer callback packets are delivered to.
func (s *Session) SetCallback(cb func(*types.Packet)) { s.callback = cb }

// Submit copies the Y and UV planes into the round-robin surface, forces an
// IDR iff frameNumber mod gopLength == 0, and encodes (spec 4.E Submit).
func (s *Session) Submit(planeY, planeUV []byte, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Ready && s.state != Encoding {
		return fmt.Errorf("gpuencoder: Submit called in state %v", s.state)
	}
	s.state = Encoding

	i := int(s.frameNum % int64(len(s.frames)))
	frame := s.frames[i]

	if C.av_frame_make_writable(frame) < 0 {
		return fmt.Errorf("gpuencoder: input surface %d not writable", i)
	}

	if err := s.gpuCtx.PushCurrent(); err != nil {
		return fmt.Errorf("gpuencoder: PushCurrent failed: %w", err)
	}
	// Copy is contextual: the host-to-device memcpy happens with the
	// context current, matched by a Pop before returning on every path.
	yDst := unsafe.Pointer(frame.data[0])
	C.memcpy(yDst, unsafe.Pointer(&planeY[0]), C.size_t(len(planeY)))
	uvDst := unsafe.Pointer(frame.data[1])
	C.memcpy(uvDst, unsafe.Pointer(&planeUV[0]), C.size_t(len(planeUV)))
	popErr := s.gpuCtx.PopCurrent()
	if popErr != nil {
		return fmt.Errorf("gpuencoder: PopCurrent failed: %w", popErr)
	}

	frame.pts = C.int64_t(s.frameNum)
	if s.frameNum%s.gopLength == 0 {
		frame.pict_type = C.AV_PICTURE_TYPE_I
	} else {
		frame.pict_type = C.AV_PICTURE_TYPE_NONE
	}

	s.pendingPTS = append(s.pendingPTS, timestamp)
	s.frameNum++

	return s.encode(frame)
}

// encode sends frame (nil flushes) and drains every available packet
// through the callback, matching encoder.encode's send/receive loop.
func (s *Session) encode(frame *C.AVFrame) error {
	if C.avcodec_send_frame(s.ctx, frame) < 0 {
		return fmt.Errorf("gpuencoder: avcodec_send_frame failed")
	}

	pkt := C.av_packet_alloc()
	defer C.av_packet_free(&pkt)

	for {
		ret := C.avcodec_receive_packet(s.ctx, pkt)
		if ret == C.averror(C.EAGAIN) || ret == C.AVERROR_EOF {
			break
		}
		if ret < 0 {
			return fmt.Errorf("gpuencoder: avcodec_receive_packet: %s", C.GoString(C.av_error_str(ret)))
		}

		data := C.GoBytes(unsafe.Pointer(pkt.data), pkt.size)
		pts := timestampFor(s)
		keyframe := pkt.flags&C.AV_PKT_FLAG_KEY != 0
		if s.callback != nil {
			s.callback(&types.Packet{
				Data:     data,
				PTS:      pts,
				Duration: s.frameDur,
				Keyframe: keyframe,
				Codec:    codecFromCtx(s.ctx),
			})
		}
		C.av_packet_unref(pkt)
	}
	return nil
}

func timestampFor(s *Session) int64 {
	if len(s.pendingPTS) == 0 {
		return 0
	}
	ts := s.pendingPTS[0]
	s.pendingPTS = s.pendingPTS[1:]
	return ts
}

func codecFromCtx(ctx *C.AVCodecContext) types.Codec {
	if ctx.codec_id == C.AV_CODEC_ID_HEVC {
		return types.CodecHEVC
	}
	return types.CodecH264
}

// GetSequenceHeader returns the codec's parameter-set blob (SPS/PPS or
// VPS/SPS/PPS), populated once AV_CODEC_FLAG_GLOBAL_HEADER forced it into
// ctx.extradata after avcodec_open2 (spec 4.E).
func (s *Session) GetSequenceHeader() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.extradata == nil || s.ctx.extradata_size == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(s.ctx.extradata), s.ctx.extradata_size)
}

// Shutdown sends an end-of-stream signal, flushes remaining packets, and
// releases resources in reverse order of acquisition (spec 4.E Shutdown).
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Destroyed {
		return
	}
	s.state = Flushing
	if s.ctx != nil {
		if err := s.encode(nil); err != nil {
			log.Printf("gpuencoder: flush error: %v", err)
		}
	}
	s.Destroy()
}

// Destroy tears down whatever was acquired so far, in reverse order, and
// tolerates a half-constructed session.
func (s *Session) Destroy() {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] != nil {
			C.av_frame_free(&s.frames[i])
		}
	}
	s.frames = nil
	if s.ctx != nil {
		C.avcodec_free_context(&s.ctx)
		s.ctx = nil
	}
	if s.gpuCtx != nil {
		s.gpuCtx.Destroy()
		s.gpuCtx = nil
	}
	s.state = Destroyed
}
