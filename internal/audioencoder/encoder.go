// Package audioencoder elaborates the "audio-encoder" external collaborator
// spec 9's Open Questions leave unspecified: something that drains the
// mixer's canonical PCM stream and produces compressed AAC packets for the
// audio sample ring. It reuses the pack's ffmpeg-go subprocess idiom —
// the same stdin/stdout pipe shape as the muxer's remux step and
// audiosource's FFmpegLoopback capture — rather than a native AAC encoder.
package audioencoder

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/replaycore/replaycore/internal/types"
)

const framesPerAACPacket = 1024 // one AAC frame covers 1024 PCM samples

// Encoder owns an ffmpeg subprocess that consumes raw canonical PCM on
// stdin and emits an ADTS-framed AAC elementary stream on stdout, parsed
// back into discrete Packets.
type Encoder struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	packets chan *types.Packet

	sampleRate int
	frameDur   int64 // 100-ns units per AAC frame
}

// New starts the subprocess at the given PCM sample rate (stereo, 16-bit
// LE input is assumed — the pipeline's canonical format) and bitrate.
func New(sampleRate int, bitrate string) (*Encoder, error) {
	if bitrate == "" {
		bitrate = "128k"
	}
	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()

	cmd := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f": "s16le", "ar": fmt.Sprint(sampleRate), "ac": "2",
	}).Output("pipe:", ffmpeg.KwArgs{
		"c:a": "aac", "f": "adts", "b:a": bitrate,
	}).WithInput(stdinReader).WithOutput(stdoutWriter).ErrorToStdOut().Compile()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audioencoder: failed to start ffmpeg: %w", err)
	}

	e := &Encoder{
		cmd:        cmd,
		stdin:      stdinWriter,
		packets:    make(chan *types.Packet, 64),
		sampleRate: sampleRate,
		frameDur:   int64(framesPerAACPacket) * 1e7 / int64(sampleRate),
	}

	go e.readLoop(stdoutReader)
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("audioencoder: ffmpeg process exited: %v", err)
		}
		stdoutWriter.Close()
	}()

	return e, nil
}

// readLoop parses ADTS frames off the subprocess's stdout and emits one
// Packet per frame until the pipe closes.
func (e *Encoder) readLoop(r io.Reader) {
	defer close(e.packets)
	br := bufio.NewReader(r)
	var frameNum int64
	var buf []byte
	chunk := make([]byte, 4096)

	for {
		n, err := br.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame, rest, ok := nextADTSFrame(buf)
				buf = rest
				if !ok {
					break
				}
				e.packets <- &types.Packet{
					Data:     append([]byte(nil), frame...),
					PTS:      frameNum * e.frameDur,
					Duration: e.frameDur,
					Keyframe: true, // meaningless for audio; always true per types.Packet
					Codec:    types.CodecAAC,
				}
				frameNum++
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("audioencoder: read error: %v", err)
			}
			return
		}
	}
}

// Feed writes one canonical-PCM chunk (stereo, 16-bit LE) to the
// subprocess's stdin, the mixer's Read output handed straight through.
func (e *Encoder) Feed(pcm []byte) error {
	_, err := e.stdin.Write(pcm)
	return err
}

// Packets returns the channel of encoded AAC packets, ready for the
// controller to append to the audio ring.
func (e *Encoder) Packets() <-chan *types.Packet { return e.packets }

// Close signals end-of-stream on stdin and waits for the subprocess to
// exit, draining any frames still in flight.
func (e *Encoder) Close() error {
	e.stdin.Close()
	return e.cmd.Wait()
}

// nextADTSFrame strips leading bytes until an ADTS sync word is found,
// then extracts one complete frame if the buffer holds enough bytes.
// ADTS header layout (no CRC): byte0=0xFF, byte1&0xF0==0xF0; the 13-bit
// frame length spans the low 2 bits of byte3, all of byte4, and the top 3
// bits of byte5.
func nextADTSFrame(buf []byte) (frame, rest []byte, ok bool) {
	for len(buf) >= 2 && (buf[0] != 0xFF || buf[1]&0xF0 != 0xF0) {
		buf = buf[1:]
	}
	if len(buf) < 7 {
		return nil, buf, false
	}
	frameLen := (int(buf[3]&0x03) << 11) | (int(buf[4]) << 3) | (int(buf[5]) >> 5)
	if frameLen < 7 || len(buf) < frameLen {
		return nil, buf, false
	}
	return buf[:frameLen], buf[frameLen:], true
}
