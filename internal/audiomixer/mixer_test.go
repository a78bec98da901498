package audiomixer

import (
	"testing"
	"time"

	"github.com/replaycore/replaycore/internal/pcmring"
)

func TestDormancySourceContributesSilence(t *testing.T) {
	ringA := pcmring.New(BytesPerSec * 2)
	ringB := pcmring.New(BytesPerSec * 2)

	staleTime := time.Now().Add(-500 * time.Millisecond)
	freshTime := time.Now()

	a := &Source{Ring: ringA, Gain: 100, LastPacketTime: func() time.Time { return staleTime }}
	b := &Source{Ring: ringB, Gain: 100, LastPacketTime: func() time.Time { return freshTime }}

	// Fill B with a known tone, A with a different one; A should be
	// excluded from the mix since it's dormant (stale last-packet time).
	bChunk := make([]byte, chunkFrames*4)
	for i := 0; i < chunkFrames; i++ {
		bChunk[i*4] = 0x34
		bChunk[i*4+1] = 0x12 // little-endian 0x1234
	}
	ringB.Write(bChunk)

	aChunk := make([]byte, chunkFrames*4)
	for i := range aChunk {
		aChunk[i] = 0xFF
	}
	ringA.Write(aChunk)

	m := New([]*Source{a, b})
	m.t0 = time.Now()
	m.mixOneChunk()

	out := make([]byte, chunkFrames*4)
	n := m.output.Read(out)
	if n == 0 {
		t.Fatal("expected mixed output")
	}
	l := int16(uint16(out[0]) | uint16(out[1])<<8)
	if l != 0x1234 {
		t.Fatalf("expected dormant source A excluded, got sample %x", uint16(l))
	}
}

func TestAllowedBytesMatchesWallClock(t *testing.T) {
	m := New(nil)
	m.t0 = time.Now().Add(-1 * time.Second)
	m.bytesWritten = 0
	allowed := m.allowedBytes()
	// Over ~1s, allowed should approximate BytesPerSec within a small
	// scheduling-jitter tolerance.
	if allowed < BytesPerSec-BytesPerSec/10 || allowed > BytesPerSec+BytesPerSec/10 {
		t.Fatalf("expected allowed ~%d, got %d", BytesPerSec, allowed)
	}
}

func TestMixClampsToInt16Range(t *testing.T) {
	ringA := pcmring.New(BytesPerSec * 2)
	ringB := pcmring.New(BytesPerSec * 2)
	loud := make([]byte, chunkFrames*4)
	for i := 0; i < chunkFrames; i++ {
		loud[i*4] = 0xFF
		loud[i*4+1] = 0x7F // max positive int16
	}
	ringA.Write(loud)
	ringB.Write(loud)

	a := &Source{Ring: ringA, Gain: 100, LastPacketTime: func() time.Time { return time.Now() }}
	b := &Source{Ring: ringB, Gain: 100, LastPacketTime: func() time.Time { return time.Now() }}

	m := New([]*Source{a, b})
	m.t0 = time.Now()
	m.mixOneChunk()

	out := make([]byte, chunkFrames*4)
	m.output.Read(out)
	l := int16(uint16(out[0]) | uint16(out[1])<<8)
	if l != 32767 {
		t.Fatalf("expected clamp to 32767, got %d", l)
	}
}
