package audioencoder

import "testing"

// buildADTSFrame constructs a minimal 7-byte-header ADTS frame with the
// given payload, enough to exercise nextADTSFrame's length decode.
func buildADTSFrame(payload []byte) []byte {
	frameLen := 7 + len(payload)
	b := make([]byte, frameLen)
	b[0] = 0xFF
	b[1] = 0xF1
	b[2] = 0x50
	b[3] = byte((frameLen >> 11) & 0x03)
	b[4] = byte((frameLen >> 3) & 0xFF)
	b[5] = byte((frameLen&0x07)<<5) | 0x1F
	b[6] = 0xFC
	copy(b[7:], payload)
	return b
}

func TestNextADTSFrameExtractsOneFrame(t *testing.T) {
	f := buildADTSFrame([]byte{1, 2, 3, 4})
	frame, rest, ok := nextADTSFrame(f)
	if !ok {
		t.Fatal("expected a complete frame to be found")
	}
	if len(rest) != 0 {
		t.Fatalf("expected no remainder, got %d bytes", len(rest))
	}
	if len(frame) != len(f) {
		t.Fatalf("expected frame length %d, got %d", len(f), len(frame))
	}
}

func TestNextADTSFrameWaitsForMoreData(t *testing.T) {
	f := buildADTSFrame([]byte{1, 2, 3, 4})
	_, _, ok := nextADTSFrame(f[:len(f)-2])
	if ok {
		t.Fatal("expected incomplete frame to report not-ok")
	}
}

func TestNextADTSFrameResyncsPastGarbage(t *testing.T) {
	f := buildADTSFrame([]byte{9, 9})
	garbage := append([]byte{0x00, 0x11, 0x22}, f...)
	frame, rest, ok := nextADTSFrame(garbage)
	if !ok {
		t.Fatal("expected to resync past leading garbage and find a frame")
	}
	if len(frame) != len(f) {
		t.Fatalf("expected resynced frame length %d, got %d", len(f), len(frame))
	}
	if len(rest) != 0 {
		t.Fatalf("expected no remainder after the resynced frame, got %d", len(rest))
	}
}

func TestNextADTSFrameConcatenatesMultipleFrames(t *testing.T) {
	f1 := buildADTSFrame([]byte{1, 1})
	f2 := buildADTSFrame([]byte{2, 2, 2})
	buf := append(append([]byte{}, f1...), f2...)

	frame, rest, ok := nextADTSFrame(buf)
	if !ok || len(frame) != len(f1) {
		t.Fatalf("expected first frame of length %d, got ok=%v len=%d", len(f1), ok, len(frame))
	}
	frame2, rest2, ok2 := nextADTSFrame(rest)
	if !ok2 || len(frame2) != len(f2) {
		t.Fatalf("expected second frame of length %d, got ok=%v len=%d", len(f2), ok2, len(frame2))
	}
	if len(rest2) != 0 {
		t.Fatalf("expected no remainder after both frames, got %d", len(rest2))
	}
}
