package ring

import (
	"testing"

	"github.com/replaycore/replaycore/internal/types"
)

func pkt(pts, dur int64, key bool) *types.Packet {
	return &types.Packet{Data: []byte{1, 2, 3}, PTS: pts, Duration: dur, Keyframe: key, Codec: types.CodecH264}
}

func TestAddRespectsCountInvariant(t *testing.T) {
	r := New(10, 1_000_000_000)
	for i := 0; i < 5; i++ {
		r.Add(pkt(int64(i), 1000, i == 0))
	}
	if r.GetCount() != 5 {
		t.Fatalf("expected count 5, got %d", r.GetCount())
	}
}

// TestEvictionByDuration mirrors spec scenario 3: durationSeconds=10, fps=60,
// feeding 900 packets should leave count <= 600 and totalDuration within the
// overshoot bound of one packet's duration.
func TestEvictionByDuration(t *testing.T) {
	const fps = 60
	frameDur := int64(1e7) / fps
	maxDuration := int64(10 * 1e7)
	r := New(1000, maxDuration)
	for i := 0; i < 900; i++ {
		r.Add(pkt(int64(i)*frameDur, frameDur, i%30 == 0))
	}
	if r.GetCount() > 600 {
		t.Fatalf("expected count <= 600, got %d", r.GetCount())
	}
	if r.GetDuration() > maxDuration+frameDur {
		t.Fatalf("totalDuration %d exceeds overshoot bound %d", r.GetDuration(), maxDuration+frameDur)
	}
}

func TestEvictionByCapacity(t *testing.T) {
	r := New(3, 1_000_000_000)
	for i := 0; i < 5; i++ {
		r.Add(pkt(int64(i), 10, false))
	}
	if r.GetCount() != 3 {
		t.Fatalf("expected capacity-bounded count 3, got %d", r.GetCount())
	}
}

func TestClearResetsState(t *testing.T) {
	r := New(10, 1_000_000_000)
	r.Add(pkt(0, 10, true))
	r.Clear()
	if r.GetCount() != 0 || r.GetDuration() != 0 {
		t.Fatalf("expected zeroed ring after Clear")
	}
}

func TestSnapshotOrderAndIsolation(t *testing.T) {
	r := New(10, 1_000_000_000)
	for i := 0; i < 4; i++ {
		r.Add(pkt(int64(i)*100, 100, i == 0))
	}
	snap, warn := r.Snapshot()
	if warn {
		t.Fatalf("expected no non-keyframe warning, first packet is a keyframe")
	}
	if len(snap) != 4 {
		t.Fatalf("expected 4 packets in snapshot, got %d", len(snap))
	}
	for i, p := range snap {
		if p.PTS != int64(i)*100 {
			t.Fatalf("snapshot out of order at %d: got PTS %d", i, p.PTS)
		}
	}
	// Mutating the ring after Snapshot must not affect already-cloned data.
	r.Add(pkt(1000, 100, false))
	if snap[0].PTS != 0 {
		t.Fatalf("snapshot packet mutated after concurrent Add")
	}
}

func TestSnapshotWarnsOnNonKeyframeHead(t *testing.T) {
	r := New(10, 1_000_000_000)
	r.Add(pkt(0, 100, false))
	_, warn := r.Snapshot()
	if !warn {
		t.Fatalf("expected non-keyframe warning when oldest retained packet isn't a keyframe")
	}
}
