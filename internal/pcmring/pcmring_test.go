package pcmring

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	r := New(16)
	r.Write([]byte{1, 2, 3, 4})
	dest := make([]byte, 4)
	n := r.Read(dest)
	if n != 4 {
		t.Fatalf("expected 4 bytes read, got %d", n)
	}
	for i, b := range []byte{1, 2, 3, 4} {
		if dest[i] != b {
			t.Fatalf("byte %d: expected %d got %d", i, b, dest[i])
		}
	}
	if r.Available() != 0 {
		t.Fatalf("expected 0 available after full read, got %d", r.Available())
	}
}

func TestFullRingDropsOldest(t *testing.T) {
	r := New(4)
	r.Write([]byte{1, 2, 3, 4})
	r.Write([]byte{5, 6}) // overflow by 2, should drop {1,2}
	if r.Available() != 4 {
		t.Fatalf("expected available clamped to capacity 4, got %d", r.Available())
	}
	dest := make([]byte, 4)
	r.Read(dest)
	want := []byte{3, 4, 5, 6}
	for i := range want {
		if dest[i] != want[i] {
			t.Fatalf("expected %v got %v", want, dest)
		}
	}
}

func TestAvailableNeverExceedsCapacity(t *testing.T) {
	r := New(8)
	for i := 0; i < 100; i++ {
		r.Write([]byte{byte(i)})
		if r.Available() > r.Capacity() {
			t.Fatalf("available %d exceeded capacity %d", r.Available(), r.Capacity())
		}
	}
}

func TestPartialReadLeavesRemainder(t *testing.T) {
	r := New(16)
	r.Write([]byte{1, 2, 3, 4, 5, 6})
	dest := make([]byte, 3)
	r.Read(dest)
	if r.Available() != 3 {
		t.Fatalf("expected 3 remaining, got %d", r.Available())
	}
}
