package pipeline

import "testing"

func TestRingCapacityMatchesCeilFormula(t *testing.T) {
	cases := []struct {
		duration, rate, want int
	}{
		{duration: 30, rate: 60, want: 2700}, // ceil(30*60*1.5) = 2700
		{duration: 1, rate: 1, want: 8},      // clamped to the minimum
		{duration: 10, rate: 47, want: 705},  // ceil(10*47*1.5) = 705
	}
	for _, c := range cases {
		if got := ringCapacity(c.duration, c.rate); got != c.want {
			t.Fatalf("ringCapacity(%d, %d) = %d, want %d", c.duration, c.rate, got, c.want)
		}
	}
}

func TestQPForQualityCoversEveryLevel(t *testing.T) {
	levels := map[string]int{"low": 35, "medium": 28, "high": 23, "lossless": 0, "bogus": 23}
	for quality, want := range levels {
		if got := qpForQuality(quality); got != want {
			t.Fatalf("qpForQuality(%q) = %d, want %d", quality, got, want)
		}
	}
}

func TestCodecForFormat(t *testing.T) {
	if codecForFormat("hevc").String() != "hevc" {
		t.Fatal("expected hevc format to select the HEVC codec")
	}
	if codecForFormat("mp4").String() != "h264" {
		t.Fatal("expected mp4 format to select the H264 codec")
	}
}

func TestStateStringCoversEveryValue(t *testing.T) {
	want := map[State]string{
		StateUninitialized: "Uninitialized",
		StateCapturing:     "Capturing",
		StateStopping:      "Stopping",
		StateSaving:        "Saving",
	}
	for state, str := range want {
		if state.String() != str {
			t.Fatalf("State(%d).String() = %q, want %q", state, state.String(), str)
		}
	}
}

func TestNewControllerStartsUninitialized(t *testing.T) {
	c := New(NewSyntheticVideoSource(16, 16))
	if c.State() != StateUninitialized {
		t.Fatalf("expected a fresh controller to be Uninitialized, got %s", c.State())
	}
	if c.Notifications() != nil {
		t.Fatal("expected a nil notification channel before Start")
	}
	if err := c.Stop(); err == nil {
		t.Fatal("expected Stop to reject a controller that was never started")
	}
}

func TestSyntheticVideoSourceProducesStableFrameSizes(t *testing.T) {
	src := NewSyntheticVideoSource(4, 2)
	y, uv, ok := src.NextFrame()
	if !ok {
		t.Fatal("expected SyntheticVideoSource to always report ok")
	}
	if len(y) != 8 {
		t.Fatalf("expected 8 luma bytes for a 4x2 frame, got %d", len(y))
	}
	if len(uv) != 4 {
		t.Fatalf("expected 4 chroma bytes for a 4x2 NV12 frame, got %d", len(uv))
	}
}
