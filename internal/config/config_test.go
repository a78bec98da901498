package config

import (
	"testing"

	"github.com/replaycore/replaycore/internal/errs"
)

func TestDefaultValidates(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestDurationSecondsRange(t *testing.T) {
	c := Default()
	c.DurationSeconds = 0
	err := c.Validate()
	if !errs.Is(err, errs.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
	c.DurationSeconds = 3601
	if !errs.Is(c.Validate(), errs.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid for upper bound")
	}
}

func TestActiveSourcesFiltersEmpty(t *testing.T) {
	c := Default()
	c.Sources[0] = AudioSource{DeviceID: "mic0", Kind: "capture", Volume: 80}
	c.Sources[2] = AudioSource{DeviceID: "loop0", Kind: "loopback", Volume: 50}
	active := c.ActiveSources()
	if len(active) != 2 {
		t.Fatalf("expected 2 active sources, got %d", len(active))
	}
}

func TestHardThresholdMustExceedSoft(t *testing.T) {
	c := Default()
	c.SoftThresholdMs = 5000
	c.HardThresholdMs = 2000
	if !errs.Is(c.Validate(), errs.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid when hard <= soft")
	}
}
