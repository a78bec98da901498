// Package config parses and validates the configuration keys the pipeline
// recognizes, following the teacher's pointer-field-plus-flag.* pattern from
// options.ShaderOptions and cmd/main.go.
package config

import (
	"flag"
	"fmt"

	"github.com/replaycore/replaycore/internal/errs"
)

const MaxSources = 3

// AudioSource is one configured audio.source{N} / audio.volume{N} pair.
type AudioSource struct {
	DeviceID string // opaque id; empty = unused
	Kind     string // "capture" or "loopback"
	Volume   int    // 0..100
}

// Config is the validated, flattened form of every key in spec §6.
type Config struct {
	ReplayEnabled     bool
	DurationSeconds   int
	CaptureSource     string // monitor|window|region, handled upstream

	AudioEnabled bool
	Sources      [MaxSources]AudioSource

	VideoFPS     int
	VideoQuality string // low|medium|high|lossless
	VideoFormat  string // mp4|hevc

	SoftThresholdMs int
	HardThresholdMs int
	CheckIntervalMs int
}

// Default returns the same defaults the teacher's flag.* calls hardcode,
// translated to this pipeline's keys.
func Default() *Config {
	return &Config{
		ReplayEnabled:   true,
		DurationSeconds: 30,
		CaptureSource:   "monitor",
		AudioEnabled:    true,
		VideoFPS:        60,
		VideoQuality:    "high",
		VideoFormat:     "mp4",
		SoftThresholdMs: 2000,
		HardThresholdMs: 5000,
		CheckIntervalMs: 500,
	}
}

// RegisterFlags wires the config's fields to command-line flags the way
// cmd/main.go wires renderer.ShaderOptions, for the cmd/replayd entrypoint.
func RegisterFlags(fs *flag.FlagSet, c *Config) {
	fs.BoolVar(&c.ReplayEnabled, "replay.enabled", c.ReplayEnabled, "enable the instant-replay ring buffer")
	fs.IntVar(&c.DurationSeconds, "replay.durationSeconds", c.DurationSeconds, "seconds of video retained in the ring")
	fs.StringVar(&c.CaptureSource, "replay.captureSource", c.CaptureSource, "monitor|window|region")
	fs.BoolVar(&c.AudioEnabled, "audio.enabled", c.AudioEnabled, "enable audio capture and mixing")
	for i := range c.Sources {
		n := i + 1
		fs.StringVar(&c.Sources[i].DeviceID, fmt.Sprintf("audio.source%d", n), "", "opaque device id for source "+fmt.Sprint(n))
		fs.IntVar(&c.Sources[i].Volume, fmt.Sprintf("audio.volume%d", n), 100, "gain 0..100 for source "+fmt.Sprint(n))
		// Not one of spec §6's recognized keys (audio.source{N} is just an
		// opaque id there) but needed to pick a capture backend; defaults to
		// "capture" so a bare audio.sourceN=<id> still validates.
		fs.StringVar(&c.Sources[i].Kind, fmt.Sprintf("audio.source%d.kind", n), "capture", "capture|loopback for source "+fmt.Sprint(n))
	}
	fs.IntVar(&c.VideoFPS, "video.fps", c.VideoFPS, "capture/encode frame rate")
	fs.StringVar(&c.VideoQuality, "video.quality", c.VideoQuality, "low|medium|high|lossless")
	fs.StringVar(&c.VideoFormat, "video.format", c.VideoFormat, "mp4|hevc")
	fs.IntVar(&c.SoftThresholdMs, "health.softThresholdMs", c.SoftThresholdMs, "heartbeat age before a warning")
	fs.IntVar(&c.HardThresholdMs, "health.hardThresholdMs", c.HardThresholdMs, "heartbeat age before a stall is declared")
	fs.IntVar(&c.CheckIntervalMs, "health.checkIntervalMs", c.CheckIntervalMs, "supervisor poll period")
}

// Validate enforces the ranges spec.md §6 specifies, returning a
// *errs.Error{Kind: errs.ConfigInvalid} on the first violation found.
func (c *Config) Validate() error {
	if c.DurationSeconds < 1 || c.DurationSeconds > 3600 {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("replay.durationSeconds %d out of range [1,3600]", c.DurationSeconds))
	}
	switch c.CaptureSource {
	case "monitor", "window", "region":
	default:
		return errs.New(errs.ConfigInvalid, fmt.Errorf("replay.captureSource %q not one of monitor|window|region", c.CaptureSource))
	}
	active := 0
	for i, s := range c.Sources {
		if s.DeviceID == "" {
			continue
		}
		active++
		if s.Volume < 0 || s.Volume > 100 {
			return errs.New(errs.ConfigInvalid, fmt.Errorf("audio.volume%d %d out of range [0,100]", i+1, s.Volume))
		}
		if s.Kind != "capture" && s.Kind != "loopback" {
			return errs.New(errs.ConfigInvalid, fmt.Errorf("audio.source%d kind %q not capture|loopback", i+1, s.Kind))
		}
	}
	if c.VideoFPS <= 0 || c.VideoFPS > 240 {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("video.fps %d out of range", c.VideoFPS))
	}
	switch c.VideoQuality {
	case "low", "medium", "high", "lossless":
	default:
		return errs.New(errs.ConfigInvalid, fmt.Errorf("video.quality %q not recognized", c.VideoQuality))
	}
	switch c.VideoFormat {
	case "mp4", "hevc":
	default:
		return errs.New(errs.ConfigInvalid, fmt.Errorf("video.format %q not recognized", c.VideoFormat))
	}
	if c.HardThresholdMs <= c.SoftThresholdMs {
		return errs.New(errs.ConfigInvalid, fmt.Errorf("health.hardThresholdMs (%d) must exceed health.softThresholdMs (%d)", c.HardThresholdMs, c.SoftThresholdMs))
	}
	return nil
}

// ActiveSources returns the configured sources whose DeviceID is non-empty.
func (c *Config) ActiveSources() []AudioSource {
	out := make([]AudioSource, 0, MaxSources)
	for _, s := range c.Sources {
		if s.DeviceID != "" {
			out = append(out, s)
		}
	}
	return out
}
