package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()

	if p.MaxMatchDistance != 50 {
		t.Errorf("expected MaxMatchDistance 50, got %v", p.MaxMatchDistance)
	}
	if p.DisappearTimeoutFrames != 15 {
		t.Errorf("expected DisappearTimeoutFrames 15, got %d", p.DisappearTimeoutFrames)
	}
	if p.MinTrackLength != 5 {
		t.Errorf("expected MinTrackLength 5, got %d", p.MinTrackLength)
	}
	if p.BlinkFreqLow != 0.5 || p.BlinkFreqHigh != 3.0 {
		t.Errorf("expected blink band 0.5-3.0, got %v-%v", p.BlinkFreqLow, p.BlinkFreqHigh)
	}
	if p.LinearityThreshold != 0.85 {
		t.Errorf("expected LinearityThreshold 0.85, got %v", p.LinearityThreshold)
	}
	if p.PreBuffer != 3*time.Second || p.PostBuffer != 5*time.Second {
		t.Errorf("expected pre/post buffers 3s/5s, got %v/%v", p.PreBuffer, p.PostBuffer)
	}
	if p.RingCapacity < 1 || p.OutboundQueueCapacity < 1 {
		t.Errorf("queue capacities must be positive, got %d/%d", p.RingCapacity, p.OutboundQueueCapacity)
	}
}

func TestLoadTuningConfig_PartialOverride(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "tuning.json")
	content := `{
		"max_match_distance": 25.0,
		"pre_buffer": "2s",
		"schedule_enabled": true,
		"schedule_start": "21:30",
		"schedule_end": "05:00"
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if p.MaxMatchDistance != 25.0 {
		t.Errorf("expected overridden MaxMatchDistance 25, got %v", p.MaxMatchDistance)
	}
	if p.PreBuffer != 2*time.Second {
		t.Errorf("expected overridden PreBuffer 2s, got %v", p.PreBuffer)
	}
	if !p.ScheduleEnabled {
		t.Error("expected ScheduleEnabled true")
	}
	// Untouched fields keep defaults
	if p.MinTrackLength != 5 {
		t.Errorf("expected default MinTrackLength 5, got %d", p.MinTrackLength)
	}
	if p.PostBuffer != 5*time.Second {
		t.Errorf("expected default PostBuffer 5s, got %v", p.PostBuffer)
	}
}

func TestApply_FullOverlay(t *testing.T) {
	f64 := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	str := func(v string) *string { return &v }
	b := func(v bool) *bool { return &v }

	cfg := &TuningConfig{
		MaxMatchDistance:       f64(30),
		DisappearTimeoutFrames: i(10),
		MinTrackLength:         i(4),
		GracePeriodFrames:      i(20),
		MaxHistoryLength:       i(200),

		BlinkFreqLow:           f64(0.4),
		BlinkFreqHigh:          f64(2.5),
		BlinkMagnitudeRatio:    f64(4.0),
		LinearityThreshold:     f64(0.9),
		ModerateLinearity:      f64(0.6),
		SatelliteSpeedMin:      f64(1.5),
		SatelliteSpeedMax:      f64(7.0),
		SpeedVarianceMax:       f64(0.8),
		AccelVarianceThreshold: f64(3.0),
		MinSamplesForClass:     i(8),
		FramesPerSecond:        f64(25),
		MinBlinkSamples:        i(20),

		DiffThreshold:    i(30),
		MinBlobArea:      f64(6),
		MaxBlobArea:      f64(400),
		MinCircularity:   f64(0.4),
		DownsampleFactor: i(2),
		BlurRadius:       i(1),

		PreBuffer:  str("2s"),
		PostBuffer: str("4s"),

		RingCapacity:          i(128),
		OutboundQueueCapacity: i(32),
		FrameSkip:             i(2),
		GrabTimeout:           str("5s"),

		ScheduleEnabled: b(true),
		ScheduleStart:   str("21:00"),
		ScheduleEnd:     str("05:30"),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	got := DefaultParams()
	cfg.Apply(&got)

	want := Params{
		MaxMatchDistance:       30,
		DisappearTimeoutFrames: 10,
		MinTrackLength:         4,
		GracePeriodFrames:      20,
		MaxHistoryLength:       200,

		BlinkFreqLow:           0.4,
		BlinkFreqHigh:          2.5,
		BlinkMagnitudeRatio:    4.0,
		LinearityThreshold:     0.9,
		ModerateLinearity:      0.6,
		SatelliteSpeedMin:      1.5,
		SatelliteSpeedMax:      7.0,
		SpeedVarianceMax:       0.8,
		AccelVarianceThreshold: 3.0,
		MinSamplesForClass:     8,
		FramesPerSecond:        25,
		MinBlinkSamples:        20,

		DiffThreshold:    30,
		MinBlobArea:      6,
		MaxBlobArea:      400,
		MinCircularity:   0.4,
		DownsampleFactor: 2,
		BlurRadius:       1,

		PreBuffer:  2 * time.Second,
		PostBuffer: 4 * time.Second,

		RingCapacity:          128,
		OutboundQueueCapacity: 32,
		FrameSkip:             2,
		GrabTimeout:           5 * time.Second,

		ScheduleEnabled: true,
		ScheduleStart:   "21:00",
		ScheduleEnd:     "05:30",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("applied params mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTuningConfig_RejectsBadInputs(t *testing.T) {
	tmpDir := t.TempDir()

	// Wrong extension
	if _, err := LoadTuningConfig(filepath.Join(tmpDir, "tuning.yaml")); err == nil {
		t.Error("expected error for non-.json extension")
	}

	// Missing file
	if _, err := LoadTuningConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	// Invalid values
	cases := map[string]string{
		"negative distance":   `{"max_match_distance": -1}`,
		"inverted blink band": `{"blink_freq_low": 4.0, "blink_freq_high": 1.0}`,
		"bad schedule":        `{"schedule_start": "25:99"}`,
		"bad duration":        `{"pre_buffer": "yesterday"}`,
		"linearity range":     `{"linearity_threshold": 1.5}`,
	}
	for name, content := range cases {
		path := filepath.Join(tmpDir, "bad.json")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadTuningConfig(path); err == nil {
			t.Errorf("%s: expected validation error for %s", name, content)
		}
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if p != DefaultParams() {
		t.Error("expected defaults for empty path")
	}
}

func TestInWindow(t *testing.T) {
	p := DefaultParams()

	// Scheduling off: always in window
	if !p.InWindow(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Error("expected always in window when schedule disabled")
	}

	p.ScheduleEnabled = true
	p.ScheduleStart = "20:00"
	p.ScheduleEnd = "06:00"

	cases := []struct {
		hour, min int
		want      bool
	}{
		{23, 0, true},  // late evening
		{2, 30, true},  // after midnight
		{6, 0, true},   // boundary inclusive
		{12, 0, false}, // midday
		{19, 59, false},
		{20, 0, true}, // boundary inclusive
	}
	for _, tc := range cases {
		at := time.Date(2026, 1, 1, tc.hour, tc.min, 0, 0, time.UTC)
		if got := p.InWindow(at); got != tc.want {
			t.Errorf("InWindow(%02d:%02d) = %v, want %v", tc.hour, tc.min, got, tc.want)
		}
	}

	// Same-day window
	p.ScheduleStart = "09:00"
	p.ScheduleEnd = "17:00"
	if !p.InWindow(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Error("expected midday inside 09:00-17:00 window")
	}
	if p.InWindow(time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)) {
		t.Error("expected 18:00 outside 09:00-17:00 window")
	}
}
