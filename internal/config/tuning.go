// Package config loads and validates the tuning parameters for the night-sky
// pipeline. The JSON schema matches the /api/params endpoint so the same file
// can be used for startup configuration and runtime inspection.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the root configuration for tuning parameters.
// All fields are optional; nil fields fall back to the defaults in
// DefaultParams. Partial config files are safe.
type TuningConfig struct {
	// Tracker params
	MaxMatchDistance       *float64 `json:"max_match_distance,omitempty"`
	DisappearTimeoutFrames *int     `json:"disappear_timeout_frames,omitempty"`
	MinTrackLength         *int     `json:"min_track_length,omitempty"`
	GracePeriodFrames      *int     `json:"grace_period_frames,omitempty"`
	MaxHistoryLength       *int     `json:"max_history_length,omitempty"`

	// Classifier params
	BlinkFreqLow              *float64 `json:"blink_freq_low,omitempty"`
	BlinkFreqHigh             *float64 `json:"blink_freq_high,omitempty"`
	BlinkMagnitudeRatio       *float64 `json:"blink_magnitude_ratio,omitempty"`
	LinearityThreshold        *float64 `json:"linearity_threshold,omitempty"`
	ModerateLinearity         *float64 `json:"moderate_linearity_threshold,omitempty"`
	SatelliteSpeedMin         *float64 `json:"satellite_speed_min,omitempty"`
	SatelliteSpeedMax         *float64 `json:"satellite_speed_max,omitempty"`
	SpeedVarianceMax          *float64 `json:"speed_variance_max,omitempty"`
	AccelVarianceThreshold    *float64 `json:"accel_variance_threshold,omitempty"`
	MinSamplesForClass        *int     `json:"min_samples_for_classification,omitempty"`
	FramesPerSecond           *float64 `json:"frames_per_second,omitempty"`
	MinBlinkSamples           *int     `json:"min_blink_samples,omitempty"`

	// Detector params
	DiffThreshold    *int     `json:"diff_threshold,omitempty"`
	MinBlobArea      *float64 `json:"min_blob_area,omitempty"`
	MaxBlobArea      *float64 `json:"max_blob_area,omitempty"`
	MinCircularity   *float64 `json:"min_circularity,omitempty"`
	DownsampleFactor *int     `json:"downsample_factor,omitempty"`
	BlurRadius       *int     `json:"blur_radius,omitempty"`

	// Recorder params
	PreBuffer  *string `json:"pre_buffer,omitempty"`  // duration string like "3s"
	PostBuffer *string `json:"post_buffer,omitempty"` // duration string like "5s"

	// Pipeline params
	RingCapacity          *int    `json:"ring_capacity,omitempty"`
	OutboundQueueCapacity *int    `json:"outbound_queue_capacity,omitempty"`
	FrameSkip             *int    `json:"frame_skip,omitempty"`
	GrabTimeout           *string `json:"grab_timeout,omitempty"` // duration string like "10s"

	// Schedule params
	ScheduleEnabled *bool   `json:"schedule_enabled,omitempty"`
	ScheduleStart   *string `json:"schedule_start,omitempty"` // HH:MM, 24-hour
	ScheduleEnd     *string `json:"schedule_end,omitempty"`   // HH:MM, 24-hour
}

// Params holds the fully resolved tuning values used by the pipeline. The
// JSON field names match TuningConfig so /api/params output can be fed back
// as a config file (durations are nanoseconds here, strings there).
type Params struct {
	MaxMatchDistance       float64 `json:"max_match_distance"`
	DisappearTimeoutFrames int     `json:"disappear_timeout_frames"`
	MinTrackLength         int     `json:"min_track_length"`
	GracePeriodFrames      int     `json:"grace_period_frames"`
	MaxHistoryLength       int     `json:"max_history_length"`

	BlinkFreqLow           float64 `json:"blink_freq_low"`
	BlinkFreqHigh          float64 `json:"blink_freq_high"`
	BlinkMagnitudeRatio    float64 `json:"blink_magnitude_ratio"`
	LinearityThreshold     float64 `json:"linearity_threshold"`
	ModerateLinearity      float64 `json:"moderate_linearity_threshold"`
	SatelliteSpeedMin      float64 `json:"satellite_speed_min"`
	SatelliteSpeedMax      float64 `json:"satellite_speed_max"`
	SpeedVarianceMax       float64 `json:"speed_variance_max"`
	AccelVarianceThreshold float64 `json:"accel_variance_threshold"`
	MinSamplesForClass     int     `json:"min_samples_for_classification"`
	FramesPerSecond        float64 `json:"frames_per_second"`
	MinBlinkSamples        int     `json:"min_blink_samples"`

	DiffThreshold    int     `json:"diff_threshold"`
	MinBlobArea      float64 `json:"min_blob_area"`
	MaxBlobArea      float64 `json:"max_blob_area"`
	MinCircularity   float64 `json:"min_circularity"`
	DownsampleFactor int     `json:"downsample_factor"`
	BlurRadius       int     `json:"blur_radius"`

	PreBuffer  time.Duration `json:"pre_buffer_ns"`
	PostBuffer time.Duration `json:"post_buffer_ns"`

	RingCapacity          int           `json:"ring_capacity"`
	OutboundQueueCapacity int           `json:"outbound_queue_capacity"`
	FrameSkip             int           `json:"frame_skip"`
	GrabTimeout           time.Duration `json:"grab_timeout_ns"`

	ScheduleEnabled bool   `json:"schedule_enabled"`
	ScheduleStart   string `json:"schedule_start"`
	ScheduleEnd     string `json:"schedule_end"`
}

// DefaultParams returns the canonical defaults for all tuning values.
func DefaultParams() Params {
	return Params{
		MaxMatchDistance:       50,
		DisappearTimeoutFrames: 15,
		MinTrackLength:         5,
		GracePeriodFrames:      30,
		MaxHistoryLength:       300,

		BlinkFreqLow:           0.5,
		BlinkFreqHigh:          3.0,
		BlinkMagnitudeRatio:    3.0,
		LinearityThreshold:     0.85,
		ModerateLinearity:      0.5,
		SatelliteSpeedMin:      1.0,
		SatelliteSpeedMax:      8.0,
		SpeedVarianceMax:       1.0,
		AccelVarianceThreshold: 2.0,
		MinSamplesForClass:     5,
		FramesPerSecond:        30.0,
		MinBlinkSamples:        16,

		DiffThreshold:    25,
		MinBlobArea:      4,
		MaxBlobArea:      500,
		MinCircularity:   0.3,
		DownsampleFactor: 1,
		BlurRadius:       0,

		PreBuffer:  3 * time.Second,
		PostBuffer: 5 * time.Second,

		RingCapacity:          256,
		OutboundQueueCapacity: 64,
		FrameSkip:             1,
		GrabTimeout:           10 * time.Second,

		ScheduleEnabled: false,
		ScheduleStart:   "20:00",
		ScheduleEnd:     "06:00",
	}
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size. Fields omitted from the JSON file retain their default values.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MaxMatchDistance != nil && *c.MaxMatchDistance <= 0 {
		return fmt.Errorf("max_match_distance must be positive, got %f", *c.MaxMatchDistance)
	}
	if c.DisappearTimeoutFrames != nil && *c.DisappearTimeoutFrames < 1 {
		return fmt.Errorf("disappear_timeout_frames must be >= 1, got %d", *c.DisappearTimeoutFrames)
	}
	if c.MinTrackLength != nil && *c.MinTrackLength < 1 {
		return fmt.Errorf("min_track_length must be >= 1, got %d", *c.MinTrackLength)
	}
	if c.MaxHistoryLength != nil && *c.MaxHistoryLength < 2 {
		return fmt.Errorf("max_history_length must be >= 2, got %d", *c.MaxHistoryLength)
	}
	if c.BlinkFreqLow != nil && c.BlinkFreqHigh != nil && *c.BlinkFreqLow >= *c.BlinkFreqHigh {
		return fmt.Errorf("blink_freq_low %f must be below blink_freq_high %f", *c.BlinkFreqLow, *c.BlinkFreqHigh)
	}
	if c.LinearityThreshold != nil && (*c.LinearityThreshold < 0 || *c.LinearityThreshold > 1) {
		return fmt.Errorf("linearity_threshold must be between 0 and 1, got %f", *c.LinearityThreshold)
	}
	if c.SatelliteSpeedMin != nil && c.SatelliteSpeedMax != nil && *c.SatelliteSpeedMin > *c.SatelliteSpeedMax {
		return fmt.Errorf("satellite_speed_min %f exceeds satellite_speed_max %f", *c.SatelliteSpeedMin, *c.SatelliteSpeedMax)
	}
	for name, d := range map[string]*string{
		"pre_buffer":   c.PreBuffer,
		"post_buffer":  c.PostBuffer,
		"grab_timeout": c.GrabTimeout,
	} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
			}
		}
	}
	for name, hm := range map[string]*string{
		"schedule_start": c.ScheduleStart,
		"schedule_end":   c.ScheduleEnd,
	} {
		if hm != nil && *hm != "" {
			if _, err := time.Parse("15:04", *hm); err != nil {
				return fmt.Errorf("invalid %s '%s': must be HH:MM", name, *hm)
			}
		}
	}
	if c.DownsampleFactor != nil && *c.DownsampleFactor < 1 {
		return fmt.Errorf("downsample_factor must be >= 1, got %d", *c.DownsampleFactor)
	}
	if c.BlurRadius != nil && *c.BlurRadius < 0 {
		return fmt.Errorf("blur_radius must be >= 0, got %d", *c.BlurRadius)
	}
	if c.RingCapacity != nil && *c.RingCapacity < 1 {
		return fmt.Errorf("ring_capacity must be >= 1, got %d", *c.RingCapacity)
	}
	if c.OutboundQueueCapacity != nil && *c.OutboundQueueCapacity < 1 {
		return fmt.Errorf("outbound_queue_capacity must be >= 1, got %d", *c.OutboundQueueCapacity)
	}
	return nil
}

// Apply overlays the non-nil fields of the TuningConfig onto params.
func (c *TuningConfig) Apply(p *Params) {
	if c.MaxMatchDistance != nil {
		p.MaxMatchDistance = *c.MaxMatchDistance
	}
	if c.DisappearTimeoutFrames != nil {
		p.DisappearTimeoutFrames = *c.DisappearTimeoutFrames
	}
	if c.MinTrackLength != nil {
		p.MinTrackLength = *c.MinTrackLength
	}
	if c.GracePeriodFrames != nil {
		p.GracePeriodFrames = *c.GracePeriodFrames
	}
	if c.MaxHistoryLength != nil {
		p.MaxHistoryLength = *c.MaxHistoryLength
	}
	if c.BlinkFreqLow != nil {
		p.BlinkFreqLow = *c.BlinkFreqLow
	}
	if c.BlinkFreqHigh != nil {
		p.BlinkFreqHigh = *c.BlinkFreqHigh
	}
	if c.BlinkMagnitudeRatio != nil {
		p.BlinkMagnitudeRatio = *c.BlinkMagnitudeRatio
	}
	if c.LinearityThreshold != nil {
		p.LinearityThreshold = *c.LinearityThreshold
	}
	if c.ModerateLinearity != nil {
		p.ModerateLinearity = *c.ModerateLinearity
	}
	if c.SatelliteSpeedMin != nil {
		p.SatelliteSpeedMin = *c.SatelliteSpeedMin
	}
	if c.SatelliteSpeedMax != nil {
		p.SatelliteSpeedMax = *c.SatelliteSpeedMax
	}
	if c.SpeedVarianceMax != nil {
		p.SpeedVarianceMax = *c.SpeedVarianceMax
	}
	if c.AccelVarianceThreshold != nil {
		p.AccelVarianceThreshold = *c.AccelVarianceThreshold
	}
	if c.MinSamplesForClass != nil {
		p.MinSamplesForClass = *c.MinSamplesForClass
	}
	if c.FramesPerSecond != nil {
		p.FramesPerSecond = *c.FramesPerSecond
	}
	if c.MinBlinkSamples != nil {
		p.MinBlinkSamples = *c.MinBlinkSamples
	}
	if c.DiffThreshold != nil {
		p.DiffThreshold = *c.DiffThreshold
	}
	if c.MinBlobArea != nil {
		p.MinBlobArea = *c.MinBlobArea
	}
	if c.MaxBlobArea != nil {
		p.MaxBlobArea = *c.MaxBlobArea
	}
	if c.MinCircularity != nil {
		p.MinCircularity = *c.MinCircularity
	}
	if c.DownsampleFactor != nil {
		p.DownsampleFactor = *c.DownsampleFactor
	}
	if c.BlurRadius != nil {
		p.BlurRadius = *c.BlurRadius
	}
	if c.PreBuffer != nil && *c.PreBuffer != "" {
		if d, err := time.ParseDuration(*c.PreBuffer); err == nil {
			p.PreBuffer = d
		}
	}
	if c.PostBuffer != nil && *c.PostBuffer != "" {
		if d, err := time.ParseDuration(*c.PostBuffer); err == nil {
			p.PostBuffer = d
		}
	}
	if c.GrabTimeout != nil && *c.GrabTimeout != "" {
		if d, err := time.ParseDuration(*c.GrabTimeout); err == nil {
			p.GrabTimeout = d
		}
	}
	if c.RingCapacity != nil {
		p.RingCapacity = *c.RingCapacity
	}
	if c.OutboundQueueCapacity != nil {
		p.OutboundQueueCapacity = *c.OutboundQueueCapacity
	}
	if c.FrameSkip != nil {
		p.FrameSkip = *c.FrameSkip
	}
	if c.ScheduleEnabled != nil {
		p.ScheduleEnabled = *c.ScheduleEnabled
	}
	if c.ScheduleStart != nil && *c.ScheduleStart != "" {
		p.ScheduleStart = *c.ScheduleStart
	}
	if c.ScheduleEnd != nil && *c.ScheduleEnd != "" {
		p.ScheduleEnd = *c.ScheduleEnd
	}
}

// Load resolves the final Params from an optional config file path. An empty
// path returns the defaults unchanged.
func Load(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		return p, err
	}
	cfg.Apply(&p)
	return p, nil
}

// InWindow reports whether detection should run at t under the schedule.
// Always true when scheduling is disabled. Overnight windows (start > end,
// e.g. 20:00-06:00) wrap around midnight.
func (p Params) InWindow(t time.Time) bool {
	if !p.ScheduleEnabled {
		return true
	}
	start, err := time.Parse("15:04", p.ScheduleStart)
	if err != nil {
		return true
	}
	end, err := time.Parse("15:04", p.ScheduleEnd)
	if err != nil {
		return true
	}
	nowMin := t.Hour()*60 + t.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin
	}
	return nowMin >= startMin || nowMin <= endMin
}
