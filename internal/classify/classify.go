// Package classify implements rule-based classification of confirmed tracks
// from their motion and brightness histories. Rules are evaluated in priority
// order; the first match wins.
package classify

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/skywatch-data/nightscan/internal/track"
)

// Label is the classification of a tracked object. The set is closed:
// consumers switch over these four values.
type Label string

const (
	// LabelAircraft is a blinking object on a reasonably straight path.
	LabelAircraft Label = "aircraft"
	// LabelSatellite is a steady object on a highly linear path at orbital
	// angular speeds.
	LabelSatellite Label = "satellite"
	// LabelUAP is an erratic object: low path linearity with strong
	// acceleration changes.
	LabelUAP Label = "uap"
	// LabelUnknown is everything that matches no rule, including tracks too
	// short to classify.
	LabelUnknown Label = "unknown"
)

// ParseLabel maps a stored string back to a Label. Unrecognized strings come
// back as LabelUnknown with ok=false.
func ParseLabel(s string) (Label, bool) {
	switch Label(s) {
	case LabelAircraft, LabelSatellite, LabelUAP, LabelUnknown:
		return Label(s), true
	}
	return LabelUnknown, false
}

// Confidence bounds
const (
	baseConfidence = 0.5
	epsilon        = 1e-9
)

// Config holds the classifier thresholds. Speeds are in pixels per frame.
type Config struct {
	BlinkFreqLow        float64 // Hz, lower edge of the strobe band
	BlinkFreqHigh       float64 // Hz, upper edge of the strobe band
	BlinkMagnitudeRatio float64 // peak-to-mean spectral ratio for a blink
	MinBlinkSamples     int     // brightness samples needed before the FFT runs

	LinearityThreshold float64 // R^2 for a highly linear path
	ModerateLinearity  float64 // R^2 floor for aircraft paths

	SatelliteSpeedMin float64
	SatelliteSpeedMax float64
	SpeedVarianceMax  float64

	AccelVarianceThreshold float64

	MinSamplesForClass int
	FramesPerSecond    float64
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		BlinkFreqLow:        0.5,
		BlinkFreqHigh:       3.0,
		BlinkMagnitudeRatio: 3.0,
		MinBlinkSamples:     16,

		LinearityThreshold: 0.85,
		ModerateLinearity:  0.5,

		SatelliteSpeedMin: 1.0,
		SatelliteSpeedMax: 8.0,
		SpeedVarianceMax:  1.0,

		AccelVarianceThreshold: 2.0,

		MinSamplesForClass: 5,
		FramesPerSecond:    30.0,
	}
}

// Features holds the derived quantities a verdict was based on.
type Features struct {
	SampleCount int     `json:"sample_count"`
	Duration    float64 `json:"duration_secs"`

	Linearity     float64 `json:"linearity"`      // R^2 of the straight-line fit
	SpeedMean     float64 `json:"speed_mean"`     // pixels per frame
	SpeedVariance float64 `json:"speed_variance"` // (pixels per frame)^2
	AccelVariance float64 `json:"accel_variance"`

	BlinkRatio     float64 `json:"blink_ratio"` // in-band peak over mean spectral magnitude
	BlinkFrequency float64 `json:"blink_frequency_hz"`
	BlinkDetected  bool    `json:"blink_detected"`
}

// Verdict is the outcome of classifying one track.
type Verdict struct {
	Label      Label    `json:"label"`
	Confidence float64  `json:"confidence"`
	Features   Features `json:"features"`
}

// Classifier derives features from track histories and applies the rules.
// Not safe for concurrent use; the pipeline owns one per acquisition loop.
type Classifier struct {
	cfg  Config
	ffts map[int]*fourier.FFT // keyed by sequence length
}

// New creates a classifier with the given thresholds.
func New(cfg Config) *Classifier {
	return &Classifier{
		cfg:  cfg,
		ffts: make(map[int]*fourier.FFT),
	}
}

// Classify evaluates the rules against the track's history. Rules apply in
// priority order:
//
//  1. blinking on a moderately linear path: aircraft
//  2. steady, highly linear, orbital speed band, steady speed: satellite
//  3. low linearity with strong acceleration changes: uap
//  4. otherwise: unknown
//
// Tracks with fewer than MinSamplesForClass observations are unknown with
// zero confidence.
func (c *Classifier) Classify(t *track.Track) Verdict {
	f := c.ExtractFeatures(t)
	v := Verdict{Label: LabelUnknown, Features: f}

	if f.SampleCount < c.cfg.MinSamplesForClass {
		return v
	}

	if f.BlinkDetected && f.Linearity >= c.cfg.ModerateLinearity {
		v.Label = LabelAircraft
		v.Confidence = scaleConfidence((f.BlinkRatio - c.cfg.BlinkMagnitudeRatio) / c.cfg.BlinkMagnitudeRatio)
		return v
	}

	if !f.BlinkDetected &&
		f.Linearity >= c.cfg.LinearityThreshold &&
		f.SpeedMean >= c.cfg.SatelliteSpeedMin && f.SpeedMean <= c.cfg.SatelliteSpeedMax &&
		f.SpeedVariance <= c.cfg.SpeedVarianceMax {
		v.Label = LabelSatellite
		v.Confidence = scaleConfidence((f.Linearity - c.cfg.LinearityThreshold) / (1 - c.cfg.LinearityThreshold))
		return v
	}

	if f.Linearity < c.cfg.ModerateLinearity && f.AccelVariance > c.cfg.AccelVarianceThreshold {
		v.Label = LabelUAP
		v.Confidence = scaleConfidence((f.AccelVariance - c.cfg.AccelVarianceThreshold) / c.cfg.AccelVarianceThreshold)
		return v
	}

	return v
}

// ClassifyAndUpdate classifies a track and writes the verdict back to the
// store.
func (c *Classifier) ClassifyAndUpdate(s *track.Store, t *track.Track) Verdict {
	v := c.Classify(t)
	s.SetVerdict(t.ID, string(v.Label), v.Confidence)
	return v
}

// scaleConfidence maps a normalized excess past the decisive threshold onto
// [baseConfidence, 1].
func scaleConfidence(excess float64) float64 {
	if excess < 0 {
		excess = 0
	}
	if excess > 1 {
		excess = 1
	}
	return baseConfidence + (1-baseConfidence)*excess
}

// ExtractFeatures computes the kinematic and spectral features of a track.
func (c *Classifier) ExtractFeatures(t *track.Track) Features {
	n := t.Len()
	f := Features{SampleCount: n}
	if n < 2 {
		return f
	}
	f.Duration = t.Positions[n-1].Timestamp.Sub(t.Positions[0].Timestamp).Seconds()

	f.Linearity = pathLinearity(t.Positions)
	f.SpeedMean, f.SpeedVariance, f.AccelVariance = c.speedStats(t.Positions)
	f.BlinkRatio, f.BlinkFrequency, f.BlinkDetected = c.blink(t.Brightness, f.Duration)
	return f
}

// pathLinearity returns the R^2 of a straight-line fit through the positions.
// The axis with the larger variance serves as the independent variable so
// near-vertical paths fit as well as near-horizontal ones.
func pathLinearity(positions []track.Position) float64 {
	xs := make([]float64, len(positions))
	ys := make([]float64, len(positions))
	for i, p := range positions {
		xs[i], ys[i] = p.X, p.Y
	}

	varX := stat.Variance(xs, nil)
	varY := stat.Variance(ys, nil)
	if varX < epsilon && varY < epsilon {
		return 0 // stationary
	}
	indep, dep := xs, ys
	if varY > varX {
		indep, dep = ys, xs
	}
	if stat.Variance(dep, nil) < epsilon {
		return 1 // axis-aligned straight line
	}

	alpha, beta := stat.LinearRegression(indep, dep, nil, false)
	r2 := stat.RSquared(indep, dep, nil, alpha, beta)
	if math.IsNaN(r2) || r2 < 0 {
		return 0
	}
	if r2 > 1 {
		return 1
	}
	return r2
}

// speedStats returns the mean and variance of the per-step speed in pixels
// per frame, plus the variance of its first difference.
func (c *Classifier) speedStats(positions []track.Position) (mean, variance, accelVariance float64) {
	speeds := make([]float64, 0, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		dtFrames := positions[i].Timestamp.Sub(positions[i-1].Timestamp).Seconds() * c.cfg.FramesPerSecond
		if dtFrames <= 0 {
			continue
		}
		dx := positions[i].X - positions[i-1].X
		dy := positions[i].Y - positions[i-1].Y
		speeds = append(speeds, math.Hypot(dx, dy)/dtFrames)
	}
	if len(speeds) == 0 {
		return 0, 0, 0
	}
	mean = stat.Mean(speeds, nil)
	if len(speeds) > 1 {
		variance = stat.Variance(speeds, nil)
	}

	accels := make([]float64, 0, len(speeds)-1)
	for i := 1; i < len(speeds); i++ {
		accels = append(accels, speeds[i]-speeds[i-1])
	}
	if len(accels) > 1 {
		accelVariance = stat.Variance(accels, nil)
	}
	return mean, variance, accelVariance
}

// blink looks for a dominant periodicity of the brightness history inside
// the configured band. The signal is mean-subtracted and the in-band spectral
// peak is compared against the mean non-DC magnitude.
func (c *Classifier) blink(brightness []float64, duration float64) (ratio, freq float64, detected bool) {
	n := len(brightness)
	if n < c.cfg.MinBlinkSamples || duration <= 0 {
		return 0, 0, false
	}
	sampleRate := float64(n-1) / duration

	mean := stat.Mean(brightness, nil)
	centered := make([]float64, n)
	for i, b := range brightness {
		centered[i] = b - mean
	}

	fft := c.ffts[n]
	if fft == nil {
		fft = fourier.NewFFT(n)
		c.ffts[n] = fft
	}
	coeffs := fft.Coefficients(nil, centered)

	var sum float64
	var peak, peakFreq float64
	for i := 1; i < len(coeffs); i++ {
		mag := cmplx.Abs(coeffs[i])
		sum += mag
		hz := fft.Freq(i) * sampleRate
		if hz >= c.cfg.BlinkFreqLow && hz <= c.cfg.BlinkFreqHigh && mag > peak {
			peak = mag
			peakFreq = hz
		}
	}
	meanMag := sum / float64(len(coeffs)-1)
	if meanMag < epsilon {
		return 0, 0, false
	}
	ratio = peak / meanMag
	return ratio, peakFreq, ratio > c.cfg.BlinkMagnitudeRatio
}
