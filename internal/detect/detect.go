// Package detect defines the per-frame detection model and the Detector
// contract, plus a frame-differencing blob detector suitable for point-like
// objects against a dark sky.
package detect

import (
	"errors"
	"math"
	"time"

	"github.com/skywatch-data/nightscan/internal/video"
)

// ErrMalformedDetection marks a detection that failed validation. Malformed
// detections are dropped and logged without affecting the rest of the frame.
var ErrMalformedDetection = errors.New("detect: malformed detection")

// Detection is a single candidate object in one frame. Ephemeral: the
// pipeline consumes it within one cycle.
type Detection struct {
	X, Y       float64 // centroid, pixels
	W, H       int     // bounding box
	Area       float64 // blob area in pixels
	Brightness float64 // mean luma over the blob
	FrameSeq   uint64
	Timestamp  time.Time
}

// Validate reports whether the detection carries usable geometry.
func (d Detection) Validate() error {
	if math.IsNaN(d.X) || math.IsNaN(d.Y) || math.IsInf(d.X, 0) || math.IsInf(d.Y, 0) {
		return ErrMalformedDetection
	}
	if d.W <= 0 || d.H <= 0 || d.Area <= 0 {
		return ErrMalformedDetection
	}
	if d.Brightness < 0 || d.Brightness > 255 {
		return ErrMalformedDetection
	}
	return nil
}

// Detector produces candidate detections for a frame.
type Detector interface {
	Detect(f *video.Frame) ([]Detection, error)
}

// Config holds the blob detector's thresholds.
type Config struct {
	DiffThreshold  int     // minimum per-pixel luma delta to count as motion
	MinBlobArea    float64 // blobs below this area are noise
	MaxBlobArea    float64 // blobs above this area are clouds/glare
	MinCircularity float64 // 4*pi*A/P^2 filter; stars and lights are compact
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		DiffThreshold:  25,
		MinBlobArea:    4,
		MaxBlobArea:    500,
		MinCircularity: 0.3,
	}
}

// DiffDetector finds moving bright blobs by differencing consecutive frames
// and labeling 8-connected components in the thresholded mask.
type DiffDetector struct {
	cfg  Config
	prev *video.Frame
}

// NewDiffDetector creates a detector with the given thresholds.
func NewDiffDetector(cfg Config) *DiffDetector {
	return &DiffDetector{cfg: cfg}
}

// Reset clears the previous-frame state, e.g. after a stream gap.
func (d *DiffDetector) Reset() { d.prev = nil }

// Detect returns the blobs that moved since the previous frame. The first
// frame after construction or Reset yields no detections.
func (d *DiffDetector) Detect(f *video.Frame) ([]Detection, error) {
	prev := d.prev
	d.prev = f.Clone()
	if prev == nil || prev.Width != f.Width || prev.Height != f.Height {
		return nil, nil
	}

	mask := make([]bool, len(f.Pix))
	for i := range f.Pix {
		delta := int(f.Pix[i]) - int(prev.Pix[i])
		if delta < 0 {
			delta = -delta
		}
		if delta >= d.cfg.DiffThreshold {
			mask[i] = true
		}
	}

	return d.extractBlobs(f, mask), nil
}

type blob struct {
	pixels     int
	sumX, sumY float64
	sumLuma    float64
	minX, minY int
	maxX, maxY int
	perimeter  int
}

// extractBlobs labels 8-connected components in the mask and filters them by
// area and circularity.
func (d *DiffDetector) extractBlobs(f *video.Frame, mask []bool) []Detection {
	w, h := f.Width, f.Height
	visited := make([]bool, len(mask))
	var stack []int
	var out []Detection

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		b := blob{minX: w, minY: h, maxX: -1, maxY: -1}
		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w

			b.pixels++
			b.sumX += float64(x)
			b.sumY += float64(y)
			b.sumLuma += float64(f.Pix[idx])
			if x < b.minX {
				b.minX = x
			}
			if y < b.minY {
				b.minY = y
			}
			if x > b.maxX {
				b.maxX = x
			}
			if y > b.maxY {
				b.maxY = y
			}

			boundary := false
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						boundary = true
						continue
					}
					nidx := ny*w + nx
					if !mask[nidx] {
						boundary = true
						continue
					}
					if !visited[nidx] {
						visited[nidx] = true
						stack = append(stack, nidx)
					}
				}
			}
			if boundary {
				b.perimeter++
			}
		}

		area := float64(b.pixels)
		if area < d.cfg.MinBlobArea || area > d.cfg.MaxBlobArea {
			continue
		}
		if b.perimeter > 0 {
			circularity := 4 * math.Pi * area / float64(b.perimeter*b.perimeter)
			if circularity < d.cfg.MinCircularity {
				continue
			}
		}

		out = append(out, Detection{
			X:          b.sumX / area,
			Y:          b.sumY / area,
			W:          b.maxX - b.minX + 1,
			H:          b.maxY - b.minY + 1,
			Area:       area,
			Brightness: b.sumLuma / area,
			FrameSeq:   f.Seq,
			Timestamp:  f.Timestamp,
		})
	}
	return out
}

var _ Detector = (*DiffDetector)(nil)
