package video

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"
)

// SyntheticObject describes one simulated sky object rendered by
// SyntheticSource. Velocities are in pixels per frame.
type SyntheticObject struct {
	StartX, StartY float64
	VX, VY         float64
	Radius         int
	Brightness     byte    // peak luma at the blob center
	BlinkHz        float64 // 0 = steady light
	Jitter         float64 // per-frame random velocity perturbation (UAP-like)
}

// SyntheticSource generates a deterministic sequence of night-sky frames with
// sensor noise and moving blobs. Used by tests and the gen-skylog tool.
type SyntheticSource struct {
	Width, Height int
	FPS           float64
	NoiseLevel    byte // max amplitude of background noise
	Objects       []SyntheticObject
	TotalFrames   uint64
	Paced         bool // sleep to emit at FPS; off for tests

	rng   *rand.Rand
	seq   uint64
	t0    time.Time
	state []SyntheticObject
}

// NewSyntheticSource returns a source producing totalFrames frames. A zero
// totalFrames produces an unbounded stream.
func NewSyntheticSource(width, height int, fps float64, seed int64, objects []SyntheticObject, totalFrames uint64) *SyntheticSource {
	state := make([]SyntheticObject, len(objects))
	copy(state, objects)
	return &SyntheticSource{
		Width:       width,
		Height:      height,
		FPS:         fps,
		NoiseLevel:  8,
		Objects:     objects,
		TotalFrames: totalFrames,
		rng:         rand.New(rand.NewSource(seed)),
		t0:          time.Now(),
		state:       state,
	}
}

// Next renders the next frame. Returns io.EOF once TotalFrames is reached.
func (s *SyntheticSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.TotalFrames > 0 && s.seq >= s.TotalFrames {
		return nil, io.EOF
	}

	interval := time.Duration(float64(time.Second) / s.FPS)
	ts := s.t0.Add(time.Duration(s.seq) * interval)
	if s.Paced {
		if wait := time.Until(ts); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	pix := make([]byte, s.Width*s.Height)
	for i := range pix {
		pix[i] = byte(s.rng.Intn(int(s.NoiseLevel) + 1))
	}

	elapsed := float64(s.seq) / s.FPS
	for i := range s.state {
		obj := &s.state[i]
		if obj.Jitter > 0 {
			obj.VX += (s.rng.Float64()*2 - 1) * obj.Jitter
			obj.VY += (s.rng.Float64()*2 - 1) * obj.Jitter
		}
		obj.StartX += obj.VX
		obj.StartY += obj.VY

		level := float64(obj.Brightness)
		if obj.BlinkHz > 0 {
			// Modulate between 20% and 100% of peak brightness.
			level *= 0.6 + 0.4*math.Sin(2*math.Pi*obj.BlinkHz*elapsed)
		}
		s.drawBlob(pix, obj.StartX, obj.StartY, obj.Radius, byte(level))
	}

	f := &Frame{
		Seq:       s.seq,
		Timestamp: ts,
		Width:     s.Width,
		Height:    s.Height,
		Pix:       pix,
	}
	s.seq++
	return f, nil
}

// Close implements FrameSource.
func (s *SyntheticSource) Close() error { return nil }

func (s *SyntheticSource) drawBlob(pix []byte, cx, cy float64, radius int, level byte) {
	r := float64(radius)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			x := int(cx) + dx
			y := int(cy) + dy
			if x < 0 || y < 0 || x >= s.Width || y >= s.Height {
				continue
			}
			d := math.Hypot(float64(dx), float64(dy))
			if d > r {
				continue
			}
			// Soft falloff toward the blob edge.
			v := float64(level) * (1 - 0.5*d/math.Max(r, 1))
			idx := y*s.Width + x
			if byte(v) > pix[idx] {
				pix[idx] = byte(v)
			}
		}
	}
}

var _ FrameSource = (*SyntheticSource)(nil)
