// Package video holds the frame model shared by the capture, tracking and
// recording layers: the grayscale Frame, the FrameSource contract, the
// rolling ring buffer, and the frame log format used for replays and clips.
package video

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by FrameSource implementations.
var (
	// ErrSourceTimeout indicates no frame arrived within the grab budget.
	// Treated as a dropped frame; the pipeline cycle proceeds with zero
	// detections.
	ErrSourceTimeout = errors.New("video: frame grab timed out")

	// ErrSourceDisconnected indicates the upstream source lost its
	// connection. Reconnection is the source's own responsibility; the
	// pipeline sees it as a gap in frame arrival.
	ErrSourceDisconnected = errors.New("video: source disconnected")
)

// Frame is a single grayscale video frame. Pix is row-major luma,
// len(Pix) == Width*Height.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pix       []byte
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = make([]byte, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}

// At returns the luma value at (x, y). Out-of-bounds coordinates return 0.
func (f *Frame) At(x, y int) byte {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0
	}
	return f.Pix[y*f.Width+x]
}

// FrameSource supplies a sequence of frames in capture order. Next blocks
// until a frame is available, the grab budget expires (ErrSourceTimeout),
// the source drops (ErrSourceDisconnected), the stream ends (io.EOF) or the
// context is cancelled.
type FrameSource interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}
