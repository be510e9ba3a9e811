package video

import (
	"sync"
	"time"
)

// RingBuffer is a fixed-capacity circular buffer of recent frames, written by
// the pipeline's acquisition loop and read by the event recorder. All access
// is synchronized; Snapshot copies frames out so readers never share slices
// with the writer.
type RingBuffer struct {
	mu     sync.Mutex
	frames []*Frame
	head   int // next write position
	count  int
}

// NewRingBuffer returns a ring buffer holding at most capacity frames.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{frames: make([]*Frame, capacity)}
}

// Push appends a frame, evicting the oldest when full. The buffer stores its
// own copy so callers may reuse the frame's pixel slice.
func (rb *RingBuffer) Push(f *Frame) {
	c := f.Clone()
	rb.mu.Lock()
	rb.frames[rb.head] = c
	rb.head = (rb.head + 1) % len(rb.frames)
	if rb.count < len(rb.frames) {
		rb.count++
	}
	rb.mu.Unlock()
}

// Len returns the number of buffered frames.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Newest returns a copy of the most recently pushed frame, or nil when empty.
func (rb *RingBuffer) Newest() *Frame {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.count == 0 {
		return nil
	}
	idx := (rb.head - 1 + len(rb.frames)) % len(rb.frames)
	return rb.frames[idx].Clone()
}

// Snapshot returns copies of all buffered frames whose timestamp falls within
// window of the newest frame, oldest first. A zero window returns everything.
func (rb *RingBuffer) Snapshot(window time.Duration) []*Frame {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.count == 0 {
		return nil
	}

	newestIdx := (rb.head - 1 + len(rb.frames)) % len(rb.frames)
	cutoff := rb.frames[newestIdx].Timestamp.Add(-window)

	out := make([]*Frame, 0, rb.count)
	start := (rb.head - rb.count + len(rb.frames)) % len(rb.frames)
	for i := 0; i < rb.count; i++ {
		f := rb.frames[(start+i)%len(rb.frames)]
		if window > 0 && f.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, f.Clone())
	}
	return out
}
