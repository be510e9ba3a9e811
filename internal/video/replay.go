package video

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ReplaySource reads frames back from a recorded frame log, optionally pacing
// them at the log's capture rate. It stands in for a live camera during
// development and offline analysis.
type ReplaySource struct {
	file   *os.File
	reader *LogReader
	paced  bool
	start  time.Time
	base   time.Time
}

// OpenReplaySource opens a frame log for replay. When paced is true, Next
// sleeps so frames are delivered at the recorded rate.
func OpenReplaySource(path string, paced bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame log: %w", err)
	}
	r, err := OpenLogReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ReplaySource{file: f, reader: r, paced: paced}, nil
}

// Header exposes the log's metadata.
func (rs *ReplaySource) Header() LogHeader { return rs.reader.Header }

// Next returns the next recorded frame, or io.EOF when the log is exhausted.
func (rs *ReplaySource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := rs.reader.Next()
	if err != nil {
		return nil, err
	}

	if rs.paced {
		if rs.start.IsZero() {
			rs.start = time.Now()
			rs.base = f.Timestamp
		}
		due := rs.start.Add(f.Timestamp.Sub(rs.base))
		if wait := time.Until(due); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return f, nil
}

// Close releases the underlying file.
func (rs *ReplaySource) Close() error { return rs.file.Close() }

var _ FrameSource = (*ReplaySource)(nil)
