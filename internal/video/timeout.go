package video

import (
	"context"
	"time"
)

type grabResult struct {
	frame *Frame
	err   error
}

// timeoutSource bounds each grab of the wrapped source. A grab that overruns
// the budget surfaces ErrSourceTimeout while the underlying read keeps
// running; the late frame is handed out by a later Next call instead of
// being lost.
type timeoutSource struct {
	src      FrameSource
	budget   time.Duration
	pending  chan grabResult
	inflight bool
}

// WithGrabTimeout wraps src so Next returns ErrSourceTimeout when no frame
// arrives within budget. A budget of zero or less disables the wrapper. Like
// every FrameSource, the result is for a single caller, not concurrent use.
func WithGrabTimeout(src FrameSource, budget time.Duration) FrameSource {
	if budget <= 0 {
		return src
	}
	return &timeoutSource{
		src:     src,
		budget:  budget,
		pending: make(chan grabResult, 1),
	}
}

func (ts *timeoutSource) Next(ctx context.Context) (*Frame, error) {
	if !ts.inflight {
		ts.inflight = true
		go func() {
			f, err := ts.src.Next(context.Background())
			ts.pending <- grabResult{frame: f, err: err}
		}()
	}

	timer := time.NewTimer(ts.budget)
	defer timer.Stop()
	select {
	case res := <-ts.pending:
		ts.inflight = false
		return res.frame, res.err
	case <-timer.C:
		return nil, ErrSourceTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ts *timeoutSource) Close() error { return ts.src.Close() }

var _ FrameSource = (*timeoutSource)(nil)
