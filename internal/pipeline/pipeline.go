// Package pipeline composes the night-sky processing stages into a running
// system: frame acquisition, detection, tracking, classification, event
// recording and outbound publishing.
//
// The acquisition loop owns every stage and runs them synchronously per
// frame. Publishing is decoupled through a bounded drop-oldest queue drained
// by a dedicated delivery goroutine, so a slow subscriber can never stall
// frame processing.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skywatch-data/nightscan/internal/classify"
	"github.com/skywatch-data/nightscan/internal/config"
	"github.com/skywatch-data/nightscan/internal/db"
	"github.com/skywatch-data/nightscan/internal/detect"
	"github.com/skywatch-data/nightscan/internal/monitoring"
	"github.com/skywatch-data/nightscan/internal/record"
	"github.com/skywatch-data/nightscan/internal/track"
	"github.com/skywatch-data/nightscan/internal/video"
)

// reclassifyEvery is the matched-observation interval at which confirmed
// tracks are re-classified as their history grows.
const reclassifyEvery = 5

// MessageType identifies an outbound message.
type MessageType string

const (
	// MessageTrackUpdate carries the live track snapshots for one frame.
	MessageTrackUpdate MessageType = "track_update"
	// MessageEventRecorded announces a sealed event clip.
	MessageEventRecorded MessageType = "event_recorded"
)

// TrackSnapshot is the publishable view of one live track.
type TrackSnapshot struct {
	ID         int64   `json:"id"`
	State      string  `json:"state"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Class      string  `json:"class,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Length     int     `json:"length"`
}

// Message is one outbound update for external subscribers.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	FrameSeq  uint64          `json:"frame_seq,omitempty"`
	Tracks    []TrackSnapshot `json:"tracks,omitempty"`
	Event     *db.Event       `json:"event,omitempty"`
}

// PublishSink receives outbound messages from the delivery goroutine.
type PublishSink interface {
	Publish(m Message)
}

// Config holds the pipeline's stages and tuning.
type Config struct {
	Params       config.Params
	Source       video.FrameSource
	Preprocessor *video.Preprocessor // optional frame normalization
	Detector     detect.Detector
	Tracker    *track.Tracker
	Tracks     *track.Store
	Classifier *classify.Classifier
	Recorder   *record.Recorder
	Ring       *video.RingBuffer
	Sink       PublishSink // optional
}

// Stats is a point-in-time view of the pipeline counters.
type Stats struct {
	UptimeSeconds   float64   `json:"uptime_seconds"`
	MeasuredFPS     float64   `json:"measured_fps"`
	FramesProcessed uint64    `json:"frames_processed"`
	FramesSkipped   uint64    `json:"frames_skipped"`
	Detections      uint64    `json:"detections"`
	EventsRecorded  uint64    `json:"events_recorded"`
	PublishDropped  uint64    `json:"publish_dropped"`
	LiveTracks      int64     `json:"live_tracks"`
	PendingClips    int64     `json:"pending_clips"`
	LastFrameTime   time.Time `json:"last_frame_time"`
}

// Pipeline runs the acquisition loop and the delivery goroutine.
type Pipeline struct {
	cfg   Config
	queue *Queue

	start           time.Time
	framesProcessed atomic.Uint64
	framesSkipped   atomic.Uint64
	detections      atomic.Uint64
	eventsRecorded  atomic.Uint64
	liveTracks      atomic.Int64
	pendingClips    atomic.Int64
	lastFrameNs     atomic.Int64
}

// New assembles a pipeline from its stages.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		queue: NewQueue(cfg.Params.OutboundQueueCapacity),
	}
}

// Stats returns the current counters. Safe to call from other goroutines.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		FramesProcessed: p.framesProcessed.Load(),
		FramesSkipped:   p.framesSkipped.Load(),
		Detections:      p.detections.Load(),
		EventsRecorded:  p.eventsRecorded.Load(),
		PublishDropped:  p.queue.Dropped(),
		LiveTracks:      p.liveTracks.Load(),
		PendingClips:    p.pendingClips.Load(),
	}
	if !p.start.IsZero() {
		s.UptimeSeconds = time.Since(p.start).Seconds()
		if s.UptimeSeconds > 0 {
			s.MeasuredFPS = float64(s.FramesProcessed) / s.UptimeSeconds
		}
	}
	if ns := p.lastFrameNs.Load(); ns != 0 {
		s.LastFrameTime = time.Unix(0, ns)
	}
	return s
}

// Run drives the acquisition loop until the source ends or the context is
// canceled, then seals any open clips and drains the outbound queue.
func (p *Pipeline) Run(ctx context.Context) error {
	p.start = time.Now()

	var wg sync.WaitGroup
	if p.cfg.Sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.deliver()
		}()
	}

	err := p.loop(ctx)

	// Shutdown: seal whatever is still recording, then let the delivery
	// goroutine drain the queue.
	sealed := p.cfg.Recorder.Flush(context.Background())
	p.eventsRecorded.Add(uint64(len(sealed)))
	p.publishEvents(sealed)
	p.queue.Close()
	wg.Wait()

	if err != nil {
		monitoring.Logf("pipeline: stopped: %v", err)
	}
	return err
}

func (p *Pipeline) loop(ctx context.Context) error {
	for {
		frame, err := p.cfg.Source.Next(ctx)
		switch {
		case err == nil:
			p.process(ctx, frame)

		case errors.Is(err, io.EOF):
			monitoring.Logf("pipeline: source ended after %d frames", p.framesProcessed.Load())
			return nil

		case ctx.Err() != nil:
			return nil

		case errors.Is(err, video.ErrSourceTimeout):
			// A missed grab is an empty cycle: live tracks accumulate a
			// miss so stuck sources cannot freeze track lifecycle.
			monitoring.Logf("pipeline: frame grab timed out")
			p.advanceEmpty(ctx, time.Now())

		case errors.Is(err, video.ErrSourceDisconnected):
			return err

		default:
			return err
		}
	}
}

// process runs one full cycle for a frame. Stage failures degrade the cycle
// (zero detections) rather than aborting the loop.
func (p *Pipeline) process(ctx context.Context, f *video.Frame) {
	p.framesProcessed.Add(1)
	p.lastFrameNs.Store(f.Timestamp.UnixNano())
	if p.cfg.Preprocessor != nil {
		f = p.cfg.Preprocessor.Process(f)
	}
	p.cfg.Ring.Push(f)

	// Skipped frames still reach open clips so recordings stay smooth.
	if skip := p.cfg.Params.FrameSkip; skip > 1 && f.Seq%uint64(skip) != 0 {
		p.framesSkipped.Add(1)
		sealed := p.cfg.Recorder.OnFrame(ctx, f)
		p.eventsRecorded.Add(uint64(len(sealed)))
		p.publishEvents(sealed)
		p.pendingClips.Store(int64(p.cfg.Recorder.PendingCount()))
		return
	}

	var detections []detect.Detection
	if p.cfg.Params.InWindow(f.Timestamp) {
		var err error
		detections, err = p.cfg.Detector.Detect(f)
		if err != nil {
			monitoring.Logf("pipeline: detector failed on frame %d: %v", f.Seq, err)
			detections = nil
		}
	}
	p.detections.Add(uint64(len(detections)))

	events := p.cfg.Tracker.Update(detections, f.Timestamp)
	p.classifyConfirmed()
	p.dispatchTrackEvents(events)

	sealed := p.cfg.Recorder.OnFrame(ctx, f)
	p.eventsRecorded.Add(uint64(len(sealed)))

	live := p.cfg.Tracks.Live()
	p.liveTracks.Store(int64(len(live)))
	p.pendingClips.Store(int64(p.cfg.Recorder.PendingCount()))

	if p.cfg.Sink != nil && (len(live) > 0 || len(events) > 0) {
		p.queue.Push(Message{
			Type:      MessageTrackUpdate,
			Timestamp: f.Timestamp,
			FrameSeq:  f.Seq,
			Tracks:    snapshotTracks(live),
		})
	}
	p.publishEvents(sealed)
}

// advanceEmpty runs a detection-less cycle so track lifecycle still advances
// when no frame arrived.
func (p *Pipeline) advanceEmpty(ctx context.Context, now time.Time) {
	events := p.cfg.Tracker.Update(nil, now)
	p.dispatchTrackEvents(events)
	p.liveTracks.Store(int64(len(p.cfg.Tracks.Live())))
}

// classifyConfirmed refreshes verdicts on confirmed tracks. A track is
// classified once it has enough history and re-classified periodically as
// observations accumulate.
func (p *Pipeline) classifyConfirmed() {
	for _, t := range p.cfg.Tracks.Live() {
		if t.State != track.StateConfirmed || t.Len() < p.cfg.Params.MinSamplesForClass {
			continue
		}
		if t.Class == "" || t.Hits%reclassifyEvery == 0 {
			p.cfg.Classifier.ClassifyAndUpdate(p.cfg.Tracks, t)
		}
	}
}

func (p *Pipeline) dispatchTrackEvents(events []track.Event) {
	for _, ev := range events {
		t := p.cfg.Tracks.Get(ev.TrackID)
		if t == nil {
			continue
		}
		switch ev.Type {
		case track.EventConfirmed:
			p.cfg.Recorder.OnTrackConfirmed(t)
		case track.EventDisappeared:
			// Final verdict before the clip metadata is frozen.
			p.cfg.Classifier.ClassifyAndUpdate(p.cfg.Tracks, t)
			p.cfg.Recorder.OnTrackDisappeared(t)
		}
	}
}

func (p *Pipeline) publishEvents(sealed []db.Event) {
	if p.cfg.Sink == nil {
		return
	}
	for i := range sealed {
		ev := sealed[i]
		p.queue.Push(Message{
			Type:      MessageEventRecorded,
			Timestamp: ev.EndTime,
			Event:     &ev,
		})
	}
}

// deliver drains the outbound queue into the sink until the queue closes.
func (p *Pipeline) deliver() {
	for {
		m, ok := p.queue.Pop(context.Background())
		if !ok {
			return
		}
		p.cfg.Sink.Publish(m)
	}
}

func snapshotTracks(live []*track.Track) []TrackSnapshot {
	out := make([]TrackSnapshot, 0, len(live))
	for _, t := range live {
		last := t.Last()
		out = append(out, TrackSnapshot{
			ID:         t.ID,
			State:      string(t.State),
			X:          last.X,
			Y:          last.Y,
			W:          t.LastW,
			H:          t.LastH,
			Class:      t.Class,
			Confidence: t.Confidence,
			Length:     t.Len(),
		})
	}
	return out
}
