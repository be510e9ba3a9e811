// Package record turns confirmed tracks into event clips: a pre-buffer of
// frames from before confirmation, the live frames while the track persists,
// and a post-buffer after it disappears, sealed into a single clip file and
// indexed in the events database.
package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/skywatch-data/nightscan/internal/db"
	"github.com/skywatch-data/nightscan/internal/monitoring"
	"github.com/skywatch-data/nightscan/internal/track"
	"github.com/skywatch-data/nightscan/internal/video"
)

// EventStore persists sealed events. *db.DB satisfies it.
type EventStore interface {
	InsertEvent(ctx context.Context, ev db.Event) error
}

// Config holds the recorder settings.
type Config struct {
	Dir        string        // clip output directory
	PreBuffer  time.Duration // history included from before confirmation
	PostBuffer time.Duration // tail recorded after disappearance
	FPS        float64       // nominal frame rate written to clip headers
}

// Recorder owns the pending clips for confirmed tracks. Not safe for
// concurrent use; it runs inside the pipeline's acquisition loop.
type Recorder struct {
	cfg     Config
	ring    *video.RingBuffer
	store   EventStore
	pending map[int64]*pendingClip
}

// pendingClip is an open clip for one confirmed track. Frames stream into a
// temp file; the rename to the final name happens only after the trailer is
// written, so readers never observe a partial clip.
type pendingClip struct {
	trackID    int64
	file       *os.File
	writer     *video.LogWriter
	startTime  time.Time
	lastTime   time.Time
	lastSeq    uint64
	label      string
	confidence float64
	deadline   time.Time // zero while the track is alive
}

// New creates a recorder writing clips into cfg.Dir and indexing them in
// store. The ring supplies the pre-buffer frames.
func New(cfg Config, ring *video.RingBuffer, store EventStore) *Recorder {
	return &Recorder{
		cfg:     cfg,
		ring:    ring,
		store:   store,
		pending: make(map[int64]*pendingClip),
	}
}

// PendingCount returns the number of clips currently open.
func (r *Recorder) PendingCount() int { return len(r.pending) }

// OnTrackConfirmed opens a clip for the track, seeded with the ring buffer
// frames from the pre-buffer window. Repeated confirmations are ignored.
func (r *Recorder) OnTrackConfirmed(t *track.Track) {
	if _, open := r.pending[t.ID]; open {
		return
	}

	snapshot := r.ring.Snapshot(r.cfg.PreBuffer)
	if len(snapshot) == 0 {
		monitoring.Logf("recorder: no buffered frames for track %d, skipping clip", t.ID)
		return
	}

	file, err := os.CreateTemp(r.cfg.Dir, ".pending-*.nsclip")
	if err != nil {
		monitoring.Logf("recorder: create clip for track %d: %v", t.ID, err)
		return
	}
	first := snapshot[0]
	writer, err := video.NewLogWriter(file, first.Width, first.Height, r.cfg.FPS)
	if err != nil {
		monitoring.Logf("recorder: start clip for track %d: %v", t.ID, err)
		r.discard(file)
		return
	}

	p := &pendingClip{
		trackID:   t.ID,
		file:      file,
		writer:    writer,
		startTime: first.Timestamp,
		label:     "unknown",
	}
	for _, f := range snapshot {
		if err := writer.Append(f); err != nil {
			monitoring.Logf("recorder: write pre-buffer for track %d: %v", t.ID, err)
			r.discard(file)
			return
		}
		p.lastSeq = f.Seq
		p.lastTime = f.Timestamp
	}
	r.pending[t.ID] = p
	monitoring.Debugf("recorder: opened clip for track %d with %d pre-buffer frames", t.ID, len(snapshot))
}

// OnTrackDisappeared arms the post-buffer deadline for the track's clip and
// captures the final verdict for the clip metadata.
func (r *Recorder) OnTrackDisappeared(t *track.Track) {
	p, open := r.pending[t.ID]
	if !open {
		return
	}
	p.label = t.Class
	if p.label == "" {
		p.label = "unknown"
	}
	p.confidence = t.Confidence
	p.deadline = t.LastSeen.Add(r.cfg.PostBuffer)
}

// OnFrame appends the frame to every open clip and seals the clips whose
// post-buffer deadline has passed. Sealed and persisted events are returned.
func (r *Recorder) OnFrame(ctx context.Context, f *video.Frame) []db.Event {
	var sealed []db.Event
	for id, p := range r.pending {
		if !p.deadline.IsZero() && f.Timestamp.After(p.deadline) {
			if ev, ok := r.seal(ctx, p); ok {
				sealed = append(sealed, ev)
			}
			delete(r.pending, id)
			continue
		}
		if f.Seq <= p.lastSeq {
			continue
		}
		if err := p.writer.Append(f); err != nil {
			monitoring.Logf("recorder: write frame to clip for track %d: %v", id, err)
			r.discard(p.file)
			delete(r.pending, id)
			continue
		}
		p.lastSeq = f.Seq
		p.lastTime = f.Timestamp
	}
	return sealed
}

// Flush seals every open clip regardless of deadline, e.g. on shutdown.
func (r *Recorder) Flush(ctx context.Context) []db.Event {
	var sealed []db.Event
	for id, p := range r.pending {
		if ev, ok := r.seal(ctx, p); ok {
			sealed = append(sealed, ev)
		}
		delete(r.pending, id)
	}
	return sealed
}

// seal finalizes the clip file, renames it into place and indexes the event.
// A clip that cannot be finalized is discarded and produces no event.
func (r *Recorder) seal(ctx context.Context, p *pendingClip) (db.Event, bool) {
	p.writer.SetEventInfo(p.trackID, p.label, p.confidence)
	if err := p.writer.Close(); err != nil {
		monitoring.Logf("recorder: finalize clip for track %d: %v", p.trackID, err)
		r.discard(p.file)
		return db.Event{}, false
	}
	if err := p.file.Sync(); err != nil {
		monitoring.Logf("recorder: sync clip for track %d: %v", p.trackID, err)
		r.discard(p.file)
		return db.Event{}, false
	}
	tempName := p.file.Name()
	if err := p.file.Close(); err != nil {
		monitoring.Logf("recorder: close clip for track %d: %v", p.trackID, err)
		os.Remove(tempName)
		return db.Event{}, false
	}

	finalName := fmt.Sprintf("track_%d_%d.nsclip", p.trackID, p.startTime.UnixNano())
	finalPath := filepath.Join(r.cfg.Dir, finalName)
	if err := os.Rename(tempName, finalPath); err != nil {
		monitoring.Logf("recorder: publish clip for track %d: %v", p.trackID, err)
		os.Remove(tempName)
		return db.Event{}, false
	}

	ev := db.Event{
		ID:         uuid.NewString(),
		TrackID:    p.trackID,
		Label:      p.label,
		Confidence: p.confidence,
		StartTime:  p.startTime,
		EndTime:    p.lastTime,
		ClipPath:   finalPath,
		CreatedAt:  time.Now(),
	}
	if err := r.store.InsertEvent(ctx, ev); err != nil {
		monitoring.Logf("recorder: index event for track %d: %v", p.trackID, err)
		return db.Event{}, false
	}
	monitoring.Logf("recorder: sealed %s (%s, confidence %.2f)", finalName, ev.Label, ev.Confidence)
	return ev, true
}

func (r *Recorder) discard(f *os.File) {
	name := f.Name()
	f.Close()
	os.Remove(name)
}
