package track

import (
	"math"
	"sort"
	"time"

	"github.com/skywatch-data/nightscan/internal/detect"
	"github.com/skywatch-data/nightscan/internal/monitoring"
)

// TrackerConfig holds the tracker's assignment and lifecycle parameters.
type TrackerConfig struct {
	// MaxMatchDistance is the gating distance in pixels: detection/track
	// pairs farther apart are never matched.
	MaxMatchDistance float64
	// DisappearTimeoutFrames is the consecutive-miss count beyond which a
	// track transitions to disappeared.
	DisappearTimeoutFrames int
	// MinTrackLength is the matched-observation count at which a tentative
	// track is confirmed.
	MinTrackLength int
	// GracePeriodFrames is how many cycles a disappeared track lingers
	// before removal, giving the recorder time to finalize its clip.
	GracePeriodFrames int
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxMatchDistance:       50,
		DisappearTimeoutFrames: 15,
		MinTrackLength:         5,
		GracePeriodFrames:      30,
	}
}

// Tracker assigns detections to tracks with greedy nearest-neighbor matching
// and drives track lifecycle transitions.
type Tracker struct {
	store *Store
	cfg   TrackerConfig
}

// NewTracker creates a tracker operating on the given store.
func NewTracker(store *Store, cfg TrackerConfig) *Tracker {
	return &Tracker{store: store, cfg: cfg}
}

// candidate is one in-gate track/detection pair.
type candidate struct {
	dist    float64
	trackID int64
	detIdx  int
}

// Update processes one frame's detections and returns the lifecycle events
// in a deterministic order: matches (ascending track ID), creations
// (detection order), disappearances then removals (ascending track ID).
//
// Matching is greedy on the globally smallest remaining distance; ties are
// broken by ascending track ID, then detection index. Malformed detections
// are dropped and logged without affecting the rest of the frame.
func (tr *Tracker) Update(detections []detect.Detection, now time.Time) []Event {
	valid := detections[:0:0]
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			monitoring.Logf("tracker: dropping malformed detection at frame %d: %v", d.FrameSeq, err)
			continue
		}
		valid = append(valid, d)
	}

	live := tr.store.Live()

	// Build the in-gate candidate list.
	cands := make([]candidate, 0, len(live)*len(valid)/2)
	for _, t := range live {
		last := t.Last()
		for j, d := range valid {
			dist := math.Hypot(d.X-last.X, d.Y-last.Y)
			if dist <= tr.cfg.MaxMatchDistance {
				cands = append(cands, candidate{dist: dist, trackID: t.ID, detIdx: j})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		if cands[i].trackID != cands[j].trackID {
			return cands[i].trackID < cands[j].trackID
		}
		return cands[i].detIdx < cands[j].detIdx
	})

	// Greedy assignment: each track and each detection used at most once.
	matchedTrack := make(map[int64]int, len(live))
	matchedDet := make(map[int]bool, len(valid))
	for _, c := range cands {
		if _, used := matchedTrack[c.trackID]; used {
			continue
		}
		if matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackID] = c.detIdx
		matchedDet[c.detIdx] = true
	}

	var matchEvents, createEvents, goneEvents []Event

	// Matched tracks: append observation, reset misses, maybe confirm.
	for _, t := range live {
		detIdx, ok := matchedTrack[t.ID]
		if !ok {
			continue
		}
		d := valid[detIdx]
		tr.store.append(t, now, d.X, d.Y, d.Brightness, d.W, d.H)
		t.Hits++
		t.Misses = 0
		if t.State == StateTentative && t.Hits >= tr.cfg.MinTrackLength {
			t.State = StateConfirmed
			matchEvents = append(matchEvents, Event{Type: EventConfirmed, TrackID: t.ID})
		} else {
			matchEvents = append(matchEvents, Event{Type: EventUpdated, TrackID: t.ID})
		}
	}

	// Unmatched detections spawn new tentative tracks.
	for j, d := range valid {
		if matchedDet[j] {
			continue
		}
		t := tr.store.Create(now, d.X, d.Y, d.Brightness, d.W, d.H)
		createEvents = append(createEvents, Event{Type: EventCreated, TrackID: t.ID})
		if t.Hits >= tr.cfg.MinTrackLength {
			t.State = StateConfirmed
			createEvents = append(createEvents, Event{Type: EventConfirmed, TrackID: t.ID})
		}
	}

	// Unmatched live tracks accumulate misses; stale ones disappear.
	for _, t := range live {
		if _, ok := matchedTrack[t.ID]; ok {
			continue
		}
		t.Misses++
		if t.Misses > tr.cfg.DisappearTimeoutFrames {
			t.State = StateDisappeared
			goneEvents = append(goneEvents, Event{Type: EventDisappeared, TrackID: t.ID})
		}
	}

	// Disappeared tracks are retired after the grace period.
	for _, t := range tr.store.All() {
		if t.State != StateDisappeared {
			continue
		}
		t.graceFrames++
		if t.graceFrames > tr.cfg.GracePeriodFrames {
			tr.store.Remove(t.ID)
			goneEvents = append(goneEvents, Event{Type: EventRemoved, TrackID: t.ID})
		}
	}

	events := make([]Event, 0, len(matchEvents)+len(createEvents)+len(goneEvents))
	events = append(events, matchEvents...)
	events = append(events, createEvents...)
	events = append(events, goneEvents...)
	return events
}
