// Package track implements multi-object tracking: the in-memory store of
// live tracks and the greedy nearest-neighbor tracker that assigns per-frame
// detections to persistent identities.
package track

import (
	"sort"
	"time"
)

// State is the lifecycle state of a track.
type State string

const (
	// StateTentative is a new track that has not yet accumulated enough
	// matched observations.
	StateTentative State = "tentative"
	// StateConfirmed is a stable track with sufficient history.
	StateConfirmed State = "confirmed"
	// StateDisappeared is the terminal staging state before removal. A
	// disappeared track is never matched or re-confirmed.
	StateDisappeared State = "disappeared"
)

// EventType identifies a track lifecycle transition.
type EventType string

const (
	EventCreated     EventType = "created"
	EventConfirmed   EventType = "confirmed"
	EventUpdated     EventType = "updated"
	EventDisappeared EventType = "disappeared"
	EventRemoved     EventType = "removed"
)

// Event reports one lifecycle transition from a tracker update.
type Event struct {
	Type    EventType
	TrackID int64
}

// Position is one observed centroid with its capture timestamp.
type Position struct {
	Timestamp time.Time
	X, Y      float64
}

// Track is a persistent identity for a physical object across frames. Owned
// by the Store; mutated only by the Tracker within a pipeline cycle.
type Track struct {
	ID    int64
	State State

	// Positions and Brightness are aligned append-only histories, bounded
	// to the store's max history length. Timestamps are monotonically
	// increasing.
	Positions  []Position
	Brightness []float64

	Hits   int // total matched observations
	Misses int // consecutive frames without a match

	LastW, LastH int // bounding box of the most recent matched detection

	FirstSeen time.Time
	LastSeen  time.Time

	// Most recent classification verdict; empty until the classifier has
	// enough history.
	Class      string
	Confidence float64

	graceFrames int // cycles since the disappeared transition
}

// Len returns the number of history samples.
func (t *Track) Len() int { return len(t.Positions) }

// Last returns the most recent observed position. Only valid when Len() > 0.
func (t *Track) Last() Position { return t.Positions[len(t.Positions)-1] }

// Store owns the live set of tracks. Single-writer: only the Tracker mutates
// it, within the acquisition context; the classifier and recorder read it in
// the same cycle.
type Store struct {
	tracks     map[int64]*Track
	nextID     int64
	maxHistory int
}

// NewStore creates an empty track store whose tracks keep at most maxHistory
// history samples.
func NewStore(maxHistory int) *Store {
	if maxHistory < 2 {
		maxHistory = 2
	}
	return &Store{
		tracks:     make(map[int64]*Track),
		nextID:     1,
		maxHistory: maxHistory,
	}
}

// Create registers a new tentative track seeded with one observation.
// Identities are assigned once and never reused.
func (s *Store) Create(now time.Time, x, y float64, brightness float64, w, h int) *Track {
	t := &Track{
		ID:        s.nextID,
		State:     StateTentative,
		FirstSeen: now,
	}
	s.nextID++
	s.append(t, now, x, y, brightness, w, h)
	t.Hits = 1
	s.tracks[t.ID] = t
	return t
}

// Get returns the track with the given ID, or nil.
func (s *Store) Get(id int64) *Track { return s.tracks[id] }

// Len returns the number of tracks currently held, disappeared included.
func (s *Store) Len() int { return len(s.tracks) }

// Live returns the non-disappeared tracks in ascending ID order.
func (s *Store) Live() []*Track {
	out := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.State != StateDisappeared {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every track, disappeared included, in ascending ID order.
func (s *Store) All() []*Track {
	out := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove retires a track. Its identity is never reused.
func (s *Store) Remove(id int64) { delete(s.tracks, id) }

// SetVerdict stores the latest classification verdict on a track.
func (s *Store) SetVerdict(id int64, class string, confidence float64) {
	if t := s.tracks[id]; t != nil {
		t.Class = class
		t.Confidence = confidence
	}
}

// append adds one observation, enforcing the history bound and timestamp
// monotonicity. Observations that do not advance the clock are ignored.
func (s *Store) append(t *Track, now time.Time, x, y float64, brightness float64, w, h int) {
	if n := len(t.Positions); n > 0 && !now.After(t.Positions[n-1].Timestamp) {
		return
	}
	t.Positions = append(t.Positions, Position{Timestamp: now, X: x, Y: y})
	t.Brightness = append(t.Brightness, brightness)
	if len(t.Positions) > s.maxHistory {
		t.Positions = t.Positions[len(t.Positions)-s.maxHistory:]
		t.Brightness = t.Brightness[len(t.Brightness)-s.maxHistory:]
	}
	t.LastW, t.LastH = w, h
	t.LastSeen = now
}
