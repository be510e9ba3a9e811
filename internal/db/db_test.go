package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return database
}

func testEvent(trackID int64, label string, start time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		TrackID:    trackID,
		Label:      label,
		Confidence: 0.8,
		StartTime:  start,
		EndTime:    start.Add(10 * time.Second),
		ClipPath:   "clips/track_1.nsclip",
		CreatedAt:  start.Add(11 * time.Second),
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("expected version 1 clean, got %d dirty=%v", version, dirty)
	}
}

func TestInsertAndGetEvent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	want := testEvent(7, "satellite", time.Unix(1700000000, 123456789))
	if err := database.InsertEvent(ctx, want); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	got, err := database.GetEvent(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.TrackID != want.TrackID || got.Label != want.Label || got.ClipPath != want.ClipPath {
		t.Errorf("round trip mismatch: got %+v want %+v", got, want)
	}
	if !got.StartTime.Equal(want.StartTime) || !got.EndTime.Equal(want.EndTime) {
		t.Errorf("timestamps not preserved: got %v/%v want %v/%v",
			got.StartTime, got.EndTime, want.StartTime, want.EndTime)
	}
}

func TestGetEventNotFound(t *testing.T) {
	database := openTestDB(t)
	_, err := database.GetEvent(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		ev := testEvent(int64(i+1), "unknown", base.Add(time.Duration(i)*time.Minute))
		if err := database.InsertEvent(ctx, ev); err != nil {
			t.Fatalf("InsertEvent %d: %v", i, err)
		}
	}

	events, err := database.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].TrackID != 5 || events[2].TrackID != 3 {
		t.Errorf("expected newest first (5,4,3), got (%d,%d,%d)",
			events[0].TrackID, events[1].TrackID, events[2].TrackID)
	}
}

func TestEventsByLabelAndCounts(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	labels := []string{"aircraft", "satellite", "aircraft", "uap"}
	for i, l := range labels {
		if err := database.InsertEvent(ctx, testEvent(int64(i+1), l, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	aircraft, err := database.EventsByLabel(ctx, "aircraft", 10)
	if err != nil {
		t.Fatalf("EventsByLabel: %v", err)
	}
	if len(aircraft) != 2 {
		t.Errorf("expected 2 aircraft events, got %d", len(aircraft))
	}

	counts, err := database.CountByLabel(ctx)
	if err != nil {
		t.Fatalf("CountByLabel: %v", err)
	}
	if counts["aircraft"] != 2 || counts["satellite"] != 1 || counts["uap"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestEventsInRange(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 4; i++ {
		if err := database.InsertEvent(ctx, testEvent(int64(i+1), "satellite", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	// Half-open range [base+1h, base+3h) holds events 2 and 3, oldest first.
	events, err := database.EventsInRange(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("EventsInRange: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events in range, got %d", len(events))
	}
	if events[0].TrackID != 2 || events[1].TrackID != 3 {
		t.Errorf("expected tracks (2,3), got (%d,%d)", events[0].TrackID, events[1].TrackID)
	}
}
