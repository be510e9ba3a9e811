// Package db persists classified sky events in SQLite. The schema is managed
// by embedded migrations; see migrate.go.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no event.
var ErrNotFound = errors.New("db: event not found")

// DB wraps the SQLite connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the events database at path and applies the
// connection pragmas. The schema is not touched; call MigrateUp for that.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	return &DB{sqlDB}, nil
}

// Event is one persisted detection event: a confirmed track that produced a
// recorded clip.
type Event struct {
	ID         string    `json:"id"`
	TrackID    int64     `json:"track_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	ClipPath   string    `json:"clip_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// InsertEvent stores one event row.
func (db *DB) InsertEvent(ctx context.Context, ev Event) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO events (
			id, track_id, label, confidence, start_ns, end_ns, clip_path, created_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TrackID, ev.Label, ev.Confidence,
		ev.StartTime.UnixNano(), ev.EndTime.UnixNano(),
		ev.ClipPath, ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

// GetEvent returns the event with the given ID, or ErrNotFound.
func (db *DB) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, track_id, label, confidence, start_ns, end_ns, clip_path, created_ns
		 FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return ev, nil
}

// RecentEvents returns up to limit events ordered by start time, newest
// first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, track_id, label, confidence, start_ns, end_ns, clip_path, created_ns
		 FROM events ORDER BY start_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return collectEvents(rows)
}

// EventsByLabel returns up to limit events with the given label, newest
// first.
func (db *DB) EventsByLabel(ctx context.Context, label string, limit int) ([]Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, track_id, label, confidence, start_ns, end_ns, clip_path, created_ns
		 FROM events WHERE label = ? ORDER BY start_ns DESC LIMIT ?`, label, limit)
	if err != nil {
		return nil, fmt.Errorf("query events by label %q: %w", label, err)
	}
	return collectEvents(rows)
}

// EventsInRange returns the events whose start time falls in [from, to),
// oldest first.
func (db *DB) EventsInRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, track_id, label, confidence, start_ns, end_ns, clip_path, created_ns
		 FROM events WHERE start_ns >= ? AND start_ns < ? ORDER BY start_ns ASC`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query events in range: %w", err)
	}
	return collectEvents(rows)
}

// CountByLabel returns the number of stored events per label.
func (db *DB) CountByLabel(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT label, COUNT(*) FROM events GROUP BY label`)
	if err != nil {
		return nil, fmt.Errorf("count events by label: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var startNs, endNs, createdNs int64
	if err := row.Scan(&ev.ID, &ev.TrackID, &ev.Label, &ev.Confidence,
		&startNs, &endNs, &ev.ClipPath, &createdNs); err != nil {
		return nil, err
	}
	ev.StartTime = time.Unix(0, startNs)
	ev.EndTime = time.Unix(0, endNs)
	ev.CreatedAt = time.Unix(0, createdNs)
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}
