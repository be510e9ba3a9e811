package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skywatch-data/nightscan/internal/config"
	"github.com/skywatch-data/nightscan/internal/db"
	"github.com/skywatch-data/nightscan/internal/monitoring"
	"github.com/skywatch-data/nightscan/internal/pipeline"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestServer(t *testing.T) (*Server, *db.DB) {
	s, database, _ := newTestServerWithClips(t)
	return s, database
}

func newTestServerWithClips(t *testing.T) (*Server, *db.DB, string) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	clipsDir := filepath.Join(dir, "clips")
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	params := config.DefaultParams()
	pipe := pipeline.New(pipeline.Config{Params: params})
	return NewServer(database, pipe, params, NewHub(), clipsDir), database, clipsDir
}

func insertEvent(t *testing.T, database *db.DB, trackID int64, label string, start time.Time) db.Event {
	t.Helper()
	ev := db.Event{
		ID:         uuid.NewString(),
		TrackID:    trackID,
		Label:      label,
		Confidence: 0.7,
		StartTime:  start,
		EndTime:    start.Add(8 * time.Second),
		ClipPath:   "clips/test.nsclip",
		CreatedAt:  start,
	}
	if err := database.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	return ev
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status struct {
		Version   string         `json:"version"`
		Pipeline  pipeline.Stats `json:"pipeline"`
		WSClients int            `json:"ws_clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Version == "" {
		t.Error("expected a version string")
	}
}

func TestEventsListAndFilters(t *testing.T) {
	s, database := newTestServer(t)
	base := time.Unix(1700000000, 0).UTC()

	insertEvent(t, database, 1, "aircraft", base)
	insertEvent(t, database, 2, "satellite", base.Add(time.Minute))
	insertEvent(t, database, 3, "aircraft", base.Add(2*time.Minute))

	rec := get(t, s, "/api/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events []db.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}
	if events[0].TrackID != 3 {
		t.Errorf("expected newest first, got track %d", events[0].TrackID)
	}

	rec = get(t, s, "/api/events?label=aircraft")
	events = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode filtered events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 aircraft events, got %d", len(events))
	}

	from := base.Add(30 * time.Second).Format(time.RFC3339)
	to := base.Add(90 * time.Second).Format(time.RFC3339)
	rec = get(t, s, "/api/events?from="+from+"&to="+to)
	events = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode ranged events: %v", err)
	}
	if len(events) != 1 || events[0].TrackID != 2 {
		t.Errorf("expected only track 2 in range, got %+v", events)
	}
}

func TestEventsEmptyListIsArray(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/events")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %q", rec.Body.String())
	}
}

func TestEventsBadLimit(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/events?limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestEventByID(t *testing.T) {
	s, database := newTestServer(t)
	ev := insertEvent(t, database, 9, "uap", time.Unix(1700000000, 0))

	rec := get(t, s, "/api/events/"+ev.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got db.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.ID != ev.ID || got.Label != "uap" {
		t.Errorf("unexpected event %+v", got)
	}

	rec = get(t, s, "/api/events/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown event, got %d", rec.Code)
	}
}

func TestClipDownload(t *testing.T) {
	s, database, clipsDir := newTestServerWithClips(t)

	clipPath := filepath.Join(clipsDir, "track_7_1700000000.nsclip")
	if err := os.WriteFile(clipPath, []byte("NSLOG001clipdata"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ev := db.Event{
		ID:         uuid.NewString(),
		TrackID:    7,
		Label:      "satellite",
		Confidence: 0.8,
		StartTime:  time.Unix(1700000000, 0),
		EndTime:    time.Unix(1700000008, 0),
		ClipPath:   clipPath,
		CreatedAt:  time.Unix(1700000008, 0),
	}
	if err := database.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	rec := get(t, s, "/api/events/"+ev.ID+"/clip")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Body.String(), "NSLOG001") {
		t.Errorf("unexpected clip body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "track_7_1700000000.nsclip") {
		t.Errorf("unexpected content disposition %q", cd)
	}
}

func TestClipDownloadRejectsEscapedPath(t *testing.T) {
	s, database, _ := newTestServerWithClips(t)

	ev := db.Event{
		ID:         uuid.NewString(),
		TrackID:    8,
		Label:      "aircraft",
		Confidence: 0.6,
		StartTime:  time.Unix(1700000000, 0),
		EndTime:    time.Unix(1700000008, 0),
		ClipPath:   "/etc/passwd",
		CreatedAt:  time.Unix(1700000008, 0),
	}
	if err := database.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	rec := get(t, s, "/api/events/"+ev.ID+"/clip")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for out-of-directory clip, got %d", rec.Code)
	}
}

func TestParamsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/params")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var params config.Params
	if err := json.Unmarshal(rec.Body.Bytes(), &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.MaxMatchDistance != config.DefaultParams().MaxMatchDistance {
		t.Errorf("unexpected params payload: %+v", params)
	}
}

func TestParamsPostValidatesAndMerges(t *testing.T) {
	s, _ := newTestServer(t)

	body := strings.NewReader(`{"max_match_distance": 25.0, "frame_skip": 3}`)
	req := httptest.NewRequest(http.MethodPost, "/api/params", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var merged config.Params
	if err := json.Unmarshal(rec.Body.Bytes(), &merged); err != nil {
		t.Fatalf("decode merged params: %v", err)
	}
	if merged.MaxMatchDistance != 25.0 || merged.FrameSkip != 3 {
		t.Errorf("expected overrides applied, got %+v", merged)
	}
	if merged.MinTrackLength != config.DefaultParams().MinTrackLength {
		t.Errorf("expected untouched fields to keep defaults, got %+v", merged)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/params", strings.NewReader(`{"max_match_distance": -5}`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid config, got %d", rec.Code)
	}
}

func TestEventsChartRenders(t *testing.T) {
	s, database := newTestServer(t)
	insertEvent(t, database, 1, "satellite", time.Unix(1700000000, 0))

	rec := get(t, s, "/debug/events-chart")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "echarts") {
		t.Error("expected an echarts document")
	}
}

func TestHubBroadcastsPublishedMessages(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration races the dial returning; wait for the hub to see us.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatal("client never registered")
	}

	hub.Publish(pipeline.Message{Type: pipeline.MessageTrackUpdate, FrameSeq: 42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m pipeline.Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != pipeline.MessageTrackUpdate || m.FrameSeq != 42 {
		t.Errorf("unexpected message %+v", m)
	}
}
