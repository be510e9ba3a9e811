package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/skywatch-data/nightscan/internal/config"
	"github.com/skywatch-data/nightscan/internal/db"
	"github.com/skywatch-data/nightscan/internal/monitoring"
	"github.com/skywatch-data/nightscan/internal/pipeline"
	"github.com/skywatch-data/nightscan/internal/security"
	"github.com/skywatch-data/nightscan/internal/version"
)

const defaultEventLimit = 50

// Server serves the JSON API, the debug charts and the live stream.
type Server struct {
	mux      *http.ServeMux
	db       *db.DB
	pipe     *pipeline.Pipeline
	params   config.Params
	hub      *Hub
	clipsDir string
}

// NewServer wires the routes. hub may be nil when the live stream is
// disabled; an empty clipsDir disables clip downloads.
func NewServer(database *db.DB, pipe *pipeline.Pipeline, params config.Params, hub *Hub, clipsDir string) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		db:       database,
		pipe:     pipe,
		params:   params,
		hub:      hub,
		clipsDir: clipsDir,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/events/", s.handleEventByID)
	s.mux.HandleFunc("/api/params", s.handleParams)
	s.mux.HandleFunc("/debug/events-chart", s.handleEventsChart)
	if hub != nil {
		s.mux.HandleFunc("/ws/live", hub.HandleWS)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Too late for a status change; the client sees a truncated body.
		return
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Version   string         `json:"version"`
		GitSHA    string         `json:"git_sha"`
		Pipeline  pipeline.Stats `json:"pipeline"`
		WSClients int            `json:"ws_clients"`
	}{
		Version:  version.Version,
		GitSHA:   version.GitSHA,
		Pipeline: s.pipe.Stats(),
	}
	if s.hub != nil {
		status.WSClients = s.hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleEvents lists recorded events. Query params:
//   - limit: max rows (default 50)
//   - label: filter by classification label
//   - from, to: RFC3339 timestamps selecting a start-time range
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultEventLimit
	if ls := q.Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v < 1 || v > 1000 {
			s.writeJSONError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = v
	}

	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		fromT, err := time.Parse(time.RFC3339, from)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		toT, err := time.Parse(time.RFC3339, to)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		events, err := s.db.EventsInRange(ctx, fromT, toT)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, eventList(events))
		return
	}

	var events []db.Event
	var err error
	if label := q.Get("label"); label != "" {
		events, err = s.db.EventsByLabel(ctx, label, limit)
	} else {
		events, err = s.db.RecentEvents(ctx, limit)
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, eventList(events))
}

// eventList keeps the empty result as [] instead of null.
func eventList(events []db.Event) []db.Event {
	if events == nil {
		return []db.Event{}
	}
	return events
}

func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/events/")
	wantClip := false
	if rest, ok := strings.CutSuffix(id, "/clip"); ok {
		id, wantClip = rest, true
	}
	if id == "" || strings.Contains(id, "/") {
		s.writeJSONError(w, http.StatusBadRequest, "event id required")
		return
	}
	ev, err := s.db.GetEvent(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wantClip {
		s.serveClip(w, r, *ev)
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

// serveClip streams the event's sealed clip file. The stored path is
// re-validated against the clip directory; rows pointing elsewhere are
// treated as missing clips rather than leaking the reason.
func (s *Server) serveClip(w http.ResponseWriter, r *http.Request, ev db.Event) {
	if s.clipsDir == "" {
		s.writeJSONError(w, http.StatusNotFound, "clip downloads disabled")
		return
	}
	if err := security.ValidateClipPath(ev.ClipPath, s.clipsDir); err != nil {
		monitoring.Logf("web: rejected clip path for event %s: %v", ev.ID, err)
		s.writeJSONError(w, http.StatusNotFound, "clip not available")
		return
	}
	if _, err := os.Stat(ev.ClipPath); err != nil {
		s.writeJSONError(w, http.StatusNotFound, "clip not available")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(ev.ClipPath)))
	http.ServeFile(w, r, ev.ClipPath)
}

// handleParams returns the active tuning values. POST accepts a partial
// tuning config, validates it, and returns the parameters that would result;
// the running pipeline keeps its startup values until restart.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.params)
	case http.MethodPost:
		var cfg config.TuningConfig
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&cfg); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid tuning config: %v", err))
			return
		}
		if err := cfg.Validate(); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		merged := s.params
		cfg.Apply(&merged)
		s.writeJSON(w, http.StatusOK, merged)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

// handleEventsChart renders a bar chart (HTML) of event counts per label.
// Debug-only endpoint for eyeballing the classifier's output mix.
func (s *Server) handleEventsChart(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.CountByLabel(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	labels := []string{"aircraft", "satellite", "uap", "unknown"}
	data := make([]opts.BarData, 0, len(labels))
	for _, l := range labels {
		data = append(data, opts.BarData{Value: counts[l]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sky Events by Class", Theme: "dark"}),
		charts.WithTitleOpts(opts.Title{Title: "Recorded Events", Subtitle: "count per classification label"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("events", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
	}
}
