// Package server exposes the migration engine over HTTP. Handlers stay
// thin: validation and encoding here, all behavior in the core packages.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gourab8389/migrata-new/internal/orchestrator"
	"github.com/gourab8389/migrata-new/internal/progress"
	"github.com/gourab8389/migrata-new/internal/runstore"
	"github.com/gourab8389/migrata-new/internal/schemadiff"
)

// sseHeartbeat is the keep-alive comment interval on progress streams.
const sseHeartbeat = 15 * time.Second

// Server routes HTTP traffic to the orchestrator and stores.
type Server struct {
	orch   *orchestrator.Orchestrator
	runs   runstore.Store
	events *progress.Broadcaster

	heartbeat time.Duration
}

func New(orch *orchestrator.Orchestrator, runs runstore.Store, events *progress.Broadcaster) *Server {
	return &Server{orch: orch, runs: runs, events: events, heartbeat: sseHeartbeat}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/migrate-data", func(r chi.Router) {
			r.Post("/start", s.handleStartRun)
			r.Get("/status", s.handleRunStatus)
			r.Get("/progress", s.handleRunProgress)
		})
		r.Route("/field-difference", func(r chi.Router) {
			r.Post("/", s.handleStartDiff)
			r.Get("/result", s.handleDiffResult)
			r.Get("/progress", s.handleDiffProgress)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := scheduleIDFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "scheduleId is required")
		return
	}
	handle, err := s.orch.StartRun(r.Context(), scheduleID)
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"runId":      handle.RunID,
		"scheduleId": scheduleID,
		"status":     runstore.StatusQueued,
	})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := scheduleIDFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "scheduleId is required")
		return
	}
	run, err := s.runs.LatestRun(r.Context(), scheduleID)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no runs for schedule "+scheduleID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStartDiff(w http.ResponseWriter, r *http.Request) {
	req, ok := diffRequestFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "scheduleId is required")
		return
	}
	if req.Scope != schemadiff.ScopeAll && req.Scope != schemadiff.ScopeSchema {
		writeError(w, http.StatusBadRequest, "scope must be \"all\" or \"schema\"")
		return
	}
	if err := s.orch.StartDiff(r.Context(), req); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scheduleId": req.ScheduleID, "scope": req.Scope})
}

func (s *Server) handleDiffResult(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := scheduleIDFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "scheduleId is required")
		return
	}
	res, err := s.runs.GetDiff(r.Context(), scheduleID)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no diff result for schedule "+scheduleID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDiffProgress streams diff progress as server-sent events, with
// keep-alive comments so idle proxies hold the connection open.
func (s *Server) handleDiffProgress(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := scheduleIDFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "scheduleId is required")
		return
	}
	s.streamEvents(w, r, orchestrator.DiffTopic(scheduleID), nil)
}

// handleRunProgress streams the latest run's progress events. A run that is
// already terminal yields a single run-finished event and ends the stream.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := scheduleIDFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "scheduleId is required")
		return
	}
	run, err := s.runs.LatestRun(r.Context(), scheduleID)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no runs for schedule "+scheduleID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The run may finish between the lookup and the subscribe; recheck the
	// store once subscribed so the stream always terminates.
	s.streamEvents(w, r, run.ID, func() (progress.Event, bool) {
		latest, err := s.runs.GetRun(r.Context(), run.ID)
		if err != nil || !latest.Terminal() {
			return progress.Event{}, false
		}
		return progress.Event{Type: progress.EventRunFinished, Data: latest}, true
	})
}

// streamEvents subscribes to the topic and writes its events as SSE frames
// until the topic closes or the client disconnects. terminalCheck, when
// non-nil, runs after subscribing; a returned event is written and ends the
// stream immediately.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, topic string, terminalCheck func() (progress.Event, bool)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.events.Subscribe(topic, 32)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if terminalCheck != nil {
		if ev, done := terminalCheck(); done {
			writeEvent(w, flusher, ev)
			return
		}
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			writeEvent(w, flusher, ev)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev progress.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		log.Printf("server: encode progress event: %v", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	flusher.Flush()
}

func scheduleIDFrom(r *http.Request) (string, bool) {
	if id := r.URL.Query().Get("scheduleId"); id != "" {
		return id, true
	}
	if r.Body != nil && r.Method == http.MethodPost {
		var body struct {
			ScheduleID string `json:"scheduleId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.ScheduleID != "" {
			return body.ScheduleID, true
		}
	}
	return "", false
}

// diffRequestFrom reads the comparison request from the query string or the
// JSON body. Scope defaults to a full comparison; objects and the org pair
// default to the schedule's batch and source/target.
func diffRequestFrom(r *http.Request) (orchestrator.DiffRequest, bool) {
	q := r.URL.Query()
	req := orchestrator.DiffRequest{
		ScheduleID: q.Get("scheduleId"),
		Scope:      q.Get("scope"),
		Objects:    splitList(q.Get("objects")),
		SourceOrg:  q.Get("sourceOrg"),
		TargetOrg:  q.Get("targetOrg"),
	}
	if req.ScheduleID == "" && r.Body != nil {
		var body struct {
			ScheduleID string   `json:"scheduleId"`
			Scope      string   `json:"scope"`
			Objects    []string `json:"objects"`
			SourceOrg  string   `json:"sourceOrg"`
			TargetOrg  string   `json:"targetOrg"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			req.ScheduleID = body.ScheduleID
			if req.Scope == "" {
				req.Scope = body.Scope
			}
			if len(req.Objects) == 0 {
				req.Objects = body.Objects
			}
			if req.SourceOrg == "" {
				req.SourceOrg = body.SourceOrg
			}
			if req.TargetOrg == "" {
				req.TargetOrg = body.TargetOrg
			}
		}
	}
	if req.Scope == "" {
		req.Scope = schemadiff.ScopeAll
	}
	return req, req.ScheduleID != ""
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
