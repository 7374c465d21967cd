package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"lifestory/internal/api"
	"lifestory/internal/config"
	"lifestory/internal/draft"
	"lifestory/internal/logging"
	"lifestory/internal/services"
)

// followWait bounds a long-polling log request; it stays below the client timeout.
const followWait = 25 * time.Second

type apiServer struct {
	bind    string
	logger  *slog.Logger
	watcher *Watcher

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, w *Watcher, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Watch.APIBind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{bind: bind, logger: logger, watcher: w}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Watch.APIToken, cfg.Watch.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// /api/logs?follow=1 holds the response open while waiting.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string, origins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(authMiddleware(strings.TrimSpace(token)))

	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/interviews", s.handleInterviews).Methods(http.MethodGet)
	r.HandleFunc("/api/interviews/{id}", s.handleInterview).Methods(http.MethodGet)
	r.HandleFunc("/api/interviews/{id}/follow", s.handleFollow).Methods(http.MethodPost)
	r.HandleFunc("/api/interviews/{id}/follow", s.handleUnfollow).Methods(http.MethodDelete)
	r.HandleFunc("/api/drafts/{id}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/logs", s.handleLogs).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	var handler http.Handler = r
	if len(origins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(r)
	}
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(handler)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address, or "" before start.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.watcher.Status()
	payload := api.WatchStatus{
		Running:      status.Running,
		PID:          status.PID,
		LockFilePath: status.LockFilePath,
		JournalPath:  status.JournalPath,
		Bus: api.BusStatus{
			Connected:  status.Connected,
			Reconnects: status.Reconnects,
			Rooms:      status.Rooms,
		},
		Following:   status.Following,
		DraftEvents: status.DraftEvents,
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleInterviews(w http.ResponseWriter, r *http.Request) {
	states := s.watcher.Interviews()
	views := make([]api.InterviewView, 0, len(states))
	for _, state := range states {
		views = append(views, interviewView(state))
	}
	writeJSON(w, http.StatusOK, api.InterviewListResponse{Interviews: views})
}

func (s *apiServer) handleInterview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	state, ok := s.watcher.Interview(id)
	if !ok {
		writeError(w, http.StatusNotFound, "interview is not followed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.watcher.InterviewEvents(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.InterviewResponse{
		Interview: interviewView(state),
		Events:    api.FromInterviewEvents(events),
	})
}

func (s *apiServer) handleFollow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	changed, err := s.watcher.Follow(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FollowResponse{InterviewID: id, Following: true, Changed: changed})
}

func (s *apiServer) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	changed, err := s.watcher.Unfollow(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !changed {
		writeError(w, http.StatusNotFound, "interview is not followed")
		return
	}
	writeJSON(w, http.StatusOK, api.FollowResponse{InterviewID: id, Following: false, Changed: true})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	filter, err := historyFilter(id, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.watcher.History(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.HistoryResponse{DraftID: id, Entries: api.FromHistory(entries)})
}

func historyFilter(draftID string, r *http.Request) (draft.HistoryFilter, error) {
	query := r.URL.Query()
	filter := draft.HistoryFilter{DraftID: draftID, User: strings.TrimSpace(query.Get("user"))}
	for _, raw := range query["action"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			action, err := draft.ParseAction(part)
			if err != nil {
				return filter, err
			}
			filter.Actions = append(filter.Actions, action)
		}
	}
	var err error
	if filter.Since, err = parseQueryTime(query.Get("since")); err != nil {
		return filter, fmt.Errorf("invalid since: %w", err)
	}
	if filter.Until, err = parseQueryTime(query.Get("until")); err != nil {
		return filter, fmt.Errorf("invalid until: %w", err)
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	return filter, nil
}

func parseQueryTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.watcher.LogStream()
	if hub == nil {
		writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: nil, Next: 0})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")
	component := strings.TrimSpace(query.Get("component"))
	interviewID := strings.TrimSpace(query.Get("interview"))

	var (
		events []logging.LogEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		ctx := r.Context()
		if follow {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, followWait)
			defer cancel()
		}
		var err error
		events, next, err = hub.Fetch(ctx, since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	filtered := make([]api.LogEvent, 0, len(events))
	for _, evt := range api.FromLogEvents(events) {
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		if interviewID != "" && evt.InterviewID != interviewID {
			continue
		}
		filtered = append(filtered, evt)
	}
	writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filtered, Next: next})
}

func interviewView(state InterviewState) api.InterviewView {
	view := api.FromSnapshot(state.Snapshot)
	view.Runs = state.Runs
	if state.Last != nil {
		view.LastResult = api.FromResult(*state.Last, state.LastAt)
	}
	return view
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotRunning):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
