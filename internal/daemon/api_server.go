package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telepipe/internal/config"
	"telepipe/internal/logging"
	"telepipe/internal/runs"
	"telepipe/internal/scheduler"
	"telepipe/internal/warehouse"
)

const (
	searchDefaultLimit = 50
	searchMaxLimit     = 100
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.requireAuth(token, srv.handleStatus))
	mux.HandleFunc("/api/runs", srv.requireAuth(token, srv.handleRuns))
	mux.HandleFunc("/api/trigger", srv.requireAuth(token, srv.handleTrigger))
	mux.HandleFunc("/api/channels/", srv.requireAuth(token, srv.handleChannelActivity))
	mux.HandleFunc("/api/search/messages", srv.requireAuth(token, srv.handleSearch))

	// No write timeout: the trigger endpoint blocks for the whole pipeline run.
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
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

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	Running   bool             `json:"running"`
	StartedAt time.Time        `json:"started_at"`
	Pipelines []PipelineStatus `json:"pipelines"`
	Warehouse WarehouseStatus  `json:"warehouse"`
}

// PipelineStatus summarizes one registered pipeline for the status endpoint.
type PipelineStatus struct {
	Pipeline string    `json:"pipeline"`
	Schedule string    `json:"schedule,omitempty"`
	NextRun  time.Time `json:"next_run,omitempty"`
	InFlight bool      `json:"in_flight"`
	Rejected int64     `json:"rejected_triggers"`
}

// WarehouseStatus carries row counts for the status endpoint.
type WarehouseStatus struct {
	RawMessages  int64 `json:"raw_messages"`
	FactMessages int64 `json:"fact_messages"`
	Detections   int64 `json:"detections"`
	Channels     int64 `json:"channels"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := s.daemon.Status(r.Context())
	resp := StatusResponse{
		Running:   status.Running,
		StartedAt: status.StartedAt,
		Pipelines: make([]PipelineStatus, 0, len(status.Pipelines)),
	}
	for _, entry := range status.Pipelines {
		resp.Pipelines = append(resp.Pipelines, PipelineStatus{
			Pipeline: entry.Pipeline,
			Schedule: entry.Schedule,
			NextRun:  entry.NextRun,
			InFlight: entry.InFlight,
			Rejected: entry.Rejected,
		})
	}
	if stats, err := s.daemon.warehouse.Stats(r.Context()); err == nil {
		resp.Warehouse = WarehouseStatus{
			RawMessages:  stats.RawMessages,
			FactMessages: stats.FactMessages,
			Detections:   stats.Detections,
			Channels:     stats.Channels,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// RunsResponse is the /api/runs payload.
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary is one run with its stage outcomes.
type RunSummary struct {
	ID           string         `json:"id"`
	Pipeline     string         `json:"pipeline"`
	Status       string         `json:"status"`
	TriggerTime  time.Time      `json:"trigger_time"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	FailedStage  string         `json:"failed_stage,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Stages       []StageSummary `json:"stages"`
}

// StageSummary is one stage execution within a run.
type StageSummary struct {
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	SkipReason   string `json:"skip_reason,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (s *apiServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := runs.Filter{
		Pipeline: r.URL.Query().Get("pipeline"),
		Limit:    20,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	history, err := s.daemon.runStore.ListRuns(r.Context(), filter)
	if err != nil {
		s.logger.Error("list runs", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := RunsResponse{Runs: make([]RunSummary, 0, len(history))}
	for _, run := range history {
		resp.Runs = append(resp.Runs, summarizeRun(run))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func summarizeRun(run *runs.Run) RunSummary {
	summary := RunSummary{
		ID:           run.ID,
		Pipeline:     run.Pipeline,
		Status:       string(run.Status),
		TriggerTime:  run.TriggerTime,
		StartedAt:    run.StartedAt,
		EndedAt:      run.EndedAt,
		FailedStage:  run.FailedStage,
		ErrorMessage: run.ErrorMessage,
		Stages:       make([]StageSummary, 0, len(run.Executions)),
	}
	for _, exec := range run.Executions {
		summary.Stages = append(summary.Stages, StageSummary{
			Stage:        exec.Stage,
			Status:       string(exec.Status),
			AttemptCount: exec.AttemptCount,
			SkipReason:   exec.SkipReason,
			ErrorKind:    exec.ErrorKind,
			ErrorMessage: exec.ErrorMessage,
		})
	}
	return summary
}

// TriggerRequest is the /api/trigger request body.
type TriggerRequest struct {
	Pipeline string `json:"pipeline"`
}

func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pipeline == "" {
		entries := s.daemon.sched.Entries()
		if len(entries) == 1 {
			req.Pipeline = entries[0].Pipeline
		} else {
			s.writeError(w, http.StatusBadRequest, "pipeline is required")
			return
		}
	}

	err := s.daemon.TriggerPipeline(r.Context(), req.Pipeline)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"pipeline": req.Pipeline, "status": "completed"})
	case errors.Is(err, scheduler.ErrRunInFlight):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrUnknownPipeline):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{
			"pipeline": req.Pipeline,
			"status":   "failed",
			"error":    err.Error(),
		})
	}
}

func (s *apiServer) handleChannelActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "activity" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	channelName := parts[0]

	channelID, err := s.daemon.warehouse.LookupChannelID(r.Context(), channelName)
	if err != nil {
		s.logger.Error("lookup channel", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to resolve channel")
		return
	}
	if channelID == "" {
		s.writeError(w, http.StatusNotFound, "Channel not found")
		return
	}

	buckets, err := s.daemon.warehouse.ChannelActivity(r.Context(), channelID, 0)
	if err != nil {
		s.logger.Error("channel activity", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to query activity")
		return
	}
	s.writeJSON(w, http.StatusOK, buckets)
}

// SearchResponse is the /api/search/messages payload. Count reflects every
// match; results hold the requested page of them.
type SearchResponse struct {
	Success bool                    `json:"success"`
	Count   int                     `json:"count"`
	Results []warehouse.FactMessage `json:"results"`
	Query   string                  `json:"query"`
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := searchDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = parsed
	}

	results, err := s.daemon.warehouse.SearchMessages(r.Context(), query)
	if err != nil {
		s.logger.Error("search messages", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to search messages")
		return
	}

	total := len(results)
	page := results
	if offset >= total {
		page = nil
	} else {
		end := offset + limit
		if end > total {
			end = total
		}
		page = results[offset:end]
	}
	if page == nil {
		page = []warehouse.FactMessage{}
	}

	s.writeJSON(w, http.StatusOK, SearchResponse{
		Success: true,
		Count:   total,
		Results: page,
		Query:   query,
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
