// Package server exposes the sandbox manager over HTTP with live SSE streams,
// mirroring what the MCP tool surface offers for programmatic clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	sse "github.com/tmaxmax/go-sse"

	"github.com/rama-kairi/zencube/internal/analyzer"
	"github.com/rama-kairi/zencube/internal/config"
	"github.com/rama-kairi/zencube/internal/database"
	"github.com/rama-kairi/zencube/internal/logger"
	"github.com/rama-kairi/zencube/internal/monitoring"
	"github.com/rama-kairi/zencube/internal/sandbox"
)

// Server is the HTTP dashboard over a sandbox manager. Session events are
// republished onto per-session SSE topics so browsers can follow output,
// state flips and resource samples as they happen.
type Server struct {
	cfg     *config.Config
	logger  *logger.Logger
	manager *sandbox.Manager
	db      *database.DB
	monitor *monitoring.ResourceMonitor

	sseProvider sse.Provider
	httpServer  *http.Server

	bridgesMu sync.Mutex
	bridges   map[string]struct{}

	shutdownOnce sync.Once
}

// channelMessageWriter queues SSE messages for one client with a hard bound;
// a client that stops reading is disconnected rather than allowed to stall
// the publisher.
type channelMessageWriter struct {
	ch chan *sse.Message
}

func (w *channelMessageWriter) Send(message *sse.Message) error {
	select {
	case w.ch <- message.Clone():
		return nil
	default:
		return errors.New("sse subscriber is backpressured")
	}
}

func (w *channelMessageWriter) Flush() error {
	return nil
}

// New creates a dashboard server. db and monitor may be nil.
func New(cfg *config.Config, log *logger.Logger, manager *sandbox.Manager, db *database.DB, monitor *monitoring.ResourceMonitor) (*Server, error) {
	replayer, err := sse.NewValidReplayer(time.Hour, false)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:         cfg,
		logger:      log,
		manager:     manager,
		db:          db,
		monitor:     monitor,
		sseProvider: &sse.Joe{Replayer: replayer},
		bridges:     make(map[string]struct{}),
	}, nil
}

// Handler returns the full route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/input", s.handleInput)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionSubroutes)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

// ListenAndServe runs the dashboard until the context is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Dashboard.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info("Dashboard listening", map[string]interface{}{
		"addr": s.cfg.Dashboard.Addr,
	})

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the HTTP listener and the SSE provider
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		_ = s.sseProvider.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	status := map[string]any{
		"ok":              true,
		"active_sessions": s.manager.ActiveSessions(),
	}
	if s.db != nil {
		if err := s.db.HealthCheck(); err != nil {
			status["ok"] = false
			status["database"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, status)
}

type runRequest struct {
	Command      string   `json:"command"`
	Filename     string   `json:"filename"`
	Content      string   `json:"content"`
	Args         []string `json:"args"`
	CPUSeconds   int      `json:"cpu_seconds"`
	MemoryMB     int      `json:"memory_mb"`
	MaxProcesses int      `json:"max_processes"`
	FileSizeMB   int      `json:"file_size_mb"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	var request runRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if request.Command == "" && request.Filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "either command or filename is required"})
		return
	}
	if request.Filename != "" && request.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "content is required when filename is set"})
		return
	}

	limits := s.manager.DefaultLimits()
	if request.CPUSeconds > 0 {
		limits.CPUSeconds = request.CPUSeconds
	}
	if request.MemoryMB > 0 {
		limits.MemoryMB = request.MemoryMB
	}
	if request.MaxProcesses > 0 {
		limits.MaxProcesses = request.MaxProcesses
	}
	if request.FileSizeMB > 0 {
		limits.FileSizeMB = request.FileSizeMB
	}

	start := sandbox.StartRequest{Limits: &limits}
	if request.Filename != "" {
		saved, err := sandbox.SaveUpload(s.manager.Root(), request.Filename, []byte(request.Content))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		start.File = saved
		start.OwnedPaths = []string{saved}
		start.Argv = request.Args
	} else {
		start.Argv = append(strings.Fields(request.Command), request.Args...)
	}

	session, err := s.manager.StartSession(start)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	s.ensureBridge(session)

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.ID,
		"pid":        session.PID,
		"command":    session.Command,
		"state":      session.State(),
		"stream_url": fmt.Sprintf("/api/sessions/%s/stream", session.ID),
	})
}

type inputRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
	Raw       bool   `json:"raw"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var request inputRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if _, err := uuid.Parse(request.SessionID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id must be a UUID"})
		return
	}

	delivered := s.manager.SendInput(request.SessionID, request.Input, !request.Raw)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": request.SessionID,
		"delivered":  delivered,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var request struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	session, ok := s.manager.GetSession(request.SessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	if err := s.manager.StopSession(request.SessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	exitCode, stopped, _ := session.Result()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": request.SessionID,
		"exit_code":  exitCode,
		"stopped":    stopped,
		"output":     session.Transcript(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	sessions := s.manager.ListSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleSessionSubroutes serves /api/sessions/{id}/stream and
// /api/sessions/{id}/output
func (s *Server) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	sessionID, action := parts[0], parts[1]

	switch action {
	case "stream":
		s.handleStream(w, r, sessionID)
	case "output":
		s.handleOutput(w, r, sessionID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	}
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if session, ok := s.manager.GetSession(sessionID); ok {
		payload := map[string]any{
			"session_id": session.ID,
			"live":       true,
			"state":      session.State(),
			"output":     session.Transcript(),
		}
		if exitCode, stopped, finished := session.Result(); finished {
			payload["exit_code"] = exitCode
			payload["stopped"] = stopped
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if s.db != nil {
		if run, err := s.db.GetRun(sessionID); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"session_id":  run.ID,
				"live":        false,
				"state":       sandbox.StateTerminated,
				"output":      run.Transcript,
				"exit_code":   run.ExitCode,
				"stopped":     run.Stopped,
				"duration_ms": run.DurationMS,
			})
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
}

// handleStream upgrades the connection to SSE and follows one session's
// events. The bridge is started lazily so sessions launched over MCP can be
// watched from the browser too.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if session, ok := s.manager.GetSession(sessionID); ok {
		s.ensureBridge(session)
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	ready := &sse.Message{}
	ready.AppendComment("ready")
	if err := sess.Send(ready); err != nil {
		return
	}
	_ = sess.Flush()

	writer := &channelMessageWriter{ch: make(chan *sse.Message, 128)}
	sub := sse.Subscription{
		Client: writer,
		Topics: []string{sessionID},
	}
	if lastEventID := strings.TrimSpace(r.Header.Get("Last-Event-ID")); lastEventID != "" {
		sub.LastEventID = sse.ID(lastEventID)
	}

	subscribeErr := make(chan error, 1)
	go func() {
		subscribeErr <- s.sseProvider.Subscribe(r.Context(), sub)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-subscribeErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return
			}
			return
		case message := <-writer.ch:
			if err := sess.Send(message); err != nil {
				return
			}
			_ = sess.Flush()
		}
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var request struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if request.Filename == "" || request.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "filename and content are required"})
		return
	}

	report, err := analyzer.AnalyzeSource(request.Filename, request.Content)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if s.db != nil {
		record := &database.AnalysisRecord{
			ID:            uuid.New().String(),
			Filename:      report.Filename,
			Language:      report.Language,
			Vulnerability: len(report.Vulnerabilities),
			Warning:       len(report.Warnings),
			Informational: len(report.Info),
			Timestamp:     time.Now(),
		}
		if err := s.db.StoreAnalysis(record); err != nil {
			s.logger.Error("Failed to record analysis", err, map[string]interface{}{
				"filename": report.Filename,
			})
		}
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "run history is disabled"})
		return
	}

	query := r.URL.Query()
	var exitCode *int
	if raw := query.Get("exit_code"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "exit_code must be an integer"})
			return
		}
		exitCode = &parsed
	}
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	var startTime, endTime time.Time
	if raw := query.Get("start_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "start_time must be RFC3339"})
			return
		}
		startTime = parsed
	}
	if raw := query.Get("end_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "end_time must be RFC3339"})
			return
		}
		endTime = parsed
	}

	runs, err := s.db.SearchRuns(query.Get("command"), query.Get("output"), exitCode, startTime, endTime, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	status := map[string]any{
		"sessions": s.manager.ListSessions(),
	}
	started, completed := s.manager.SessionCounts()
	status["sessions_started"] = started
	status["sessions_completed"] = completed

	if s.monitor != nil {
		status["server"] = s.monitor.GetResourceSummary()
	}
	if s.db != nil {
		if stats, err := s.db.GetRunStats(); err == nil {
			status["run_stats"] = stats
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// ensureBridge starts exactly one goroutine per session that republishes its
// events onto the session's SSE topic. ULID event IDs keep replay ordering
// consistent across reconnects.
func (s *Server) ensureBridge(session *sandbox.Session) {
	s.bridgesMu.Lock()
	if _, exists := s.bridges[session.ID]; exists {
		s.bridgesMu.Unlock()
		return
	}
	s.bridges[session.ID] = struct{}{}
	s.bridgesMu.Unlock()

	events, cancel := session.Subscribe(s.cfg.Sandbox.SubscriberBuffer)

	go func() {
		defer cancel()
		defer func() {
			s.bridgesMu.Lock()
			delete(s.bridges, session.ID)
			s.bridgesMu.Unlock()
		}()

		for event := range events {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			msg := &sse.Message{ID: sse.ID(ulid.Make().String())}
			msg.AppendData(string(payload))
			if err := s.sseProvider.Publish(msg, []string{session.ID}); err != nil {
				s.logger.Debug("SSE publish failed", map[string]interface{}{
					"session_id": session.ID,
					"error":      err.Error(),
				})
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
