// Package server exposes the gateway over HTTP for serve mode. It is a
// boundary owner: each request runs exactly one gateway operation inside one
// committed transaction, and finished operations are broadcast to websocket
// subscribers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/gapura/internal/metrics"
	"github.com/harun/gapura/internal/tracing"
	"github.com/harun/gapura/pkg/gateway"
	"github.com/harun/gapura/pkg/store"
)

// secretHeader carries the shared secret on every authenticated request
const secretHeader = "X-Gapura-Secret"

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Store        *store.Store
	Gateway      *gateway.Gateway
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	ProfileID    string
	SessionID    string
}

// Server is the serve-mode HTTP boundary
type Server struct {
	cfg         Config
	server      *http.Server
	upgrader    websocket.Upgrader
	broadcaster *Broadcaster
	logger      zerolog.Logger
	runCtx      gateway.RunContext

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
}

// New creates a server
func New(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required in serve mode")
	}

	return &Server{
		cfg:         cfg,
		broadcaster: NewBroadcaster(cfg.Logger),
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		runCtx: gateway.RunContext{
			ProfileID: cfg.ProfileID,
			SessionID: cfg.SessionID,
			Channel:   "http",
		},
	}, nil
}

// Start starts listening. It does not block.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tools/run", s.auth(s.handleRunTool))
	mux.HandleFunc("/v1/approvals", s.auth(s.handleListApprovals))
	mux.HandleFunc("/v1/approvals/", s.auth(s.handleResolveApproval))
	mux.HandleFunc("/v1/runs", s.auth(s.handleListRuns))
	mux.HandleFunc("/v1/events/stream", s.auth(s.handleEventStream))
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts down
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.broadcaster.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// auth rejects requests without the shared secret and tracks them for
// graceful shutdown.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		if r.Header.Get(secretHeader) != s.cfg.SharedSecret {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		traceID := r.Header.Get(tracing.Header)
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		ctx := tracing.WithTraceID(r.Context(), traceID)
		w.Header().Set(tracing.Header, traceID)

		reqLogger := tracing.LoggerFromContext(ctx, s.logger)
		reqLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Gateway request")

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()
		next(w, r.WithContext(ctx))
	}
}

// runRequest is the body of POST /v1/tools/run
type runRequest struct {
	Tool  string                 `json:"tool"`
	Input map[string]interface{} `json:"input"`
}

func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	result, err := s.inTx(r.Context(), func(tx *sql.Tx) gateway.Result {
		return s.cfg.Gateway.RunTool(r.Context(), tx, req.Tool, req.Input, s.runCtx)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publishResult(result)
	writeResult(w, result)
}

// handleResolveApproval routes POST /v1/approvals/{id}/approve and .../deny
func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/approvals/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	approvalID, action := parts[0], parts[1]

	var result gateway.Result
	var err error
	switch action {
	case "approve":
		result, err = s.inTx(r.Context(), func(tx *sql.Tx) gateway.Result {
			return s.cfg.Gateway.Approve(r.Context(), tx, approvalID, s.runCtx)
		})
	case "deny":
		result, err = s.inTx(r.Context(), func(tx *sql.Tx) gateway.Result {
			return s.cfg.Gateway.Deny(r.Context(), tx, approvalID, s.runCtx)
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publishResult(result)
	writeResult(w, result)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = store.ApprovalPending
	}

	var approvals []*store.Approval
	err := s.cfg.Store.WithTx(r.Context(), func(tx *sql.Tx) error {
		var err error
		approvals, err = s.cfg.Gateway.ListApprovals(r.Context(), tx, status, 100)
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if approvals == nil {
		approvals = []*store.Approval{}
	}
	writeJSON(w, http.StatusOK, approvals)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var runs []*store.ToolRun
	err := s.cfg.Store.WithTx(r.Context(), func(tx *sql.Tx) error {
		var err error
		runs, err = store.ListToolRuns(r.Context(), tx, s.cfg.ProfileID, 50)
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*store.ToolRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleEventStream upgrades to a websocket and subscribes the client to
// result broadcasts. The stream is notification-only; clients never send
// commands over it.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	client := s.broadcaster.Add(conn, r.RemoteAddr)
	s.logger.Info().Str("client_id", client.ID).Str("ip", r.RemoteAddr).Msg("Event stream client connected")

	go func() {
		defer s.broadcaster.Remove(client.ID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// inTx ensures identity rows and runs one gateway operation in one
// committed transaction. A store write failing mid-operation rolls the whole
// command back so no partial audit records commit.
func (s *Server) inTx(ctx context.Context, fn func(tx *sql.Tx) gateway.Result) (gateway.Result, error) {
	var result gateway.Result
	err := s.cfg.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.EnsureSession(ctx, tx, s.runCtx.SessionID, s.runCtx.ProfileID, s.runCtx.Channel); err != nil {
			return err
		}
		result = fn(tx)
		return result.InternalError()
	})
	return result, err
}

// publishResult pushes a finished operation to stream subscribers. The
// broadcast carries the same caller-visible envelope the HTTP response does,
// raw handler output included; subscribers authenticate with the same shared
// secret as any other caller. Only persisted records are redacted.
func (s *Server) publishResult(result gateway.Result) {
	s.broadcaster.Broadcast("tool_run."+string(result.Status), result)
}

func writeResult(w http.ResponseWriter, result gateway.Result) {
	status := http.StatusOK
	switch result.Status {
	case gateway.StatusApprovalRequired:
		status = http.StatusAccepted
	case gateway.StatusError, gateway.StatusTimeout, gateway.StatusDenied:
		status = statusForError(result.Err)
	}
	writeJSON(w, status, result)
}

func statusForError(terr *gateway.ToolError) int {
	if terr == nil {
		return http.StatusUnprocessableEntity
	}
	switch terr.Code {
	case gateway.CodeUnknownTool, gateway.CodeNotFound:
		return http.StatusNotFound
	case gateway.CodeSchemaError:
		return http.StatusBadRequest
	case gateway.CodePolicyViolation, gateway.CodeApprovalDenied:
		return http.StatusForbidden
	case gateway.CodeConflict:
		return http.StatusConflict
	case gateway.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
