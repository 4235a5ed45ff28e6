package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bdobrica/Hibiki/common/spec/catalog"
	"github.com/bdobrica/Hibiki/common/trace"
	"github.com/bdobrica/Hibiki/common/version"
	"github.com/bdobrica/Hibiki/internal/hibiki/commands"
	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/dispatch"
	"github.com/bdobrica/Hibiki/internal/hibiki/gateway"
	"github.com/bdobrica/Hibiki/internal/hibiki/ratelimit"
	"github.com/bdobrica/Hibiki/internal/hibiki/service"
	"github.com/bdobrica/Hibiki/internal/hibiki/store"
)

const maxRequestBody = 64 << 10

// Executor runs and lists commands.
type Executor interface {
	Execute(ctx context.Context, req service.Request) (*service.Execution, error)
	Get(ctx context.Context, id string) (*service.Execution, error)
	History(ctx context.Context, userID string, limit int) ([]*service.Execution, error)
	Catalog() *commands.Catalog
}

// StatusProvider reports runtime state for GET /status.
type StatusProvider interface {
	Connected() bool
	RouterStats() correlation.Stats
	ExecutionCount(ctx context.Context) (int64, error)
}

// Server is the HTTP API.
type Server struct {
	addr      string
	exec      Executor
	status    StatusProvider
	validate  *validator.Validate
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
	logger    *slog.Logger
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Commit     string            `json:"commit"`
	BuildTime  string            `json:"build_time"`
	StartedAt  time.Time         `json:"started_at"`
	UptimeSecs float64           `json:"uptime_seconds"`
	Connected  bool              `json:"connected"`
	Router     correlation.Stats `json:"router"`
	Executions int64             `json:"executions"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Format string `json:"format,omitempty"`
}

type catalogResponse struct {
	Commands  []catalog.Command  `json:"commands"`
	Providers []catalog.Provider `json:"providers"`
}

// NewServer creates the HTTP API (it does not start listening).
func NewServer(addr string, exec Executor, status StatusProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		addr:      addr,
		exec:      exec,
		status:    status,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		startedAt: time.Now(),
		mux:       mux,
		logger:    logger.With("component", "http"),
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /v1/commands", s.handleExecute)
	mux.HandleFunc("GET /v1/commands", s.handleHistory)
	mux.HandleFunc("GET /v1/commands/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/catalog", s.handleCatalog)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context, writeTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "err", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
	}
	if s.status != nil {
		resp.Connected = s.status.Connected()
		resp.Router = s.status.RouterStats()
		if n, err := s.status.ExecutionCount(r.Context()); err == nil {
			resp.Executions = n
		}
		if !resp.Connected {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	ctx := r.Context()
	if id := r.Header.Get(trace.Header); trace.Valid(id) {
		ctx = trace.WithTraceID(ctx, id)
	}
	ctx, traceID := trace.Ensure(ctx)
	w.Header().Set(trace.Header, traceID)

	exec, err := s.exec.Execute(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required", Code: "INVALID_REQUEST"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 0 and 500", Code: "INVALID_REQUEST"})
			return
		}
		limit = n
	}

	list, err := s.exec.History(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*service.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	exec, err := s.exec.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.exec.Catalog()
	writeJSON(w, http.StatusOK, catalogResponse{Commands: cat.List(), Providers: cat.Providers()})
}

// writeError maps service errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		cmdErr  *commands.Error
		rateErr *ratelimit.Error
	)
	switch {
	case errors.As(err, &cmdErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: cmdErr.Message, Code: string(cmdErr.Code), Format: cmdErr.Format})
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Code: "RATE_LIMIT_EXCEEDED"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, service.ErrUnsupported), errors.Is(err, dispatch.ErrTransportDisconnected):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Code: "PROVIDER_UNAVAILABLE"})
	case errors.Is(err, dispatch.ErrDispatchFailed):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "DISPATCH_FAILED"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error(), Code: "TIMEOUT"})
	case errors.Is(err, gateway.ErrNoTarget):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "NO_PROVIDER_TARGET"})
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: failed to encode JSON response", "err", err)
	}
}
