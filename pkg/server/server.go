// Package server exposes the orchestrator over HTTP. The transport stays
// thin: it decodes the intent envelope, delegates to the flow, and maps the
// error taxonomy onto status codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"opsdesk/pkg/config"
	"opsdesk/pkg/flow"
	"opsdesk/pkg/guard"
	"opsdesk/pkg/intent"
	"opsdesk/pkg/tenant"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8470

	maxBodyBytes = 1 << 20
)

// Service is the HTTP boundary over one orchestrator.
type Service struct {
	cfg          *config.Config
	log          *slog.Logger
	orchestrator *flow.Orchestrator

	mu        sync.RWMutex
	startedAt time.Time
	requests  int64
	failures  int64
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Requests      int64  `json:"requests"`
	Failures      int64  `json:"failures"`
}

// intentEnvelope is the POST /v1/intents request body. Sanction is present
// only when an administrator resumes a suspended action.
type intentEnvelope struct {
	Intent   intent.NeuralIntent `json:"intent"`
	Sanction *guard.Sanction     `json:"sanction,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewService builds the HTTP boundary.
func NewService(cfg *config.Config, orchestrator *flow.Orchestrator, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:          cfg,
		log:          log.With("component", "server"),
		orchestrator: orchestrator,
	}, nil
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	host := strings.TrimSpace(s.cfg.Server.Host)
	if host == "" {
		host = defaultHost
	}
	port := s.cfg.Server.Port
	if port <= 0 {
		port = defaultPort
	}
	addr := host + ":" + strconv.Itoa(port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Orchestration server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

// Handler builds the route table. Tests mount it on httptest servers.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/v1/intents", s.handleIntent)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ready")
}

func (s *Service) handleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var envelope intentEnvelope
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&envelope); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	s.count(false)

	result, err := s.orchestrator.Handle(r.Context(), envelope.Intent, envelope.Sanction)
	if err != nil {
		s.count(true)
		s.log.Warn("Request failed",
			"intent_id", envelope.Intent.ID, "tenant_id", envelope.Intent.TenantID, "error", err)
		s.respondError(w, statusFor(err), err)
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenant.ErrInactive):
		return http.StatusForbidden
	case errors.Is(err, tenant.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, flow.ErrCustodyViolation), errors.Is(err, guard.ErrSanctionMismatch):
		return http.StatusConflict
	case errors.Is(err, flow.ErrInvalidIntent):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	payload := statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Requests:      s.requests,
		Failures:      s.failures,
	}
	s.mu.RUnlock()

	s.respondJSON(w, statusCode, payload)
}

func (s *Service) respondError(w http.ResponseWriter, statusCode int, err error) {
	s.respondJSON(w, statusCode, errorResponse{Error: err.Error()})
}

func (s *Service) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

func (s *Service) count(failed bool) {
	s.mu.Lock()
	if failed {
		s.failures++
	} else {
		s.requests++
	}
	s.mu.Unlock()
}
