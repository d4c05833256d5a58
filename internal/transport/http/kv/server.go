// Package kvhttp exposes the replicated KV service over HTTP.
package kvhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/i-melnichenko/kvelldb/internal/consensus/local"
	"github.com/i-melnichenko/kvelldb/internal/kv"
	"github.com/i-melnichenko/kvelldb/internal/service"
)

// Handler is the subset of *service.KV required by the HTTP server.
// *service.KV satisfies this interface.
type Handler interface {
	SetAndWait(ctx context.Context, key, value, writeID string, deadline time.Time) kv.CommandResult
	GetAndWait(ctx context.Context, key string, deadline time.Time) kv.CommandResult
	CasAndWait(ctx context.Context, key, prevWriteID, value, writeID string, deadline time.Time) kv.CommandResult
	// Get reads the local state machine without going through the log.
	Get(key string) (kv.Record, bool)
	Status() service.Status
}

// LogInspector exposes commit log progress. *local.Node satisfies it.
type LogInspector interface {
	Stats() local.Stats
}

// Logger is the logging interface used by the HTTP server.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Metrics records per-route request latency.
type Metrics interface {
	ObserveHTTPRequest(route, method string, code int, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveHTTPRequest(string, string, int, time.Duration) {}

// SetRequest is the body of PUT /v1/kv/{key}.
type SetRequest struct {
	Value   string `json:"value"`
	WriteID string `json:"write_id"`
}

// CasRequest is the body of POST /v1/kv/{key}/cas.
type CasRequest struct {
	PrevWriteID string `json:"prev_write_id"`
	Value       string `json:"value"`
	WriteID     string `json:"write_id"`
}

// ErrorResponse is returned for requests rejected before reaching the log.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Server translates HTTP requests into KV service calls.
type Server struct {
	// Log, when set before Router is called, serves GET /v1/log.
	Log LogInspector

	handler        Handler
	logger         Logger
	metrics        Metrics
	defaultTimeout time.Duration
}

// NewServer creates an HTTP adapter. A non-positive defaultTimeout makes
// requests without a timeout parameter wait until the client goes away.
func NewServer(handler Handler, logger Logger, metrics Metrics, defaultTimeout time.Duration) *Server {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Server{
		handler:        handler,
		logger:         logger,
		metrics:        metrics,
		defaultTimeout: defaultTimeout,
	}
}

// Router returns the chi router serving the KV API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		if s.Log != nil {
			r.Get("/log", s.handleLog)
		}
		r.Get("/kv/{key}", s.handleGet)
		r.Put("/kv/{key}", s.handleSet)
		r.Post("/kv/{key}/cas", s.handleCas)
	})
	return r
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		s.metrics.ObserveHTTPRequest(route, r.Method, code, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.handler.Status().IsLeader {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.Status())
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Log.Stats())
}

// handleGet reads through the log unless read=local asks for the current,
// possibly stale, local value.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("read") {
	case "", "log":
	case "local":
		res := kv.CommandResult{KVError: kv.ErrcNotFound}
		if rec, ok := s.handler.Get(keyParam(r)); ok {
			res = kv.CommandResult{WriteID: rec.WriteID, Value: rec.Value}
		}
		writeJSON(w, StatusCode(res), res)
		return
	default:
		s.badRequest(w, r, fmt.Errorf("invalid read mode %q", r.URL.Query().Get("read")))
		return
	}
	deadline, err := s.deadline(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	res := s.handler.GetAndWait(r.Context(), keyParam(r), deadline)
	writeJSON(w, StatusCode(res), res)
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	deadline, err := s.deadline(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req SetRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	res := s.handler.SetAndWait(r.Context(), keyParam(r), req.Value, req.WriteID, deadline)
	writeJSON(w, StatusCode(res), res)
}

func (s *Server) handleCas(w http.ResponseWriter, r *http.Request) {
	deadline, err := s.deadline(r)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req CasRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	res := s.handler.CasAndWait(r.Context(), keyParam(r), req.PrevWriteID, req.Value, req.WriteID, deadline)
	writeJSON(w, StatusCode(res), res)
}

// deadline resolves the absolute deadline from the timeout query parameter,
// falling back to the server default. A zero result means no deadline.
func (s *Server) deadline(r *http.Request) (time.Time, error) {
	timeout := s.defaultTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		if d <= 0 {
			return time.Time{}, fmt.Errorf("invalid timeout %q: must be positive", raw)
		}
		timeout = d
	}
	if timeout <= 0 {
		return time.Time{}, nil
	}
	return time.Now().Add(timeout), nil
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debug("bad request",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// keyParam returns the decoded key. chi matches on the raw path when the
// request carries escaped separators.
func keyParam(r *http.Request) string {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key
	}
	if unescaped, err := url.PathUnescape(key); err == nil {
		return unescaped
	}
	return key
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// StatusCode maps a command result onto the HTTP status the API returns it
// with. Replication errors take precedence over command errors.
func StatusCode(res kv.CommandResult) int {
	switch res.ReplicationError {
	case kv.ReplicationTimeout:
		return http.StatusGatewayTimeout
	case kv.ReplicationFailed:
		return http.StatusServiceUnavailable
	}
	switch res.KVError {
	case kv.ErrcNotFound:
		return http.StatusNotFound
	case kv.ErrcConflict:
		return http.StatusConflict
	case kv.ErrcUnknownCommand:
		return http.StatusUnprocessableEntity
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
