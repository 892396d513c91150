// Package server exposes the registry, dispatcher and workflow engine over
// HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/petal-labs/orchestrate/dispatch"
	"github.com/petal-labs/orchestrate/workflow"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Dispatcher *dispatch.Dispatcher
	Library    *workflow.Library
	Engine     *workflow.Engine
	// Metrics is mounted on GET /metrics when non-nil.
	Metrics    http.Handler
	CORSOrigin string
	MaxBody    int64
	// RateLimit is requests per second on execution routes; 0 disables it.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Server is the orchestrate HTTP API server.
type Server struct {
	dispatcher *dispatch.Dispatcher
	library    *workflow.Library
	engine     *workflow.Engine
	metrics    http.Handler
	corsOrigin string
	maxBody    int64
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is nil")
	}
	if cfg.Library == nil {
		return nil, errors.New("server: workflow library is nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("server: workflow engine is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Server{
		dispatcher: cfg.Dispatcher,
		library:    cfg.Library,
		engine:     cfg.Engine,
		metrics:    cfg.Metrics,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("POST /tools", s.handleRegisterTool)
	mux.HandleFunc("DELETE /tools/{tool_id}", s.handleUnregisterTool)
	mux.HandleFunc("GET /tools/{tool_id}/actions", s.handleToolActions)

	mux.Handle("POST /dispatch", s.rateLimitMiddleware(http.HandlerFunc(s.handleDispatch)))

	mux.HandleFunc("GET /workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /workflows", s.handleAddWorkflow)
	mux.HandleFunc("GET /workflows/{name}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /workflows/{name}", s.handleModifyWorkflow)
	mux.HandleFunc("DELETE /workflows/{name}", s.handleRemoveWorkflow)
	mux.Handle("POST /workflows/{name}/run", s.rateLimitMiddleware(http.HandlerFunc(s.handleRunWorkflow)))

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware guards routes that spawn tool processes.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many execution requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the error envelope for management routes. Execution routes
// answer with a dispatch.Result-shaped body instead.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
