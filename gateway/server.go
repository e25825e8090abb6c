// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/fieldmap"
	"axonflow/erplink/erp/session"
	"axonflow/erplink/shared/logger"
)

const maxInvokeBody = 1 * 1024 * 1024

// ServerConfig assembles the HTTP surface.
type ServerConfig struct {
	Registry    *Registry
	Policy      PolicyDecider
	Sessions    *session.Manager
	Fields      *fieldmap.Store // optional, enables /fieldmap/reload
	ContractURL string          // optional, enables /contract
	DefaultRole string
	Redactor    *base.Redactor
	Logger      *logger.Logger
}

// Server is the HTTP surface tools are listed and invoked through.
type Server struct {
	reg         *Registry
	policy      PolicyDecider
	sessions    *session.Manager
	fields      *fieldmap.Store
	contractURL string
	defaultRole string
	redact      *base.Redactor
	log         *logger.Logger
	client      *http.Client
}

// NewServer creates the gateway HTTP surface.
func NewServer(cfg ServerConfig) *Server {
	policy := cfg.Policy
	if policy == nil {
		policy = AllowAll{}
	}
	redact := cfg.Redactor
	if redact == nil {
		redact = base.NewRedactor()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New("gateway-server", "INFO")
	}
	return &Server{
		reg:         cfg.Registry,
		policy:      policy,
		sessions:    cfg.Sessions,
		fields:      cfg.Fields,
		contractURL: cfg.ContractURL,
		defaultRole: cfg.DefaultRole,
		redact:      redact,
		log:         log,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/tools", s.listToolsHandler).Methods("GET")
	r.HandleFunc("/tools/{name}/invoke", s.invokeHandler).Methods("POST")
	if s.contractURL != "" {
		r.HandleFunc("/contract", s.contractHandler).Methods("GET")
	}
	if s.fields != nil {
		r.HandleFunc("/fieldmap/reload", s.reloadFieldMapHandler).Methods("POST")
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// healthHandler reports readiness by ensuring a live remote session.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "healthy"}
	code := http.StatusOK

	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if _, err := s.sessions.Ensure(ctx); err != nil {
			status["status"] = "degraded"
			status["error"] = s.redact.Err(err)
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

func (s *Server) listToolsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.reg.List()})
}

type invokeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// invokeHandler runs one tool invocation. The caller's role arrives in
// X-Role; policy is checked before the handler runs.
func (s *Server) invokeHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	tool, ok := s.reg.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown tool: " + name})
		return
	}

	role := r.Header.Get("X-Role")
	if role == "" {
		role = s.defaultRole
	}
	if !s.policy.Allow(role, tool) {
		s.log.Warn("", "invocation denied by policy", map[string]any{"tool": name, "role": role})
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "role is not allowed to invoke this tool"})
		return
	}

	var req invokeRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInvokeBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read request body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "request body must be JSON"})
			return
		}
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	start := time.Now()
	result, err := tool.Handler(r.Context(), req.Arguments)
	if err != nil {
		s.log.Error("", "tool invocation failed", map[string]any{
			"tool":  name,
			"error": s.redact.Err(err),
		})
		writeJSON(w, statusForError(err), map[string]any{
			"error": s.redact.Err(err),
			"kind":  errorKind(err),
		})
		return
	}

	s.log.Info("", "tool invoked", map[string]any{
		"tool":        name,
		"duration_ms": float64(time.Since(start).Milliseconds()),
	})
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// contractHandler proxies the remote machine-readable API description so
// orchestrators can fetch it without remote credentials.
func (s *Server) contractHandler(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.contractURL, nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to build contract request"})
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "contract fetch failed"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, io.LimitReader(resp.Body, 10*1024*1024))
}

func (s *Server) reloadFieldMapHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.fields.Reload(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": s.redact.Err(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

// statusForError translates the error taxonomy into an HTTP status for
// the gateway's own callers.
func statusForError(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var ce *base.Error
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Kind {
	case base.KindAuth:
		return http.StatusUnauthorized
	case base.KindNotFound:
		return http.StatusNotFound
	case base.KindConflict:
		return http.StatusConflict
	case base.KindRateLimited:
		return http.StatusTooManyRequests
	case base.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func errorKind(err error) string {
	var ce *base.Error
	if errors.As(err, &ce) {
		return ce.Kind.String()
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
