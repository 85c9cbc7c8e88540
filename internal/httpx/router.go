// Package httpx exposes the strategy and deployment API consumed by
// operators and the dashboard, plus the agent websocket endpoint.
package httpx

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BimaPangestu28/Syntra-sub003/internal/agent"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/strategy"
)

const (
	rateWindowDefault  = time.Minute
	rateLimitRead      = 240
	rateLimitWrite     = 60
	rateLimitAgentWS   = 30
	healthCheckTimeout = 2 * time.Second
)

// Router wires HTTP endpoints to the orchestration services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	strategies  *strategy.Engine
	deployments repository.DeploymentRepository
	services    repository.ServiceRepository
	queue       queue.Queue
	agentWS     http.Handler
	dispatch    agent.Dispatcher
	token       string
	limiter     RateLimiter
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, strategies *strategy.Engine, deployments repository.DeploymentRepository, services repository.ServiceRepository, q queue.Queue, agentWS http.Handler, dispatch agent.Dispatcher, internalToken string, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		strategies:  strategies,
		deployments: deployments,
		services:    services,
		queue:       q,
		agentWS:     agentWS,
		dispatch:    dispatch,
		token:       internalToken,
		limiter:     limiter,
		dbHealth:    dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/v1/services/", r.audit(r.handleServiceSubroutes))
	r.mux.HandleFunc("/api/v1/deployments/", r.audit(r.withRateLimit("deployments", rateLimitWrite, rateWindowDefault, r.handleDeploymentSubroutes)))
	if r.agentWS != nil {
		r.mux.HandleFunc("/api/v1/agents/ws", r.audit(r.withRateLimit("agents_ws", rateLimitAgentWS, rateWindowDefault, r.agentWS.ServeHTTP)))
	}
	if r.dispatch != nil {
		r.mux.HandleFunc("/internal/v1/agents/", r.audit(r.requireInternalToken(r.handleAgentInternal)))
	}
}

// handleServiceSubroutes dispatches /api/v1/services/{id}/(strategy|deployments).
func (r *Router) handleServiceSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/v1/services/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	serviceID := parts[0]
	switch parts[1] {
	case "strategy":
		limit := rateLimitWrite
		if req.Method == http.MethodGet {
			limit = rateLimitRead
		}
		r.withRateLimit("strategy", limit, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleStrategy(w, req, serviceID)
		})(w, req)
	case "deployments":
		limit := rateLimitWrite
		if req.Method == http.MethodGet {
			limit = rateLimitRead
		}
		r.withRateLimit("deployments", limit, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleServiceDeployments(w, req, serviceID)
		})(w, req)
	default:
		r.notFound(w)
	}
}

// handleDeploymentSubroutes dispatches /api/v1/deployments/{id}[/rollback].
func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/v1/deployments/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		r.handleGetDeployment(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "rollback":
		r.handleRollback(w, req, parts[0])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// audit logs every request and feeds the request metrics.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		route := routeLabel(req.URL.Path)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses path parameters so metrics stay low-cardinality.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "v1" {
		switch parts[2] {
		case "services":
			if len(parts) == 5 {
				return "/api/v1/services/{id}/" + parts[4]
			}
		case "deployments":
			if len(parts) == 5 {
				return "/api/v1/deployments/{id}/" + parts[4]
			}
			if len(parts) == 4 {
				return "/api/v1/deployments/{id}"
			}
		case "agents":
			return "/api/v1/agents/ws"
		}
	}
	if len(parts) >= 4 && parts[0] == "internal" && parts[1] == "v1" && parts[2] == "agents" {
		return "/internal/v1/agents/{id}/" + parts[len(parts)-1]
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the agent websocket upgrade pass through the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func clientIP(req *http.Request) string {
	if fwd := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.IndexRune(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "resource not found")
}
