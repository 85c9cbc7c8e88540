package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

const agentReadLimit = 1 << 20

// Handler upgrades agent websocket connections, validates the handshake
// token and keeps the registry in sync with live sockets.
type Handler struct {
	registry     *Registry
	servers      repository.ServerRepository
	metrics      repository.MetricsRepository
	secret       string
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

// NewHandler wires the websocket endpoint.
func NewHandler(registry *Registry, servers repository.ServerRepository, metrics repository.MetricsRepository, secret string, pingInterval, writeTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		registry:     registry,
		servers:      servers,
		metrics:      metrics,
		secret:       secret,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "agent"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// inboundMessage is the envelope agents use for everything they send up.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type heartbeatPayload struct {
	AgentID        string  `json:"agent_id"`
	UptimeSecs     uint64  `json:"uptime_secs"`
	ContainerCount uint32  `json:"container_count"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
}

type serviceMetricsPayload struct {
	ServiceID    string  `json:"service_id"`
	ErrorRate    float64 `json:"error_rate"`
	LatencyP99MS float64 `json:"latency_p99_ms"`
}

// ServeHTTP handles GET /api/v1/agents/ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := ParseToken(token, h.secret)
	if err != nil {
		h.logger.Warn("agent handshake rejected", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if _, err := h.servers.GetServerByID(r.Context(), claims.ServerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "unknown server", http.StatusUnauthorized)
			return
		}
		http.Error(w, "server lookup failed", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "server_id", claims.ServerID, "error", err)
		return
	}

	c := h.registry.register(claims.ServerID, ws)
	h.touchSeen(claims.ServerID)

	go h.pingLoop(c)
	h.readLoop(c)
}

func (h *Handler) readLoop(c *conn) {
	defer h.registry.remove(c.serverID, c)

	c.ws.SetReadLimit(agentReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.pingInterval * 3))
	c.ws.SetPongHandler(func(string) error {
		h.touchSeen(c.serverID)
		return c.ws.SetReadDeadline(time.Now().Add(h.pingInterval * 3))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("agent read failed", "server_id", c.serverID, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.pingInterval * 3))
		h.handleInbound(c.serverID, raw)
	}
}

func (h *Handler) handleInbound(serverID string, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn("malformed agent message", "server_id", serverID, "error", err)
		return
	}
	switch msg.Type {
	case "heartbeat":
		var hb heartbeatPayload
		if err := json.Unmarshal(msg.Payload, &hb); err != nil {
			h.logger.Warn("malformed heartbeat", "server_id", serverID, "error", err)
			return
		}
		h.touchSeen(serverID)
	case "service_metrics":
		var sample serviceMetricsPayload
		if err := json.Unmarshal(msg.Payload, &sample); err != nil || sample.ServiceID == "" {
			h.logger.Warn("malformed service metrics", "server_id", serverID, "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := h.metrics.InsertServiceMetrics(ctx, domain.ServiceMetrics{
			ServiceID:    sample.ServiceID,
			ErrorRate:    sample.ErrorRate,
			LatencyP99MS: sample.LatencyP99MS,
			SampledAt:    time.Now().UTC(),
		})
		if err != nil {
			h.logger.Error("store service metrics failed", "service_id", sample.ServiceID, "error", err)
		}
	case "ack", "task_result", "container_status":
		// informational only for now
	default:
		h.logger.Debug("ignoring agent message", "server_id", serverID, "type", msg.Type)
	}
}

func (h *Handler) pingLoop(c *conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.writeMu.Lock()
		err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout))
		c.writeMu.Unlock()
		if err != nil {
			h.registry.remove(c.serverID, c)
			return
		}
	}
}

func (h *Handler) touchSeen(serverID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.servers.TouchServerSeen(ctx, serverID, time.Now().UTC()); err != nil {
		h.logger.Error("touch server seen failed", "server_id", serverID, "error", err)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
