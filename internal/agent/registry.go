package agent

import (
	"encoding/json"
	"errors"
	"sync"

	"log/slog"

	"github.com/gorilla/websocket"
)

// ErrAgentOffline reports a dispatch against a server with no live agent
// connection.
var ErrAgentOffline = errors.New("agent offline")

// Dispatcher is the surface the deploy executor needs.
type Dispatcher interface {
	IsConnected(serverID string) bool
	Send(serverID string, cmd Command) bool
}

// Registry tracks at most one live agent connection per server.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	logger *slog.Logger
}

type conn struct {
	serverID string
	ws       *websocket.Conn
	writeMu  sync.Mutex
}

var _ Dispatcher = (*Registry)(nil)

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*conn),
		logger: logger.With("component", "agent"),
	}
}

// IsConnected reports whether the server has a live agent connection.
func (r *Registry) IsConnected(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[serverID]
	return ok
}

// Send delivers a command to the server's agent. It reports false when
// the agent is offline or the write fails, in which case the connection
// is dropped.
func (r *Registry) Send(serverID string, cmd Command) bool {
	r.mu.RLock()
	c, ok := r.conns[serverID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	envelope, err := json.Marshal(cmd)
	if err != nil {
		r.logger.Error("marshal agent command failed", "command", cmd.Type, "error", err)
		return false
	}

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, envelope)
	c.writeMu.Unlock()
	if err != nil {
		r.logger.Warn("agent send failed, dropping connection", "server_id", serverID, "error", err)
		r.remove(serverID, c)
		return false
	}
	return true
}

// register swaps in a new connection for the server, closing any previous
// one so a reconnecting agent never races its stale socket.
func (r *Registry) register(serverID string, ws *websocket.Conn) *conn {
	c := &conn{serverID: serverID, ws: ws}
	r.mu.Lock()
	prev := r.conns[serverID]
	r.conns[serverID] = c
	r.mu.Unlock()
	if prev != nil {
		_ = prev.ws.Close()
	}
	r.logger.Info("agent connected", "server_id", serverID)
	return c
}

// remove drops the connection if it is still the current one.
func (r *Registry) remove(serverID string, c *conn) {
	r.mu.Lock()
	if r.conns[serverID] == c {
		delete(r.conns, serverID)
	}
	r.mu.Unlock()
	_ = c.ws.Close()
	r.logger.Info("agent disconnected", "server_id", serverID)
}
