package httpx

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BimaPangestu28/Syntra-sub003/internal/agent"
)

// requireInternalToken guards service-to-service endpoints with a shared
// secret. These routes are never exposed past the reverse proxy.
func (r *Router) requireInternalToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		got := req.Header.Get("X-Internal-Token")
		if r.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(r.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid internal token")
			return
		}
		next(w, req)
	}
}

// handleAgentInternal dispatches /internal/v1/agents/{serverID}/(connected|commands).
func (r *Router) handleAgentInternal(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/internal/v1/agents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	serverID := parts[0]
	switch parts[1] {
	case "connected":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"connected": r.dispatch.IsConnected(serverID),
		})
	case "commands":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var cmd agent.Command
		if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
			return
		}
		if cmd.Type == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "command type is required")
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"delivered": r.dispatch.Send(serverID, cmd),
		})
	default:
		r.notFound(w)
	}
}
