package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

// HTTPDispatcher implements Dispatcher against the control-plane API,
// where the live agent sockets terminate. Workers running in a separate
// process dispatch through it.
type HTTPDispatcher struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

// NewHTTPDispatcher points at the API's internal dispatch endpoints.
func NewHTTPDispatcher(baseURL, token string, logger *slog.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "agent_dispatch"),
	}
}

// IsConnected asks the API whether the server has a live agent socket.
func (d *HTTPDispatcher) IsConnected(serverID string) bool {
	var out struct {
		Data struct {
			Connected bool `json:"connected"`
		} `json:"data"`
	}
	if err := d.do(http.MethodGet, "/internal/v1/agents/"+serverID+"/connected", nil, &out); err != nil {
		d.logger.Warn("connectivity check failed", "server_id", serverID, "error", err)
		return false
	}
	return out.Data.Connected
}

// Send relays a command through the API. False means not delivered.
func (d *HTTPDispatcher) Send(serverID string, cmd Command) bool {
	body, err := json.Marshal(cmd)
	if err != nil {
		d.logger.Error("marshal agent command failed", "command", cmd.Type, "error", err)
		return false
	}
	var out struct {
		Data struct {
			Delivered bool `json:"delivered"`
		} `json:"data"`
	}
	if err := d.do(http.MethodPost, "/internal/v1/agents/"+serverID+"/commands", body, &out); err != nil {
		d.logger.Warn("command relay failed", "server_id", serverID, "command", cmd.Type, "error", err)
		return false
	}
	return out.Data.Delivered
}

func (d *HTTPDispatcher) do(method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{status: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return http.StatusText(e.status)
}
