// Package agent is the control-plane side of the agent contract: one
// websocket per connected server, JSON command envelopes going down and
// heartbeat/status messages coming back up.
package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
)

// Command types understood by the agent.
const (
	CommandDeploy           = "deploy"
	CommandContainerRestart = "container_restart"
	CommandContainerStop    = "container_stop"
)

// Command is the envelope every instruction to an agent is wrapped in.
type Command struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// PortMapping publishes one container port on the host.
type PortMapping struct {
	ContainerPort nat.Port `json:"container_port"`
	HostPort      string   `json:"host_port,omitempty"`
}

// DeployPayload asks the agent to run an image. Replace tells it to take
// down the existing container of the same name first.
type DeployPayload struct {
	DeploymentID string          `json:"deployment_id"`
	Image        string          `json:"image"`
	Name         string          `json:"name"`
	Env          []domain.EnvVar `json:"env,omitempty"`
	Ports        []PortMapping   `json:"ports,omitempty"`
	Replace      bool            `json:"replace"`
	TrafficPct   int             `json:"traffic_pct,omitempty"`
}

// RestartPayload asks the agent to restart a named container.
type RestartPayload struct {
	Container string `json:"container"`
}

// StopPayload asks the agent to stop a named container, optionally
// removing it afterwards.
type StopPayload struct {
	Container string `json:"container"`
	Remove    bool   `json:"remove"`
}

// NewCommand wraps a payload in a freshly stamped envelope.
func NewCommand(commandType string, payload any) (Command, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("marshal %s payload: %w", commandType, err)
	}
	return Command{
		ID:        uuid.NewString(),
		Type:      commandType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   body,
	}, nil
}
