// Package deploy turns a built image into agent commands according to the
// service's release strategy and records the deployment's final state.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/docker/go-connections/nat"

	"github.com/BimaPangestu28/Syntra-sub003/internal/agent"
	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/lifecycle"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/strategy"
)

// Executor consumes deploy jobs and dispatches agent commands.
type Executor struct {
	deployments repository.DeploymentRepository
	services    repository.ServiceRepository
	strategies  *strategy.Engine
	dispatcher  agent.Dispatcher
	queue       queue.Queue
	logger      *slog.Logger
	now         func() time.Time
}

// NewExecutor wires the deploy executor.
func NewExecutor(deployments repository.DeploymentRepository, services repository.ServiceRepository, strategies *strategy.Engine, dispatcher agent.Dispatcher, q queue.Queue, logger *slog.Logger) *Executor {
	return &Executor{
		deployments: deployments,
		services:    services,
		strategies:  strategies,
		dispatcher:  dispatcher,
		queue:       q,
		logger:      logger.With("component", "deploy"),
		now:         time.Now,
	}
}

// Handle is the queue handler for deploy jobs.
func (e *Executor) Handle(ctx context.Context, payload []byte) error {
	var data queue.DeploymentJobData
	if err := json.Unmarshal(payload, &data); err != nil {
		e.logger.Error("malformed deploy job dropped", "error", err)
		return nil
	}
	log := e.logger.With("deployment_id", data.DeploymentID, "service_id", data.ServiceID, "server_id", data.ServerID)

	deployment, err := e.deployments.GetDeploymentByID(ctx, data.DeploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("deploy job for unknown deployment dropped")
			return nil
		}
		return fmt.Errorf("load deployment: %w", err)
	}
	if deployment.Status.Terminal() {
		log.Info("skipping deploy for terminal deployment", "status", deployment.Status)
		return nil
	}
	// Delivery is at-least-once. A redelivered job for a deployment that
	// already reached running is complete, not a failure.
	if deployment.Status == domain.DeploymentRunning {
		log.Info("skipping redelivered deploy for running deployment")
		return nil
	}
	service, err := e.services.GetServiceByID(ctx, data.ServiceID)
	if err != nil {
		return e.fail(ctx, log, deployment, nil, fmt.Errorf("load service: %w", err))
	}

	if deployment.Status != domain.DeploymentDeploying {
		if err := lifecycle.Transition(ctx, deployment.Status, domain.DeploymentDeploying); err != nil {
			return e.fail(ctx, log, deployment, service, err)
		}
	}
	deployStarted := e.now().UTC()
	err = e.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID:    deployment.ID,
		Status:          domain.DeploymentDeploying,
		DeployStartedAt: &deployStarted,
	})
	if err != nil {
		return fmt.Errorf("mark deploying: %w", err)
	}

	if !e.dispatcher.IsConnected(data.ServerID) {
		return e.fail(ctx, log, deployment, service, fmt.Errorf("dispatch to server %s: %w", data.ServerID, agent.ErrAgentOffline))
	}

	strategyRow, _, err := e.strategies.Get(ctx, data.ServiceID)
	if err != nil {
		return e.fail(ctx, log, deployment, service, err)
	}

	switch strategyRow.Strategy {
	case domain.StrategyBlueGreen:
		err = e.deployBlueGreen(ctx, data, service)
	case domain.StrategyCanary:
		err = e.deployCanary(ctx, data, service)
	default:
		err = e.deployRolling(ctx, data, service)
	}
	if err != nil {
		return e.fail(ctx, log, deployment, service, err)
	}

	deployFinished := e.now().UTC()
	err = e.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID:     deployment.ID,
		Status:           domain.DeploymentRunning,
		DeployFinishedAt: &deployFinished,
	})
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	// Blue-green traffic only moves after the new slot is confirmed
	// running, so the flip happens last.
	if strategyRow.Strategy == domain.StrategyBlueGreen {
		if _, err := e.strategies.Switch(ctx, data.ServiceID, deployment.ID); err != nil {
			return e.fail(ctx, log, deployment, service, fmt.Errorf("blue-green switch: %w", err))
		}
	}

	log.Info("deployment running", "image", data.DockerImageTag)
	e.notify(ctx, service, deployment.ID, "deployment_succeeded",
		fmt.Sprintf("Deployment %s for %s is running image %s", deployment.ID, service.Name, data.DockerImageTag))
	return nil
}

// deployRolling replaces the running container in place.
func (e *Executor) deployRolling(ctx context.Context, data queue.DeploymentJobData, service *domain.Service) error {
	payload := e.deployPayload(data, service, containerName(service.Slug, ""), true, 0)
	return e.send(data.ServerID, agent.CommandDeploy, payload)
}

// deployBlueGreen starts the new deployment in the idle slot alongside the
// active one. Traffic is not touched here.
func (e *Executor) deployBlueGreen(ctx context.Context, data queue.DeploymentJobData, service *domain.Service) error {
	payload := e.deployPayload(data, service, containerName(service.Slug, data.DeploymentID), false, 0)
	return e.send(data.ServerID, agent.CommandDeploy, payload)
}

// deployCanary registers the canary with the strategy engine, then starts
// the container carrying the initial traffic weight.
func (e *Executor) deployCanary(ctx context.Context, data queue.DeploymentJobData, service *domain.Service) error {
	result, err := e.strategies.CanaryStart(ctx, data.ServiceID, data.DeploymentID)
	if err != nil {
		return fmt.Errorf("canary start: %w", err)
	}
	payload := e.deployPayload(data, service, containerName(service.Slug, data.DeploymentID), false, result.Weight)
	if err := e.send(data.ServerID, agent.CommandDeploy, payload); err != nil {
		if abortErr := e.strategies.CanaryAbort(ctx, data.ServiceID); abortErr != nil {
			e.logger.Error("canary abort after failed dispatch failed", "service_id", data.ServiceID, "error", abortErr)
		}
		return err
	}
	return nil
}

func (e *Executor) send(serverID, commandType string, payload any) error {
	cmd, err := agent.NewCommand(commandType, payload)
	if err != nil {
		return err
	}
	if !e.dispatcher.Send(serverID, cmd) {
		return fmt.Errorf("send %s to server %s: %w", commandType, serverID, agent.ErrAgentOffline)
	}
	return nil
}

func (e *Executor) deployPayload(data queue.DeploymentJobData, service *domain.Service, name string, replace bool, trafficPct int) agent.DeployPayload {
	payload := agent.DeployPayload{
		DeploymentID: data.DeploymentID,
		Image:        data.DockerImageTag,
		Name:         name,
		Env:          data.EnvVars,
		Replace:      replace,
		TrafficPct:   trafficPct,
	}
	if service.ContainerPort > 0 {
		port := nat.Port(fmt.Sprintf("%d/tcp", service.ContainerPort))
		payload.Ports = []agent.PortMapping{{ContainerPort: port}}
	}
	return payload
}

// fail records a terminal deploy failure and returns the original error so
// the queue applies its retry policy.
func (e *Executor) fail(ctx context.Context, log *slog.Logger, deployment *domain.Deployment, service *domain.Service, cause error) error {
	log.Error("deploy failed", "error", cause)
	err := e.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.DeploymentFailed,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		log.Error("record deploy failure failed", "error", err)
	}
	if service != nil {
		e.notify(ctx, service, deployment.ID, "deployment_failed",
			fmt.Sprintf("Deployment %s for %s failed: %s", deployment.ID, service.Name, cause))
	}
	return fmt.Errorf("deploy deployment %s: %w", deployment.ID, cause)
}

func (e *Executor) notify(ctx context.Context, service *domain.Service, deploymentID, eventType, message string) {
	job := queue.NotificationJobData{
		Type:         eventType,
		DeploymentID: deploymentID,
		ServiceID:    service.ID,
		ProjectID:    service.ProjectID,
		Message:      message,
		Channels:     []domain.ChannelCategory{domain.CategoryEmail, domain.CategorySlack, domain.CategoryWebhook},
	}
	if err := e.queue.Enqueue(ctx, queue.JobNotify, "", job); err != nil {
		e.logger.Error("enqueue notification failed", "deployment_id", deploymentID, "error", err)
	}
}

func containerName(slug, deploymentID string) string {
	if deploymentID == "" {
		return "syntra-" + slug
	}
	suffix := deploymentID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "syntra-" + slug + "-" + suffix
}
