package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

const (
	defaultDeploymentListLimit = 20
	maxDeploymentListLimit     = 100
)

func (r *Router) handleServiceDeployments(w http.ResponseWriter, req *http.Request, serviceID string) {
	switch req.Method {
	case http.MethodPost:
		r.handleTriggerDeployment(w, req, serviceID)
	case http.MethodGet:
		r.handleListDeployments(w, req, serviceID)
	default:
		r.methodNotAllowed(w)
	}
}

// handleTriggerDeployment creates a pending deployment and enqueues its
// build job. The pipeline takes over from there.
func (r *Router) handleTriggerDeployment(w http.ResponseWriter, req *http.Request, serviceID string) {
	var payload struct {
		GitBranch    string            `json:"git_branch"`
		GitCommitSHA string            `json:"git_commit_sha"`
		TriggerType  string            `json:"trigger_type"`
		ServerID     string            `json:"server_id"`
		BuildArgs    map[string]string `json:"build_args"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}

	ctx := req.Context()
	service, err := r.services.GetServiceByID(ctx, serviceID)
	if err != nil {
		respondError(w, err)
		return
	}

	trigger := domain.TriggerType(payload.TriggerType)
	if trigger == "" {
		trigger = domain.TriggerAPI
	}
	if !domain.ValidTrigger(trigger) || trigger == domain.TriggerRollback {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid trigger_type "+payload.TriggerType)
		return
	}

	serverID := payload.ServerID
	if serverID == "" && service.ServerID != nil {
		serverID = *service.ServerID
	}
	if serverID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "service has no server assigned")
		return
	}
	branch := payload.GitBranch
	if branch == "" {
		branch = service.GitBranch
	}

	deployment := &domain.Deployment{
		ID:           uuid.NewString(),
		ServiceID:    service.ID,
		ServerID:     &serverID,
		GitCommitSHA: payload.GitCommitSHA,
		GitBranch:    branch,
		TriggerType:  trigger,
		Status:       domain.DeploymentPending,
	}
	if err := r.deployments.CreateDeployment(ctx, deployment); err != nil {
		respondError(w, err)
		return
	}

	job := queue.BuildJobData{
		DeploymentID:   deployment.ID,
		ServiceID:      service.ID,
		GitRepoURL:     service.GitRepoURL,
		GitBranch:      branch,
		GitCommitSHA:   payload.GitCommitSHA,
		DockerfilePath: service.DockerfilePath,
		BuildArgs:      payload.BuildArgs,
	}
	if err := r.queue.Enqueue(ctx, queue.JobBuild, queue.BuildIdempotencyKey(deployment.ID), job); err != nil {
		r.logger.Error("enqueue build job failed", "deployment_id", deployment.ID, "error", err)
		respondError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, deploymentView(deployment))
}

func (r *Router) handleListDeployments(w http.ResponseWriter, req *http.Request, serviceID string) {
	limit := defaultDeploymentListLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxDeploymentListLimit {
		limit = maxDeploymentListLimit
	}

	deployments, err := r.deployments.ListDeploymentsByService(req.Context(), serviceID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(deployments))
	for i := range deployments {
		views = append(views, deploymentView(&deployments[i]))
	}
	writeData(w, http.StatusOK, views)
}

func (r *Router) handleGetDeployment(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deployment, err := r.deployments.GetDeploymentByID(req.Context(), deploymentID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, deploymentView(deployment))
}

// handleRollback creates a new rollback-linked deployment from a previous
// one. An already-built image skips the build stage entirely.
func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	ctx := req.Context()
	source, err := r.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		respondError(w, err)
		return
	}
	service, err := r.services.GetServiceByID(ctx, source.ServiceID)
	if err != nil {
		respondError(w, err)
		return
	}
	if source.DockerImageTag == "" && source.GitCommitSHA == "" {
		writeError(w, http.StatusConflict, "conflict", "source deployment has neither an image nor a pinned commit")
		return
	}

	serverID := ""
	if source.ServerID != nil {
		serverID = *source.ServerID
	} else if service.ServerID != nil {
		serverID = *service.ServerID
	}
	if serverID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "service has no server assigned")
		return
	}

	rollback := &domain.Deployment{
		ID:             uuid.NewString(),
		ServiceID:      source.ServiceID,
		ServerID:       &serverID,
		GitCommitSHA:   source.GitCommitSHA,
		GitBranch:      source.GitBranch,
		DockerImageTag: source.DockerImageTag,
		TriggerType:    domain.TriggerRollback,
		RollbackFromID: &source.ID,
		Status:         domain.DeploymentPending,
	}
	if err := r.deployments.CreateDeployment(ctx, rollback); err != nil {
		respondError(w, err)
		return
	}

	if rollback.DockerImageTag != "" {
		env, err := r.mergedEnv(ctx, service)
		if err != nil {
			respondError(w, err)
			return
		}
		job := queue.DeploymentJobData{
			DeploymentID:   rollback.ID,
			ServiceID:      service.ID,
			ServerID:       serverID,
			DockerImageTag: rollback.DockerImageTag,
			EnvVars:        env,
			TriggerType:    domain.TriggerRollback,
		}
		err = r.queue.Enqueue(ctx, queue.JobDeploy, queue.DeployIdempotencyKey(rollback.ID), job)
		if err != nil {
			respondError(w, err)
			return
		}
	} else {
		job := queue.BuildJobData{
			DeploymentID:   rollback.ID,
			ServiceID:      service.ID,
			GitRepoURL:     service.GitRepoURL,
			GitBranch:      rollback.GitBranch,
			GitCommitSHA:   rollback.GitCommitSHA,
			DockerfilePath: service.DockerfilePath,
		}
		err = r.queue.Enqueue(ctx, queue.JobBuild, queue.BuildIdempotencyKey(rollback.ID), job)
		if err != nil {
			respondError(w, err)
			return
		}
	}
	writeData(w, http.StatusAccepted, deploymentView(rollback))
}

func (r *Router) mergedEnv(ctx context.Context, service *domain.Service) ([]domain.EnvVar, error) {
	projectVars, err := r.services.ListProjectEnvVars(ctx, service.ProjectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	serviceVars, err := r.services.ListServiceEnvVars(ctx, service.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return domain.MergeEnvVars(projectVars, serviceVars), nil
}

func deploymentView(d *domain.Deployment) map[string]any {
	return map[string]any{
		"id":                 d.ID,
		"service_id":         d.ServiceID,
		"server_id":          d.ServerID,
		"git_commit_sha":     d.GitCommitSHA,
		"git_branch":         d.GitBranch,
		"docker_image_tag":   d.DockerImageTag,
		"trigger_type":       d.TriggerType,
		"rollback_from_id":   d.RollbackFromID,
		"status":             d.Status,
		"error_message":      d.ErrorMessage,
		"build_started_at":   d.BuildStartedAt,
		"build_finished_at":  d.BuildFinishedAt,
		"deploy_started_at":  d.DeployStartedAt,
		"deploy_finished_at": d.DeployFinishedAt,
		"created_at":         d.CreatedAt,
		"updated_at":         d.UpdatedAt,
	}
}
