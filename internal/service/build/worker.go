// Package build runs the build half of the deployment pipeline: source
// checkout, image build, registry push, then hand-off to the deploy
// executor through the queue.
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/BimaPangestu28/Syntra-sub003/internal/docker"
	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/git"
	"github.com/BimaPangestu28/Syntra-sub003/internal/lifecycle"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
	"github.com/BimaPangestu28/Syntra-sub003/internal/workspace"
	"github.com/BimaPangestu28/Syntra-sub003/pkg/config"
)

const buildTailLines = 40

// ImageBuilder is the slice of the docker client the worker needs.
type ImageBuilder interface {
	BuildImage(ctx context.Context, dir, dockerfile, tag string, buildArgs map[string]*string, onOutput docker.BuildOutputCallback) error
	PushImage(ctx context.Context, tag, username, password string, onOutput docker.BuildOutputCallback) error
}

// SourceFetcher is the slice of the git layer the worker needs.
type SourceFetcher interface {
	Clone(ctx context.Context, repoURL, branch, dest string) error
	CheckoutCommit(ctx context.Context, dir, commitSHA string) error
	HeadSHA(ctx context.Context, dir string) (string, error)
}

// gitFetcher shells out to the git CLI.
type gitFetcher struct{}

func (gitFetcher) Clone(ctx context.Context, repoURL, branch, dest string) error {
	return git.Clone(ctx, repoURL, branch, dest)
}

func (gitFetcher) CheckoutCommit(ctx context.Context, dir, commitSHA string) error {
	return git.CheckoutCommit(ctx, dir, commitSHA)
}

func (gitFetcher) HeadSHA(ctx context.Context, dir string) (string, error) {
	return git.HeadSHA(ctx, dir)
}

// Worker consumes build jobs and produces pushed images.
type Worker struct {
	deployments repository.DeploymentRepository
	services    repository.ServiceRepository
	queue       queue.Queue
	workspace   *workspace.Manager
	docker      ImageBuilder
	git         SourceFetcher
	cfg         config.WorkerConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewWorker wires the build pipeline worker.
func NewWorker(deployments repository.DeploymentRepository, services repository.ServiceRepository, q queue.Queue, ws *workspace.Manager, builder ImageBuilder, cfg config.WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		deployments: deployments,
		services:    services,
		queue:       q,
		workspace:   ws,
		docker:      builder,
		git:         gitFetcher{},
		cfg:         cfg,
		logger:      logger.With("component", "build"),
		now:         time.Now,
	}
}

// Handle is the queue handler for build jobs.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var data queue.BuildJobData
	if err := json.Unmarshal(payload, &data); err != nil {
		w.logger.Error("malformed build job dropped", "error", err)
		return nil
	}
	log := w.logger.With("deployment_id", data.DeploymentID, "service_id", data.ServiceID)

	deployment, err := w.deployments.GetDeploymentByID(ctx, data.DeploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("build job for unknown deployment dropped")
			return nil
		}
		return fmt.Errorf("load deployment: %w", err)
	}
	if deployment.Status.Terminal() {
		log.Info("skipping build for terminal deployment", "status", deployment.Status)
		return nil
	}

	service, err := w.services.GetServiceByID(ctx, data.ServiceID)
	if err != nil {
		return w.fail(ctx, log, deployment, nil, fmt.Errorf("load service: %w", err))
	}

	if deployment.Status != domain.DeploymentBuilding {
		if err := lifecycle.Transition(ctx, deployment.Status, domain.DeploymentBuilding); err != nil {
			return w.fail(ctx, log, deployment, service, err)
		}
	}
	buildStarted := w.now().UTC()
	err = w.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID:   deployment.ID,
		Status:         domain.DeploymentBuilding,
		BuildStartedAt: &buildStarted,
	})
	if err != nil {
		return fmt.Errorf("mark building: %w", err)
	}

	buildCtx, cancel := context.WithTimeout(ctx, w.cfg.BuildTimeout)
	defer cancel()

	workdir, err := w.workspace.Prepare(deployment.ID)
	if err != nil {
		return w.fail(ctx, log, deployment, service, fmt.Errorf("prepare workspace: %w", err))
	}
	defer func() {
		if err := w.workspace.Cleanup(workdir); err != nil {
			log.Error("workspace cleanup failed", "error", err)
		}
	}()

	gitCtx, cancelGit := context.WithTimeout(buildCtx, w.cfg.GitTimeout)
	defer cancelGit()
	if err := w.git.Clone(gitCtx, data.GitRepoURL, data.GitBranch, workdir); err != nil {
		return w.fail(ctx, log, deployment, service, err)
	}
	commitSHA := data.GitCommitSHA
	if commitSHA != "" {
		if err := w.git.CheckoutCommit(gitCtx, workdir, commitSHA); err != nil {
			return w.fail(ctx, log, deployment, service, err)
		}
	} else {
		head, err := w.git.HeadSHA(gitCtx, workdir)
		if err != nil {
			return w.fail(ctx, log, deployment, service, err)
		}
		commitSHA = head
	}
	log.Info("repository ready", "commit", commitSHA)

	imageTag := w.imageTag(service.Slug, commitSHA)
	aggregator := newLogAggregator(func(line string) {
		log.Debug("docker build output", "line", line)
	})
	onOutput := func(line string) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return
		}
		aggregator.Add(truncateLine(trimmed))
	}

	buildArgs := make(map[string]*string, len(data.BuildArgs))
	for key, value := range data.BuildArgs {
		v := value
		buildArgs[key] = &v
	}
	if err := w.docker.BuildImage(buildCtx, workdir, service.DockerfilePath, imageTag, buildArgs, onOutput); err != nil {
		aggregator.Flush()
		if tail := aggregator.Snapshot(buildTailLines); len(tail) > 0 {
			err = fmt.Errorf("%w\n%s", err, strings.Join(tail, "\n"))
		}
		return w.fail(ctx, log, deployment, service, err)
	}
	aggregator.Flush()
	log.Info("docker image built", "image", imageTag)

	if w.cfg.RegistryURL != "" {
		if err := w.docker.PushImage(buildCtx, imageTag, w.cfg.RegistryUsername, w.cfg.RegistryPassword, onOutput); err != nil {
			return w.fail(ctx, log, deployment, service, err)
		}
		log.Info("docker image pushed", "image", imageTag)
	}

	buildFinished := w.now().UTC()
	err = w.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID:    deployment.ID,
		Status:          domain.DeploymentBuilding,
		DockerImageTag:  imageTag,
		BuildFinishedAt: &buildFinished,
	})
	if err != nil {
		return fmt.Errorf("persist image tag: %w", err)
	}

	serverID, err := resolveServerID(deployment, service)
	if err != nil {
		return w.fail(ctx, log, deployment, service, err)
	}
	env, err := w.mergedEnv(ctx, service)
	if err != nil {
		return w.fail(ctx, log, deployment, service, err)
	}

	deployJob := queue.DeploymentJobData{
		DeploymentID:   deployment.ID,
		ServiceID:      service.ID,
		ServerID:       serverID,
		DockerImageTag: imageTag,
		EnvVars:        env,
		TriggerType:    deployment.TriggerType,
	}
	if err := w.queue.Enqueue(ctx, queue.JobDeploy, queue.DeployIdempotencyKey(deployment.ID), deployJob); err != nil {
		return fmt.Errorf("enqueue deploy job: %w", err)
	}

	w.notify(ctx, service, deployment.ID, "deployment_started",
		fmt.Sprintf("Deployment %s for %s started rolling out image %s", deployment.ID, service.Name, imageTag))
	return nil
}

// fail records a terminal build failure and returns the original error so
// the queue applies its retry policy.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, deployment *domain.Deployment, service *domain.Service, cause error) error {
	log.Error("build failed", "error", cause)
	err := w.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.DeploymentFailed,
		ErrorMessage: truncateLine(cause.Error()),
	})
	if err != nil {
		log.Error("record build failure failed", "error", err)
	}
	if service != nil {
		w.notify(ctx, service, deployment.ID, "deployment_failed",
			fmt.Sprintf("Deployment %s for %s failed: %s", deployment.ID, service.Name, cause))
	}
	return fmt.Errorf("build deployment %s: %w", deployment.ID, cause)
}

func (w *Worker) notify(ctx context.Context, service *domain.Service, deploymentID, eventType, message string) {
	job := queue.NotificationJobData{
		Type:         eventType,
		DeploymentID: deploymentID,
		ServiceID:    service.ID,
		ProjectID:    service.ProjectID,
		Message:      message,
		Channels:     []domain.ChannelCategory{domain.CategoryEmail, domain.CategorySlack, domain.CategoryWebhook},
	}
	if err := w.queue.Enqueue(ctx, queue.JobNotify, "", job); err != nil {
		w.logger.Error("enqueue notification failed", "deployment_id", deploymentID, "error", err)
	}
}

func (w *Worker) mergedEnv(ctx context.Context, service *domain.Service) ([]domain.EnvVar, error) {
	projectVars, err := w.services.ListProjectEnvVars(ctx, service.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list project env vars: %w", err)
	}
	serviceVars, err := w.services.ListServiceEnvVars(ctx, service.ID)
	if err != nil {
		return nil, fmt.Errorf("list service env vars: %w", err)
	}
	return domain.MergeEnvVars(projectVars, serviceVars), nil
}

// imageTag builds the deterministic reference for a service build.
func (w *Worker) imageTag(slug, commitSHA string) string {
	ref := slug
	if w.cfg.ImageNamespace != "" {
		ref = w.cfg.ImageNamespace + "/" + slug
	}
	if w.cfg.RegistryURL != "" {
		ref = strings.TrimSuffix(w.cfg.RegistryURL, "/") + "/" + ref
	}
	version := "latest"
	if commitSHA != "" {
		version = commitSHA
		if len(version) > 12 {
			version = version[:12]
		}
	}
	return ref + ":" + version
}

func resolveServerID(deployment *domain.Deployment, service *domain.Service) (string, error) {
	if deployment.ServerID != nil && *deployment.ServerID != "" {
		return *deployment.ServerID, nil
	}
	if service.ServerID != nil && *service.ServerID != "" {
		return *service.ServerID, nil
	}
	return "", fmt.Errorf("service %s has no server assigned", service.ID)
}
