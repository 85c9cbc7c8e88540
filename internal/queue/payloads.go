package queue

import "github.com/BimaPangestu28/Syntra-sub003/internal/domain"

// BuildJobData instructs the build worker to produce and push an image for
// a deployment.
type BuildJobData struct {
	DeploymentID   string            `json:"deployment_id"`
	ServiceID      string            `json:"service_id"`
	GitRepoURL     string            `json:"git_repo_url"`
	GitBranch      string            `json:"git_branch"`
	GitCommitSHA   string            `json:"git_commit_sha,omitempty"`
	DockerfilePath string            `json:"dockerfile_path,omitempty"`
	BuildArgs      map[string]string `json:"build_args,omitempty"`
}

// DeploymentJobData instructs the deploy executor to release a built (or
// directly referenced) image onto a server.
type DeploymentJobData struct {
	DeploymentID   string             `json:"deployment_id"`
	ServiceID      string             `json:"service_id"`
	ServerID       string             `json:"server_id"`
	DockerImageTag string             `json:"docker_image_tag"`
	EnvVars        []domain.EnvVar    `json:"env_vars,omitempty"`
	TriggerType    domain.TriggerType `json:"trigger_type"`
}

// NotificationJobData fans one status event out to configured channels.
type NotificationJobData struct {
	Type         string                   `json:"type"`
	DeploymentID string                   `json:"deployment_id,omitempty"`
	ServiceID    string                   `json:"service_id,omitempty"`
	ProjectID    string                   `json:"project_id,omitempty"`
	Message      string                   `json:"message"`
	Channels     []domain.ChannelCategory `json:"channels"`
}

// BuildIdempotencyKey returns the stable queue key for a build job.
func BuildIdempotencyKey(deploymentID string) string {
	return "build-" + deploymentID
}

// DeployIdempotencyKey returns the stable queue key for a deploy job. A
// queue-level retry of the build can therefore never double-enqueue the
// downstream deploy.
func DeployIdempotencyKey(deploymentID string) string {
	return "deploy-" + deploymentID
}
