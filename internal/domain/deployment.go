package domain

import "time"

// DeploymentStatus tracks a deployment through the build/release pipeline.
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentBuilding  DeploymentStatus = "building"
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentRunning   DeploymentStatus = "running"
	DeploymentFailed    DeploymentStatus = "failed"
	DeploymentCancelled DeploymentStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentFailed || s == DeploymentCancelled
}

// TriggerType records what initiated a deployment.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerGitPush  TriggerType = "git_push"
	TriggerAPI      TriggerType = "api"
	TriggerRollback TriggerType = "rollback"
)

// ValidTrigger reports whether t is a known trigger type.
func ValidTrigger(t TriggerType) bool {
	switch t {
	case TriggerManual, TriggerGitPush, TriggerAPI, TriggerRollback:
		return true
	}
	return false
}

// Deployment captures a single build/release attempt for one service.
type Deployment struct {
	ID               string
	ServiceID        string
	ServerID         *string
	GitCommitSHA     string
	GitBranch        string
	DockerImageTag   string
	TriggerType      TriggerType
	RollbackFromID   *string
	Status           DeploymentStatus
	ErrorMessage     string
	BuildStartedAt   *time.Time
	BuildFinishedAt  *time.Time
	DeployStartedAt  *time.Time
	DeployFinishedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeployCompleted reports whether the deployment finished rolling out and is
// eligible to receive traffic.
func (d Deployment) DeployCompleted() bool {
	return d.Status == DeploymentRunning && d.DeployFinishedAt != nil
}

// DeploymentStatusUpdate captures the mutable pipeline fields for a deployment.
type DeploymentStatusUpdate struct {
	DeploymentID     string
	Status           DeploymentStatus
	ErrorMessage     string
	DockerImageTag   string
	BuildStartedAt   *time.Time
	BuildFinishedAt  *time.Time
	DeployStartedAt  *time.Time
	DeployFinishedAt *time.Time
}
