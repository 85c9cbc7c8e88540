package repository

import (
	"context"
	"time"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
)

// DeploymentRepository stores deployment history and pipeline progress.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	ListDeploymentsByService(ctx context.Context, serviceID string, limit int) ([]domain.Deployment, error)
}

// StrategyRepository persists per-service release strategy state. Updates
// carry the version observed at read time; a stale version yields
// ErrVersionConflict.
type StrategyRepository interface {
	GetStrategyByService(ctx context.Context, serviceID string) (*domain.DeploymentStrategy, error)
	CreateStrategy(ctx context.Context, strategy *domain.DeploymentStrategy) error
	UpdateStrategy(ctx context.Context, strategy *domain.DeploymentStrategy, expectedVersion int) error
	ListAutoPromoteCanaries(ctx context.Context) ([]domain.DeploymentStrategy, error)
}

// ServiceRepository reads service configuration owned by the intake layer.
type ServiceRepository interface {
	GetServiceByID(ctx context.Context, serviceID string) (*domain.Service, error)
	ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.EnvVar, error)
	ListServiceEnvVars(ctx context.Context, serviceID string) ([]domain.EnvVar, error)
}

// ServerRepository tracks connected agent hosts.
type ServerRepository interface {
	GetServerByID(ctx context.Context, serverID string) (*domain.Server, error)
	TouchServerSeen(ctx context.Context, serverID string, seenAt time.Time) error
}

// ChannelRepository lists configured notification channels.
type ChannelRepository interface {
	ListChannelsByProject(ctx context.Context, projectID string) ([]domain.NotificationChannel, error)
}

// MetricsRepository stores and serves rolled-up service health samples.
type MetricsRepository interface {
	InsertServiceMetrics(ctx context.Context, sample domain.ServiceMetrics) error
	LatestServiceMetrics(ctx context.Context, serviceID string) (*domain.ServiceMetrics, error)
}
