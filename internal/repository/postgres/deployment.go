package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

const deploymentColumns = `id, service_id, server_id, git_commit_sha, git_branch, docker_image_tag,
	trigger_type, rollback_from_id, status, error_message,
	build_started_at, build_finished_at, deploy_started_at, deploy_finished_at,
	created_at, updated_at`

// CreateDeployment inserts a deployment row in its initial state.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments
		(id, service_id, server_id, git_commit_sha, git_branch, docker_image_tag,
		 trigger_type, rollback_from_id, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		d.ID, d.ServiceID, d.ServerID, d.GitCommitSHA, d.GitBranch, d.DockerImageTag,
		d.TriggerType, d.RollbackFromID, d.Status, d.ErrorMessage, d.CreatedAt, d.UpdatedAt)
	return err
}

// GetDeploymentByID fetches a deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// UpdateDeploymentStatus applies pipeline progress to a deployment. Rows that
// already reached a terminal status are left untouched.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, u domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments SET
			status = $2,
			error_message = COALESCE(NULLIF($3, ''), error_message),
			docker_image_tag = COALESCE(NULLIF($4, ''), docker_image_tag),
			build_started_at = COALESCE($5, build_started_at),
			build_finished_at = COALESCE($6, build_finished_at),
			deploy_started_at = COALESCE($7, deploy_started_at),
			deploy_finished_at = COALESCE($8, deploy_finished_at),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('failed', 'cancelled')`
	tag, err := r.pool.Exec(ctx, query,
		u.DeploymentID, u.Status, u.ErrorMessage, u.DockerImageTag,
		u.BuildStartedAt, u.BuildFinishedAt, u.DeployStartedAt, u.DeployFinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByService returns recent deployments, newest first.
func (r *Repository) ListDeploymentsByService(ctx context.Context, serviceID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE service_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(
		&d.ID, &d.ServiceID, &d.ServerID, &d.GitCommitSHA, &d.GitBranch, &d.DockerImageTag,
		&d.TriggerType, &d.RollbackFromID, &d.Status, &d.ErrorMessage,
		&d.BuildStartedAt, &d.BuildFinishedAt, &d.DeployStartedAt, &d.DeployFinishedAt,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}
