package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

// GetServiceByID fetches a service.
func (r *Repository) GetServiceByID(ctx context.Context, serviceID string) (*domain.Service, error) {
	const query = `SELECT id, project_id, name, slug, git_repo_url, git_branch, dockerfile_path,
		server_id, container_port, created_at
		FROM services WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, serviceID)
	var s domain.Service
	if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Slug, &s.GitRepoURL, &s.GitBranch,
		&s.DockerfilePath, &s.ServerID, &s.ContainerPort, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListProjectEnvVars returns project-level environment variables.
func (r *Repository) ListProjectEnvVars(ctx context.Context, projectID string) ([]domain.EnvVar, error) {
	const query = `SELECT key, value FROM project_env_vars WHERE project_id = $1 ORDER BY key`
	return r.listEnvVars(ctx, query, projectID)
}

// ListServiceEnvVars returns service-level environment variables.
func (r *Repository) ListServiceEnvVars(ctx context.Context, serviceID string) ([]domain.EnvVar, error) {
	const query = `SELECT key, value FROM service_env_vars WHERE service_id = $1 ORDER BY key`
	return r.listEnvVars(ctx, query, serviceID)
}

func (r *Repository) listEnvVars(ctx context.Context, query, ownerID string) ([]domain.EnvVar, error) {
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := make([]domain.EnvVar, 0)
	for rows.Next() {
		var v domain.EnvVar
		if err := rows.Scan(&v.Key, &v.Value); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// GetServerByID fetches a server.
func (r *Repository) GetServerByID(ctx context.Context, serverID string) (*domain.Server, error) {
	const query = `SELECT id, name, agent_id, last_seen_at, created_at FROM servers WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, serverID)
	var s domain.Server
	if err := row.Scan(&s.ID, &s.Name, &s.AgentID, &s.LastSeenAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// TouchServerSeen stamps the last heartbeat time for a server.
func (r *Repository) TouchServerSeen(ctx context.Context, serverID string, seenAt time.Time) error {
	const query = `UPDATE servers SET last_seen_at = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, serverID, seenAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListChannelsByProject returns enabled notification channels for a project.
func (r *Repository) ListChannelsByProject(ctx context.Context, projectID string) ([]domain.NotificationChannel, error) {
	const query = `SELECT id, project_id, kind, target, enabled, created_at
		FROM notification_channels WHERE project_id = $1 AND enabled ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := make([]domain.NotificationChannel, 0)
	for rows.Next() {
		var c domain.NotificationChannel
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Kind, &c.Target, &c.Enabled, &c.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// InsertServiceMetrics records a rolled-up health sample.
func (r *Repository) InsertServiceMetrics(ctx context.Context, sample domain.ServiceMetrics) error {
	const query = `INSERT INTO deployment_metrics (service_id, error_rate, latency_p99_ms, sampled_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, sample.ServiceID, sample.ErrorRate, sample.LatencyP99MS, sample.SampledAt)
	return err
}

// LatestServiceMetrics returns the most recent health sample for a service.
func (r *Repository) LatestServiceMetrics(ctx context.Context, serviceID string) (*domain.ServiceMetrics, error) {
	const query = `SELECT service_id, error_rate, latency_p99_ms, sampled_at
		FROM deployment_metrics WHERE service_id = $1 ORDER BY sampled_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, serviceID)
	var m domain.ServiceMetrics
	if err := row.Scan(&m.ServiceID, &m.ErrorRate, &m.LatencyP99MS, &m.SampledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
