package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

const strategyColumns = `service_id, strategy,
	blue_deployment_id, green_deployment_id, active_color, previous_color, last_switched_at,
	canary_deployment_id, canary_weight, canary_steps, canary_current_step,
	canary_auto_promote, canary_auto_promote_delay, canary_error_threshold, canary_latency_threshold,
	canary_started_at, canary_last_advanced_at,
	version, created_at, updated_at`

// GetStrategyByService fetches the strategy row for a service.
func (r *Repository) GetStrategyByService(ctx context.Context, serviceID string) (*domain.DeploymentStrategy, error) {
	const query = `SELECT ` + strategyColumns + ` FROM deployment_strategies WHERE service_id = $1`
	row := r.pool.QueryRow(ctx, query, serviceID)
	s, err := scanStrategy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// CreateStrategy inserts a strategy row at version 1.
func (r *Repository) CreateStrategy(ctx context.Context, s *domain.DeploymentStrategy) error {
	const query = `INSERT INTO deployment_strategies
		(service_id, strategy,
		 blue_deployment_id, green_deployment_id, active_color, previous_color, last_switched_at,
		 canary_deployment_id, canary_weight, canary_steps, canary_current_step,
		 canary_auto_promote, canary_auto_promote_delay, canary_error_threshold, canary_latency_threshold,
		 canary_started_at, canary_last_advanced_at,
		 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, NOW(), NOW())`
	_, err := r.pool.Exec(ctx, query,
		s.ServiceID, s.Strategy,
		s.BlueDeploymentID, s.GreenDeploymentID, s.ActiveColor, s.PreviousColor, s.LastSwitchedAt,
		s.CanaryDeploymentID, s.CanaryWeight, stepsToInt32(s.CanarySteps), s.CanaryCurrentStep,
		s.CanaryAutoPromote, s.CanaryAutoPromoteDelay, s.CanaryErrorThreshold, s.CanaryLatencyThreshold,
		s.CanaryStartedAt, s.CanaryLastAdvancedAt)
	if err == nil {
		s.Version = 1
	}
	return err
}

// UpdateStrategy writes the full strategy row guarded by the version observed
// at read time. A stale version returns ErrVersionConflict.
func (r *Repository) UpdateStrategy(ctx context.Context, s *domain.DeploymentStrategy, expectedVersion int) error {
	const query = `UPDATE deployment_strategies SET
			strategy = $2,
			blue_deployment_id = $3, green_deployment_id = $4,
			active_color = $5, previous_color = $6, last_switched_at = $7,
			canary_deployment_id = $8, canary_weight = $9, canary_steps = $10, canary_current_step = $11,
			canary_auto_promote = $12, canary_auto_promote_delay = $13,
			canary_error_threshold = $14, canary_latency_threshold = $15,
			canary_started_at = $16, canary_last_advanced_at = $17,
			version = version + 1,
			updated_at = NOW()
		WHERE service_id = $1 AND version = $18`
	tag, err := r.pool.Exec(ctx, query,
		s.ServiceID, s.Strategy,
		s.BlueDeploymentID, s.GreenDeploymentID,
		s.ActiveColor, s.PreviousColor, s.LastSwitchedAt,
		s.CanaryDeploymentID, s.CanaryWeight, stepsToInt32(s.CanarySteps), s.CanaryCurrentStep,
		s.CanaryAutoPromote, s.CanaryAutoPromoteDelay,
		s.CanaryErrorThreshold, s.CanaryLatencyThreshold,
		s.CanaryStartedAt, s.CanaryLastAdvancedAt,
		expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	return nil
}

// ListAutoPromoteCanaries returns strategies with an in-flight auto-promoting
// canary, for the periodic evaluator.
func (r *Repository) ListAutoPromoteCanaries(ctx context.Context) ([]domain.DeploymentStrategy, error) {
	const query = `SELECT ` + strategyColumns + ` FROM deployment_strategies
		WHERE strategy = 'canary' AND canary_deployment_id IS NOT NULL AND canary_auto_promote`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	strategies := make([]domain.DeploymentStrategy, 0)
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, *s)
	}
	return strategies, rows.Err()
}

func scanStrategy(row pgx.Row) (*domain.DeploymentStrategy, error) {
	var s domain.DeploymentStrategy
	var steps []int32
	if err := row.Scan(
		&s.ServiceID, &s.Strategy,
		&s.BlueDeploymentID, &s.GreenDeploymentID, &s.ActiveColor, &s.PreviousColor, &s.LastSwitchedAt,
		&s.CanaryDeploymentID, &s.CanaryWeight, &steps, &s.CanaryCurrentStep,
		&s.CanaryAutoPromote, &s.CanaryAutoPromoteDelay, &s.CanaryErrorThreshold, &s.CanaryLatencyThreshold,
		&s.CanaryStartedAt, &s.CanaryLastAdvancedAt,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.CanarySteps = stepsToInt(steps)
	return &s, nil
}

func stepsToInt32(steps []int) []int32 {
	if steps == nil {
		return nil
	}
	out := make([]int32, len(steps))
	for i, v := range steps {
		out[i] = int32(v)
	}
	return out
}

func stepsToInt(steps []int32) []int {
	if steps == nil {
		return nil
	}
	out := make([]int, len(steps))
	for i, v := range steps {
		out[i] = int(v)
	}
	return out
}
