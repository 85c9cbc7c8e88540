// Package strategy owns per-service release strategy state: the
// blue-green slot bookkeeping, the canary step walk and the periodic
// auto-promote evaluator. Every mutation is serialized per service and
// written through a version-checked update, so two concurrent operator
// actions can never interleave on the same traffic-routing row.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

// Engine applies strategy operations for services.
type Engine struct {
	strategies  repository.StrategyRepository
	deployments repository.DeploymentRepository
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine constructs the strategy engine.
func NewEngine(strategies repository.StrategyRepository, deployments repository.DeploymentRepository, logger *slog.Logger) *Engine {
	return &Engine{
		strategies:  strategies,
		deployments: deployments,
		logger:      logger.With("component", "strategy"),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// ConfigureRequest carries the operator-tunable strategy fields. Nil
// pointers leave the stored value untouched.
type ConfigureRequest struct {
	Strategy               domain.StrategyType
	CanarySteps            []int
	CanaryAutoPromote      *bool
	CanaryAutoPromoteDelay *int
	CanaryErrorThreshold   *float64
	CanaryLatencyThreshold *float64
}

// SwitchResult reports the slot flip performed by Switch.
type SwitchResult struct {
	PreviousColor domain.Color
	NewColor      domain.Color
}

// AdvanceResult reports the outcome of one canary step advance.
type AdvanceResult struct {
	Weight     int
	IsComplete bool
}

// Get returns the service's strategy, or an unconfigured rolling default.
func (e *Engine) Get(ctx context.Context, serviceID string) (*domain.DeploymentStrategy, bool, error) {
	s, err := e.strategies.GetStrategyByService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &domain.DeploymentStrategy{ServiceID: serviceID, Strategy: domain.StrategyRolling}, false, nil
		}
		return nil, false, fmt.Errorf("load strategy: %w", err)
	}
	return s, true, nil
}

// Configure creates or updates the strategy record for a service.
// Changing the strategy type never touches the other runtime fields.
func (e *Engine) Configure(ctx context.Context, serviceID string, req ConfigureRequest) (*domain.DeploymentStrategy, error) {
	if !domain.ValidStrategy(req.Strategy) {
		return nil, validationErr("unknown strategy %q", req.Strategy)
	}
	if req.CanarySteps != nil {
		if err := validateSteps(req.CanarySteps); err != nil {
			return nil, err
		}
	}
	if req.CanaryAutoPromoteDelay != nil && *req.CanaryAutoPromoteDelay < 0 {
		return nil, validationErr("canary_auto_promote_delay must not be negative")
	}

	var result *domain.DeploymentStrategy
	err := e.withServiceLock(serviceID, func() error {
		current, err := e.strategies.GetStrategyByService(ctx, serviceID)
		if errors.Is(err, repository.ErrNotFound) {
			created := &domain.DeploymentStrategy{
				ServiceID:              serviceID,
				Strategy:               req.Strategy,
				CanarySteps:            req.CanarySteps,
				CanaryAutoPromoteDelay: 300,
				CanaryErrorThreshold:   5,
				CanaryLatencyThreshold: 1000,
			}
			applyTunables(created, req)
			if err := e.strategies.CreateStrategy(ctx, created); err != nil {
				return fmt.Errorf("create strategy: %w", err)
			}
			result = created
			return nil
		}
		if err != nil {
			return fmt.Errorf("load strategy: %w", err)
		}

		current.Strategy = req.Strategy
		if req.CanarySteps != nil {
			current.CanarySteps = req.CanarySteps
		}
		applyTunables(current, req)
		if err := e.strategies.UpdateStrategy(ctx, current, current.Version); err != nil {
			return fmt.Errorf("update strategy: %w", err)
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("strategy configured", "service_id", serviceID, "strategy", result.Strategy)
	return result, nil
}

// Switch assigns the deployment to the inactive blue-green slot and flips
// traffic to it. The deployment must have completed its rollout.
func (e *Engine) Switch(ctx context.Context, serviceID, deploymentID string) (SwitchResult, error) {
	if deploymentID == "" {
		return SwitchResult{}, validationErr("deployment_id is required for switch")
	}
	var result SwitchResult
	err := e.withServiceLock(serviceID, func() error {
		s, err := e.loadConfigured(ctx, serviceID, domain.StrategyBlueGreen)
		if err != nil {
			return err
		}
		deployment, err := e.deployments.GetDeploymentByID(ctx, deploymentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return validationErr("deployment %s not found", deploymentID)
			}
			return fmt.Errorf("load deployment: %w", err)
		}
		if !deployment.DeployCompleted() {
			return ErrDeployIncomplete
		}

		target := domain.ColorBlue
		if s.ActiveColor != nil {
			target = s.ActiveColor.Other()
		}
		if target == domain.ColorBlue {
			s.BlueDeploymentID = &deploymentID
		} else {
			s.GreenDeploymentID = &deploymentID
		}
		var previous domain.Color
		if s.ActiveColor != nil {
			previous = *s.ActiveColor
			s.PreviousColor = s.ActiveColor
		}
		active := target
		s.ActiveColor = &active
		switchedAt := e.now().UTC()
		s.LastSwitchedAt = &switchedAt

		if err := e.strategies.UpdateStrategy(ctx, s, s.Version); err != nil {
			return fmt.Errorf("update strategy: %w", err)
		}
		result = SwitchResult{PreviousColor: previous, NewColor: target}
		return nil
	})
	if err != nil {
		return SwitchResult{}, err
	}
	e.logger.Info("blue-green switch", "service_id", serviceID, "deployment_id", deploymentID, "new_color", result.NewColor)
	return result, nil
}

// Rollback flips traffic back to the previously active color. It requires
// no new deployment; the old slot still holds its deployment.
func (e *Engine) Rollback(ctx context.Context, serviceID string) (SwitchResult, error) {
	var result SwitchResult
	err := e.withServiceLock(serviceID, func() error {
		s, err := e.loadConfigured(ctx, serviceID, domain.StrategyBlueGreen)
		if err != nil {
			return err
		}
		if s.PreviousColor == nil {
			return ErrNoPreviousColor
		}
		previous := *s.ActiveColor
		restored := *s.PreviousColor
		s.ActiveColor = &restored
		s.PreviousColor = &previous
		switchedAt := e.now().UTC()
		s.LastSwitchedAt = &switchedAt

		if err := e.strategies.UpdateStrategy(ctx, s, s.Version); err != nil {
			return fmt.Errorf("update strategy: %w", err)
		}
		result = SwitchResult{PreviousColor: previous, NewColor: restored}
		return nil
	})
	if err != nil {
		return SwitchResult{}, err
	}
	e.logger.Info("blue-green rollback", "service_id", serviceID, "restored_color", result.NewColor)
	return result, nil
}

// CanaryStart binds the deployment as the service's canary at the first
// configured step. Only one canary may be in flight per service.
func (e *Engine) CanaryStart(ctx context.Context, serviceID, deploymentID string) (AdvanceResult, error) {
	if deploymentID == "" {
		return AdvanceResult{}, validationErr("deployment_id is required for canary_start")
	}
	var result AdvanceResult
	err := e.withServiceLock(serviceID, func() error {
		s, err := e.loadConfigured(ctx, serviceID, domain.StrategyCanary)
		if err != nil {
			return err
		}
		if s.CanaryActive() {
			return ErrCanaryActive
		}
		if len(s.CanarySteps) == 0 {
			return validationErr("canary_steps are not configured")
		}
		if _, err := e.deployments.GetDeploymentByID(ctx, deploymentID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return validationErr("deployment %s not found", deploymentID)
			}
			return fmt.Errorf("load deployment: %w", err)
		}

		startedAt := e.now().UTC()
		s.CanaryDeploymentID = &deploymentID
		s.CanaryCurrentStep = 0
		s.CanaryWeight = s.CanarySteps[0]
		s.CanaryStartedAt = &startedAt
		s.CanaryLastAdvancedAt = &startedAt

		if err := e.strategies.UpdateStrategy(ctx, s, s.Version); err != nil {
			return fmt.Errorf("update strategy: %w", err)
		}
		result = AdvanceResult{Weight: s.CanaryWeight, IsComplete: false}
		return nil
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	e.logger.Info("canary started", "service_id", serviceID, "deployment_id", deploymentID, "weight", result.Weight)
	return result, nil
}

// CanaryAdvance moves the canary to the next configured step. Reaching
// weight 100 promotes the canary to the sole traffic target and clears the
// canary fields.
func (e *Engine) CanaryAdvance(ctx context.Context, serviceID string) (AdvanceResult, error) {
	var result AdvanceResult
	err := e.withServiceLock(serviceID, func() error {
		s, err := e.loadConfigured(ctx, serviceID, domain.StrategyCanary)
		if err != nil {
			return err
		}
		if !s.CanaryActive() {
			return ErrNoCanaryActive
		}

		next := s.CanaryCurrentStep + 1
		if next >= len(s.CanarySteps) {
			// Steps always end at 100, so this only happens on a legacy
			// row; treat it as a completed walk.
			next = len(s.CanarySteps) - 1
		}
		weight := s.CanarySteps[next]
		advancedAt := e.now().UTC()

		if weight >= 100 {
			clearCanary(s)
			result = AdvanceResult{Weight: 100, IsComplete: true}
		} else {
			s.CanaryCurrentStep = next
			s.CanaryWeight = weight
			s.CanaryLastAdvancedAt = &advancedAt
			result = AdvanceResult{Weight: weight, IsComplete: false}
		}
		if err := e.strategies.UpdateStrategy(ctx, s, s.Version); err != nil {
			return fmt.Errorf("update strategy: %w", err)
		}
		return nil
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	e.logger.Info("canary advanced", "service_id", serviceID, "weight", result.Weight, "complete", result.IsComplete)
	return result, nil
}

// CanaryAbort reverts all traffic to the pre-canary deployment. Aborting
// with no canary in flight is a no-op.
func (e *Engine) CanaryAbort(ctx context.Context, serviceID string) error {
	err := e.withServiceLock(serviceID, func() error {
		s, err := e.loadConfigured(ctx, serviceID, domain.StrategyCanary)
		if err != nil {
			return err
		}
		if !s.CanaryActive() {
			return nil
		}
		clearCanary(s)
		if err := e.strategies.UpdateStrategy(ctx, s, s.Version); err != nil {
			return fmt.Errorf("update strategy: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("canary aborted", "service_id", serviceID)
	return nil
}

// loadConfigured fetches the strategy row and checks the action matches
// the configured strategy type.
func (e *Engine) loadConfigured(ctx context.Context, serviceID string, want domain.StrategyType) (*domain.DeploymentStrategy, error) {
	s, err := e.strategies.GetStrategyByService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: service %s has no configured strategy", ErrConflict, serviceID)
		}
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	if s.Strategy != want {
		return nil, fmt.Errorf("%w: configured %s, action requires %s", ErrWrongStrategy, s.Strategy, want)
	}
	return s, nil
}

// withServiceLock serializes strategy mutations per service within this
// process; the version-checked update covers other writers.
func (e *Engine) withServiceLock(serviceID string, fn func() error) error {
	e.mu.Lock()
	lock, ok := e.locks[serviceID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[serviceID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func clearCanary(s *domain.DeploymentStrategy) {
	s.CanaryDeploymentID = nil
	s.CanaryWeight = 0
	s.CanaryCurrentStep = 0
	s.CanaryStartedAt = nil
	s.CanaryLastAdvancedAt = nil
}

func applyTunables(s *domain.DeploymentStrategy, req ConfigureRequest) {
	if req.CanaryAutoPromote != nil {
		s.CanaryAutoPromote = *req.CanaryAutoPromote
	}
	if req.CanaryAutoPromoteDelay != nil {
		s.CanaryAutoPromoteDelay = *req.CanaryAutoPromoteDelay
	}
	if req.CanaryErrorThreshold != nil {
		s.CanaryErrorThreshold = *req.CanaryErrorThreshold
	}
	if req.CanaryLatencyThreshold != nil {
		s.CanaryLatencyThreshold = *req.CanaryLatencyThreshold
	}
}

func validateSteps(steps []int) error {
	if len(steps) == 0 {
		return validationErr("canary_steps must contain at least one step")
	}
	prev := 0
	for i, step := range steps {
		if step <= 0 || step > 100 {
			return validationErr("canary_steps[%d]=%d is outside (0,100]", i, step)
		}
		if step < prev {
			return validationErr("canary_steps must be non-decreasing")
		}
		prev = step
	}
	if steps[len(steps)-1] != 100 {
		return validationErr("canary_steps must end at 100")
	}
	return nil
}
