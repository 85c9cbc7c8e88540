package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
)

// MetricsSource provides the latest rolled-up health sample per service.
type MetricsSource interface {
	LatestServiceMetrics(ctx context.Context, serviceID string) (*domain.ServiceMetrics, error)
}

// Evaluator drives canary auto-promotion: every tick it inspects each
// auto-promote canary, aborting any that breaches its thresholds and
// advancing those that dwelled cleanly for the configured delay. The
// dwell stamp doubles as the per-service cooldown for advances, so a
// canary moves forward at most once per delay window.
type Evaluator struct {
	engine     *Engine
	strategies repository.StrategyRepository
	metrics    MetricsSource
	queue      queue.Queue
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewEvaluator returns nil when interval is not positive, which disables
// auto-promotion entirely.
func NewEvaluator(engine *Engine, strategies repository.StrategyRepository, metrics MetricsSource, q queue.Queue, interval time.Duration, logger *slog.Logger) *Evaluator {
	if interval <= 0 {
		return nil
	}
	return &Evaluator{
		engine:     engine,
		strategies: strategies,
		metrics:    metrics,
		queue:      q,
		interval:   interval,
		logger:     logger.With("component", "canary_evaluator"),
		now:        time.Now,
	}
}

// Run evaluates on a fixed cadence until the context is cancelled.
func (e *Evaluator) Run(ctx context.Context) {
	if e == nil {
		return
	}
	e.logger.Info("canary evaluator started", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("canary evaluator stopped")
			return
		case <-ticker.C:
			e.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs a single evaluation sweep.
func (e *Evaluator) EvaluateOnce(ctx context.Context) {
	canaries, err := e.strategies.ListAutoPromoteCanaries(ctx)
	if err != nil {
		e.logger.Error("list auto-promote canaries failed", "error", err)
		return
	}
	for i := range canaries {
		e.evaluate(ctx, &canaries[i])
	}
}

func (e *Evaluator) evaluate(ctx context.Context, s *domain.DeploymentStrategy) {
	log := e.logger.With("service_id", s.ServiceID)

	// Breaches abort on any tick. Only the advance waits out the dwell.
	if breached, reason := e.thresholdBreached(ctx, s); breached {
		log.Warn("canary threshold breached, aborting", "reason", reason)
		if err := e.engine.CanaryAbort(ctx, s.ServiceID); err != nil {
			log.Error("automatic canary abort failed", "error", err)
			return
		}
		e.notify(ctx, s, "canary_aborted",
			fmt.Sprintf("Canary for service %s aborted automatically: %s", s.ServiceID, reason))
		return
	}

	dwellSince := s.CanaryStartedAt
	if s.CanaryLastAdvancedAt != nil {
		dwellSince = s.CanaryLastAdvancedAt
	}
	if dwellSince == nil {
		log.Warn("canary has no dwell stamp, skipping")
		return
	}
	dwell := e.now().Sub(*dwellSince)
	if dwell < time.Duration(s.CanaryAutoPromoteDelay)*time.Second {
		return
	}

	result, err := e.engine.CanaryAdvance(ctx, s.ServiceID)
	if err != nil {
		if errors.Is(err, ErrNoCanaryActive) {
			return // raced with an operator action
		}
		log.Error("automatic canary advance failed", "error", err)
		return
	}
	log.Info("canary advanced automatically", "weight", result.Weight, "complete", result.IsComplete)
	if result.IsComplete {
		e.notify(ctx, s, "canary_completed",
			fmt.Sprintf("Canary for service %s promoted to 100%% of traffic", s.ServiceID))
	}
}

// thresholdBreached compares the freshest sample against the configured
// thresholds. A service with no samples yet is treated as healthy.
func (e *Evaluator) thresholdBreached(ctx context.Context, s *domain.DeploymentStrategy) (bool, string) {
	sample, err := e.metrics.LatestServiceMetrics(ctx, s.ServiceID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			e.logger.Error("load service metrics failed", "service_id", s.ServiceID, "error", err)
		}
		return false, ""
	}
	if s.CanaryErrorThreshold > 0 && sample.ErrorRate > s.CanaryErrorThreshold {
		return true, fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%%", sample.ErrorRate, s.CanaryErrorThreshold)
	}
	if s.CanaryLatencyThreshold > 0 && sample.LatencyP99MS > s.CanaryLatencyThreshold {
		return true, fmt.Sprintf("p99 latency %.0fms exceeds threshold %.0fms", sample.LatencyP99MS, s.CanaryLatencyThreshold)
	}
	return false, ""
}

func (e *Evaluator) notify(ctx context.Context, s *domain.DeploymentStrategy, eventType, message string) {
	job := queue.NotificationJobData{
		Type:      eventType,
		ServiceID: s.ServiceID,
		Message:   message,
		Channels:  []domain.ChannelCategory{domain.CategoryEmail, domain.CategorySlack, domain.CategoryWebhook},
	}
	if s.CanaryDeploymentID != nil {
		job.DeploymentID = *s.CanaryDeploymentID
	}
	if err := e.queue.Enqueue(ctx, queue.JobNotify, "", job); err != nil {
		e.logger.Error("enqueue canary notification failed", "service_id", s.ServiceID, "error", err)
	}
}
