package domain

import "time"

// StrategyType selects how new deployments of a service receive traffic.
type StrategyType string

const (
	StrategyRolling   StrategyType = "rolling"
	StrategyBlueGreen StrategyType = "blue_green"
	StrategyCanary    StrategyType = "canary"
)

// ValidStrategy reports whether t is a known strategy type.
func ValidStrategy(t StrategyType) bool {
	switch t {
	case StrategyRolling, StrategyBlueGreen, StrategyCanary:
		return true
	}
	return false
}

// Color identifies one of the two blue-green slots.
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
)

// Other returns the opposite slot.
func (c Color) Other() Color {
	if c == ColorBlue {
		return ColorGreen
	}
	return ColorBlue
}

// DeploymentStrategy is the single source of truth for where a service's
// traffic currently points. At most one row exists per service.
type DeploymentStrategy struct {
	ServiceID string
	Strategy  StrategyType

	// Blue-green state.
	BlueDeploymentID  *string
	GreenDeploymentID *string
	ActiveColor       *Color
	PreviousColor     *Color
	LastSwitchedAt    *time.Time

	// Canary state.
	CanaryDeploymentID     *string
	CanaryWeight           int
	CanarySteps            []int
	CanaryCurrentStep      int
	CanaryAutoPromote      bool
	CanaryAutoPromoteDelay int
	CanaryErrorThreshold   float64
	CanaryLatencyThreshold float64
	CanaryStartedAt        *time.Time
	CanaryLastAdvancedAt   *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanaryActive reports whether a canary rollout is in flight.
func (s DeploymentStrategy) CanaryActive() bool {
	return s.CanaryDeploymentID != nil
}

// DeploymentIDForColor returns the deployment bound to the given slot.
func (s DeploymentStrategy) DeploymentIDForColor(c Color) *string {
	if c == ColorBlue {
		return s.BlueDeploymentID
	}
	return s.GreenDeploymentID
}

// ServiceMetrics is a rolled-up health sample for a service, used by the
// canary evaluator to compare against configured thresholds.
type ServiceMetrics struct {
	ServiceID    string
	ErrorRate    float64
	LatencyP99MS float64
	SampledAt    time.Time
}
