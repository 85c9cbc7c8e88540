package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
)

func TestTransitionAllowsPipelineOrder(t *testing.T) {
	ctx := context.Background()
	allowed := []struct {
		from domain.DeploymentStatus
		to   domain.DeploymentStatus
	}{
		{domain.DeploymentPending, domain.DeploymentBuilding},
		{domain.DeploymentBuilding, domain.DeploymentDeploying},
		{domain.DeploymentPending, domain.DeploymentDeploying},
		{domain.DeploymentDeploying, domain.DeploymentRunning},
		{domain.DeploymentBuilding, domain.DeploymentFailed},
		{domain.DeploymentDeploying, domain.DeploymentCancelled},
	}
	for _, tc := range allowed {
		if err := Transition(ctx, tc.from, tc.to); err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", tc.from, tc.to, err)
		}
	}
}

func TestTransitionRejectsTerminalAndBackwards(t *testing.T) {
	ctx := context.Background()
	rejected := []struct {
		from domain.DeploymentStatus
		to   domain.DeploymentStatus
	}{
		{domain.DeploymentFailed, domain.DeploymentBuilding},
		{domain.DeploymentCancelled, domain.DeploymentDeploying},
		{domain.DeploymentRunning, domain.DeploymentBuilding},
		{domain.DeploymentRunning, domain.DeploymentFailed},
		{domain.DeploymentDeploying, domain.DeploymentBuilding},
		{domain.DeploymentPending, domain.DeploymentRunning},
	}
	for _, tc := range rejected {
		if err := Transition(ctx, tc.from, tc.to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s should be rejected, got %v", tc.from, tc.to, err)
		}
	}
}

func TestMachineTracksCurrentStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(domain.DeploymentPending)
	if err := m.Fire(ctx, EventStartBuild); err != nil {
		t.Fatalf("start_build: %v", err)
	}
	if m.Current() != domain.DeploymentBuilding {
		t.Fatalf("unexpected status %s", m.Current())
	}
	if err := m.Fire(ctx, EventComplete); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("building cannot complete directly, got %v", err)
	}
}
