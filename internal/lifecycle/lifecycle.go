// Package lifecycle guards deployment status transitions. Workers run a
// status through the machine before persisting it so that a terminal or
// out-of-order row is never overwritten by a late pipeline stage.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
)

// Events accepted by the deployment machine.
const (
	EventStartBuild  = "start_build"
	EventStartDeploy = "start_deploy"
	EventComplete    = "complete"
	EventFail        = "fail"
	EventCancel      = "cancel"
)

// ErrInvalidTransition wraps a rejected status change.
var ErrInvalidTransition = fmt.Errorf("lifecycle: invalid status transition")

// Machine wraps an FSM seeded at a deployment's current status.
type Machine struct {
	fsm *fsm.FSM
}

// NewMachine builds a deployment status machine starting at current.
func NewMachine(current domain.DeploymentStatus) *Machine {
	return &Machine{
		fsm: fsm.NewFSM(
			string(current),
			fsm.Events{
				{Name: EventStartBuild, Src: []string{string(domain.DeploymentPending)}, Dst: string(domain.DeploymentBuilding)},
				{Name: EventStartDeploy, Src: []string{string(domain.DeploymentPending), string(domain.DeploymentBuilding)}, Dst: string(domain.DeploymentDeploying)},
				{Name: EventComplete, Src: []string{string(domain.DeploymentDeploying)}, Dst: string(domain.DeploymentRunning)},
				{Name: EventFail, Src: []string{
					string(domain.DeploymentPending),
					string(domain.DeploymentBuilding),
					string(domain.DeploymentDeploying),
				}, Dst: string(domain.DeploymentFailed)},
				{Name: EventCancel, Src: []string{
					string(domain.DeploymentPending),
					string(domain.DeploymentBuilding),
					string(domain.DeploymentDeploying),
				}, Dst: string(domain.DeploymentCancelled)},
			},
			fsm.Callbacks{},
		),
	}
}

// Fire applies the named event, returning ErrInvalidTransition when the
// current status does not admit it.
func (m *Machine) Fire(ctx context.Context, event string) error {
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, m.fsm.Current(), err)
	}
	return nil
}

// Current returns the machine's status.
func (m *Machine) Current() domain.DeploymentStatus {
	return domain.DeploymentStatus(m.fsm.Current())
}

// Transition validates a from→to status change in one shot. It is the
// convenience entry point workers use before a repository write.
func Transition(ctx context.Context, from, to domain.DeploymentStatus) error {
	event, ok := eventFor(to)
	if !ok {
		return fmt.Errorf("%w: no event yields status %s", ErrInvalidTransition, to)
	}
	m := NewMachine(from)
	return m.Fire(ctx, event)
}

func eventFor(to domain.DeploymentStatus) (string, bool) {
	switch to {
	case domain.DeploymentBuilding:
		return EventStartBuild, true
	case domain.DeploymentDeploying:
		return EventStartDeploy, true
	case domain.DeploymentRunning:
		return EventComplete, true
	case domain.DeploymentFailed:
		return EventFail, true
	case domain.DeploymentCancelled:
		return EventCancel, true
	}
	return "", false
}
