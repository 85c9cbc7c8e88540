package strategy

import (
	"errors"
	"fmt"
)

// ErrValidation marks operator input errors. They are surfaced
// synchronously and never retried.
var ErrValidation = errors.New("strategy: validation failed")

// ErrConflict marks actions that are invalid for the service's current
// strategy state.
var ErrConflict = errors.New("strategy: conflict")

var (
	ErrCanaryActive     = fmt.Errorf("%w: canary already in progress", ErrConflict)
	ErrNoCanaryActive   = fmt.Errorf("%w: no canary in progress", ErrConflict)
	ErrNoPreviousColor  = fmt.Errorf("%w: no previous color to roll back to", ErrConflict)
	ErrDeployIncomplete = fmt.Errorf("%w: deployment has not completed its rollout", ErrConflict)
	ErrWrongStrategy    = fmt.Errorf("%w: action does not match configured strategy", ErrConflict)
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
