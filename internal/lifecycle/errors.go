package lifecycle

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// ErrIllegalTransition is returned when a transition is requested from a
// state that forbids it. It signals a caller ordering bug.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

type IllegalTransitionError struct {
	Module module.ID
	Kind   Kind
	State  State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s module %d in state %s", ErrIllegalTransition, e.Kind, e.Module, e.State)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// ActivationError is returned when a module's activator fails. The module
// has been stopped again by the time the error is returned; Teardown holds
// any failure of that stop.
type ActivationError struct {
	Module   module.ID
	Err      error
	Teardown error
}

func (e *ActivationError) Error() string {
	if e.Teardown != nil {
		return fmt.Sprintf("activate module %d: %v (teardown: %v)", e.Module, e.Err, e.Teardown)
	}
	return fmt.Sprintf("activate module %d: %v", e.Module, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// TeardownError aggregates every failure of a stop, unresolve or uninstall.
// All teardown steps run even when some fail.
type TeardownError struct {
	Module module.ID
	Err    error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of module %d: %v", e.Module, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// Errors returns the individual failures.
func (e *TeardownError) Errors() []error { return multierr.Errors(e.Err) }
