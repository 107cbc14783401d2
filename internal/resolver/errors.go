package resolver

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

var (
	// ErrUnsatisfiedRequirement indicates a mandatory requirement with no
	// resolvable provider.
	ErrUnsatisfiedRequirement = errors.New("unsatisfied mandatory requirement")
)

// UnsatisfiedRequirementError names the requirement that failed and why.
// Cause carries the failures of rejected candidates, if any.
type UnsatisfiedRequirementError struct {
	Requirement *module.Requirement
	Reason      string
	Cause       error
}

func (e *UnsatisfiedRequirementError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrUnsatisfiedRequirement, e.Requirement, e.Reason)
}

func (e *UnsatisfiedRequirementError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrUnsatisfiedRequirement}
	}
	return []error{ErrUnsatisfiedRequirement, e.Cause}
}

// ResolutionError aggregates every failure of a batch resolution.
type ResolutionError struct {
	err error
}

func (e *ResolutionError) Error() string {
	errs := e.Errors()
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("resolution failed (%d): %s", len(errs), strings.Join(msgs, "; "))
}

func (e *ResolutionError) Unwrap() error { return e.err }

// Errors returns the individual failures.
func (e *ResolutionError) Errors() []error { return multierr.Errors(e.err) }

// ModuleError attributes a failure to a revision.
type ModuleError struct {
	Module *module.Revision
	Err    error
}

func (e *ModuleError) Error() string { return fmt.Sprintf("module %s: %v", e.Module, e.Err) }

func (e *ModuleError) Unwrap() error { return e.Err }

var (
	// ErrFiltered is reported for revisions a resolver hook removed.
	ErrFiltered = errors.New("filtered by resolver hook")
	// ErrSingletonCollision is reported when a singleton revision would be
	// resolved next to another resolved singleton with the same symbolic name.
	ErrSingletonCollision = errors.New("singleton collision")
)
