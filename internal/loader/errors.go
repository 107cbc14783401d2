package loader

import (
	"errors"
	"fmt"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// ErrNotFound is returned when no strategy in a module's chain can supply a
// class or resource.
var ErrNotFound = errors.New("not found in module's visible space")

type NotFoundError struct {
	Module *module.Revision
	Name   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Module, e.Name, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
