package framework

import "errors"

var (
	ErrUnknownModule = errors.New("unknown module")
	// ErrFragment is returned for operations fragments do not support on
	// their own, such as starting or loading classes.
	ErrFragment         = errors.New("operation not supported on a fragment")
	ErrSystemModule     = errors.New("operation not permitted on the system module")
	ErrUnknownActivator = errors.New("unknown activator")
	ErrNotResolved      = errors.New("module is not resolved")
)
