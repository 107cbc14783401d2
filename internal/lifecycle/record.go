package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Actions performs the work behind transitions. The framework implements it
// per module; Record only calls it from legal states.
type Actions interface {
	// Install registers the module's revision with the capability index.
	Install(ctx context.Context) error
	// Resolve wires the module (unless already wired) and sets up its
	// classloading context.
	Resolve(ctx context.Context) error
	// ResetSystem re-resolves the system module in place.
	ResetSystem(ctx context.Context) error
	StartDependencies(ctx context.Context) error
	// Activate creates the module context and runs the activator.
	Activate(ctx context.Context) error
	StopDependents(ctx context.Context) error
	// Deactivate tears the module context down in reverse order.
	Deactivate(ctx context.Context) error
	Unresolve(ctx context.Context) error
	Uninstall(ctx context.Context) error
	// Update swaps in the revision found at location.
	Update(ctx context.Context, location string) error
}

type StartOptions struct {
	// Lazy leaves the module in Starting until Activate is called, which the
	// framework does on the first class load from the module.
	Lazy bool
	// Transient starts are not remembered across refresh and update.
	Transient bool
}

// Record holds one module's lifecycle state. Callers must serialize
// transitions per module; state reads are safe from any goroutine.
type Record struct {
	id       module.ID
	name     string
	system   bool
	actions  Actions
	notifier *Notifier

	mu    sync.RWMutex
	state State
	stamp uint64
}

type RecordOption func(*Record)

// AsSystem marks the record of the system module, whose re-resolution
// resets it in place.
func AsSystem() RecordOption {
	return func(r *Record) { r.system = true }
}

func NewRecord(id module.ID, name string, actions Actions, notifier *Notifier, opts ...RecordOption) *Record {
	r := &Record{id: id, name: name, actions: actions, notifier: notifier, state: Uninstalled, stamp: tick()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LastModified returns the stamp of the last state change.
func (r *Record) LastModified() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stamp
}

func (r *Record) set(kind Kind, to State, err error) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.stamp = tick()
	stamp := r.stamp
	r.mu.Unlock()
	r.notify(Event{Module: r.id, Name: r.name, Kind: kind, From: from, To: to, Err: err, Stamp: stamp})
}

func (r *Record) notify(e Event) {
	if r.notifier != nil {
		r.notifier.Notify(e)
	}
}

func (r *Record) illegal(kind Kind, s State) error {
	err := &IllegalTransitionError{Module: r.id, Kind: kind, State: s}
	r.notify(Event{Module: r.id, Name: r.name, Kind: kind, From: s, To: s, Err: err, Stamp: tick()})
	return err
}

func (r *Record) Install(ctx context.Context) error {
	if r.State() != Uninstalled {
		return nil
	}
	if err := r.actions.Install(ctx); err != nil {
		r.notify(Event{Module: r.id, Name: r.name, Kind: KindInstall, From: Uninstalled, To: Uninstalled, Err: err, Stamp: tick()})
		return err
	}
	r.set(KindInstall, Installed, nil)
	return nil
}

func (r *Record) Resolve(ctx context.Context) error {
	switch s := r.State(); s {
	case Uninstalled:
		if err := r.Install(ctx); err != nil {
			return err
		}
		return r.Resolve(ctx)
	case Installed:
		r.set(KindResolve, Resolving, nil)
		if err := r.actions.Resolve(ctx); err != nil {
			r.set(KindResolve, Installed, err)
			return err
		}
		r.set(KindResolve, Resolved, nil)
		return nil
	case Resolved:
		if !r.system {
			return nil
		}
		if err := r.actions.ResetSystem(ctx); err != nil {
			r.notify(Event{Module: r.id, Name: r.name, Kind: KindResolve, From: s, To: s, Err: err, Stamp: tick()})
			return err
		}
		r.set(KindResolve, Resolved, nil)
		return nil
	case Stopping, Unresolving:
		return r.illegal(KindResolve, s)
	default:
		return nil
	}
}

func (r *Record) Start(ctx context.Context, opts StartOptions) error {
	switch s := r.State(); s {
	case Uninstalled, Installed:
		if err := r.Resolve(ctx); err != nil {
			return err
		}
		return r.Start(ctx, opts)
	case Resolved:
		if err := r.actions.StartDependencies(ctx); err != nil {
			r.notify(Event{Module: r.id, Name: r.name, Kind: KindStart, From: s, To: s, Err: err, Stamp: tick()})
			return err
		}
		r.set(KindStart, Starting, nil)
		if opts.Lazy {
			return nil
		}
		return r.activate(ctx)
	case Unresolving:
		return r.illegal(KindStart, s)
	default:
		// Resolving, Starting, Active and Stopping: already in progress.
		return nil
	}
}

// Activate completes a lazy start. It is a no-op unless the module is
// Starting.
func (r *Record) Activate(ctx context.Context) error {
	if r.State() != Starting {
		return nil
	}
	return r.activate(ctx)
}

func (r *Record) activate(ctx context.Context) error {
	if err := r.actions.Activate(ctx); err != nil {
		aerr := &ActivationError{Module: r.id, Err: err}
		r.set(KindStart, Stopping, aerr)
		if terr := r.actions.Deactivate(ctx); terr != nil {
			aerr.Teardown = terr
		}
		r.set(KindStop, Resolved, nil)
		return aerr
	}
	r.set(KindStart, Active, nil)
	return nil
}

func (r *Record) Stop(ctx context.Context) error {
	switch s := r.State(); s {
	case Starting, Active:
		errs := r.actions.StopDependents(ctx)
		r.set(KindStop, Stopping, nil)
		errs = multierr.Append(errs, r.actions.Deactivate(ctx))
		if errs != nil {
			terr := &TeardownError{Module: r.id, Err: errs}
			r.set(KindStop, Resolved, terr)
			return terr
		}
		r.set(KindStop, Resolved, nil)
		return nil
	case Unresolving:
		return r.illegal(KindStop, s)
	default:
		return nil
	}
}

// Unresolve discards the module's wiring, stopping it first if needed.
func (r *Record) Unresolve(ctx context.Context) error {
	var errs error
	switch s := r.State(); s {
	case Starting, Active:
		errs = unwrapTeardown(r.Stop(ctx))
	case Resolved:
	case Stopping:
		return r.illegal(KindUnresolve, s)
	default:
		// Unresolving collapses to itself; unresolved states have nothing to
		// discard.
		return nil
	}

	r.set(KindUnresolve, Unresolving, nil)
	errs = multierr.Append(errs, r.actions.Unresolve(ctx))
	if errs != nil {
		terr := &TeardownError{Module: r.id, Err: errs}
		r.set(KindUnresolve, Installed, terr)
		return terr
	}
	r.set(KindUnresolve, Installed, nil)
	return nil
}

func (r *Record) Uninstall(ctx context.Context) error {
	var errs error
	switch s := r.State(); s {
	case Uninstalled, Stopping:
		return r.illegal(KindUninstall, s)
	case Resolving, Unresolving:
		return nil
	case Resolved, Starting, Active:
		errs = unwrapTeardown(r.Unresolve(ctx))
	}

	errs = multierr.Append(errs, r.actions.Uninstall(ctx))
	if errs != nil {
		terr := &TeardownError{Module: r.id, Err: errs}
		r.set(KindUninstall, Uninstalled, terr)
		return terr
	}
	r.set(KindUninstall, Uninstalled, nil)
	return nil
}

// Update replaces the module's revision with the one at location. The module
// ends up Installed; callers restart it if needed.
func (r *Record) Update(ctx context.Context, location string) error {
	var errs error
	switch s := r.State(); s {
	case Uninstalled, Resolving, Stopping, Unresolving:
		return r.illegal(KindUpdate, s)
	case Resolved, Starting, Active:
		errs = unwrapTeardown(r.Unresolve(ctx))
	}
	if err := r.actions.Update(ctx, location); err != nil {
		errs = multierr.Append(errs, err)
		r.notify(Event{Module: r.id, Name: r.name, Kind: KindUpdate, From: Installed, To: Installed, Err: errs, Stamp: tick()})
		return errs
	}
	r.set(KindUpdate, Installed, errs)
	return errs
}

// unwrapTeardown flattens a nested TeardownError so aggregates stay one
// level deep.
func unwrapTeardown(err error) error {
	if terr, ok := err.(*TeardownError); ok {
		return terr.Err
	}
	return err
}
