package framework

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/multierr"

	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/loader"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/resolver"
	"github.com/bayleafwalker/bindery-runtime/internal/scheduler"
)

// FindClass returns the bytes of className as visible from module id. An
// installed module is resolved first. Loading a class from a lazily started
// module activates that module once the load completes.
func (f *Framework) FindClass(ctx context.Context, id module.ID, className string) ([]byte, error) {
	ctx = scheduler.WithCall(f.ctx(ctx))
	lc, err := f.loaderFor(ctx, id)
	if err != nil {
		return nil, err
	}
	e, err := lc.LoadClass(ctx, className)
	f.metrics.Lookup(e.Strategy)
	if err != nil {
		return nil, err
	}
	data, err := e.Read()
	if err != nil {
		return nil, err
	}

	if hm := f.moduleOf(e.Host); hm != nil && hm.State() == lifecycle.Starting {
		scheduler.CallFrom(ctx).RequestActivation(hm.id)
	}
	if err := f.drainActivations(ctx); err != nil {
		return nil, fmt.Errorf("load %s: %w", className, err)
	}
	return data, nil
}

// FindResource returns the location of the first entry named name visible
// from module id.
func (f *Framework) FindResource(ctx context.Context, id module.ID, name string) (string, error) {
	ctx = scheduler.WithCall(f.ctx(ctx))
	lc, err := f.loaderFor(ctx, id)
	if err != nil {
		return "", err
	}
	e, err := lc.FindResource(ctx, name)
	f.metrics.Lookup(e.Strategy)
	if err != nil {
		return "", err
	}
	return e.Location(), nil
}

// FindResources lazily yields the location of every entry named name visible
// from module id.
func (f *Framework) FindResources(ctx context.Context, id module.ID, name string) (iter.Seq[string], error) {
	ctx = scheduler.WithCall(f.ctx(ctx))
	lc, err := f.loaderFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return lc.FindResources(ctx, name), nil
}

func (f *Framework) loaderFor(ctx context.Context, id module.ID) (*loader.Context, error) {
	m, err := f.Module(id)
	if err != nil {
		return nil, err
	}
	if m.Revision().Fragment {
		return nil, fmt.Errorf("load from %s: %w", m, ErrFragment)
	}
	if m.State() == lifecycle.Installed {
		if err := f.sched.Serialize(ctx, id, m.record.Resolve); err != nil {
			return nil, err
		}
	}
	lc := m.loaderContext()
	if lc == nil {
		return nil, fmt.Errorf("%s: %w", m, ErrNotResolved)
	}
	return lc, nil
}

// drainActivations completes the lazy starts queued on the caller. Modules
// the caller is already transitioning are left to that transition.
func (f *Framework) drainActivations(ctx context.Context) error {
	call := scheduler.CallFrom(ctx)
	var errs error
	for _, id := range call.DrainActivations() {
		if call.Holds(id) {
			continue
		}
		m, ok := f.lookup(id)
		if !ok {
			continue
		}
		errs = multierr.Append(errs, f.sched.Serialize(ctx, id, m.record.Activate))
	}
	return errs
}

// resolveDynamic wires one dynamic import on behalf of a class load.
// Concurrent lookups of the same package from the same module share one
// resolution.
func (f *Framework) resolveDynamic(ctx context.Context, q *module.Requirement) (*module.Wire, error) {
	key := fmt.Sprintf("%d/%s", q.Resource.ID, q.Value())
	v, err, _ := f.flight.Do(key, func() (any, error) {
		res, w, err := f.commitDynamic(ctx, q)
		if err != nil || res == nil {
			return w, err
		}
		f.metrics.DynamicWire()
		if err := f.syncResolved(ctx, res.Resources, true, q.Resource.ID); err != nil {
			logFrom(ctx).Error(err, "resolving dynamically wired provider", "wire", w.String())
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*module.Wire), nil
}

// commitDynamic returns the existing wire for q's package if another lookup
// already made one, or resolves and commits a new one.
func (f *Framework) commitDynamic(ctx context.Context, q *module.Requirement) (*resolver.Result, *module.Wire, error) {
	f.resolveMu.Lock()
	defer f.resolveMu.Unlock()

	for _, w := range f.graph.RequiredWires(q.Resource, module.NamespacePackage) {
		if w.Capability.Value() == q.Value() {
			return nil, w, nil
		}
	}
	res, err := f.dynamic.ResolveDynamic(ctx, resolver.Input{Baseline: f.graph, Candidates: f.repo}, q)
	if err != nil {
		return nil, nil, err
	}
	f.graph.Commit(res)
	f.wiringChanged()
	wires := res.Wires[q.Resource]
	return &res, wires[len(wires)-1], nil
}
