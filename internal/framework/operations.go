package framework

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/manifest"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/resolver"
	"github.com/bayleafwalker/bindery-runtime/internal/scheduler"
)

type StartOptions = lifecycle.StartOptions

type StopOptions struct {
	// Transient stops leave the module marked for restart by refresh and
	// update.
	Transient bool
}

// Install installs the module at location. Installing a location that is
// already installed returns the existing module.
func (f *Framework) Install(ctx context.Context, location string) (*Module, error) {
	ctx = f.ctx(ctx)
	f.mu.RLock()
	id, ok := f.locations[location]
	f.mu.RUnlock()
	if ok {
		return f.Module(id)
	}

	a, err := f.open(location)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", location, err)
	}
	id = module.ID(f.nextID.Add(1))
	rev, err := manifest.Load(id, a)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("install %s: %w", location, err)
	}

	m := f.addModule(id, location, rev)
	if err := f.sched.Serialize(ctx, id, m.record.Install); err != nil {
		f.forget(m)
		f.sched.Forget(id)
		_ = a.Close()
		return nil, fmt.Errorf("install %s: %w", location, err)
	}
	logFrom(ctx).Info("installed", "module", rev.String(), "location", location)
	return m, nil
}

// InstallMany installs every location on the worker pool. The returned slice
// matches locations; failed entries are nil and their errors are aggregated.
func (f *Framework) InstallMany(ctx context.Context, locations []string) ([]*Module, error) {
	out := make([]*Module, len(locations))
	idx := make([]int, len(locations))
	for i := range idx {
		idx[i] = i
	}
	err := scheduler.FanOut(ctx, f.sched, idx, func(ctx context.Context, i int) error {
		m, err := f.Install(ctx, locations[i])
		out[i] = m
		return err
	})
	return out, err
}

// Resolve resolves the given modules as one batch. Every mandatory module
// must resolve or nothing is committed; optional modules are resolved where
// possible.
func (f *Framework) Resolve(ctx context.Context, mandatory, optional []module.ID) error {
	ctx = f.ctx(ctx)
	mand, err := f.revisions(mandatory)
	if err != nil {
		return err
	}
	opt, err := f.revisions(optional)
	if err != nil {
		return err
	}

	res, err := f.commit(ctx, mand, opt)
	if err != nil {
		for _, rev := range mand {
			if m := f.moduleOf(rev); m != nil {
				f.notifier.Notify(lifecycle.Event{Module: m.id, Name: rev.SymbolicName, Kind: lifecycle.KindResolve, From: m.State(), To: m.State(), Err: err})
			}
		}
		return err
	}
	// Modules wired earlier on behalf of a busy caller are picked up too.
	revs := slices.Concat(res.Resources, mand, opt)
	return f.syncResolved(ctx, revs, false, -1)
}

// ResolveMany resolves each module on its own, concurrently, and reports
// every failure.
func (f *Framework) ResolveMany(ctx context.Context, ids []module.ID) error {
	return scheduler.FanOut(ctx, f.sched, ids, func(ctx context.Context, id module.ID) error {
		return f.Resolve(ctx, []module.ID{id}, nil)
	})
}

func (f *Framework) revisions(ids []module.ID) ([]*module.Revision, error) {
	out := make([]*module.Revision, 0, len(ids))
	for _, id := range ids {
		m, err := f.Module(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m.Revision())
	}
	return out, nil
}

// commit resolves against the committed graph and commits the result.
func (f *Framework) commit(ctx context.Context, mandatory, optional []*module.Revision) (resolver.Result, error) {
	f.resolveMu.Lock()
	defer f.resolveMu.Unlock()

	start := time.Now()
	res, err := f.resolver.Resolve(ctx, resolver.Input{
		Mandatory:  mandatory,
		Optional:   optional,
		Baseline:   f.graph,
		Candidates: f.repo,
	})
	required := 0
	var rerr *resolver.ResolutionError
	if errors.As(err, &rerr) {
		required = len(rerr.Errors())
	}
	f.metrics.ObserveResolution(start, required, len(res.Diagnostics.UnresolvedOptional), err)
	if err != nil {
		return resolver.Result{}, err
	}

	log := logFrom(ctx)
	for _, u := range res.Diagnostics.UnresolvedOptional {
		log.V(1).Info("requirement unresolved", "module", u.Module, "requirement", u.Requirement, "reason", u.Reason)
	}
	f.graph.Commit(res)
	f.wiringChanged()
	return res, nil
}

// syncResolved moves the records of newly wired modules to Resolved. With
// try set, modules another caller holds are left for that caller, which finds
// them wired on its next resolve.
func (f *Framework) syncResolved(ctx context.Context, revs []*module.Revision, try bool, skip module.ID) error {
	var errs error
	seen := sets.New[module.ID]()
	for _, rev := range revs {
		if rev.System || rev.ID == skip || seen.Has(rev.ID) || !f.graph.IsResolved(rev) {
			continue
		}
		seen.Insert(rev.ID)
		m := f.moduleOf(rev)
		if m == nil || m.State() != lifecycle.Installed {
			continue
		}
		if !try {
			errs = multierr.Append(errs, f.sched.Serialize(ctx, m.id, m.record.Resolve))
			continue
		}
		ran, err := f.sched.TrySerialize(ctx, m.id, m.record.Resolve)
		if !ran {
			logFrom(ctx).V(1).Info("module busy, resolution deferred", "module", rev.String())
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Start resolves the module if needed and starts it. Providers it is wired to
// are started first.
func (f *Framework) Start(ctx context.Context, id module.ID, opts StartOptions) error {
	ctx = f.ctx(ctx)
	m, err := f.Module(id)
	if err != nil {
		return err
	}
	if m.Revision().Fragment {
		return fmt.Errorf("start %s: %w", m, ErrFragment)
	}
	opts.Lazy = opts.Lazy || m.Revision().Lazy
	err = f.sched.Serialize(ctx, id, func(ctx context.Context) error {
		if err := m.record.Start(ctx, opts); err != nil {
			return err
		}
		if !opts.Transient {
			m.setPersistent(true)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("start %s: %w", m, err)
	}
	return nil
}

// Stop stops the module after stopping the modules wired to it.
func (f *Framework) Stop(ctx context.Context, id module.ID, opts StopOptions) error {
	ctx = f.ctx(ctx)
	m, err := f.Module(id)
	if err != nil {
		return err
	}
	if id == module.SystemID {
		return fmt.Errorf("stop: %w", ErrSystemModule)
	}
	err = f.sched.Serialize(ctx, id, func(ctx context.Context) error {
		if !opts.Transient {
			m.setPersistent(false)
		}
		return m.record.Stop(ctx)
	})
	if err != nil {
		return fmt.Errorf("stop %s: %w", m, err)
	}
	return nil
}

// Uninstall stops and unresolves the module as needed and removes it. Modules
// wired to it are unresolved as well.
func (f *Framework) Uninstall(ctx context.Context, id module.ID) error {
	ctx = f.ctx(ctx)
	m, err := f.Module(id)
	if err != nil {
		f.mu.RLock()
		gone := f.uninstalled.Has(id)
		f.mu.RUnlock()
		if gone {
			return &lifecycle.IllegalTransitionError{Module: id, Kind: lifecycle.KindUninstall, State: lifecycle.Uninstalled}
		}
		return err
	}
	if id == module.SystemID {
		return fmt.Errorf("uninstall: %w", ErrSystemModule)
	}
	err = f.sched.Serialize(ctx, id, m.record.Uninstall)
	if m.State() == lifecycle.Uninstalled {
		f.sched.Forget(id)
	}
	if err != nil {
		return fmt.Errorf("uninstall %s: %w", m, err)
	}
	return nil
}

// Update replaces the module's content with the archive at location, then
// re-resolves it with everything that depended on it and restarts the
// modules that were persistently started.
func (f *Framework) Update(ctx context.Context, id module.ID, location string) error {
	ctx = f.ctx(ctx)
	m, err := f.Module(id)
	if err != nil {
		return err
	}
	if id == module.SystemID {
		return fmt.Errorf("update: %w", ErrSystemModule)
	}
	closure, restart := f.closure([]module.ID{id})
	errs := f.sched.Serialize(ctx, id, func(ctx context.Context) error {
		return m.record.Update(ctx, location)
	})
	if errors.Is(errs, lifecycle.ErrIllegalTransition) {
		return fmt.Errorf("update %s: %w", m, errs)
	}
	errs = multierr.Append(errs, f.rewire(ctx, closure, restart))
	if errs != nil {
		return fmt.Errorf("update %s: %w", m, errs)
	}
	return nil
}

// Refresh unresolves the given modules and everything that transitively
// depends on them, resolves them again and restarts the ones that were
// persistently started.
func (f *Framework) Refresh(ctx context.Context, ids []module.ID) error {
	ctx = f.ctx(ctx)
	for _, id := range ids {
		if _, err := f.Module(id); err != nil {
			return err
		}
	}
	closure, restart := f.closure(ids)

	var errs error
	for _, id := range slices.Backward(closure) {
		m, ok := f.lookup(id)
		if !ok || id == module.SystemID {
			continue
		}
		errs = multierr.Append(errs, f.sched.Serialize(ctx, id, m.record.Unresolve))
	}
	errs = multierr.Append(errs, f.rewire(ctx, closure, restart))
	if errs != nil {
		return fmt.Errorf("refresh: %w", errs)
	}
	return nil
}

// closure returns ids plus every module transitively wired to them, and the
// subset that should be running again afterwards.
func (f *Framework) closure(ids []module.ID) (all, restart []module.ID) {
	seen := sets.New[module.ID]()
	add := func(m *Module) {
		if seen.Has(m.id) {
			return
		}
		seen.Insert(m.id)
		all = append(all, m.id)
		if s := m.State(); m.Persistent() && (s == lifecycle.Starting || s == lifecycle.Active) {
			restart = append(restart, m.id)
		}
	}
	for _, id := range ids {
		m, ok := f.lookup(id)
		if !ok {
			continue
		}
		add(m)
		for rev := range f.graph.WalkProvides(m.Revision()) {
			if dep := f.moduleOf(rev); dep != nil {
				add(dep)
			}
		}
	}
	return all, restart
}

func (f *Framework) rewire(ctx context.Context, closure, restart []module.ID) error {
	var live []module.ID
	for _, id := range closure {
		if m, ok := f.lookup(id); ok && m.State() != lifecycle.Uninstalled {
			live = append(live, id)
		}
	}
	errs := f.Resolve(ctx, nil, live)

	slices.SortFunc(restart, func(a, b module.ID) int {
		ma, _ := f.lookup(a)
		mb, _ := f.lookup(b)
		if ma == nil || mb == nil {
			return int(a - b)
		}
		if ma.StartLevel() != mb.StartLevel() {
			return ma.StartLevel() - mb.StartLevel()
		}
		return int(a - b)
	})
	for _, id := range restart {
		if _, ok := f.lookup(id); !ok {
			continue
		}
		errs = multierr.Append(errs, f.Start(ctx, id, StartOptions{}))
	}
	return errs
}
