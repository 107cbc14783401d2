package framework

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/loader"
	"github.com/bayleafwalker/bindery-runtime/internal/manifest"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// moduleActions performs one module's transitions. It is always invoked by
// the module's lifecycle record while the scheduler holds the module.
type moduleActions struct {
	f  *Framework
	id module.ID
}

var _ lifecycle.Actions = moduleActions{}

func (a moduleActions) module() (*Module, error) {
	return a.f.Module(a.id)
}

func (a moduleActions) Install(context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	if err := a.f.repo.Index(m.Revision()); err != nil {
		return err
	}
	a.f.repo.Commit()
	return nil
}

func (a moduleActions) Resolve(ctx context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	rev := m.Revision()
	if !a.f.graph.IsResolved(rev) {
		res, err := a.f.commit(ctx, []*module.Revision{rev}, nil)
		if err != nil {
			return err
		}
		if err := a.f.syncResolved(ctx, res.Resources, true, a.id); err != nil {
			logFrom(ctx).Error(err, "resolving wired modules", "module", rev.String())
		}
	}
	if !rev.Fragment {
		m.setLoader(a.f.newLoader(rev))
	}
	return nil
}

// ResetSystem moves the system module's wiring onto its current revision and
// gives it a fresh classloading context.
func (a moduleActions) ResetSystem(ctx context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	if stale := m.takeStale(); stale != nil {
		a.f.resolveMu.Lock()
		affected := a.f.graph.Discard(stale)
		a.f.resolveMu.Unlock()
		if len(affected) > 0 {
			logFrom(ctx).Info("system module reset left modules needing refresh", "modules", len(affected))
		}
	}
	rev := m.Revision()
	if !a.f.graph.IsResolved(rev) {
		if _, err := a.f.commit(ctx, []*module.Revision{rev}, nil); err != nil {
			return err
		}
	}
	m.setLoader(a.f.newLoader(rev))
	return nil
}

type guardKey struct{ stopping bool }

// guarded records id in ctx for the duration of a dependency walk, so that
// cycles in the wiring do not recurse forever.
func guarded(ctx context.Context, stopping bool, id module.ID) (context.Context, sets.Set[module.ID]) {
	prev, _ := ctx.Value(guardKey{stopping}).(sets.Set[module.ID])
	next := sets.New(id)
	if prev != nil {
		next = next.Union(prev)
	}
	return context.WithValue(ctx, guardKey{stopping}, next), next
}

// StartDependencies starts the modules this one is wired to.
func (a moduleActions) StartDependencies(ctx context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	ctx, guard := guarded(ctx, false, a.id)
	var errs error
	for _, p := range a.f.providers(m.Revision()) {
		if guard.Has(p.id) {
			continue
		}
		if s := p.State(); s == lifecycle.Starting || s == lifecycle.Active {
			continue
		}
		start := func(ctx context.Context) error {
			return p.record.Start(ctx, lifecycle.StartOptions{Lazy: p.Revision().Lazy, Transient: true})
		}
		if !a.f.dependsOn(p.Revision(), m.Revision()) {
			errs = multierr.Append(errs, a.f.sched.Serialize(ctx, p.id, start))
			continue
		}
		// p is on a cycle with this module. Whoever holds p is starting it
		// and will skip this module in turn, so waiting would deadlock.
		ran, err := a.f.sched.TrySerialize(ctx, p.id, start)
		if !ran && err == nil {
			logFrom(ctx).V(1).Info("provider busy on a dependency cycle, left to its holder", "module", m.String(), "provider", p.String())
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// dependsOn reports whether from is transitively wired to to. Fragments
// stand for their host.
func (f *Framework) dependsOn(from, to *module.Revision) bool {
	for r := range f.graph.WalkRequires(from) {
		if r == to {
			return true
		}
		if r.Fragment {
			for _, hw := range f.graph.RequiredWires(r, module.NamespaceHost) {
				if hw.Provider == to {
					return true
				}
			}
		}
	}
	return false
}

func (a moduleActions) Activate(ctx context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	rev := m.Revision()
	mc := newModuleContext(a.f, a.id, logFrom(ctx).WithValues("module", rev.String()))
	m.setContext(mc, a.f.activations.Add(1))

	if rev.Activator != "" {
		factory, ok := a.f.activator(rev.Activator)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownActivator, rev.Activator)
		}
		act := factory()
		if err := act.Start(ctx, mc); err != nil {
			return err
		}
		mc.teardown.Push("activator "+rev.Activator, func(ctx context.Context) error {
			return act.Stop(ctx, mc)
		})
	}
	if h := a.f.component; h != nil {
		if err := h.ModuleActivated(ctx, m); err != nil {
			return fmt.Errorf("component hook: %w", err)
		}
		mc.teardown.Push("component hook", func(ctx context.Context) error {
			h.ModuleDeactivating(ctx, m)
			return nil
		})
	}
	return nil
}

// StopDependents stops the running modules wired to this one, most recently
// activated first.
func (a moduleActions) StopDependents(ctx context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	ctx, guard := guarded(ctx, true, a.id)
	var running []*Module
	for _, d := range a.f.dependents(m.Revision()) {
		if s := d.State(); !guard.Has(d.id) && (s == lifecycle.Starting || s == lifecycle.Active) {
			running = append(running, d)
		}
	}
	slices.SortFunc(running, func(x, y *Module) int {
		return int(y.activation()) - int(x.activation())
	})

	var errs error
	for _, d := range running {
		if !a.f.dependsOn(m.Revision(), d.Revision()) {
			errs = multierr.Append(errs, a.f.sched.Serialize(ctx, d.id, d.record.Stop))
			continue
		}
		// d is on a cycle with this module; a busy d is being handled by its
		// holder, which skips this module the same way.
		ran, err := a.f.sched.TrySerialize(ctx, d.id, d.record.Stop)
		if !ran && err == nil {
			logFrom(ctx).V(1).Info("dependent busy on a dependency cycle, left to its holder", "module", m.String(), "dependent", d.String())
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (a moduleActions) Deactivate(ctx context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	mc := m.takeContext()
	if mc == nil {
		return nil
	}
	return mc.teardown.Run(ctx)
}

// Unresolve discards the module's wiring and that of its attached fragments.
// Modules that were wired to it are unresolved too.
func (a moduleActions) Unresolve(ctx context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	rev := m.Revision()

	a.f.resolveMu.Lock()
	var fragments []*module.Revision
	for frag := range a.f.graph.WalkFragments(rev) {
		fragments = append(fragments, frag)
	}
	affected := a.f.graph.Discard(rev)
	for _, frag := range fragments {
		affected = append(affected, a.f.graph.Discard(frag)...)
	}
	a.f.resolveMu.Unlock()
	m.setLoader(nil)
	a.f.wiringChanged()

	var errs error
	seen := sets.New(a.id)
	for _, r := range append(fragments, affected...) {
		other := a.f.moduleOf(r)
		if other == nil || seen.Has(other.id) {
			continue
		}
		seen.Insert(other.id)
		ran, err := a.f.sched.TrySerialize(ctx, other.id, other.record.Unresolve)
		if !ran {
			logFrom(ctx).Info("module busy, left with stale wiring", "module", r.String())
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (a moduleActions) Uninstall(context.Context) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	rev := m.Revision()
	a.f.repo.Unindex(rev)
	a.f.forget(m)
	if rev.Archive != nil {
		return rev.Archive.Close()
	}
	return nil
}

// Update swaps the module's revision for the one at location. On failure the
// previous revision stays installed.
func (a moduleActions) Update(ctx context.Context, location string) error {
	m, err := a.module()
	if err != nil {
		return err
	}
	arch, err := a.f.open(location)
	if err != nil {
		return err
	}
	rev, err := manifest.Load(a.id, arch)
	if err != nil {
		_ = arch.Close()
		return err
	}

	old := m.Revision()
	a.f.repo.Unindex(old)
	if err := a.f.repo.Index(rev); err != nil {
		_ = a.f.repo.Index(old)
		a.f.repo.Commit()
		_ = arch.Close()
		return err
	}
	a.f.repo.Commit()

	prevLocation := m.Location()
	m.replace(rev, location, a.f.cfg.DefaultStartLevel)
	m.takeStale()
	a.f.mu.Lock()
	delete(a.f.locations, prevLocation)
	a.f.locations[location] = a.id
	a.f.mu.Unlock()

	logFrom(ctx).Info("updated", "module", rev.String(), "location", location)
	if old.Archive != nil && old.Archive != rev.Archive {
		return old.Archive.Close()
	}
	return nil
}

func (f *Framework) newLoader(rev *module.Revision) *loader.Context {
	return loader.NewContext(rev, f.graph, f.resolveDynamic)
}

// providers returns the modules rev is wired to, excluding itself and the
// system module.
func (f *Framework) providers(rev *module.Revision) []*Module {
	var out []*Module
	seen := sets.New(rev.ID, module.SystemID)
	for _, w := range f.graph.RequiredWires(rev, "") {
		if w.Capability.Namespace == module.NamespaceHost || seen.Has(w.Provider.ID) {
			continue
		}
		seen.Insert(w.Provider.ID)
		if m := f.moduleOf(w.Provider); m != nil && !w.Provider.Fragment {
			out = append(out, m)
		}
	}
	return out
}

// dependents returns the modules wired to rev. Fragments are reported as
// their host.
func (f *Framework) dependents(rev *module.Revision) []*Module {
	var out []*Module
	seen := sets.New(rev.ID)
	for _, w := range f.graph.ProvidedWires(rev, "") {
		if w.Capability.Namespace == module.NamespaceHost {
			continue
		}
		requirer := w.Requirer
		if requirer.Fragment {
			for _, hw := range f.graph.RequiredWires(requirer, module.NamespaceHost) {
				requirer = hw.Provider
			}
		}
		if seen.Has(requirer.ID) {
			continue
		}
		seen.Insert(requirer.ID)
		if m := f.moduleOf(requirer); m != nil {
			out = append(out, m)
		}
	}
	return out
}
