// Package framework is the runtime's boundary. It keeps the arena of module
// records and drives them through installation, resolution, activation and
// removal, with the capability index, the wiring graph, the lifecycle records
// and the classloading contexts working underneath.
package framework

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-runtime/internal/archive"
	"github.com/bayleafwalker/bindery-runtime/internal/config"
	"github.com/bayleafwalker/bindery-runtime/internal/graph"
	"github.com/bayleafwalker/bindery-runtime/internal/index"
	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/metrics"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/resolver"
	"github.com/bayleafwalker/bindery-runtime/internal/scheduler"
	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// Opener opens the archive at a module location.
type Opener func(location string) (archive.Archive, error)

type options struct {
	log        logr.Logger
	registerer prometheus.Registerer
	hooks      resolver.HookFactory
	extensions []resolver.Resolver
	component  ComponentHook
	open       Opener
}

type Option func(*options)

func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegisterer registers the runtime's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithResolverHooks(f resolver.HookFactory) Option {
	return func(o *options) { o.hooks = f }
}

// WithResolverExtensions runs extra resolvers after the default one, each
// seeing the wires produced before it.
func WithResolverExtensions(r ...resolver.Resolver) Option {
	return func(o *options) { o.extensions = append(o.extensions, r...) }
}

func WithComponentHook(h ComponentHook) Option {
	return func(o *options) { o.component = h }
}

func WithOpener(open Opener) Option {
	return func(o *options) { o.open = open }
}

type Framework struct {
	cfg       config.Config
	log       logr.Logger
	id        string
	open      Opener
	repo      *index.Repository
	graph     *graph.Graph
	resolver  resolver.Resolver
	dynamic   *resolver.DefaultResolver
	sched     *scheduler.Scheduler
	notifier  *lifecycle.Notifier
	metrics   *metrics.Metrics
	component ComponentHook

	// resolveMu serializes resolve-and-commit so every resolution sees a
	// consistent committed graph.
	resolveMu   sync.Mutex
	flight      singleflight.Group
	nextID      atomic.Int64
	activations atomic.Uint64

	mu         sync.RWMutex
	modules    map[module.ID]*Module
	locations  map[string]module.ID
	activators map[string]ActivatorFactory
	services   map[string][]service
	serviceSeq uint64
	// uninstalled remembers removed IDs; IDs are never reused.
	uninstalled sets.Set[module.ID]
}

func New(cfg config.Config, opts ...Option) *Framework {
	o := options{log: logr.Discard(), open: func(location string) (archive.Archive, error) { return archive.Open(location) }}
	for _, opt := range opts {
		opt(&o)
	}

	def := resolver.NewDefault(resolver.WithHooks(o.hooks), resolver.WithBootPackages(cfg.BootPackages...))
	chain := resolver.Chain{def}
	chain = append(chain, o.extensions...)

	id := uuid.NewString()
	f := &Framework{
		cfg:        cfg,
		log:        o.log.WithValues("framework", id),
		id:         id,
		open:       o.open,
		repo:       index.New(),
		graph:      graph.New(),
		resolver:   chain,
		dynamic:    def,
		sched:      scheduler.New(cfg.Workers),
		metrics:    metrics.New(o.registerer),
		component:  o.component,
		modules:    map[module.ID]*Module{},
		locations:  map[string]module.ID{},
		activators: map[string]ActivatorFactory{},
		services:   map[string][]service{},

		uninstalled: sets.New[module.ID](),
	}
	f.notifier = lifecycle.NewNotifier(id, f.log.WithName("events"))
	f.notifier.Subscribe(f.observe)
	return f
}

// ID identifies this framework instance; it is stamped on every event.
func (f *Framework) ID() string { return f.id }

func (f *Framework) ctx(ctx context.Context) context.Context {
	return logr.NewContext(ctx, f.log)
}

// Subscribe registers a lifecycle listener and returns its unsubscribe
// function.
func (f *Framework) Subscribe(l lifecycle.Listener) func() {
	return f.notifier.Subscribe(l)
}

// RegisterActivator makes factory available to modules naming it as their
// activator.
func (f *Framework) RegisterActivator(name string, factory ActivatorFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activators[name] = factory
}

func (f *Framework) activator(name string) (ActivatorFactory, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.activators[name]
	return a, ok
}

// Init installs and resolves a placeholder system module carrying only its
// identity. Boot replaces it with the full system module.
func (f *Framework) Init(ctx context.Context) error {
	ctx = f.ctx(ctx)
	if _, ok := f.lookup(module.SystemID); ok {
		return nil
	}
	rev, err := f.systemRevision(false)
	if err != nil {
		return err
	}
	m := f.addModule(module.SystemID, "system:"+rev.SymbolicName, rev, lifecycle.AsSystem())
	return f.sched.Serialize(ctx, module.SystemID, m.record.Resolve)
}

// Boot brings the runtime up: the system module gains its exported packages,
// the modules directory is installed and resolved, and modules are started in
// ascending start level. Failures of individual modules are collected and
// returned once boot has done everything it can.
func (f *Framework) Boot(ctx context.Context) error {
	ctx = f.ctx(ctx)
	if err := f.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	sys, _ := f.lookup(module.SystemID)
	full, err := f.systemRevision(true)
	if err != nil {
		return err
	}
	err = f.sched.Serialize(ctx, module.SystemID, func(ctx context.Context) error {
		sys.replace(full, "", f.cfg.DefaultStartLevel)
		if err := f.repo.Index(full); err != nil {
			return err
		}
		f.repo.Commit()
		// The system module is already resolved; resolving it again resets it
		// onto the new revision.
		if err := sys.record.Resolve(ctx); err != nil {
			return err
		}
		return sys.record.Start(ctx, lifecycle.StartOptions{})
	})
	if err != nil {
		return fmt.Errorf("boot system module: %w", err)
	}

	var errs error
	locations, err := ModuleLocations(f.cfg.ModulesDir)
	errs = multierr.Append(errs, err)
	mods, err := f.InstallMany(ctx, locations)
	errs = multierr.Append(errs, err)

	var ids []module.ID
	for _, m := range mods {
		if m != nil {
			ids = append(ids, m.ID())
		}
	}
	errs = multierr.Append(errs, f.Resolve(ctx, nil, ids))
	errs = multierr.Append(errs, f.startByLevel(ctx, ids))
	f.log.Info("booted", "modules", len(ids), "wires", f.graph.Len())
	return errs
}

func (f *Framework) systemRevision(full bool) (*module.Revision, error) {
	var packages []string
	if full {
		packages = f.cfg.System.Packages
	}
	return SystemRevision(f.cfg.System.Name, f.cfg.System.Version, packages)
}

// SystemRevision builds the revision of the system module, exporting
// packages at the module's version.
func SystemRevision(name, version string, packages []string) (*module.Revision, error) {
	v, err := semver.ParseVersion(version)
	if err != nil {
		return nil, fmt.Errorf("system module version: %w", err)
	}
	b := module.NewBuilder(module.SystemID, name, v).System()
	for _, pkg := range packages {
		b.Export(pkg, version, nil)
	}
	return b.Build()
}

// ModuleLocations lists the module archives in dir: subdirectories and
// .zip/.jar files. A missing dir holds no modules.
func ModuleLocations(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read modules dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch ext := strings.ToLower(filepath.Ext(e.Name())); {
		case e.IsDir(), ext == ".zip", ext == ".jar":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// startByLevel starts the resolved, non-fragment modules among ids, one start
// level at a time, lowest first.
func (f *Framework) startByLevel(ctx context.Context, ids []module.ID) error {
	levels := map[int][]module.ID{}
	for _, id := range ids {
		m, ok := f.lookup(id)
		if !ok || m.Revision().Fragment || !m.State().IsResolved() {
			continue
		}
		levels[m.StartLevel()] = append(levels[m.StartLevel()], id)
	}
	order := make([]int, 0, len(levels))
	for l := range levels {
		order = append(order, l)
	}
	slices.Sort(order)

	var errs error
	for _, l := range order {
		err := scheduler.FanOut(ctx, f.sched, levels[l], func(ctx context.Context, id module.ID) error {
			return f.Start(ctx, id, StartOptions{})
		})
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Shutdown stops every active module, highest start level first, then waits
// for in-flight work. A scheduler timeout is returned as
// scheduler.ErrShutdownTimeout.
func (f *Framework) Shutdown(ctx context.Context) error {
	ctx = f.ctx(ctx)
	mods := f.Modules()
	slices.SortFunc(mods, func(a, b *Module) int {
		if a.StartLevel() != b.StartLevel() {
			return b.StartLevel() - a.StartLevel()
		}
		return int(b.activation()) - int(a.activation())
	})

	var errs error
	for _, m := range mods {
		if m.ID() == module.SystemID {
			continue
		}
		if s := m.State(); s == lifecycle.Starting || s == lifecycle.Active {
			errs = multierr.Append(errs, f.sched.Serialize(ctx, m.ID(), m.record.Stop))
		}
	}
	if err := f.sched.Shutdown(f.cfg.ShutdownTimeout); err != nil {
		f.metrics.ShutdownTimeout()
		errs = multierr.Append(errs, err)
	}
	for _, m := range mods {
		if a := m.Revision().Archive; a != nil {
			errs = multierr.Append(errs, a.Close())
		}
	}
	f.log.Info("shut down")
	return errs
}

func (f *Framework) addModule(id module.ID, location string, rev *module.Revision, opts ...lifecycle.RecordOption) *Module {
	m := &Module{id: id, location: location, rev: rev, startLevel: startLevel(rev, f.cfg.DefaultStartLevel)}
	m.record = lifecycle.NewRecord(id, rev.SymbolicName, moduleActions{f: f, id: id}, f.notifier, opts...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[id] = m
	f.locations[location] = id
	return m
}

func (f *Framework) forget(m *Module) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.modules[m.id]; ok && existing == m {
		delete(f.modules, m.id)
		f.uninstalled.Insert(m.id)
	}
	if id, ok := f.locations[m.Location()]; ok && id == m.id {
		delete(f.locations, m.Location())
	}
}

func (f *Framework) lookup(id module.ID) (*Module, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.modules[id]
	return m, ok
}

// moduleOf returns the module whose current revision is rev.
func (f *Framework) moduleOf(rev *module.Revision) *Module {
	if m, ok := f.lookup(rev.ID); ok && m.Revision() == rev {
		return m
	}
	return nil
}

func (f *Framework) Module(id module.ID) (*Module, error) {
	m, ok := f.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}
	return m, nil
}

// Modules returns every installed module ordered by ID.
func (f *Framework) Modules() []*Module {
	f.mu.RLock()
	out := make([]*Module, 0, len(f.modules))
	for _, m := range f.modules {
		out = append(out, m)
	}
	f.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Module) int { return int(a.id - b.id) })
	return out
}

// Lookup finds an installed module by symbolic name and version.
func (f *Framework) Lookup(symbolicName, version string) (*Module, bool) {
	rev, ok := f.repo.Lookup(symbolicName, version)
	if !ok {
		return nil, false
	}
	m := f.moduleOf(rev)
	return m, m != nil
}

// Snapshot returns every committed wire.
func (f *Framework) Snapshot() []graph.WireRecord {
	return f.graph.Snapshot()
}

func (f *Framework) observe(e lifecycle.Event) {
	if e.From == e.To && e.Err == nil {
		return
	}
	f.metrics.Transition(e.Kind.String(), e.Err)
	counts := map[string]int{}
	for _, m := range f.Modules() {
		counts[m.State().String()]++
	}
	f.metrics.SetModules(counts)
	if e.Err != nil {
		f.log.V(1).Info("transition failed", "event", e.String())
	}
}

// wiringChanged drops every cached lookup after the graph changed.
func (f *Framework) wiringChanged() {
	for _, m := range f.Modules() {
		if lc := m.loaderContext(); lc != nil {
			lc.Invalidate()
		}
	}
	f.metrics.SetWires(f.graph.Len())
}
