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
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/bayleafwalker/bindery-runtime/internal/archive"
	"github.com/bayleafwalker/bindery-runtime/internal/config"
	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/loader"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/resolver"
	"github.com/bayleafwalker/bindery-runtime/internal/scheduler"
)

// memory serves module archives from in-memory file systems.
type memory struct {
	mu  sync.Mutex
	fss map[string]fstest.MapFS
}

func newMemory() *memory { return &memory{fss: map[string]fstest.MapFS{}} }

// add registers a module at location with the given manifest body and
// class files.
func (m *memory) add(location, manifest string, classes ...string) string {
	fs := fstest.MapFS{"module.yaml": {Data: []byte(manifest)}}
	for _, c := range classes {
		fs[strings.ReplaceAll(c, ".", "/")+".class"] = &fstest.MapFile{Data: []byte(c)}
	}
	m.mu.Lock()
	m.fss[location] = fs
	m.mu.Unlock()
	return location
}

func (m *memory) open(location string) (archive.Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.fss[location]
	if !ok {
		return nil, fmt.Errorf("no archive at %s", location)
	}
	return archive.New(location, fs), nil
}

func manifestYAML(name, version string, body ...string) string {
	return fmt.Sprintf("module:\n  symbolicName: %s\n  version: %s\n%s", name, version, strings.Join(body, "\n"))
}

func exports(pkgs ...string) string {
	var b strings.Builder
	b.WriteString("exports:\n")
	for _, p := range pkgs {
		fmt.Fprintf(&b, "  - package: %s\n    version: 1.0.0\n", p)
	}
	return b.String()
}

func imports(pkgs ...string) string {
	var b strings.Builder
	b.WriteString("imports:\n")
	for _, p := range pkgs {
		fmt.Fprintf(&b, "  - package: %s\n", p)
	}
	return b.String()
}

func activator(name string, lazy bool) string {
	s := "activation:\n  activator: " + name + "\n"
	if lazy {
		s += "  policy: lazy\n"
	}
	return s
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type testActivator struct {
	name     string
	rec      *recorder
	startErr error
}

func (a *testActivator) Start(_ context.Context, mc *ModuleContext) error {
	a.rec.add("start " + a.name)
	mc.RegisterService(a.name, a.name)
	mc.OnStop("cleanup", func(context.Context) error {
		a.rec.add("cleanup " + a.name)
		return nil
	})
	return a.startErr
}

func (a *testActivator) Stop(context.Context, *ModuleContext) error {
	a.rec.add("stop " + a.name)
	return nil
}

func (r *recorder) factory(name string, startErr error) ActivatorFactory {
	return func() Activator { return &testActivator{name: name, rec: r, startErr: startErr} }
}

type testEnv struct {
	t   *testing.T
	ctx context.Context
	mem *memory
	f   *Framework
	rec *recorder
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.ModulesDir = ""
	cfg.System.Packages = []string{"bindery.api"}
	mem := newMemory()
	f := New(cfg, append([]Option{WithOpener(mem.open)}, opts...)...)
	env := &testEnv{t: t, ctx: context.Background(), mem: mem, f: f, rec: &recorder{}}
	require.NoError(t, f.Boot(env.ctx))
	return env
}

func (e *testEnv) install(location, manifest string, classes ...string) *Module {
	e.t.Helper()
	e.mem.add(location, manifest, classes...)
	m, err := e.f.Install(e.ctx, location)
	require.NoError(e.t, err)
	return m
}

func (e *testEnv) activator(name string, startErr error) {
	e.f.RegisterActivator(name, e.rec.factory(name, startErr))
}

func TestRoundTripLeavesNoTrace(t *testing.T) {
	env := newEnv(t)
	capsBefore := env.f.repo.Len()
	wiresBefore := env.f.Snapshot()
	env.activator("app", nil)

	lib := env.install("lib", manifestYAML("lib", "1.0.0", exports("com.lib")), "com.lib.Util")
	app := env.install("app", manifestYAML("app", "1.0.0", imports("com.lib", "bindery.api"), activator("app", false)))

	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{app.ID()}, nil))
	assert.Equal(t, lifecycle.Resolved, lib.State())
	require.NoError(t, env.f.Start(env.ctx, app.ID(), StartOptions{}))
	assert.Equal(t, lifecycle.Active, app.State())
	assert.Equal(t, lifecycle.Active, lib.State(), "providers start first")

	svc, ok := env.f.Service("app")
	require.True(t, ok)
	assert.Equal(t, "app", svc)

	require.NoError(t, env.f.Stop(env.ctx, app.ID(), StopOptions{}))
	require.NoError(t, env.f.Uninstall(env.ctx, app.ID()))
	require.NoError(t, env.f.Uninstall(env.ctx, lib.ID()))

	assert.Equal(t, capsBefore, env.f.repo.Len())
	assert.Equal(t, wiresBefore, env.f.Snapshot())
	_, ok = env.f.Service("app")
	assert.False(t, ok)
	assert.Equal(t, []string{"start app", "stop app", "cleanup app"}, env.rec.list())
}

func TestResolveIsIdempotent(t *testing.T) {
	env := newEnv(t)
	lib := env.install("lib", manifestYAML("lib", "1.0.0", exports("com.lib")))

	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{lib.ID()}, nil))
	stamp := lib.LastModified()
	wires := env.f.Snapshot()
	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{lib.ID()}, nil))
	assert.Equal(t, lifecycle.Resolved, lib.State())
	assert.Equal(t, stamp, lib.LastModified())
	assert.Equal(t, wires, env.f.Snapshot())

	again, err := env.f.Install(env.ctx, "lib")
	require.NoError(t, err)
	assert.Same(t, lib, again, "installing a location twice returns the installed module")

	require.NoError(t, env.f.Uninstall(env.ctx, lib.ID()))
	err = env.f.Uninstall(env.ctx, lib.ID())
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	_, err = env.f.Module(lib.ID())
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestMandatoryRequirementFails(t *testing.T) {
	env := newEnv(t)
	var events []lifecycle.Event
	env.f.Subscribe(func(e lifecycle.Event) {
		if e.Err != nil {
			events = append(events, e)
		}
	})
	app := env.install("app", manifestYAML("app", "1.0.0", imports("com.missing")))

	err := env.f.Resolve(env.ctx, []module.ID{app.ID()}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, resolver.ErrUnsatisfiedRequirement)
	assert.Equal(t, lifecycle.Installed, app.State())
	assert.False(t, env.f.graph.IsResolved(app.Revision()))
	for _, w := range env.f.Snapshot() {
		assert.NotEqual(t, app.Revision().String(), w.Requirer)
	}
	require.Len(t, events, 1)
	assert.Equal(t, app.ID(), events[0].Module)
	assert.Equal(t, env.f.ID(), events[0].Source)

	err = env.f.Start(env.ctx, app.ID(), StartOptions{})
	assert.ErrorIs(t, err, resolver.ErrUnsatisfiedRequirement)
	assert.Equal(t, lifecycle.Installed, app.State())
}

func TestFragmentAttachment(t *testing.T) {
	env := newEnv(t)
	host := env.install("host", manifestYAML("host", "1.0.0", exports("com.host")), "com.host.Main")
	frag := env.install("frag", manifestYAML("host.nl", "1.0.0",
		"fragmentHost:\n  symbolicName: host\n", exports("com.host.nl")), "com.host.nl.Messages")
	user := env.install("user", manifestYAML("user", "1.0.0", imports("com.host.nl")))

	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{frag.ID()}, nil))
	assert.Equal(t, lifecycle.Resolved, host.State())
	assert.Equal(t, lifecycle.Resolved, frag.State())

	var attached []*module.Revision
	for rev := range env.f.graph.WalkFragments(host.Revision()) {
		attached = append(attached, rev)
	}
	assert.Equal(t, []*module.Revision{frag.Revision()}, attached)

	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{user.ID()}, nil))
	wires := env.f.graph.RequiredWires(user.Revision(), module.NamespacePackage)
	require.Len(t, wires, 1)
	assert.Same(t, host.Revision(), wires[0].Provider, "fragment capabilities are provided under the host")
	assert.Same(t, frag.Revision(), wires[0].Capability.Declarer())

	data, err := env.f.FindClass(env.ctx, user.ID(), "com.host.nl.Messages")
	require.NoError(t, err)
	assert.Equal(t, "com.host.nl.Messages", string(data))

	_, err = env.f.FindClass(env.ctx, frag.ID(), "com.host.Main")
	assert.ErrorIs(t, err, ErrFragment)
	assert.ErrorIs(t, env.f.Start(env.ctx, frag.ID(), StartOptions{}), ErrFragment)
}

func TestDynamicImportIsMemoized(t *testing.T) {
	var dynamicResolutions int
	var mu sync.Mutex
	hooks := resolver.HookFactoryFunc(func(triggers []*module.Revision) resolver.Hook {
		if triggers == nil {
			mu.Lock()
			dynamicResolutions++
			mu.Unlock()
		}
		return resolver.NopHook{}
	})
	env := newEnv(t, WithResolverHooks(hooks))
	dyn := env.install("dyn", manifestYAML("dyn", "1.0.0", "dynamicImports:\n  - com.plugins.*\n"))
	plugin := env.install("plugin", manifestYAML("plugin", "1.0.0", exports("com.plugins.alpha")), "com.plugins.alpha.Plugin")
	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{dyn.ID()}, nil))
	assert.Equal(t, lifecycle.Installed, plugin.State())
	mu.Lock()
	dynamicResolutions = 0
	mu.Unlock()

	_, err := env.f.FindClass(env.ctx, dyn.ID(), "com.plugins.alpha.Plugin")
	require.NoError(t, err)
	assert.Equal(t, 1, dynamicResolutions)
	assert.Equal(t, lifecycle.Resolved, plugin.State(), "the provider is resolved on demand")

	dyn.loaderContext().Invalidate()
	_, err = env.f.FindClass(env.ctx, dyn.ID(), "com.plugins.alpha.Plugin")
	require.NoError(t, err)
	assert.Equal(t, 1, dynamicResolutions, "the second lookup follows the committed wire")

	_, err = env.f.FindClass(env.ctx, dyn.ID(), "com.other.Thing")
	assert.ErrorIs(t, err, loader.ErrNotFound)
}

func TestConcurrentResolutionMatchesSequential(t *testing.T) {
	const n = 100
	build := func() (*testEnv, []module.ID) {
		env := newEnv(t)
		var consumers []module.ID
		for i := 0; i < n; i++ {
			env.install(fmt.Sprintf("p%d", i), manifestYAML(fmt.Sprintf("p%d", i), "1.0.0", exports(fmt.Sprintf("pkg%d", i))))
			pkgs := []string{fmt.Sprintf("pkg%d", i)}
			if i%10 == 0 {
				pkgs = append(pkgs, fmt.Sprintf("missing%d", i))
			}
			c := env.install(fmt.Sprintf("c%d", i), manifestYAML(fmt.Sprintf("c%d", i), "1.0.0", imports(pkgs...)))
			consumers = append(consumers, c.ID())
		}
		return env, consumers
	}

	seq, ids := build()
	var seqErrs error
	for _, id := range ids {
		seqErrs = multierr.Append(seqErrs, seq.f.Resolve(seq.ctx, []module.ID{id}, nil))
	}

	conc, ids := build()
	concErr := conc.f.ResolveMany(conc.ctx, ids)

	assert.Equal(t, seq.f.Snapshot(), conc.f.Snapshot())
	assert.Len(t, multierr.Errors(seqErrs), n/10)
	assert.Len(t, multierr.Errors(concErr), n/10, "every failure is reported")
	for _, err := range multierr.Errors(concErr) {
		assert.ErrorIs(t, err, resolver.ErrUnsatisfiedRequirement)
	}
}

// Two callers that each hold one module of an import cycle and then start
// or stop it must not wait on each other.
func TestConcurrentTransitionsOnImportCycle(t *testing.T) {
	env := newEnv(t)
	a := env.install("a", manifestYAML("a", "1.0.0", exports("com.a"), imports("com.b")))
	b := env.install("b", manifestYAML("b", "1.0.0", exports("com.b"), imports("com.a")))
	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{a.ID(), b.ID()}, nil))

	both := func(op func(context.Context, *Module) error) error {
		var ready sync.WaitGroup
		ready.Add(2)
		done := make(chan error, 1)
		go func() {
			done <- scheduler.FanOut(env.ctx, env.f.sched, []*Module{a, b}, func(ctx context.Context, m *Module) error {
				return env.f.sched.Serialize(ctx, m.id, func(ctx context.Context) error {
					// Both callers hold their own module before either
					// reaches for the other.
					ready.Done()
					ready.Wait()
					return op(ctx, m)
				})
			})
		}()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatalf("concurrent transitions did not return (a=%s b=%s)", a.State(), b.State())
			return nil
		}
	}

	require.NoError(t, both(func(ctx context.Context, m *Module) error {
		return m.record.Start(ctx, StartOptions{})
	}))
	assert.Equal(t, lifecycle.Active, a.State())
	assert.Equal(t, lifecycle.Active, b.State())

	require.NoError(t, both(func(ctx context.Context, m *Module) error {
		return m.record.Stop(ctx)
	}))
	assert.Equal(t, lifecycle.Resolved, a.State())
	assert.Equal(t, lifecycle.Resolved, b.State())

	// A single caller still starts the whole cycle.
	require.NoError(t, env.f.Start(env.ctx, a.ID(), StartOptions{}))
	assert.Equal(t, lifecycle.Active, b.State())
}

type vetoExtension struct{ name string }

func (v vetoExtension) Resolve(_ context.Context, in resolver.Input) (resolver.Result, error) {
	for _, rev := range slices.Concat(in.Mandatory, in.Optional) {
		if rev.SymbolicName == v.name && !in.Baseline.IsResolved(rev) {
			return resolver.Result{}, fmt.Errorf("%s is not allowed", v.name)
		}
	}
	return resolver.Result{}, nil
}

func TestResolverExtensionVetoCommitsNothing(t *testing.T) {
	env := newEnv(t, WithResolverExtensions(vetoExtension{name: "vetoed"}))
	lib := env.install("lib", manifestYAML("lib", "1.0.0", exports("com.lib")))
	vetoed := env.install("vetoed", manifestYAML("vetoed", "1.0.0", imports("com.lib")))
	before := env.f.Snapshot()

	err := env.f.Resolve(env.ctx, []module.ID{vetoed.ID()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vetoed is not allowed")
	assert.Equal(t, before, env.f.Snapshot(), "nothing from the aborted attempt is committed")
	assert.Equal(t, lifecycle.Installed, vetoed.State())
	assert.Equal(t, lifecycle.Installed, lib.State())

	require.NoError(t, env.f.Resolve(env.ctx, []module.ID{lib.ID()}, nil))
	assert.Equal(t, lifecycle.Resolved, lib.State())
}

func TestStopTearsDownDependentsFirst(t *testing.T) {
	var hooked recorder
	env := newEnv(t, WithComponentHook(hookRecorder{&hooked}))
	env.activator("host", nil)
	env.activator("d1", nil)
	env.activator("d2", nil)
	host := env.install("host", manifestYAML("host", "1.0.0", exports("com.host"), activator("host", false)))
	d1 := env.install("d1", manifestYAML("d1", "1.0.0", imports("com.host"), activator("d1", false)))
	d2 := env.install("d2", manifestYAML("d2", "1.0.0", imports("com.host"), activator("d2", false)))

	require.NoError(t, env.f.Start(env.ctx, d1.ID(), StartOptions{}))
	require.NoError(t, env.f.Start(env.ctx, d2.ID(), StartOptions{}))
	require.NoError(t, env.f.Stop(env.ctx, host.ID(), StopOptions{}))

	for _, m := range []*Module{host, d1, d2} {
		assert.Equal(t, lifecycle.Resolved, m.State(), m.String())
	}
	want := []string{
		"start host", "start d1", "start d2",
		"stop d2", "cleanup d2",
		"stop d1", "cleanup d1",
		"stop host", "cleanup host",
	}
	assert.Equal(t, want, env.rec.list())
	assert.Equal(t, []string{
		"activated host", "activated d1", "activated d2",
		"deactivating d2", "deactivating d1", "deactivating host",
	}, hooked.list())
}

type hookRecorder struct{ rec *recorder }

func (h hookRecorder) ModuleActivated(_ context.Context, m *Module) error {
	if !m.Revision().System {
		h.rec.add("activated " + m.Revision().SymbolicName)
	}
	return nil
}

func (h hookRecorder) ModuleDeactivating(_ context.Context, m *Module) {
	h.rec.add("deactivating " + m.Revision().SymbolicName)
}

func TestLazyActivationOnFirstClassLoad(t *testing.T) {
	env := newEnv(t)
	env.activator("lazy", nil)
	lazy := env.install("lazy", manifestYAML("lazy", "1.0.0", exports("com.lazy"), activator("lazy", true)), "com.lazy.Service")
	app := env.install("app", manifestYAML("app", "1.0.0", imports("com.lazy")))

	require.NoError(t, env.f.Start(env.ctx, lazy.ID(), StartOptions{}))
	assert.Equal(t, lifecycle.Starting, lazy.State())
	assert.Empty(t, env.rec.list())

	_, err := env.f.FindClass(env.ctx, app.ID(), "com.lazy.Service")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Active, lazy.State())
	assert.Equal(t, []string{"start lazy"}, env.rec.list())
}

func TestActivationFailureStopsModule(t *testing.T) {
	env := newEnv(t)
	boom := errors.New("boom")
	env.activator("broken", boom)
	m := env.install("broken", manifestYAML("broken", "1.0.0", activator("broken", false)))

	err := env.f.Start(env.ctx, m.ID(), StartOptions{})
	var aerr *lifecycle.ActivationError
	require.ErrorAs(t, err, &aerr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, lifecycle.Resolved, m.State())
	_, ok := env.f.Service("broken")
	assert.False(t, ok, "registrations made before the failure are released")
	assert.Equal(t, []string{"start broken", "cleanup broken"}, env.rec.list())

	unknown := env.install("unknown", manifestYAML("unknown", "1.0.0", activator("nobody", false)))
	assert.ErrorIs(t, env.f.Start(env.ctx, unknown.ID(), StartOptions{}), ErrUnknownActivator)
}

func TestUpdateRewiresAndRestarts(t *testing.T) {
	env := newEnv(t)
	env.activator("app", nil)
	lib := env.install("lib-1", manifestYAML("lib", "1.0.0", exports("com.lib")), "com.lib.V1")
	app := env.install("app", manifestYAML("app", "1.0.0", imports("com.lib"), activator("app", false)))
	require.NoError(t, env.f.Start(env.ctx, app.ID(), StartOptions{}))

	env.mem.add("lib-2", manifestYAML("lib", "2.0.0", exports("com.lib")), "com.lib.V2")
	require.NoError(t, env.f.Update(env.ctx, lib.ID(), "lib-2"))

	assert.Equal(t, "2.0.0", lib.Revision().Version.String())
	assert.Equal(t, "lib-2", lib.Location())
	assert.Equal(t, lifecycle.Active, app.State(), "persistently started dependents restart")
	_, err := env.f.FindClass(env.ctx, app.ID(), "com.lib.V2")
	require.NoError(t, err)
	_, err = env.f.FindClass(env.ctx, app.ID(), "com.lib.V1")
	assert.ErrorIs(t, err, loader.ErrNotFound)
	assert.Equal(t, []string{"start app", "stop app", "cleanup app", "start app"}, env.rec.list())

	found, ok := env.f.Lookup("lib", "2.0.0")
	require.True(t, ok)
	assert.Same(t, lib, found)
	_, ok = env.f.Lookup("lib", "1.0.0")
	assert.False(t, ok)
}

func TestRefreshRestoresWiring(t *testing.T) {
	env := newEnv(t)
	lib := env.install("lib", manifestYAML("lib", "1.0.0", exports("com.lib")))
	app := env.install("app", manifestYAML("app", "1.0.0", imports("com.lib")))
	require.NoError(t, env.f.Start(env.ctx, app.ID(), StartOptions{Transient: true}))
	before := env.f.Snapshot()

	require.NoError(t, env.f.Refresh(env.ctx, []module.ID{lib.ID()}))
	assert.Equal(t, before, env.f.Snapshot())
	assert.Equal(t, lifecycle.Resolved, app.State(), "transient starts are not restored")
	assert.Equal(t, lifecycle.Resolved, lib.State())
}

func TestSystemModuleIsProtected(t *testing.T) {
	env := newEnv(t)
	sys, err := env.f.Module(module.SystemID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Active, sys.State())
	assert.True(t, sys.Revision().System)
	assert.Len(t, sys.Revision().Capabilities(module.NamespacePackage), 1)

	assert.ErrorIs(t, env.f.Uninstall(env.ctx, module.SystemID), ErrSystemModule)
	assert.ErrorIs(t, env.f.Stop(env.ctx, module.SystemID, StopOptions{}), ErrSystemModule)
}

func TestBootStartsByLevelAndShutsDown(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name, "module.yaml"), []byte(body), 0o644))
	}
	write("a", manifestYAML("a", "1.0.0", exports("com.a"), activator("a", false), "startLevel: 1\n"))
	write("b", manifestYAML("b", "1.0.0", imports("com.a"), activator("b", false), "startLevel: 2\n"))
	write("c", manifestYAML("c", "1.0.0", imports("com.missing")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a module"), 0o644))

	cfg := config.Default()
	cfg.ModulesDir = dir
	f := New(cfg)
	rec := &recorder{}
	f.RegisterActivator("a", rec.factory("a", nil))
	f.RegisterActivator("b", rec.factory("b", nil))
	ctx := context.Background()

	require.NoError(t, f.Boot(ctx), "unresolvable modules stay installed without failing boot")
	states := map[string]lifecycle.State{}
	for _, m := range f.Modules() {
		states[m.Revision().SymbolicName] = m.State()
	}
	assert.Equal(t, map[string]lifecycle.State{
		cfg.System.Name: lifecycle.Active,
		"a":             lifecycle.Active,
		"b":             lifecycle.Active,
		"c":             lifecycle.Installed,
	}, states)

	require.NoError(t, f.Shutdown(ctx))
	assert.Equal(t, []string{"start a", "start b", "stop b", "cleanup b", "stop a", "cleanup a"}, rec.list())

	write("d", manifestYAML("d", "1.0.0"))
	_, err := f.Install(ctx, filepath.Join(dir, "d"))
	assert.ErrorIs(t, err, scheduler.ErrClosed)
}
