package framework

import (
	"sync"

	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/loader"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Module is the framework's record of one installed module, addressed by ID.
// It holds no reference back to the framework; everything that needs one
// looks the module up by ID.
type Module struct {
	id     module.ID
	record *lifecycle.Record

	mu         sync.RWMutex
	location   string
	rev        *module.Revision
	stale      *module.Revision
	loader     *loader.Context
	mctx       *ModuleContext
	startLevel int
	persistent bool
	activated  uint64
}

func (m *Module) ID() module.ID { return m.id }

func (m *Module) Revision() *module.Revision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rev
}

func (m *Module) Location() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.location
}

func (m *Module) State() lifecycle.State { return m.record.State() }

func (m *Module) LastModified() uint64 { return m.record.LastModified() }

func (m *Module) StartLevel() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startLevel
}

// Persistent reports whether the module was last started non-transiently,
// so that refresh and update start it again.
func (m *Module) Persistent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persistent
}

func (m *Module) String() string { return m.Revision().String() }

func (m *Module) setPersistent(p bool) {
	m.mu.Lock()
	m.persistent = p
	m.mu.Unlock()
}

func (m *Module) loaderContext() *loader.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loader
}

func (m *Module) setLoader(lc *loader.Context) {
	m.mu.Lock()
	m.loader = lc
	m.mu.Unlock()
}

func (m *Module) context() *ModuleContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mctx
}

func (m *Module) setContext(mc *ModuleContext, activated uint64) {
	m.mu.Lock()
	m.mctx = mc
	m.activated = activated
	m.mu.Unlock()
}

func (m *Module) takeContext() *ModuleContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc := m.mctx
	m.mctx = nil
	return mc
}

func (m *Module) activation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activated
}

// replace swaps in rev and remembers the previous revision until the wiring
// catches up.
func (m *Module) replace(rev *module.Revision, location string, defaultLevel int) *module.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.rev
	m.rev = rev
	m.stale = old
	if location != "" {
		m.location = location
	}
	m.startLevel = startLevel(rev, defaultLevel)
	return old
}

func (m *Module) takeStale() *module.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stale
	m.stale = nil
	return s
}

func startLevel(rev *module.Revision, defaultLevel int) int {
	if rev.StartLevel > 0 {
		return rev.StartLevel
	}
	return defaultLevel
}
