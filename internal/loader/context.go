// Package loader answers class and resource lookups for one module through an
// ordered chain of strategies: the module's own archive (with its fragments),
// then statically wired providers, then on-demand dynamic imports. A lookup
// that no strategy answers fails with ErrNotFound.
package loader

import (
	"context"
	"iter"
	"sync"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Wiring is the committed graph view the strategies consult.
type Wiring interface {
	RequiredWires(rev *module.Revision, namespace string) []*module.Wire
	WalkRequires(rev *module.Revision) iter.Seq[*module.Revision]
	WalkFragments(host *module.Revision) iter.Seq[*module.Revision]
}

// Context is the classloading context of one resolved module.
type Context struct {
	rev        *module.Revision
	wiring     Wiring
	strategies []Strategy

	mu    sync.Mutex
	cache map[string]Entry
}

// NewContext builds the default chain. resolve may be nil, in which case the
// module never resolves dynamic imports.
func NewContext(rev *module.Revision, wiring Wiring, resolve ResolveFunc) *Context {
	return NewContextWith(rev, wiring, LocalStrategy{}, WiredStrategy{}, DynamicStrategy{Resolve: resolve})
}

func NewContextWith(rev *module.Revision, wiring Wiring, strategies ...Strategy) *Context {
	return &Context{rev: rev, wiring: wiring, strategies: strategies, cache: map[string]Entry{}}
}

func (c *Context) Revision() *module.Revision { return c.rev }

// LoadClass locates className without reading it.
func (c *Context) LoadClass(ctx context.Context, className string) (Entry, error) {
	return c.find(ctx, ClassRequest(className))
}

// FindClass returns the bytes of className.
func (c *Context) FindClass(ctx context.Context, className string) ([]byte, error) {
	e, err := c.LoadClass(ctx, className)
	if err != nil {
		return nil, err
	}
	return e.Read()
}

// FindResource returns the location of the first visible entry for name.
func (c *Context) FindResource(ctx context.Context, name string) (Entry, error) {
	return c.find(ctx, ResourceRequest(name))
}

// FindResources lazily yields the location of every visible entry for name,
// in strategy order and without duplicates.
func (c *Context) FindResources(ctx context.Context, name string) iter.Seq[string] {
	req := ResourceRequest(name)
	return func(yield func(string) bool) {
		seen := map[string]bool{}
		for _, s := range c.strategies {
			for _, e := range s.All(ctx, c, req) {
				loc := e.Location()
				if seen[loc] {
					continue
				}
				seen[loc] = true
				if !yield(loc) {
					return
				}
			}
		}
	}
}

// Invalidate drops cached lookups. Called whenever the wiring around the
// module changes.
func (c *Context) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cache)
}

func (c *Context) find(ctx context.Context, req Request) (Entry, error) {
	c.mu.Lock()
	e, ok := c.cache[req.Path]
	c.mu.Unlock()
	if ok {
		return e, nil
	}

	for _, s := range c.strategies {
		if e, ok := s.Find(ctx, c, req); ok {
			e.Strategy = s.Name()
			// A dynamic hit committed a wire; later lookups follow it through
			// the wired strategy and are cached from there.
			if e.Strategy != (DynamicStrategy{}).Name() {
				c.mu.Lock()
				c.cache[req.Path] = e
				c.mu.Unlock()
			}
			return e, nil
		}
	}
	return Entry{}, &NotFoundError{Module: c.rev, Name: req.Name}
}

// units returns rev followed by its attached fragments.
func (c *Context) units(rev *module.Revision) []*module.Revision {
	out := []*module.Revision{rev}
	for f := range c.wiring.WalkFragments(rev) {
		out = append(out, f)
	}
	return out
}

func (c *Context) packageWire(pkg string) (*module.Wire, bool) {
	for _, w := range c.wiring.RequiredWires(c.rev, module.NamespacePackage) {
		if w.Capability.Value() == pkg {
			return w, true
		}
	}
	return nil, false
}

// dynamicImport returns the first dynamic import of the module or its
// fragments whose pattern covers pkg.
func (c *Context) dynamicImport(pkg string) *module.Requirement {
	for _, u := range c.units(c.rev) {
		for _, q := range u.DynamicImports() {
			if module.MatchName(q.Value(), pkg) {
				return q
			}
		}
	}
	return nil
}
