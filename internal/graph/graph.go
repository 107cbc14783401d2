// Package graph holds committed wirings and answers walks over them.
//
// The graph is a directed multigraph over module revisions. Wires are added
// only by Commit, with the result of a successful resolution, and removed only
// by Discard when a revision is unresolved.
package graph

import (
	"iter"
	"sort"
	"sync"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/resolver"
)

// Wiring is one revision's outgoing (required) and incoming (provided) wires,
// partitioned by namespace.
type Wiring struct {
	Revision *module.Revision

	required map[string][]*module.Wire
	provided map[string][]*module.Wire
	// virtual holds requirements wired on behalf of the revision that it does
	// not declare itself, such as dynamic imports.
	virtual []*module.Requirement
}

func newWiring(rev *module.Revision) *Wiring {
	return &Wiring{
		Revision: rev,
		required: map[string][]*module.Wire{},
		provided: map[string][]*module.Wire{},
	}
}

// Requirements returns the declared requirements plus any materialized ones.
func (w *Wiring) Requirements() []*module.Requirement {
	return append(w.Revision.Requirements(""), w.virtual...)
}

// Graph is safe for concurrent use.
type Graph struct {
	mu      sync.RWMutex
	wirings map[*module.Revision]*Wiring
}

var _ resolver.Baseline = (*Graph)(nil)

func New() *Graph {
	return &Graph{wirings: map[*module.Revision]*Wiring{}}
}

// Commit records a resolution result. Revisions already in the graph keep
// their wiring and gain the new wires.
func (g *Graph) Commit(res resolver.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rev := range res.Resources {
		g.wiringLocked(rev)
	}
	for _, rev := range res.Resources {
		for _, w := range res.Wires[rev] {
			g.wireLocked(w)
		}
	}
}

func (g *Graph) wiringLocked(rev *module.Revision) *Wiring {
	w, ok := g.wirings[rev]
	if !ok {
		w = newWiring(rev)
		g.wirings[rev] = w
	}
	return w
}

// wireLocked records w on both endpoints. A requirement the requirer does not
// declare is materialized on its wiring first.
func (g *Graph) wireLocked(w *module.Wire) {
	requirer := g.wiringLocked(w.Requirer)
	if !w.Requirer.Declares(w.Requirement) && !containsRequirement(requirer.virtual, w.Requirement) {
		requirer.virtual = append(requirer.virtual, w.Requirement)
	}
	ns := w.Capability.Namespace
	requirer.required[ns] = append(requirer.required[ns], w)
	provider := g.wiringLocked(w.Provider)
	provider.provided[ns] = append(provider.provided[ns], w)
}

// Discard removes rev's wiring and every wire that touches it. It returns the
// revisions that lost a required wire to rev, in a stable order.
func (g *Graph) Discard(rev *module.Revision) []*module.Revision {
	g.mu.Lock()
	defer g.mu.Unlock()

	wiring, ok := g.wirings[rev]
	if !ok {
		return nil
	}
	delete(g.wirings, rev)

	affected := map[*module.Revision]bool{}
	for _, wires := range wiring.provided {
		for _, w := range wires {
			if w.Requirer == rev {
				continue
			}
			if other, ok := g.wirings[w.Requirer]; ok {
				other.required[w.Capability.Namespace] = removeWire(other.required[w.Capability.Namespace], w)
				affected[w.Requirer] = true
			}
		}
	}
	for _, wires := range wiring.required {
		for _, w := range wires {
			if w.Provider == rev {
				continue
			}
			if other, ok := g.wirings[w.Provider]; ok {
				other.provided[w.Capability.Namespace] = removeWire(other.provided[w.Capability.Namespace], w)
			}
		}
	}
	// Capabilities rev contributed to a host as a fragment.
	for _, other := range g.wirings {
		for ns, wires := range other.provided {
			for _, w := range wires {
				if w.Capability.Declarer() != rev {
					continue
				}
				other.provided[ns] = removeWire(other.provided[ns], w)
				if requirer, ok := g.wirings[w.Requirer]; ok {
					requirer.required[ns] = removeWire(requirer.required[ns], w)
					affected[w.Requirer] = true
				}
			}
		}
	}

	out := make([]*module.Revision, 0, len(affected))
	for r := range affected {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wiring returns a copy of rev's wiring.
func (g *Graph) Wiring(rev *module.Revision) (*Wiring, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.wirings[rev]
	if !ok {
		return nil, false
	}
	cp := newWiring(rev)
	for ns, wires := range w.required {
		cp.required[ns] = append([]*module.Wire(nil), wires...)
	}
	for ns, wires := range w.provided {
		cp.provided[ns] = append([]*module.Wire(nil), wires...)
	}
	cp.virtual = append(cp.virtual, w.virtual...)
	return cp, true
}

func (g *Graph) IsResolved(rev *module.Revision) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.wirings[rev]
	return ok
}

// RequiredWires returns rev's outgoing wires in ns, or in every namespace when
// ns is empty.
func (g *Graph) RequiredWires(rev *module.Revision, ns string) []*module.Wire {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.wirings[rev]
	if !ok {
		return nil
	}
	return collect(w.required, ns)
}

// ProvidedWires returns rev's incoming wires in ns, or in every namespace when
// ns is empty.
func (g *Graph) ProvidedWires(rev *module.Revision, ns string) []*module.Wire {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.wirings[rev]
	if !ok {
		return nil
	}
	return collect(w.provided, ns)
}

func collect(byNamespace map[string][]*module.Wire, ns string) []*module.Wire {
	if ns != "" {
		return append([]*module.Wire(nil), byNamespace[ns]...)
	}
	keys := make([]string, 0, len(byNamespace))
	for k := range byNamespace {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []*module.Wire
	for _, k := range keys {
		out = append(out, byNamespace[k]...)
	}
	return out
}

// WalkRequires yields every revision transitively reachable from rev by
// following required wires, nearest first. rev itself is not yielded.
func (g *Graph) WalkRequires(rev *module.Revision) iter.Seq[*module.Revision] {
	return g.walk(rev, func(r *module.Revision) []*module.Revision {
		return providers(g.RequiredWires(r, ""))
	})
}

// WalkProvides yields every revision that transitively depends on rev by
// following provided wires, nearest first.
func (g *Graph) WalkProvides(rev *module.Revision) iter.Seq[*module.Revision] {
	return g.walk(rev, func(r *module.Revision) []*module.Revision {
		return requirers(g.ProvidedWires(r, ""))
	})
}

// WalkFragments yields the fragments attached to host, directly or through
// other fragments.
func (g *Graph) WalkFragments(host *module.Revision) iter.Seq[*module.Revision] {
	return g.walk(host, func(r *module.Revision) []*module.Revision {
		return requirers(g.ProvidedWires(r, module.NamespaceHost))
	})
}

func (g *Graph) walk(start *module.Revision, next func(*module.Revision) []*module.Revision) iter.Seq[*module.Revision] {
	return func(yield func(*module.Revision) bool) {
		visited := map[*module.Revision]bool{start: true}
		queue := []*module.Revision{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, n := range next(cur) {
				if visited[n] {
					continue
				}
				visited[n] = true
				if !yield(n) {
					return
				}
				queue = append(queue, n)
			}
		}
	}
}

func providers(wires []*module.Wire) []*module.Revision {
	out := make([]*module.Revision, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.Provider)
	}
	return out
}

func requirers(wires []*module.Wire) []*module.Revision {
	out := make([]*module.Revision, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.Requirer)
	}
	return out
}

// FindEntries lists archive entries visible to rev: its own, those of its
// attached fragments, and those of every revision it transitively requires.
func (g *Graph) FindEntries(rev *module.Revision, dir, pattern string, recurse bool) []string {
	var out []string
	add := func(r *module.Revision) {
		if r.Archive != nil {
			out = append(out, r.Archive.Entries(dir, pattern, recurse)...)
		}
	}
	add(rev)
	for frag := range g.WalkFragments(rev) {
		add(frag)
	}
	for dep := range g.WalkRequires(rev) {
		add(dep)
	}
	return out
}

// Resources returns every revision with a wiring, ordered by module ID.
func (g *Graph) Resources() []*module.Revision {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*module.Revision, 0, len(g.wirings))
	for rev := range g.wirings {
		out = append(out, rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WireRecord is a comparable view of one wire.
type WireRecord struct {
	Requirer  string `json:"requirer"`
	Namespace string `json:"namespace"`
	Value     string `json:"value"`
	Provider  string `json:"provider"`
	Declarer  string `json:"declarer"`
}

// Snapshot returns every wire, sorted.
func (g *Graph) Snapshot() []WireRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []WireRecord
	for _, w := range g.wirings {
		for _, wires := range w.required {
			for _, wire := range wires {
				out = append(out, WireRecord{
					Requirer:  wire.Requirer.String(),
					Namespace: wire.Capability.Namespace,
					Value:     wire.Capability.Value(),
					Provider:  wire.Provider.String(),
					Declarer:  wire.Capability.Declarer().String(),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Requirer != b.Requirer {
			return a.Requirer < b.Requirer
		}
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.Provider < b.Provider
	})
	return out
}

// Len returns the number of wires in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, w := range g.wirings {
		for _, wires := range w.required {
			n += len(wires)
		}
	}
	return n
}

func removeWire(wires []*module.Wire, target *module.Wire) []*module.Wire {
	out := make([]*module.Wire, 0, len(wires))
	for _, w := range wires {
		if w != target {
			out = append(out, w)
		}
	}
	return out
}

func containsRequirement(reqs []*module.Requirement, q *module.Requirement) bool {
	for _, r := range reqs {
		if r == q {
			return true
		}
	}
	return false
}
