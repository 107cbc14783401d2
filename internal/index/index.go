// Package index is the capability repository the resolver queries.
//
// Revisions are staged with Index and published by Commit. Lookups only see
// committed content, so a batch of installs becomes visible at once.
package index

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

var ErrDuplicateModule = errors.New("duplicate module")

// DuplicateModuleError reports an identity that is already installed under a
// different module ID.
type DuplicateModuleError struct {
	SymbolicName string
	Version      string
	Existing     module.ID
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("%s: %s@%s is already installed as module %d", ErrDuplicateModule, e.SymbolicName, e.Version, e.Existing)
}

func (e *DuplicateModuleError) Unwrap() error { return ErrDuplicateModule }

type identity struct {
	name    string
	version string
}

// Repository indexes capabilities and requirements by namespace.
type Repository struct {
	mu sync.RWMutex

	staged []*module.Revision

	capabilities map[string][]*module.Capability
	requirements map[string][]*module.Requirement
	keys         sets.Set[module.Key]
	identities   map[identity]*module.Revision
	resources    sets.Set[module.ID]
}

func New() *Repository {
	return &Repository{
		capabilities: map[string][]*module.Capability{},
		requirements: map[string][]*module.Requirement{},
		keys:         sets.New[module.Key](),
		identities:   map[identity]*module.Revision{},
		resources:    sets.New[module.ID](),
	}
}

func identityOf(rev *module.Revision) identity {
	return identity{name: rev.SymbolicName, version: rev.Version.String()}
}

// Index stages rev. A revision whose symbolic name and version are already
// indexed for another module fails with ErrDuplicateModule. The system
// revision is exempt: indexing it again replaces the previous system revision
// on the next Commit.
func (r *Repository) Index(rev *module.Revision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := identityOf(rev)
	if existing, ok := r.identities[id]; ok && existing != rev && !(rev.System && existing.System) {
		return &DuplicateModuleError{SymbolicName: rev.SymbolicName, Version: id.version, Existing: existing.ID}
	}
	for _, s := range r.staged {
		if s == rev {
			return nil
		}
		if identityOf(s) == id && !(rev.System && s.System) {
			return &DuplicateModuleError{SymbolicName: rev.SymbolicName, Version: id.version, Existing: s.ID}
		}
	}
	r.staged = append(r.staged, rev)
	return nil
}

// Commit publishes every staged revision. Capabilities are deduplicated by
// their key, so committing the same revision twice is harmless.
func (r *Repository) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rev := range r.staged {
		if rev.System {
			for _, existing := range r.identities {
				if existing.System && existing != rev {
					r.unindexLocked(existing)
				}
			}
		}
		for _, c := range rev.Capabilities("") {
			k := c.Key()
			if r.keys.Has(k) {
				continue
			}
			r.keys.Insert(k)
			r.capabilities[c.Namespace] = append(r.capabilities[c.Namespace], c)
		}
		for _, q := range rev.Requirements("") {
			if containsRequirement(r.requirements[q.Namespace], q) {
				continue
			}
			r.requirements[q.Namespace] = append(r.requirements[q.Namespace], q)
		}
		r.identities[identityOf(rev)] = rev
		r.resources.Insert(rev.ID)
	}
	r.staged = nil
}

// Unindex removes everything rev contributed. Staged but uncommitted content
// is dropped as well.
func (r *Repository) Unindex(rev *module.Revision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := r.staged[:0]
	for _, s := range r.staged {
		if s != rev {
			staged = append(staged, s)
		}
	}
	r.staged = staged
	r.unindexLocked(rev)
}

func (r *Repository) unindexLocked(rev *module.Revision) {
	for ns, caps := range r.capabilities {
		kept := caps[:0]
		for _, c := range caps {
			if c.Resource == rev {
				r.keys.Delete(c.Key())
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(r.capabilities, ns)
		} else {
			r.capabilities[ns] = kept
		}
	}
	for ns, reqs := range r.requirements {
		kept := reqs[:0]
		for _, q := range reqs {
			if q.Resource != rev {
				kept = append(kept, q)
			}
		}
		if len(kept) == 0 {
			delete(r.requirements, ns)
		} else {
			r.requirements[ns] = kept
		}
	}
	if existing, ok := r.identities[identityOf(rev)]; ok && existing == rev {
		delete(r.identities, identityOf(rev))
	}
	if !r.ownsAnything(rev.ID) {
		r.resources.Delete(rev.ID)
	}
}

func (r *Repository) ownsAnything(id module.ID) bool {
	for _, caps := range r.capabilities {
		for _, c := range caps {
			if c.Resource.ID == id {
				return true
			}
		}
	}
	return false
}

// FindProviders returns committed capabilities matching q in insertion order.
// An empty or wildcard namespace searches every namespace.
func (r *Repository) FindProviders(q *module.Requirement) []*module.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*module.Capability
	if q.Namespace == "" || q.Namespace == module.Wildcard {
		for _, ns := range sets.List(sets.KeySet(r.capabilities)) {
			out = appendMatches(out, q, r.capabilities[ns])
		}
		return out
	}
	return appendMatches(out, q, r.capabilities[q.Namespace])
}

func appendMatches(out []*module.Capability, q *module.Requirement, caps []*module.Capability) []*module.Capability {
	for _, c := range caps {
		if q.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

// FindRequirers returns committed requirements that c satisfies. The resolver
// uses it with host capabilities to discover fragments.
func (r *Repository) FindRequirers(c *module.Capability) []*module.Requirement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*module.Requirement
	for _, ns := range []string{c.Namespace, module.Wildcard} {
		for _, q := range r.requirements[ns] {
			if q.Matches(c) {
				out = append(out, q)
			}
		}
	}
	return out
}

// Lookup finds an indexed revision by symbolic name and version.
func (r *Repository) Lookup(symbolicName, version string) (*module.Revision, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rev, ok := r.identities[identity{name: symbolicName, version: version}]
	return rev, ok
}

// Resources returns the IDs of every module with committed content.
func (r *Repository) Resources() []module.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sets.List(r.resources)
}

// Len returns the number of committed capabilities.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, caps := range r.capabilities {
		n += len(caps)
	}
	return n
}

func containsRequirement(reqs []*module.Requirement, q *module.Requirement) bool {
	for _, existing := range reqs {
		if existing == q {
			return true
		}
	}
	return false
}
