package loader

import (
	"context"
	"path"
	"strings"

	"github.com/go-logr/logr"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Request is one lookup. Path is the archive path; Package the dotted package
// the path belongs to ("" for root entries).
type Request struct {
	Name    string
	Path    string
	Package string
	Class   bool
}

// ClassRequest maps a class name to the archive path holding it.
func ClassRequest(className string) Request {
	className = strings.TrimSuffix(className, ".class")
	p := strings.ReplaceAll(className, ".", "/") + ".class"
	return Request{Name: className, Path: p, Package: packageOf(p), Class: true}
}

func ResourceRequest(name string) Request {
	p := strings.TrimPrefix(path.Clean("/"+name), "/")
	return Request{Name: name, Path: p, Package: packageOf(p)}
}

func packageOf(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return strings.ReplaceAll(dir, "/", ".")
}

// Entry is a located class or resource. Unit is the revision whose archive
// holds it; Host is Unit's host when Unit is an attached fragment.
type Entry struct {
	Path string
	Unit *module.Revision
	Host *module.Revision
	// Strategy names the strategy that located the entry.
	Strategy string
}

// Location renders the entry as archive!/path.
func (e Entry) Location() string {
	return e.Unit.Archive.Location() + "!/" + e.Path
}

func (e Entry) Read() ([]byte, error) {
	return e.Unit.Archive.ReadFile(e.Path)
}

// Strategy is one link of a module's lookup chain. Find reports whether it
// located the request; All lists every match it can see, in order.
type Strategy interface {
	Name() string
	Find(ctx context.Context, c *Context, req Request) (Entry, bool)
	All(ctx context.Context, c *Context, req Request) []Entry
}

// LocalStrategy looks in the module's own archive and those of its attached
// fragments, following each unit's class path.
type LocalStrategy struct{}

func (LocalStrategy) Name() string { return "local" }

func (s LocalStrategy) Find(_ context.Context, c *Context, req Request) (Entry, bool) {
	return first(searchUnits(c.units(c.rev), req))
}

func (LocalStrategy) All(_ context.Context, c *Context, req Request) []Entry {
	return searchUnits(c.units(c.rev), req)
}

// WiredStrategy delegates to providers reachable over committed wires. A
// package wire for the requested package is tried first, then every
// transitively required revision, nearest first.
type WiredStrategy struct{}

func (WiredStrategy) Name() string { return "wired" }

func (s WiredStrategy) Find(_ context.Context, c *Context, req Request) (Entry, bool) {
	for _, p := range s.providers(c, req) {
		if e, ok := first(searchUnits(c.units(p), req)); ok {
			return e, true
		}
	}
	return Entry{}, false
}

func (s WiredStrategy) All(_ context.Context, c *Context, req Request) []Entry {
	var out []Entry
	for _, p := range s.providers(c, req) {
		out = append(out, searchUnits(c.units(p), req)...)
	}
	return out
}

func (WiredStrategy) providers(c *Context, req Request) []*module.Revision {
	var out []*module.Revision
	seen := map[*module.Revision]bool{c.rev: true}
	add := func(r *module.Revision) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	if req.Package != "" {
		if w, ok := c.packageWire(req.Package); ok {
			add(w.Provider)
		}
	}
	for r := range c.wiring.WalkRequires(c.rev) {
		if r.Fragment {
			continue
		}
		add(r)
	}
	return out
}

// ResolveFunc resolves and commits a dynamic requirement, returning the new
// wire.
type ResolveFunc func(ctx context.Context, q *module.Requirement) (*module.Wire, error)

// DynamicStrategy resolves an unwired package on demand when the module, or
// one of its fragments, declares a matching dynamic import. The committed
// wire lets WiredStrategy answer the next lookup for the same package.
type DynamicStrategy struct {
	Resolve ResolveFunc
}

func (DynamicStrategy) Name() string { return "dynamic" }

func (s DynamicStrategy) Find(ctx context.Context, c *Context, req Request) (Entry, bool) {
	if s.Resolve == nil || req.Package == "" {
		return Entry{}, false
	}
	if _, ok := c.packageWire(req.Package); ok {
		return Entry{}, false
	}
	q := c.dynamicImport(req.Package)
	if q == nil {
		return Entry{}, false
	}
	log := logr.FromContextOrDiscard(ctx).WithName("loader")
	w, err := s.Resolve(ctx, q.ForPackage(req.Package, c.rev))
	if err != nil {
		log.V(1).Info("dynamic import unresolved", "module", c.rev.String(), "package", req.Package, "err", err.Error())
		return Entry{}, false
	}
	log.V(1).Info("dynamic import wired", "wire", w.String())
	return first(searchUnits(c.units(w.Provider), req))
}

func (s DynamicStrategy) All(ctx context.Context, c *Context, req Request) []Entry {
	if e, ok := s.Find(ctx, c, req); ok {
		return []Entry{e}
	}
	return nil
}

func first(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// searchUnits looks for req in each unit along its class path. The first unit
// is the host; the rest are its fragments.
func searchUnits(units []*module.Revision, req Request) []Entry {
	var out []Entry
	host := units[0]
	for _, u := range units {
		if u.Archive == nil {
			continue
		}
		for _, p := range classPath(u, req.Path) {
			if u.Archive.Exists(p) {
				out = append(out, Entry{Path: p, Unit: u, Host: host})
			}
		}
	}
	return out
}

func classPath(u *module.Revision, p string) []string {
	if len(u.ClassPath) == 0 {
		return []string{p}
	}
	out := make([]string, 0, len(u.ClassPath))
	for _, cp := range u.ClassPath {
		if cp == "." || cp == "" {
			out = append(out, p)
			continue
		}
		out = append(out, path.Join(cp, p))
	}
	return out
}
