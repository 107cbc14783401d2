// Package module defines module revisions and the capability/requirement model
// the resolver works on.
//
// A Revision is the immutable descriptor of one installed module version. It
// owns a list of Capabilities (what it offers) and Requirements (what it
// needs), each scoped to a namespace. A Requirement matches a Capability when
// its namespace, attributes and optional filter expression agree with the
// capability's attributes. A Wire is a resolved binding of one requirement to
// one capability.
package module

import (
	"fmt"
	"strings"

	"github.com/bayleafwalker/bindery-runtime/internal/archive"
	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// ID addresses a module record in the framework arena. IDs are never reused
// while the framework runs; the system module is always 0.
type ID int64

const SystemID ID = 0

// Well-known namespaces. Capabilities in these namespaces use structural
// matching; any other namespace is generic and matched by attribute equality.
const (
	NamespaceIdentity = "identity"
	NamespaceHost     = "host"
	NamespacePackage  = "package"
	NamespaceModule   = "module"

	// Wildcard as a requirement namespace searches every namespace.
	Wildcard = "*"
)

const (
	AttributeVersion = "version"
	AttributeType    = "type"

	DirectiveFilter      = "filter"
	DirectiveResolution  = "resolution"
	DirectiveCardinality = "cardinality"
	DirectiveSingleton   = "singleton"

	ResolutionMandatory = "mandatory"
	ResolutionOptional  = "optional"
	ResolutionDynamic   = "dynamic"

	CardinalitySingle   = "single"
	CardinalityMultiple = "multiple"

	TypeModule   = "module"
	TypeFragment = "fragment"
)

// Revision is an installed module's immutable descriptor.
type Revision struct {
	ID           ID
	SymbolicName string
	Version      semver.Version
	Fragment     bool
	System       bool
	Activator    string
	Lazy         bool
	ClassPath    []string
	StartLevel   int
	Archive      archive.Archive

	capabilities []*Capability
	requirements []*Requirement
}

func (r *Revision) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%s[%d]", r.SymbolicName, r.Version, r.ID)
}

// Capabilities returns the declared capabilities in ns, or all of them when ns
// is empty or the wildcard.
func (r *Revision) Capabilities(ns string) []*Capability {
	if ns == "" || ns == Wildcard {
		return append([]*Capability(nil), r.capabilities...)
	}
	var out []*Capability
	for _, c := range r.capabilities {
		if c.Namespace == ns {
			out = append(out, c)
		}
	}
	return out
}

// Requirements returns the declared requirements in ns, or all of them when ns
// is empty or the wildcard.
func (r *Revision) Requirements(ns string) []*Requirement {
	if ns == "" || ns == Wildcard {
		return append([]*Requirement(nil), r.requirements...)
	}
	var out []*Requirement
	for _, q := range r.requirements {
		if q.Namespace == ns {
			out = append(out, q)
		}
	}
	return out
}

// Identity returns the revision's identity capability.
func (r *Revision) Identity() *Capability {
	for _, c := range r.capabilities {
		if c.Namespace == NamespaceIdentity {
			return c
		}
	}
	return nil
}

// Declares reports whether req is one of the revision's own requirements.
func (r *Revision) Declares(req *Requirement) bool {
	for _, q := range r.requirements {
		if q == req {
			return true
		}
	}
	return false
}

// DynamicImports returns the dynamic package requirements of the revision.
func (r *Revision) DynamicImports() []*Requirement {
	var out []*Requirement
	for _, q := range r.requirements {
		if q.Namespace == NamespacePackage && q.Dynamic() {
			out = append(out, q)
		}
	}
	return out
}

// Singleton reports whether the identity capability carries singleton:=true.
func (r *Revision) Singleton() bool {
	id := r.Identity()
	return id != nil && strings.EqualFold(id.Directives[DirectiveSingleton], "true")
}

// Builder assembles a Revision. The first error is sticky and reported by
// Build.
type Builder struct {
	rev       *Revision
	singleton bool
	err       error
}

// NewBuilder starts a revision with its identity capability. Non-fragment
// revisions also provide host and module capabilities under their name.
func NewBuilder(id ID, symbolicName string, version semver.Version) *Builder {
	rev := &Revision{ID: id, SymbolicName: symbolicName, Version: version}
	return &Builder{rev: rev}
}

func (b *Builder) System() *Builder {
	b.rev.System = true
	return b
}

func (b *Builder) Singleton() *Builder {
	b.singleton = true
	return b
}

func (b *Builder) Archive(a archive.Archive) *Builder {
	b.rev.Archive = a
	return b
}

func (b *Builder) Activator(name string, lazy bool) *Builder {
	b.rev.Activator = name
	b.rev.Lazy = lazy
	return b
}

func (b *Builder) ClassPath(entries ...string) *Builder {
	b.rev.ClassPath = append(b.rev.ClassPath, entries...)
	return b
}

func (b *Builder) StartLevel(level int) *Builder {
	b.rev.StartLevel = level
	return b
}

// FragmentOf turns the revision into a fragment of the named host.
func (b *Builder) FragmentOf(hostName, versionRange string) *Builder {
	b.rev.Fragment = true
	return b.Require(NamespaceHost, map[string]any{
		NamespaceHost:    hostName,
		AttributeVersion: versionRange,
	}, nil)
}

// Export provides a package.
func (b *Builder) Export(pkg, version string, attrs map[string]any) *Builder {
	all := map[string]any{NamespacePackage: pkg, AttributeVersion: version}
	for k, v := range attrs {
		all[k] = v
	}
	return b.Provide(NamespacePackage, all, nil)
}

// Import requires a package. mode is one of the Resolution* constants; empty
// means mandatory.
func (b *Builder) Import(pkg, versionRange, mode string) *Builder {
	return b.Require(NamespacePackage, map[string]any{
		NamespacePackage: pkg,
		AttributeVersion: versionRange,
	}, resolutionDirectives(mode))
}

// DynamicImport declares a package pattern ("com.acme.*" or "*") that may be
// wired on demand at class load time.
func (b *Builder) DynamicImport(pattern string) *Builder {
	return b.Require(NamespacePackage, map[string]any{NamespacePackage: pattern},
		map[string]string{DirectiveResolution: ResolutionDynamic, DirectiveCardinality: CardinalitySingle})
}

// RequireModule requires every package visible through another module.
func (b *Builder) RequireModule(name, versionRange, mode string) *Builder {
	return b.Require(NamespaceModule, map[string]any{
		NamespaceModule:  name,
		AttributeVersion: versionRange,
	}, resolutionDirectives(mode))
}

// Provide adds a capability in any namespace.
func (b *Builder) Provide(ns string, attrs map[string]any, directives map[string]string) *Builder {
	if b.err != nil {
		return b
	}
	c, err := NewCapability(ns, attrs, directives, b.rev)
	if err != nil {
		b.err = err
		return b
	}
	b.rev.capabilities = append(b.rev.capabilities, c)
	return b
}

// Require adds a requirement in any namespace.
func (b *Builder) Require(ns string, attrs map[string]any, directives map[string]string) *Builder {
	if b.err != nil {
		return b
	}
	q, err := NewRequirement(ns, attrs, directives, b.rev)
	if err != nil {
		b.err = fmt.Errorf("module %s: %w", b.rev.SymbolicName, err)
		return b
	}
	b.rev.requirements = append(b.rev.requirements, q)
	return b
}

// Build finishes the revision, prepending the identity capability and, for
// non-fragments, the host and module capabilities.
func (b *Builder) Build() (*Revision, error) {
	if b.err != nil {
		return nil, b.err
	}
	rev := b.rev
	if strings.TrimSpace(rev.SymbolicName) == "" {
		return nil, fmt.Errorf("module %d: symbolic name is required", rev.ID)
	}

	kind := TypeModule
	if rev.Fragment {
		kind = TypeFragment
	}
	var directives map[string]string
	if b.singleton {
		directives = map[string]string{DirectiveSingleton: "true"}
	}
	builtin := []*Capability{{
		Namespace: NamespaceIdentity,
		Attributes: map[string]any{
			NamespaceIdentity: rev.SymbolicName,
			AttributeVersion:  rev.Version,
			AttributeType:     kind,
		},
		Directives: directives,
		Resource:   rev,
	}}
	if !rev.Fragment {
		builtin = append(builtin,
			&Capability{
				Namespace:  NamespaceHost,
				Attributes: map[string]any{NamespaceHost: rev.SymbolicName, AttributeVersion: rev.Version},
				Resource:   rev,
			},
			&Capability{
				Namespace:  NamespaceModule,
				Attributes: map[string]any{NamespaceModule: rev.SymbolicName, AttributeVersion: rev.Version},
				Resource:   rev,
			},
		)
	}
	rev.capabilities = append(builtin, rev.capabilities...)
	return rev, nil
}

func resolutionDirectives(mode string) map[string]string {
	if mode == "" || mode == ResolutionMandatory {
		return nil
	}
	return map[string]string{DirectiveResolution: mode}
}
