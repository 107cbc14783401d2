package module

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// Capability is a namespace-scoped attribute bag provided by a revision.
type Capability struct {
	Namespace  string
	Attributes map[string]any
	Directives map[string]string
	// Resource is the revision reported as the provider. For hosted
	// capabilities this is the fragment's host, not the declaring fragment.
	Resource *Revision

	declarer *Revision
}

// Key identifies a capability for deduplication and identity bookkeeping.
type Key struct {
	Namespace string
	Value     string
	Resource  ID
}

// NewCapability builds a capability owned by resource. A "version" attribute
// given as a string is parsed into a semver.Version.
func NewCapability(ns string, attrs map[string]any, directives map[string]string, resource *Revision) (*Capability, error) {
	if strings.TrimSpace(ns) == "" || ns == Wildcard {
		return nil, fmt.Errorf("capability namespace %q is not valid", ns)
	}
	c := &Capability{
		Namespace:  ns,
		Attributes: make(map[string]any, len(attrs)),
		Directives: directives,
		Resource:   resource,
	}
	for k, v := range attrs {
		c.Attributes[k] = v
	}
	if raw, ok := c.Attributes[AttributeVersion].(string); ok {
		v, err := semver.ParseVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", ns, err)
		}
		c.Attributes[AttributeVersion] = v
	}
	return c, nil
}

// Value returns the attribute stored under the namespace name, e.g. the
// package name of a package capability.
func (c *Capability) Value() string {
	return attributeString(c.Attributes[c.Namespace])
}

// Version returns the "version" attribute, or semver.Zero.
func (c *Capability) Version() semver.Version {
	if v, ok := c.Attributes[AttributeVersion].(semver.Version); ok {
		return v
	}
	return semver.Zero
}

func (c *Capability) Key() Key {
	var id ID = -1
	if c.Resource != nil {
		id = c.Resource.ID
	}
	return Key{Namespace: c.Namespace, Value: c.Value(), Resource: id}
}

// Declarer returns the revision that declared the capability. It differs from
// Resource only for hosted capabilities.
func (c *Capability) Declarer() *Revision {
	if c.declarer != nil {
		return c.declarer
	}
	return c.Resource
}

// IsHosted reports whether the capability was rebound to a fragment host.
func (c *Capability) IsHosted() bool {
	return c.declarer != nil && c.declarer != c.Resource
}

// Hosted returns a copy of c that reports host as its provider.
func (c *Capability) Hosted(host *Revision) *Capability {
	if c.Resource == host {
		return c
	}
	return &Capability{
		Namespace:  c.Namespace,
		Attributes: c.Attributes,
		Directives: c.Directives,
		Resource:   host,
		declarer:   c.Declarer(),
	}
}

func (c *Capability) String() string {
	return fmt.Sprintf("%s=%s;version=%s from %s", c.Namespace, c.Value(), c.Version(), c.Resource)
}

// Requirement is a namespace-scoped need of a revision.
type Requirement struct {
	Namespace  string
	Attributes map[string]any
	Directives map[string]string
	Resource   *Revision

	versionRange *semver.Constraint
	filter       *vm.Program
}

// NewRequirement builds a requirement owned by resource. The "version"
// attribute is a range (see semver.ParseRange) and the filter directive is
// compiled up front so bad filters fail at install time.
func NewRequirement(ns string, attrs map[string]any, directives map[string]string, resource *Revision) (*Requirement, error) {
	q := &Requirement{
		Namespace:  ns,
		Attributes: make(map[string]any, len(attrs)),
		Directives: directives,
		Resource:   resource,
	}
	for k, v := range attrs {
		q.Attributes[k] = v
	}

	if raw, ok := q.Attributes[AttributeVersion]; ok {
		rng, err := semver.ParseRange(attributeString(raw))
		if err != nil {
			return nil, fmt.Errorf("requirement %s=%s: %w", ns, q.Value(), err)
		}
		q.versionRange = &rng
		q.Attributes[AttributeVersion] = rng.String()
	}

	if src := strings.TrimSpace(directives[DirectiveFilter]); src != "" {
		program, err := compileFilter(src)
		if err != nil {
			return nil, fmt.Errorf("requirement %s: filter %q: %w", ns, src, err)
		}
		q.filter = program
	}

	switch q.Resolution() {
	case ResolutionMandatory, ResolutionOptional, ResolutionDynamic:
	default:
		return nil, fmt.Errorf("requirement %s: unknown resolution %q", ns, q.Resolution())
	}
	return q, nil
}

// Value returns the attribute stored under the namespace name.
func (q *Requirement) Value() string {
	return attributeString(q.Attributes[q.Namespace])
}

func (q *Requirement) Resolution() string {
	if r := q.Directives[DirectiveResolution]; r != "" {
		return r
	}
	return ResolutionMandatory
}

func (q *Requirement) Mandatory() bool { return q.Resolution() == ResolutionMandatory }
func (q *Requirement) Optional() bool  { return q.Resolution() == ResolutionOptional }
func (q *Requirement) Dynamic() bool   { return q.Resolution() == ResolutionDynamic }

// Multiple reports whether every matching capability should be wired.
func (q *Requirement) Multiple() bool {
	return q.Directives[DirectiveCardinality] == CardinalityMultiple
}

// ForPackage derives a concrete package requirement from a dynamic import
// pattern. The derived requirement is owned by owner (the declaring revision
// or its host) but is not one of owner's declared requirements.
func (q *Requirement) ForPackage(pkg string, owner *Revision) *Requirement {
	attrs := make(map[string]any, len(q.Attributes))
	for k, v := range q.Attributes {
		attrs[k] = v
	}
	attrs[NamespacePackage] = pkg
	directives := map[string]string{DirectiveResolution: ResolutionDynamic}
	if f := q.Directives[DirectiveFilter]; f != "" {
		directives[DirectiveFilter] = f
	}
	return &Requirement{
		Namespace:    NamespacePackage,
		Attributes:   attrs,
		Directives:   directives,
		Resource:     owner,
		versionRange: q.versionRange,
		filter:       q.filter,
	}
}

func (q *Requirement) String() string {
	s := fmt.Sprintf("%s=%s", q.Namespace, q.Value())
	if q.versionRange != nil {
		s += ";version=" + q.versionRange.String()
	}
	if r := q.Resolution(); r != ResolutionMandatory {
		s += ";resolution=" + r
	}
	return s + " of " + q.Resource.String()
}

// Matches reports whether c satisfies q.
func (q *Requirement) Matches(c *Capability) bool {
	if c == nil {
		return false
	}
	if q.Namespace != "" && q.Namespace != Wildcard && q.Namespace != c.Namespace {
		return false
	}
	if structural(c.Namespace) {
		if !q.matchStructural(c) {
			return false
		}
	} else if !q.matchAttributes(c) {
		return false
	}
	return q.matchFilter(c)
}

func structural(ns string) bool {
	switch ns {
	case NamespaceIdentity, NamespaceHost, NamespacePackage, NamespaceModule:
		return true
	}
	return false
}

func (q *Requirement) matchStructural(c *Capability) bool {
	if want := q.Value(); want != "" && !MatchName(want, c.Value()) {
		return false
	}
	if q.versionRange != nil && !semver.Satisfies(c.Version(), *q.versionRange) {
		return false
	}
	for k, v := range q.Attributes {
		if k == q.Namespace || k == c.Namespace || k == AttributeVersion {
			continue
		}
		if attributeString(c.Attributes[k]) != attributeString(v) {
			return false
		}
	}
	return true
}

func (q *Requirement) matchAttributes(c *Capability) bool {
	for k, v := range q.Attributes {
		if k == AttributeVersion && q.versionRange != nil {
			if !semver.Satisfies(c.Version(), *q.versionRange) {
				return false
			}
			continue
		}
		got, ok := c.Attributes[k]
		if !ok || attributeString(got) != attributeString(v) {
			return false
		}
	}
	return true
}

func (q *Requirement) matchFilter(c *Capability) bool {
	if q.filter == nil {
		return true
	}
	out, err := expr.Run(q.filter, filterEnv(c))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// MatchName matches a name against a pattern that is either exact, "*", or a
// "prefix.*" wildcard covering every name below prefix.
func MatchName(pattern, name string) bool {
	if pattern == Wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(name, prefix+".")
	}
	return pattern == name
}

func compileFilter(src string) (*vm.Program, error) {
	return expr.Compile(src,
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
		expr.Function("inRange", func(params ...any) (any, error) {
			if len(params) != 2 {
				return false, fmt.Errorf("inRange expects 2 arguments, got %d", len(params))
			}
			v, err := semver.ParseVersion(attributeString(params[0]))
			if err != nil {
				return false, err
			}
			rng, err := semver.ParseRange(attributeString(params[1]))
			if err != nil {
				return false, err
			}
			return semver.Satisfies(v, rng), nil
		}, new(func(any, any) bool)),
	)
}

// filterEnv exposes capability attributes to filter expressions. Versions are
// rendered as strings; use inRange(version, "[1.0,2.0)") to compare them.
func filterEnv(c *Capability) map[string]any {
	env := make(map[string]any, len(c.Attributes)+1)
	for k, v := range c.Attributes {
		if ver, ok := v.(semver.Version); ok {
			env[k] = ver.String()
			continue
		}
		env[k] = v
	}
	env["namespace"] = c.Namespace
	return env
}

func attributeString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case []string:
		s := append([]string(nil), t...)
		sort.Strings(s)
		return strings.Join(s, ",")
	default:
		return fmt.Sprint(t)
	}
}
