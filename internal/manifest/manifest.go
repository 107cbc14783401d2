// Package manifest decodes module.yaml descriptors into module revisions.
package manifest

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/archive"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// FileName is the manifest path at the root of every module archive.
const FileName = "module.yaml"

var (
	ErrNoManifest = errors.New("module archive has no " + FileName)
	ErrInvalid    = errors.New("invalid manifest")
)

// ValidationError lists every problem Validate found in one manifest.
type ValidationError struct {
	Module string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %v", ErrInvalid, e.Module, e.Err)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func (e *ValidationError) Errors() []error { return multierr.Errors(e.Err) }

// Decode parses and validates a manifest document.
func Decode(data []byte) (*binderyv1alpha1.ModuleManifest, error) {
	var m binderyv1alpha1.ModuleManifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports every problem at once.
func Validate(m *binderyv1alpha1.ModuleManifest) error {
	var errs error
	if strings.TrimSpace(m.Module.SymbolicName) == "" {
		errs = multierr.Append(errs, errors.New("module.symbolicName is required"))
	}
	if m.FragmentHost != nil {
		if strings.TrimSpace(m.FragmentHost.SymbolicName) == "" {
			errs = multierr.Append(errs, errors.New("fragmentHost.symbolicName is required"))
		}
		if m.Activation.Activator != "" {
			errs = multierr.Append(errs, errors.New("fragments cannot declare an activator"))
		}
	}
	for i, e := range m.Exports {
		if strings.TrimSpace(e.Package) == "" {
			errs = multierr.Append(errs, fmt.Errorf("exports[%d].package is required", i))
		}
	}
	for i, imp := range m.Imports {
		if strings.TrimSpace(imp.Package) == "" {
			errs = multierr.Append(errs, fmt.Errorf("imports[%d].package is required", i))
		}
	}
	for i, r := range m.Requires {
		if strings.TrimSpace(r.Namespace) == "" {
			errs = multierr.Append(errs, fmt.Errorf("requires[%d].namespace is required", i))
		}
	}
	switch m.Activation.Policy {
	case "", binderyv1alpha1.ActivationEager, binderyv1alpha1.ActivationLazy:
	default:
		errs = multierr.Append(errs, fmt.Errorf("activation.policy %q is not supported", m.Activation.Policy))
	}
	if errs != nil {
		return &ValidationError{Module: m.Module.SymbolicName, Err: errs}
	}
	return nil
}

// Load reads the manifest at the archive root and builds the revision.
func Load(id module.ID, a archive.Archive) (*module.Revision, error) {
	if !a.Exists(FileName) {
		return nil, fmt.Errorf("%s: %w", a.Location(), ErrNoManifest)
	}
	data, err := a.ReadFile(FileName)
	if err != nil {
		return nil, err
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Location(), err)
	}
	return Build(id, m, a)
}

// Build turns a decoded manifest into a revision.
func Build(id module.ID, m *binderyv1alpha1.ModuleManifest, a archive.Archive) (*module.Revision, error) {
	version, err := semver.ParseVersion(m.Module.Version)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Module.SymbolicName, err)
	}

	b := module.NewBuilder(id, m.Module.SymbolicName, version).
		Archive(a).
		Activator(m.Activation.Activator, m.Activation.Policy == binderyv1alpha1.ActivationLazy).
		ClassPath(m.ClassPath...).
		StartLevel(m.StartLevel)
	if m.Module.Singleton {
		b.Singleton()
	}
	if h := m.FragmentHost; h != nil {
		b.FragmentOf(h.SymbolicName, h.VersionRange)
	}

	for _, e := range m.Exports {
		b.Export(e.Package, e.Version, stringAttributes(e.Attributes))
	}
	for _, imp := range m.Imports {
		attrs := stringAttributes(imp.Attributes)
		if attrs == nil {
			attrs = map[string]any{}
		}
		attrs[module.NamespacePackage] = imp.Package
		attrs[module.AttributeVersion] = imp.VersionRange
		b.Require(module.NamespacePackage, attrs, directives(imp.DependencyMode, "", ""))
	}
	for _, r := range m.RequireModules {
		b.RequireModule(r.SymbolicName, r.VersionRange, resolution(r.DependencyMode))
	}
	for _, pattern := range m.DynamicImports {
		b.DynamicImport(pattern)
	}
	for _, p := range m.Provides {
		b.Provide(p.Namespace, p.Attributes, p.Directives)
	}
	for _, r := range m.Requires {
		b.Require(r.Namespace, r.Attributes, directives(r.DependencyMode, r.Multiplicity, r.Filter))
	}
	return b.Build()
}

func resolution(mode binderyv1alpha1.DependencyMode) string {
	switch mode {
	case binderyv1alpha1.DependencyModeOptional:
		return module.ResolutionOptional
	case binderyv1alpha1.DependencyModeDynamic:
		return module.ResolutionDynamic
	case "", binderyv1alpha1.DependencyModeRequired:
		return module.ResolutionMandatory
	default:
		return string(mode)
	}
}

func directives(mode binderyv1alpha1.DependencyMode, multiplicity binderyv1alpha1.CapabilityMultiplicity, filter string) map[string]string {
	d := map[string]string{}
	if r := resolution(mode); r != module.ResolutionMandatory {
		d[module.DirectiveResolution] = r
	}
	if multiplicity == binderyv1alpha1.MultiplicityMany {
		d[module.DirectiveCardinality] = module.CardinalityMultiple
	}
	if filter != "" {
		d[module.DirectiveFilter] = filter
	}
	return d
}

func stringAttributes(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
