package v1alpha1

// ModuleManifest declares a module's identity and its provides/requires contracts.
//
// It is decoded from the module.yaml file at the root of every module archive.
// Package exports/imports, module requirements and the fragment host are
// shorthands; the manifest loader turns all of them into namespaced
// capabilities and requirements.
type ModuleManifest struct {
	Module         ModuleIdentity       `json:"module"`
	FragmentHost   *FragmentHost        `json:"fragmentHost,omitempty"`
	Exports        []PackageExport      `json:"exports,omitempty"`
	Imports        []PackageImport      `json:"imports,omitempty"`
	RequireModules []ModuleRequirement  `json:"requireModules,omitempty"`
	DynamicImports []string             `json:"dynamicImports,omitempty"`
	Provides       []ProvidedCapability `json:"provides,omitempty"`
	Requires       []RequiredCapability `json:"requires,omitempty"`
	Activation     Activation           `json:"activation,omitempty"`
	ClassPath      []string             `json:"classPath,omitempty"`
	StartLevel     int                  `json:"startLevel,omitempty"`
}

type ModuleIdentity struct {
	SymbolicName string `json:"symbolicName"`
	Version      string `json:"version"`
	// Singleton modules may not be resolved next to another singleton with the
	// same symbolic name.
	Singleton bool `json:"singleton,omitempty"`
}

// FragmentHost makes the module a fragment attached to the named host.
type FragmentHost struct {
	SymbolicName string `json:"symbolicName"`
	VersionRange string `json:"versionRange,omitempty"`
}

type PackageExport struct {
	Package    string            `json:"package"`
	Version    string            `json:"version,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type PackageImport struct {
	Package        string            `json:"package"`
	VersionRange   string            `json:"versionRange,omitempty"`
	DependencyMode DependencyMode    `json:"dependencyMode,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

type ModuleRequirement struct {
	SymbolicName   string         `json:"symbolicName"`
	VersionRange   string         `json:"versionRange,omitempty"`
	DependencyMode DependencyMode `json:"dependencyMode,omitempty"`
}

type ProvidedCapability struct {
	Namespace  string            `json:"namespace"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Directives map[string]string `json:"directives,omitempty"`
}

type RequiredCapability struct {
	Namespace      string                 `json:"namespace"`
	Attributes     map[string]any         `json:"attributes,omitempty"`
	Filter         string                 `json:"filter,omitempty"`
	DependencyMode DependencyMode         `json:"dependencyMode,omitempty"`
	Multiplicity   CapabilityMultiplicity `json:"multiplicity,omitempty"`
}

type Activation struct {
	// Activator names an entry point registered with the framework.
	Activator string           `json:"activator,omitempty"`
	Policy    ActivationPolicy `json:"policy,omitempty"`
}
