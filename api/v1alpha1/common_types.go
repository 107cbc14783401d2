package v1alpha1

type CapabilityMultiplicity string

type DependencyMode string

type ActivationPolicy string

const (
	MultiplicityOne  CapabilityMultiplicity = "1"
	MultiplicityMany CapabilityMultiplicity = "many"

	DependencyModeRequired DependencyMode = "required"
	DependencyModeOptional DependencyMode = "optional"
	// DependencyModeDynamic requirements are never wired by the resolver; they
	// are satisfied on demand by the first class load that needs them.
	DependencyModeDynamic DependencyMode = "dynamic"

	ActivationEager ActivationPolicy = "eager"
	ActivationLazy  ActivationPolicy = "lazy"
)
