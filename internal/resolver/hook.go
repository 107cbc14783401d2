package resolver

import "github.com/bayleafwalker/bindery-runtime/internal/module"

// Hook can narrow resolution decisions for one resolve attempt. End is always
// called, including when resolution fails.
type Hook interface {
	// FilterResolvable returns the subset of candidates allowed to resolve.
	FilterResolvable(candidates []*module.Revision) []*module.Revision
	// FilterSingletonCollisions returns the collisions that still count
	// against singleton.
	FilterSingletonCollisions(singleton *module.Capability, collisions []*module.Capability) []*module.Capability
	// FilterMatches returns the capabilities allowed to satisfy q.
	FilterMatches(q *module.Requirement, candidates []*module.Capability) []*module.Capability
	End()
}

// HookFactory starts a Hook for a resolve attempt triggered by triggers.
type HookFactory interface {
	Begin(triggers []*module.Revision) Hook
}

// HookFactoryFunc adapts a function to HookFactory.
type HookFactoryFunc func(triggers []*module.Revision) Hook

func (f HookFactoryFunc) Begin(triggers []*module.Revision) Hook { return f(triggers) }

// NopHook allows everything. Embed it to override single methods.
type NopHook struct{}

func (NopHook) FilterResolvable(c []*module.Revision) []*module.Revision { return c }

func (NopHook) FilterSingletonCollisions(_ *module.Capability, c []*module.Capability) []*module.Capability {
	return c
}

func (NopHook) FilterMatches(_ *module.Requirement, c []*module.Capability) []*module.Capability {
	return c
}

func (NopHook) End() {}
