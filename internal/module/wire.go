package module

import "fmt"

// Wire binds one requirement to one capability. Requirer and Provider cache
// the resources at the time the wire was made; for hosted capabilities the
// provider is the fragment's host.
type Wire struct {
	Requirement *Requirement
	Capability  *Capability
	Requirer    *Revision
	Provider    *Revision
}

func NewWire(q *Requirement, c *Capability) *Wire {
	return &Wire{Requirement: q, Capability: c, Requirer: q.Resource, Provider: c.Resource}
}

// Rebind returns a copy of w whose capability is hosted by host.
func (w *Wire) Rebind(host *Revision) *Wire {
	c := w.Capability.Hosted(host)
	return &Wire{Requirement: w.Requirement, Capability: c, Requirer: w.Requirer, Provider: host}
}

func (w *Wire) String() string {
	return fmt.Sprintf("%s -> %s [%s=%s]", w.Requirer, w.Provider, w.Capability.Namespace, w.Capability.Value())
}
