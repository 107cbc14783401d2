package resolver

import (
	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Input is the resolver's view of the world.
type Input struct {
	// Mandatory revisions must all resolve or the whole batch fails.
	Mandatory []*module.Revision
	// Optional revisions are resolved when possible; failures are reported in
	// Diagnostics.
	Optional []*module.Revision
	// Baseline is the committed wiring state. Revisions it reports as resolved
	// are never re-resolved.
	Baseline Baseline
	// Candidates is the capability index.
	Candidates Candidates
}

// Baseline exposes already-committed wirings.
type Baseline interface {
	IsResolved(rev *module.Revision) bool
	RequiredWires(rev *module.Revision, namespace string) []*module.Wire
}

// Candidates answers provider and requirer lookups.
type Candidates interface {
	FindProviders(q *module.Requirement) []*module.Capability
	FindRequirers(c *module.Capability) []*module.Requirement
}

// Result is a complete wiring assignment for the newly resolved revisions.
//
// Resources lists revisions in commit order: providers precede their
// dependents except inside cycles. A revision with no requirements still
// appears, with no wires.
type Result struct {
	Resources   []*module.Revision
	Wires       map[*module.Revision][]*module.Wire
	Diagnostics Diagnostics
}

// Empty reports whether r resolves nothing.
func (r Result) Empty() bool {
	return len(r.Resources) == 0
}

// Diagnostics captures human-readable information about resolution.
//
// This is useful for events and for logging.
type Diagnostics struct {
	UnresolvedRequired []UnresolvedRequirement
	UnresolvedOptional []UnresolvedRequirement
}

type UnresolvedRequirement struct {
	Module      string `json:"module"`
	Requirement string `json:"requirement"`
	Reason      string `json:"reason"`
}

type emptyBaseline struct{}

func (emptyBaseline) IsResolved(*module.Revision) bool                      { return false }
func (emptyBaseline) RequiredWires(*module.Revision, string) []*module.Wire { return nil }
