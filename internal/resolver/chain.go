package resolver

import (
	"context"
	"fmt"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Chain runs resolvers in order. Each one sees the baseline overlaid with the
// wires produced by the resolvers before it, and the results are merged.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, in Input) (Result, error) {
	base := in.Baseline
	if base == nil {
		base = emptyBaseline{}
	}
	merged := Result{Wires: map[*module.Revision][]*module.Wire{}}
	view := &overlay{base: base, wires: merged.Wires}

	for i, r := range c {
		step := in
		step.Baseline = view
		res, err := r.Resolve(ctx, step)
		if err != nil {
			return Result{}, fmt.Errorf("resolver extension %d: %w", i, err)
		}
		merged.merge(res)
	}
	return merged, nil
}

func (r *Result) merge(other Result) {
	for _, rev := range other.Resources {
		if _, ok := r.Wires[rev]; !ok {
			r.Resources = append(r.Resources, rev)
		}
		r.Wires[rev] = append(r.Wires[rev], other.Wires[rev]...)
	}
	r.Diagnostics.UnresolvedRequired = append(r.Diagnostics.UnresolvedRequired, other.Diagnostics.UnresolvedRequired...)
	r.Diagnostics.UnresolvedOptional = append(r.Diagnostics.UnresolvedOptional, other.Diagnostics.UnresolvedOptional...)
}

// overlay is a transient baseline: committed wirings plus wires resolved
// earlier in the same attempt.
type overlay struct {
	base  Baseline
	wires map[*module.Revision][]*module.Wire
}

func (o *overlay) IsResolved(rev *module.Revision) bool {
	if _, ok := o.wires[rev]; ok {
		return true
	}
	return o.base.IsResolved(rev)
}

func (o *overlay) RequiredWires(rev *module.Revision, ns string) []*module.Wire {
	out := o.base.RequiredWires(rev, ns)
	for _, w := range o.wires[rev] {
		if ns == "" || w.Capability.Namespace == ns {
			out = append(out, w)
		}
	}
	return out
}
