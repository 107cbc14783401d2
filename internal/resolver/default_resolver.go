package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// DefaultResolver resolves depth-first with memoization.
//
// Providers are resolved before the wires to them are recorded, fragments are
// attached after their host's own requirements, and a final pass rebinds
// wires to fragment capabilities onto the fragment's host.
type DefaultResolver struct {
	hooks        HookFactory
	bootPackages []string
}

type Option func(*DefaultResolver)

// WithHooks installs a resolver hook factory.
func WithHooks(f HookFactory) Option {
	return func(r *DefaultResolver) { r.hooks = f }
}

// WithBootPackages lists package patterns supplied by the host runtime.
// Imports of those packages are satisfied without a wire.
func WithBootPackages(patterns ...string) Option {
	return func(r *DefaultResolver) { r.bootPackages = append(r.bootPackages, patterns...) }
}

func NewDefault(opts ...Option) *DefaultResolver {
	r := &DefaultResolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *DefaultResolver) Resolve(ctx context.Context, in Input) (Result, error) {
	if in.Candidates == nil {
		return Result{}, errors.New("resolver: no candidates")
	}
	triggers := append(append([]*module.Revision(nil), in.Mandatory...), in.Optional...)
	hook := r.begin(triggers)
	defer hook.End()

	s := r.newSession(ctx, in, hook)
	for _, rev := range in.Mandatory {
		_ = s.resolve(rev)
	}
	for _, rev := range in.Optional {
		if err := s.resolve(rev); err != nil {
			s.log.V(1).Info("optional module not resolved", "module", rev.String(), "reason", err.Error())
		}
	}
	s.prune()

	var errs error
	for _, rev := range in.Mandatory {
		if err, failed := s.failed[rev]; failed {
			errs = multierr.Append(errs, &ModuleError{Module: rev, Err: err})
		}
	}
	if errs != nil {
		return Result{}, &ResolutionError{err: errs}
	}

	s.rebindHosted()
	res := s.result()
	s.log.V(1).Info("resolved", "resources", len(res.Resources), "unresolvedOptional", len(res.Diagnostics.UnresolvedOptional))
	return res, nil
}

// ResolveDynamic resolves one synthesized requirement for a requirer that is
// already resolved. The result holds the new wire under q.Resource plus the
// wirings of any provider that had to be resolved for it.
func (r *DefaultResolver) ResolveDynamic(ctx context.Context, in Input, q *module.Requirement) (Result, error) {
	if in.Candidates == nil {
		return Result{}, errors.New("resolver: no candidates")
	}
	hook := r.begin(nil)
	defer hook.End()

	s := r.newSession(ctx, in, hook)
	wires, err := s.resolveRequirement(q)
	if err == nil && len(wires) == 0 {
		err = &UnsatisfiedRequirementError{Requirement: q, Reason: "supplied by the host runtime"}
	}
	if err != nil {
		return Result{}, &ResolutionError{err: err}
	}
	s.prune()
	s.rebindHosted()
	for i, w := range wires {
		if host := s.hostOf(w.Provider); w.Provider.Fragment && host != nil {
			wires[i] = w.Rebind(host)
		}
	}

	res := s.result()
	res.Resources = append(res.Resources, q.Resource)
	res.Wires[q.Resource] = wires
	return res, nil
}

func (r *DefaultResolver) begin(triggers []*module.Revision) Hook {
	if r.hooks == nil {
		return NopHook{}
	}
	if h := r.hooks.Begin(triggers); h != nil {
		return h
	}
	return NopHook{}
}

type session struct {
	in   Input
	hook Hook
	boot []string
	log  logr.Logger

	wires      map[*module.Revision][]*module.Wire
	order      []*module.Revision
	inFlight   map[*module.Revision]bool
	failed     map[*module.Revision]error
	resolvable map[*module.Revision]bool
	diag       Diagnostics
}

func (r *DefaultResolver) newSession(ctx context.Context, in Input, hook Hook) *session {
	if in.Baseline == nil {
		in.Baseline = emptyBaseline{}
	}
	return &session{
		in:         in,
		hook:       hook,
		boot:       r.bootPackages,
		log:        logr.FromContextOrDiscard(ctx).WithName("resolver"),
		wires:      map[*module.Revision][]*module.Wire{},
		inFlight:   map[*module.Revision]bool{},
		failed:     map[*module.Revision]error{},
		resolvable: map[*module.Revision]bool{},
	}
}

func (s *session) isResolved(rev *module.Revision) bool {
	if _, ok := s.wires[rev]; ok {
		return true
	}
	return s.in.Baseline.IsResolved(rev)
}

func (s *session) resolve(rev *module.Revision) error {
	if s.isResolved(rev) {
		return nil
	}
	if err, ok := s.failed[rev]; ok {
		return err
	}
	if s.inFlight[rev] {
		// Cycle: the caller wires to rev optimistically; prune undoes that if
		// rev fails.
		return nil
	}
	if !s.isResolvable(rev) {
		return s.fail(rev, fmt.Errorf("%s: %w", rev, ErrFiltered))
	}
	if err := s.checkSingleton(rev); err != nil {
		return s.fail(rev, err)
	}

	s.inFlight[rev] = true
	defer delete(s.inFlight, rev)

	var errs error
	var wires []*module.Wire
	for _, q := range rev.Requirements("") {
		if q.Dynamic() {
			continue
		}
		ws, err := s.resolveRequirement(q)
		if err != nil {
			entry := UnresolvedRequirement{Module: rev.String(), Requirement: q.String(), Reason: err.Error()}
			if q.Mandatory() {
				s.diag.UnresolvedRequired = append(s.diag.UnresolvedRequired, entry)
				errs = multierr.Append(errs, err)
			} else {
				s.diag.UnresolvedOptional = append(s.diag.UnresolvedOptional, entry)
			}
			continue
		}
		wires = append(wires, ws...)
	}
	if errs != nil {
		return s.fail(rev, errs)
	}

	s.wires[rev] = wires
	s.order = append(s.order, rev)
	s.log.V(1).Info("module resolved", "module", rev.String(), "wires", len(wires))

	if !rev.Fragment {
		s.attachFragments(rev)
	}
	return nil
}

func (s *session) fail(rev *module.Revision, err error) error {
	s.failed[rev] = err
	return err
}

func (s *session) isResolvable(rev *module.Revision) bool {
	ok, seen := s.resolvable[rev]
	if !seen {
		ok = len(s.hook.FilterResolvable([]*module.Revision{rev})) == 1
		s.resolvable[rev] = ok
	}
	return ok
}

func (s *session) checkSingleton(rev *module.Revision) error {
	if !rev.Singleton() {
		return nil
	}
	q, err := module.NewRequirement(module.NamespaceIdentity, map[string]any{module.NamespaceIdentity: rev.SymbolicName}, nil, rev)
	if err != nil {
		return err
	}
	var collisions []*module.Capability
	for _, c := range s.in.Candidates.FindProviders(q) {
		other := c.Resource
		if other == rev || !other.Singleton() || !s.isResolved(other) {
			continue
		}
		collisions = append(collisions, c)
	}
	if len(collisions) == 0 {
		return nil
	}
	collisions = s.hook.FilterSingletonCollisions(rev.Identity(), collisions)
	if len(collisions) > 0 {
		return fmt.Errorf("%w: %s conflicts with resolved %s", ErrSingletonCollision, rev, collisions[0].Resource)
	}
	return nil
}

// resolveRequirement wires q. For single cardinality the first candidate
// whose resource resolves wins; for multiple every such candidate is wired.
func (s *session) resolveRequirement(q *module.Requirement) ([]*module.Wire, error) {
	if q.Namespace == module.NamespacePackage && s.bootDelegated(q.Value()) {
		return nil, nil
	}
	caps := s.hook.FilterMatches(q, s.in.Candidates.FindProviders(q))
	if len(caps) == 0 {
		return nil, &UnsatisfiedRequirementError{Requirement: q, Reason: "no provider"}
	}
	s.sortCandidates(caps)

	var wires []*module.Wire
	var causes error
	for _, c := range caps {
		if c.Resource != q.Resource {
			if err := s.resolve(c.Resource); err != nil {
				causes = multierr.Append(causes, err)
				continue
			}
		}
		wires = append(wires, module.NewWire(q, c))
		if !q.Multiple() {
			break
		}
	}
	if len(wires) == 0 {
		return nil, &UnsatisfiedRequirementError{Requirement: q, Reason: "no resolvable provider", Cause: causes}
	}
	return wires, nil
}

func (s *session) bootDelegated(pkg string) bool {
	for _, pattern := range s.boot {
		if module.MatchName(pattern, pkg) {
			return true
		}
	}
	return false
}

// sortCandidates orders candidates deterministically:
// 1) already-resolved providers first
// 2) higher version
// 3) lower module ID
func (s *session) sortCandidates(caps []*module.Capability) {
	sort.SliceStable(caps, func(i, j int) bool {
		ri, rj := s.isResolved(caps[i].Resource), s.isResolved(caps[j].Resource)
		if ri != rj {
			return ri
		}
		if cmp := semver.Compare(caps[i].Version(), caps[j].Version()); cmp != 0 {
			return cmp > 0
		}
		return caps[i].Resource.ID < caps[j].Resource.ID
	})
}

func (s *session) attachFragments(host *module.Revision) {
	for _, c := range host.Capabilities(module.NamespaceHost) {
		for _, q := range s.in.Candidates.FindRequirers(c) {
			frag := q.Resource
			if frag == host || !frag.Fragment {
				continue
			}
			if err := s.resolve(frag); err != nil {
				s.log.V(1).Info("fragment not attached", "host", host.String(), "fragment", frag.String(), "reason", err.Error())
			}
		}
	}
}

// prune drops revisions whose mandatory requirements ended up wired only to
// failed revisions, which happens when a cycle member fails after its peers
// wired to it. Optional wires to failed revisions are dropped.
func (s *session) prune() {
	for changed := true; changed; {
		changed = false
		for _, rev := range s.order {
			wires, ok := s.wires[rev]
			if !ok {
				continue
			}
			kept := make([]*module.Wire, 0, len(wires))
			remaining := map[*module.Requirement]int{}
			for _, w := range wires {
				if _, failed := s.failed[w.Provider]; !failed {
					kept = append(kept, w)
					remaining[w.Requirement]++
				}
			}
			if len(kept) == len(wires) {
				continue
			}
			changed = true
			var errs error
			for _, w := range wires {
				if w.Requirement.Mandatory() && remaining[w.Requirement] == 0 {
					errs = multierr.Append(errs, &UnsatisfiedRequirementError{
						Requirement: w.Requirement,
						Reason:      "provider failed to resolve",
						Cause:       s.failed[w.Provider],
					})
					remaining[w.Requirement] = -1
				}
			}
			if errs != nil {
				delete(s.wires, rev)
				s.failed[rev] = errs
				continue
			}
			s.wires[rev] = kept
		}
	}
}

// rebindHosted makes fragment capabilities report their ultimate host as
// provider.
func (s *session) rebindHosted() {
	for _, rev := range s.order {
		wires := s.wires[rev]
		for i, w := range wires {
			if !w.Provider.Fragment || w.Capability.Namespace == module.NamespaceIdentity {
				continue
			}
			if host := s.hostOf(w.Provider); host != nil {
				wires[i] = w.Rebind(host)
			}
		}
	}
}

// hostOf follows host wires from frag to a non-fragment revision.
func (s *session) hostOf(frag *module.Revision) *module.Revision {
	seen := map[*module.Revision]bool{}
	cur := frag
	for cur.Fragment {
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		var next *module.Revision
		for _, w := range s.requiredWires(cur, module.NamespaceHost) {
			next = w.Provider
			break
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func (s *session) requiredWires(rev *module.Revision, ns string) []*module.Wire {
	wires, ok := s.wires[rev]
	if !ok {
		return s.in.Baseline.RequiredWires(rev, ns)
	}
	var out []*module.Wire
	for _, w := range wires {
		if w.Capability.Namespace == ns {
			out = append(out, w)
		}
	}
	return out
}

func (s *session) result() Result {
	res := Result{Wires: map[*module.Revision][]*module.Wire{}, Diagnostics: s.diag}
	for _, rev := range s.order {
		if wires, ok := s.wires[rev]; ok {
			res.Resources = append(res.Resources, rev)
			res.Wires[rev] = wires
		}
	}
	return res
}
