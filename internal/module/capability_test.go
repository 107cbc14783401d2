package module

import (
	"testing"

	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

func mustBuild(t *testing.T, b *Builder) *Revision {
	t.Helper()
	rev, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return rev
}

func TestBuildAddsBuiltinCapabilities(t *testing.T) {
	rev := mustBuild(t, NewBuilder(1, "com.acme.core", semver.MustParseVersion("1.2.0")).
		Export("com.acme.api", "1.2.0", nil))

	id := rev.Identity()
	if id == nil || id.Value() != "com.acme.core" {
		t.Fatalf("expected identity capability, got %v", id)
	}
	if got := id.Attributes[AttributeType]; got != TypeModule {
		t.Fatalf("expected type=%s, got %v", TypeModule, got)
	}
	if len(rev.Capabilities(NamespaceHost)) != 1 || len(rev.Capabilities(NamespaceModule)) != 1 {
		t.Fatalf("non-fragment revisions provide host and module capabilities")
	}
	if len(rev.Capabilities("")) != 4 {
		t.Fatalf("expected 4 capabilities, got %d", len(rev.Capabilities("")))
	}
}

func TestFragmentHasHostRequirementOnly(t *testing.T) {
	frag := mustBuild(t, NewBuilder(2, "com.acme.core.l10n", semver.MustParseVersion("1.0.0")).
		FragmentOf("com.acme.core", "[1.0,2.0)"))

	if !frag.Fragment {
		t.Fatalf("expected fragment flag")
	}
	if len(frag.Capabilities(NamespaceHost)) != 0 {
		t.Fatalf("fragments must not provide a host capability")
	}
	reqs := frag.Requirements(NamespaceHost)
	if len(reqs) != 1 || reqs[0].Value() != "com.acme.core" {
		t.Fatalf("expected host requirement, got %v", reqs)
	}
	if got := frag.Identity().Attributes[AttributeType]; got != TypeFragment {
		t.Fatalf("expected type=%s, got %v", TypeFragment, got)
	}
}

func TestBuilderRejectsBadInput(t *testing.T) {
	if _, err := NewBuilder(3, "", semver.Zero).Build(); err == nil {
		t.Fatalf("expected error for empty symbolic name")
	}
	if _, err := NewBuilder(3, "x", semver.Zero).Import("p", "[1.0", "").Build(); err == nil {
		t.Fatalf("expected error for malformed range")
	}
	if _, err := NewBuilder(3, "x", semver.Zero).
		Require("svc", nil, map[string]string{DirectiveFilter: "tier >"}).Build(); err == nil {
		t.Fatalf("expected error for malformed filter")
	}
	if _, err := NewBuilder(3, "x", semver.Zero).Import("p", "", "sometimes").Build(); err == nil {
		t.Fatalf("expected error for unknown resolution")
	}
}

func TestRequirementMatchesPackageRange(t *testing.T) {
	provider := mustBuild(t, NewBuilder(1, "provider", semver.MustParseVersion("1.0.0")).
		Export("com.acme.api", "1.5.0", map[string]any{"vendor": "acme"}))
	consumer := mustBuild(t, NewBuilder(2, "consumer", semver.MustParseVersion("1.0.0")).
		Import("com.acme.api", "[1.0,2.0)", "").
		Import("com.acme.api", "[2.0,3.0)", ResolutionOptional))

	exported := provider.Capabilities(NamespacePackage)[0]
	reqs := consumer.Requirements(NamespacePackage)
	if !reqs[0].Matches(exported) {
		t.Fatalf("expected %s to match %s", reqs[0], exported)
	}
	if reqs[1].Matches(exported) {
		t.Fatalf("expected %s not to match %s", reqs[1], exported)
	}
	if !reqs[1].Optional() || reqs[0].Optional() {
		t.Fatalf("unexpected resolution directives")
	}
}

func TestRequirementStructuralAttributes(t *testing.T) {
	provider := mustBuild(t, NewBuilder(1, "provider", semver.Zero).
		Export("com.acme.api", "1.0.0", map[string]any{"vendor": "acme"}))
	exported := provider.Capabilities(NamespacePackage)[0]

	same, err := NewRequirement(NamespacePackage, map[string]any{NamespacePackage: "com.acme.api", "vendor": "acme"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewRequirement(NamespacePackage, map[string]any{NamespacePackage: "com.acme.api", "vendor": "globex"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !same.Matches(exported) || other.Matches(exported) {
		t.Fatalf("extra requirement attributes must match by equality")
	}
}

func TestRequirementGenericNamespace(t *testing.T) {
	provider := mustBuild(t, NewBuilder(1, "provider", semver.Zero).
		Provide("service", map[string]any{"service": "payments", "tier": 3, "version": "2.1.0"}, nil))
	svc := provider.Capabilities("service")[0]

	tests := []struct {
		name       string
		attrs      map[string]any
		directives map[string]string
		want       bool
	}{
		{name: "equal attributes", attrs: map[string]any{"service": "payments"}, want: true},
		{name: "missing attribute", attrs: map[string]any{"service": "payments", "region": "eu"}, want: false},
		{name: "version range", attrs: map[string]any{"service": "payments", "version": "[2.0,3.0)"}, want: true},
		{name: "version out of range", attrs: map[string]any{"service": "payments", "version": "[3.0,4.0)"}, want: false},
		{name: "filter true", attrs: map[string]any{"service": "payments"}, directives: map[string]string{DirectiveFilter: "tier >= 2"}, want: true},
		{name: "filter false", attrs: map[string]any{"service": "payments"}, directives: map[string]string{DirectiveFilter: "tier >= 5"}, want: false},
		{name: "filter inRange", directives: map[string]string{DirectiveFilter: `service == "payments" && inRange(version, "[2.0,2.2)")`}, want: true},
		{name: "filter on missing attribute", directives: map[string]string{DirectiveFilter: `region == "eu"`}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewRequirement("service", tt.attrs, tt.directives, nil)
			if err != nil {
				t.Fatalf("NewRequirement: %v", err)
			}
			if got := q.Matches(svc); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWildcardNamespaceMatchesAnyNamespace(t *testing.T) {
	provider := mustBuild(t, NewBuilder(1, "provider", semver.Zero).
		Provide("service", map[string]any{"service": "payments"}, nil))
	q, err := NewRequirement(Wildcard, nil, map[string]string{DirectiveFilter: `namespace == "service"`}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !q.Matches(provider.Capabilities("service")[0]) {
		t.Fatalf("wildcard requirement should match")
	}
	if q.Matches(provider.Identity()) {
		t.Fatalf("filter should exclude the identity capability")
	}
}

func TestMatchName(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"*", "com.acme", true},
		{"com.acme.*", "com.acme.api", true},
		{"com.acme.*", "com.acme.api.impl", true},
		{"com.acme.*", "com.acme", false},
		{"com.acme.*", "com.acmeinc.api", false},
		{"com.acme", "com.acme", true},
		{"com.acme", "com.acme.api", false},
	}
	for _, tt := range tests {
		if got := MatchName(tt.pattern, tt.name); got != tt.want {
			t.Errorf("MatchName(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestDynamicImportForPackage(t *testing.T) {
	rev := mustBuild(t, NewBuilder(4, "dyn", semver.Zero).DynamicImport("com.acme.*"))
	dyn := rev.DynamicImports()
	if len(dyn) != 1 {
		t.Fatalf("expected one dynamic import, got %d", len(dyn))
	}
	q := dyn[0].ForPackage("com.acme.api", rev)
	if q.Value() != "com.acme.api" || !q.Dynamic() {
		t.Fatalf("unexpected derived requirement %s", q)
	}
	if rev.Declares(q) {
		t.Fatalf("derived requirement must not be a declared requirement")
	}
	if !rev.Declares(dyn[0]) {
		t.Fatalf("dynamic import should be declared")
	}
}

func TestHostedCapabilityKeepsDeclarer(t *testing.T) {
	host := mustBuild(t, NewBuilder(1, "host", semver.Zero))
	frag := mustBuild(t, NewBuilder(2, "frag", semver.Zero).
		FragmentOf("host", "").
		Export("com.acme.extra", "1.0.0", nil))

	c := frag.Capabilities(NamespacePackage)[0]
	hosted := c.Hosted(host)
	if hosted.Resource != host || hosted.Declarer() != frag || !hosted.IsHosted() {
		t.Fatalf("unexpected hosted capability %s (declarer %s)", hosted, hosted.Declarer())
	}
	if c.IsHosted() {
		t.Fatalf("original capability must be unchanged")
	}
	if hosted.Key() == c.Key() {
		t.Fatalf("hosted capability key should use the host resource")
	}

	q := mustBuild(t, NewBuilder(3, "user", semver.Zero).Import("com.acme.extra", "", "")).Requirements(NamespacePackage)[0]
	w := NewWire(q, c).Rebind(host)
	if w.Provider != host || w.Capability.Declarer() != frag {
		t.Fatalf("unexpected rebound wire %s", w)
	}
}

func TestSingletonDirective(t *testing.T) {
	rev := mustBuild(t, NewBuilder(1, "single", semver.Zero).Singleton())
	if !rev.Singleton() {
		t.Fatalf("expected singleton")
	}
	if mustBuild(t, NewBuilder(2, "plain", semver.Zero)).Singleton() {
		t.Fatalf("expected non-singleton")
	}
}
