package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

type resolverFunc func(ctx context.Context, in Input) (Result, error)

func (f resolverFunc) Resolve(ctx context.Context, in Input) (Result, error) { return f(ctx, in) }

func TestChain_LaterExtensionsSeeEarlierWires(t *testing.T) {
	provider := mod(t, newBuilder(1, "provider", "1.0.0").Export("com.p", "1.0.0", nil))
	consumer := mod(t, newBuilder(2, "consumer", "1.0.0").Import("com.p", "", ""))
	extra := mod(t, newBuilder(3, "extra", "1.0.0"))

	var sawConsumer, sawExtra bool
	var sawWires []*module.Wire
	chain := Chain{
		NewDefault(),
		resolverFunc(func(_ context.Context, in Input) (Result, error) {
			sawConsumer = in.Baseline.IsResolved(consumer)
			sawWires = in.Baseline.RequiredWires(consumer, module.NamespacePackage)
			return Result{Resources: []*module.Revision{extra}, Wires: map[*module.Revision][]*module.Wire{extra: nil}}, nil
		}),
		resolverFunc(func(_ context.Context, in Input) (Result, error) {
			sawExtra = in.Baseline.IsResolved(extra)
			return Result{}, nil
		}),
	}

	res, err := chain.Resolve(context.Background(), Input{
		Mandatory:  []*module.Revision{consumer},
		Candidates: repoOf(t, provider, consumer, extra),
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !sawConsumer {
		t.Fatalf("second extension did not see consumer as resolved")
	}
	if len(sawWires) != 1 || sawWires[0].Provider != provider {
		t.Fatalf("second extension saw wires %v, want one wire to provider", sawWires)
	}
	if !sawExtra {
		t.Fatalf("third extension did not see the second extension's resource")
	}

	got := map[*module.Revision]bool{}
	for _, rev := range res.Resources {
		got[rev] = true
	}
	for _, rev := range []*module.Revision{provider, consumer, extra} {
		if !got[rev] {
			t.Fatalf("merged result is missing %s: %v", rev, res.Resources)
		}
	}
	if len(wiresIn(res, consumer, module.NamespacePackage)) != 1 {
		t.Fatalf("merged result lost the consumer's package wire")
	}
}

func TestChain_BaselineStaysVisible(t *testing.T) {
	provider := mod(t, newBuilder(1, "provider", "1.0.0").Export("com.p", "1.0.0", nil))
	var sawProvider bool
	chain := Chain{resolverFunc(func(_ context.Context, in Input) (Result, error) {
		sawProvider = in.Baseline.IsResolved(provider)
		return Result{}, nil
	})}

	if _, err := chain.Resolve(context.Background(), Input{Baseline: fakeBaseline{provider: nil}}); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !sawProvider {
		t.Fatalf("extension did not see the committed baseline")
	}
}

func TestChain_FailingExtensionAbortsEverything(t *testing.T) {
	provider := mod(t, newBuilder(1, "provider", "1.0.0").Export("com.p", "1.0.0", nil))
	consumer := mod(t, newBuilder(2, "consumer", "1.0.0").Import("com.p", "", ""))
	veto := errors.New("vetoed")

	var ranAfter bool
	chain := Chain{
		NewDefault(),
		resolverFunc(func(context.Context, Input) (Result, error) { return Result{}, veto }),
		resolverFunc(func(context.Context, Input) (Result, error) {
			ranAfter = true
			return Result{}, nil
		}),
	}

	res, err := chain.Resolve(context.Background(), Input{
		Mandatory:  []*module.Revision{consumer},
		Candidates: repoOf(t, provider, consumer),
	})
	if !errors.Is(err, veto) {
		t.Fatalf("expected the extension's error, got %v", err)
	}
	if !res.Empty() || len(res.Wires) != 0 {
		t.Fatalf("expected no partial result, got %+v", res)
	}
	if ranAfter {
		t.Fatalf("extensions after a failure must not run")
	}
}
