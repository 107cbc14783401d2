package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
)

func TestTeardownRunsInReverse(t *testing.T) {
	var td Teardown
	var order []string
	for _, name := range []string{"listener", "service", "activator"} {
		td.Push(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	if td.Len() != 3 {
		t.Fatalf("expected 3 steps, got %d", td.Len())
	}
	if err := td.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"activator", "service", "listener"}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if td.Len() != 0 {
		t.Fatalf("steps must be consumed")
	}
}

func TestTeardownKeepsGoingPastFailures(t *testing.T) {
	var td Teardown
	ran := 0
	td.Push("a", func(context.Context) error { ran++; return nil })
	td.Push("b", func(context.Context) error { ran++; panic("b exploded") })
	td.Push("c", func(context.Context) error { ran++; return errors.New("c failed") })

	err := td.Run(context.Background())
	if ran != 3 {
		t.Fatalf("every step must run, ran %d", ran)
	}
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if !strings.HasPrefix(errs[0].Error(), "c:") || !strings.Contains(errs[1].Error(), "b exploded") {
		t.Fatalf("unexpected errors: %v", errs)
	}
}
