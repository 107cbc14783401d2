package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Teardown is a stack of cleanup steps. Run executes them in reverse
// registration order and keeps going past failures.
type Teardown struct {
	mu    sync.Mutex
	steps []teardownStep
}

type teardownStep struct {
	name string
	fn   func(context.Context) error
}

func (t *Teardown) Push(name string, fn func(context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, teardownStep{name: name, fn: fn})
}

func (t *Teardown) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}

// Run pops and runs every step, including steps pushed while running.
func (t *Teardown) Run(ctx context.Context) error {
	var errs error
	for {
		t.mu.Lock()
		if len(t.steps) == 0 {
			t.mu.Unlock()
			return errs
		}
		s := t.steps[len(t.steps)-1]
		t.steps = t.steps[:len(t.steps)-1]
		t.mu.Unlock()

		if err := runStep(ctx, s); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
}

func runStep(ctx context.Context, s teardownStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx)
}
