package scheduler

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Call is one logical caller. It travels in the context through every
// framework operation so that re-entrant calls into a module it already
// holds proceed, and so that activations triggered by class loads can be
// queued and run once the load completes.
type Call struct {
	mu      sync.Mutex
	held    sets.Set[module.ID]
	pending []module.ID
}

type callKey struct{}

// WithCall returns ctx carrying a Call, reusing the one already present.
func WithCall(ctx context.Context) context.Context {
	if CallFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, callKey{}, newCall())
}

// NewCall returns ctx carrying a fresh Call, detached from any caller
// already in ctx.
func NewCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, callKey{}, newCall())
}

func CallFrom(ctx context.Context) *Call {
	c, _ := ctx.Value(callKey{}).(*Call)
	return c
}

func newCall() *Call {
	return &Call{held: sets.New[module.ID]()}
}

// Holds reports whether the caller is currently serialized on id.
func (c *Call) Holds(id module.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held.Has(id)
}

func (c *Call) acquire(id module.ID) {
	c.mu.Lock()
	c.held.Insert(id)
	c.mu.Unlock()
}

func (c *Call) release(id module.ID) {
	c.mu.Lock()
	c.held.Delete(id)
	c.mu.Unlock()
}

// RequestActivation queues a lazy activation of id.
func (c *Call) RequestActivation(id module.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p == id {
			return
		}
	}
	c.pending = append(c.pending, id)
}

// DrainActivations empties the queue, most recent request first.
func (c *Call) DrainActivations() []module.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]module.ID, 0, len(c.pending))
	for i := len(c.pending) - 1; i >= 0; i-- {
		out = append(out, c.pending[i])
	}
	c.pending = nil
	return out
}
