package lifecycle

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Event describes one state change, or a failed transition when Err is set.
type Event struct {
	Module module.ID
	Name   string
	Kind   Kind
	From   State
	To     State
	Err    error
	// Stamp increases monotonically across all records.
	Stamp uint64
	// Source identifies the framework instance that emitted the event.
	Source string
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %s[%d]: %s -> %s", e.Kind, e.Name, e.Module, e.From, e.To)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

type Listener func(Event)

var clock atomic.Uint64

func tick() uint64 { return clock.Add(1) }

// Notifier fans events out to listeners in subscription order. A panicking
// listener is logged and skipped.
type Notifier struct {
	source string
	log    logr.Logger

	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func NewNotifier(source string, log logr.Logger) *Notifier {
	return &Notifier{source: source, log: log, listeners: map[int]Listener{}}
}

// Subscribe registers l and returns a function that removes it.
func (n *Notifier) Subscribe(l Listener) (unsubscribe func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.listeners[id] = l
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) Notify(e Event) {
	if e.Source == "" {
		e.Source = n.source
	}
	n.mu.RLock()
	ids := make([]int, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	n.mu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		n.mu.RLock()
		l, ok := n.listeners[id]
		n.mu.RUnlock()
		if ok {
			n.deliver(l, e)
		}
	}
}

func (n *Notifier) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error(fmt.Errorf("%v", r), "lifecycle listener panicked", "event", e.String())
		}
	}()
	l(e)
}
