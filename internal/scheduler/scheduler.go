// Package scheduler sequences work on modules. Transitions of one module are
// serialized behind a per-module lock that a logical caller (a Call carried in
// the context) may re-enter; bulk operations fan out across a bounded worker
// pool and report every failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

var (
	// ErrClosed is returned for work submitted after Shutdown.
	ErrClosed = errors.New("scheduler is shut down")
	// ErrShutdownTimeout is returned when in-flight work does not finish
	// within the shutdown timeout.
	ErrShutdownTimeout = errors.New("scheduler shutdown timed out")
)

const DefaultWorkers = 8

type Scheduler struct {
	workers int

	mu    sync.Mutex
	locks map[module.ID]chan struct{}

	base     context.Context
	cancel   context.CancelFunc
	inflight atomic.Int64
	once     sync.Once
}

// New returns a scheduler whose fan-outs run at most workers items at once.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{workers: workers, locks: map[module.ID]chan struct{}{}, base: base, cancel: cancel}
}

func (s *Scheduler) Workers() int { return s.workers }

func (s *Scheduler) lock(id module.ID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

// Forget drops the lock of a module that no longer exists.
func (s *Scheduler) Forget(id module.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

// Serialize runs fn while holding id's lock. A caller that already holds the
// lock runs fn directly; any other caller waits. fn's context is cancelled on
// Shutdown.
func (s *Scheduler) Serialize(ctx context.Context, id module.ID, fn func(context.Context) error) error {
	ctx = WithCall(ctx)
	call := CallFrom(ctx)
	if call.Holds(id) {
		return fn(ctx)
	}
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()

	l := s.lock(id)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.base.Done():
		return ErrClosed
	}
	call.acquire(id)
	defer func() {
		call.release(id)
		<-l
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()
	return fn(ctx)
}

// TrySerialize is Serialize without waiting: when another caller holds id it
// returns false and does not run fn.
func (s *Scheduler) TrySerialize(ctx context.Context, id module.ID, fn func(context.Context) error) (bool, error) {
	ctx = WithCall(ctx)
	call := CallFrom(ctx)
	if call.Holds(id) {
		return true, fn(ctx)
	}
	done, err := s.enter()
	if err != nil {
		return false, err
	}
	defer done()

	l := s.lock(id)
	select {
	case l <- struct{}{}:
	default:
		return false, nil
	}
	call.acquire(id)
	defer func() {
		call.release(id)
		<-l
	}()
	return true, fn(ctx)
}

func (s *Scheduler) enter() (func(), error) {
	if s.base.Err() != nil {
		return nil, ErrClosed
	}
	s.inflight.Add(1)
	return func() { s.inflight.Add(-1) }, nil
}

// FanOut runs fn for every item on the worker pool. Every item runs even when
// others fail; the failures come back as one aggregate, in item order. Each
// item gets its own Call.
func FanOut[T any](ctx context.Context, s *Scheduler, items []T, fn func(context.Context, T) error) error {
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()

	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, item := range items {
		g.Go(func() error {
			errs[i] = fn(NewCall(ctx), item)
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

// Shutdown cancels running work, rejects new work and waits up to timeout
// for in-flight work to return.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.once.Do(s.cancel)
	err := wait.PollUntilContextTimeout(context.Background(), 10*time.Millisecond, timeout, true, func(context.Context) (bool, error) {
		return s.inflight.Load() == 0, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %d operations still running", ErrShutdownTimeout, s.inflight.Load())
	}
	return nil
}
