package framework

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

// Activator is a module's entry point. Start runs when the module activates;
// Stop runs when it deactivates, before anything the module registered
// through its context is released.
type Activator interface {
	Start(ctx context.Context, mc *ModuleContext) error
	Stop(ctx context.Context, mc *ModuleContext) error
}

type ActivatorFactory func() Activator

// ComponentHook is told about activations so that a component registry can
// be layered on top of the runtime.
type ComponentHook interface {
	ModuleActivated(ctx context.Context, m *Module) error
	ModuleDeactivating(ctx context.Context, m *Module)
}

// ModuleContext is handed to a module's activator. Everything registered
// through it is released, in reverse order, when the module stops.
type ModuleContext struct {
	f        *Framework
	id       module.ID
	log      logr.Logger
	teardown lifecycle.Teardown
}

func newModuleContext(f *Framework, id module.ID, log logr.Logger) *ModuleContext {
	return &ModuleContext{f: f, id: id, log: log}
}

func (mc *ModuleContext) ID() module.ID { return mc.id }

func (mc *ModuleContext) Module() (*Module, error) { return mc.f.Module(mc.id) }

func (mc *ModuleContext) Logger() logr.Logger { return mc.log }

// Subscribe registers a lifecycle listener for as long as the module runs.
func (mc *ModuleContext) Subscribe(l lifecycle.Listener) {
	unsubscribe := mc.f.Subscribe(l)
	mc.teardown.Push("listener", func(context.Context) error {
		unsubscribe()
		return nil
	})
}

// RegisterService publishes svc under name for as long as the module runs.
func (mc *ModuleContext) RegisterService(name string, svc any) {
	unregister := mc.f.registerService(name, mc.id, svc)
	mc.teardown.Push("service "+name, func(context.Context) error {
		unregister()
		return nil
	})
}

func (mc *ModuleContext) Service(name string) (any, bool) { return mc.f.Service(name) }

// OnStop runs fn when the module stops.
func (mc *ModuleContext) OnStop(name string, fn func(context.Context) error) {
	mc.teardown.Push(name, fn)
}

// FindClass loads className as visible from this module.
func (mc *ModuleContext) FindClass(ctx context.Context, className string) ([]byte, error) {
	return mc.f.FindClass(ctx, mc.id, className)
}

type service struct {
	seq   uint64
	owner module.ID
	value any
}

func (f *Framework) registerService(name string, owner module.ID, value any) func() {
	f.mu.Lock()
	f.serviceSeq++
	seq := f.serviceSeq
	f.services[name] = append(f.services[name], service{seq: seq, owner: owner, value: value})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		kept := f.services[name][:0]
		for _, s := range f.services[name] {
			if s.seq != seq {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(f.services, name)
			return
		}
		f.services[name] = kept
	}
}

// Service returns the earliest registered service under name.
func (f *Framework) Service(name string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s := f.services[name]; len(s) > 0 {
		return s[0].value, true
	}
	return nil, false
}
