// Package deploy keeps a directory of module archives deployed: archives that
// appear are installed and started, archives that change are updated in
// place and archives that disappear are uninstalled.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-runtime/internal/config"
	"github.com/bayleafwalker/bindery-runtime/internal/framework"
	"github.com/bayleafwalker/bindery-runtime/internal/lifecycle"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
)

const defaultDebounce = 500 * time.Millisecond

// Target is the part of the framework the watcher drives.
type Target interface {
	Install(ctx context.Context, location string) (*framework.Module, error)
	Update(ctx context.Context, id module.ID, location string) error
	Uninstall(ctx context.Context, id module.ID) error
	Start(ctx context.Context, id module.ID, opts framework.StartOptions) error
	Modules() []*framework.Module
}

var _ Target = (*framework.Framework)(nil)

// Watcher reconciles the modules installed from its directory with the
// archives present in it. Run must be called at most once.
type Watcher struct {
	dir      string
	target   Target
	debounce time.Duration
	fsw      *fsnotify.Watcher
	started  atomic.Bool
}

// New watches cfg.Dir, creating it if needed. Existing module directories
// are watched too so that edits inside them are seen.
func New(cfg config.DeployConfig, target Target) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("deploy: no directory configured")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("deploy: resolve directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("deploy: create directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("deploy: create fsnotify watcher: %w", err)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{dir: dir, target: target, debounce: debounce, fsw: fsw}

	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("deploy: watch %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("deploy: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			if err := fsw.Add(filepath.Join(dir, e.Name())); err != nil {
				_ = fsw.Close()
				return nil, fmt.Errorf("deploy: watch %s: %w", e.Name(), err)
			}
		}
	}
	return w, nil
}

// Dir returns the absolute path of the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run reconciles the directory once, then applies changes as they settle
// until ctx is cancelled. Reconciliation failures are logged and retried on
// the next change.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("deploy: Run called more than once")
	}
	defer w.fsw.Close()
	log := logFrom(ctx)

	if err := w.Sync(ctx); err != nil {
		log.Error(err, "initial deploy incomplete")
	}

	pending := sets.New[string]()
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("deploy: fsnotify event channel closed")
			}
			location, ok := w.locationOf(evt.Name)
			if !ok {
				continue
			}
			if evt.Has(fsnotify.Create) && evt.Name == location {
				if info, err := os.Stat(location); err == nil && info.IsDir() {
					if err := w.fsw.Add(location); err != nil {
						log.Error(err, "watching new module directory", "location", location)
					}
				}
			}
			pending.Insert(location)
			timer.Reset(w.debounce)

		case <-timer.C:
			changed := pending
			pending = sets.New[string]()
			if err := w.apply(ctx, changed); err != nil {
				log.Error(err, "deploy incomplete", "changed", sets.List(changed))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("deploy: fsnotify error channel closed")
			}
			log.Error(err, "fsnotify error")
		}
	}
}

// Sync installs and starts every archive in the directory that is not yet
// installed and uninstalls modules whose archive is gone.
func (w *Watcher) Sync(ctx context.Context) error {
	return w.apply(ctx, nil)
}

// locationOf maps a path inside the directory to the module archive it
// belongs to.
func (w *Watcher) locationOf(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if hidden(top) {
		return "", false
	}
	return filepath.Join(w.dir, top), true
}

// apply reconciles the directory. changed holds locations whose content
// changed since the last pass; installed modules among them are updated.
func (w *Watcher) apply(ctx context.Context, changed sets.Set[string]) error {
	log := logFrom(ctx)
	present, err := framework.ModuleLocations(w.dir)
	if err != nil {
		return err
	}
	want := sets.New(present...)

	installed := map[string]*framework.Module{}
	for _, m := range w.target.Modules() {
		if filepath.Dir(m.Location()) == w.dir {
			installed[m.Location()] = m
		}
	}

	var errs error
	for _, location := range slices.Sorted(maps.Keys(installed)) {
		m := installed[location]
		switch {
		case !want.Has(location):
			if err := w.target.Uninstall(ctx, m.ID()); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			log.Info("undeployed", "module", m.String(), "location", location)
		case changed.Has(location):
			if err := w.target.Update(ctx, m.ID(), location); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			log.Info("redeployed", "module", m.String(), "location", location)
		}
	}

	var start []*framework.Module
	for _, location := range present {
		if m, ok := installed[location]; ok {
			// Modules still waiting on a provider get another chance.
			if m.State() == lifecycle.Installed {
				start = append(start, m)
			}
			continue
		}
		m, err := w.target.Install(ctx, location)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		log.Info("deployed", "module", m.String(), "location", location)
		start = append(start, m)
	}
	for _, m := range start {
		if m.Revision().Fragment {
			continue
		}
		errs = multierr.Append(errs, w.target.Start(ctx, m.ID(), framework.StartOptions{}))
	}
	return errs
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }

func logFrom(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx).WithName("deploy")
}
