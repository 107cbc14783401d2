package main

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/bayleafwalker/bindery-runtime/internal/archive"
	"github.com/bayleafwalker/bindery-runtime/internal/config"
	"github.com/bayleafwalker/bindery-runtime/internal/framework"
	"github.com/bayleafwalker/bindery-runtime/internal/graph"
	"github.com/bayleafwalker/bindery-runtime/internal/index"
	"github.com/bayleafwalker/bindery-runtime/internal/manifest"
	"github.com/bayleafwalker/bindery-runtime/internal/module"
	"github.com/bayleafwalker/bindery-runtime/internal/resolver"
)

func newResolveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [DIR]",
		Short: "Resolve every module in a directory and print the wiring",
		Long: `Resolve installs every module archive in DIR (the configured modules
directory by default) into an empty index, resolves them all as optional and
prints the modules, the wires and the requirements left unresolved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			dir := cfg.ModulesDir
			if len(args) == 1 {
				dir = args[0]
			}
			ctx := logr.NewContext(cmd.Context(), opts.logger())
			rep, loadErr := inspect(ctx, *cfg, dir)
			if rep != nil {
				if err := render(cmd.OutOrStdout(), opts.output, rep); err != nil {
					return err
				}
			}
			return loadErr
		},
	}
}

type report struct {
	Modules            []moduleRow                      `json:"modules"`
	Wires              []graph.WireRecord               `json:"wires"`
	UnresolvedRequired []resolver.UnresolvedRequirement `json:"unresolvedRequired,omitempty"`
	UnresolvedOptional []resolver.UnresolvedRequirement `json:"unresolvedOptional,omitempty"`
}

type moduleRow struct {
	ID       module.ID `json:"id"`
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Location string    `json:"location,omitempty"`
	Fragment bool      `json:"fragment,omitempty"`
	Resolved bool      `json:"resolved"`
}

// inspect resolves the modules in dir against a fresh index and graph. A
// report is returned even when some archives could not be loaded; their
// errors are returned alongside it.
func inspect(ctx context.Context, cfg config.Config, dir string) (*report, error) {
	locations, err := framework.ModuleLocations(dir)
	if err != nil {
		return nil, err
	}
	sys, err := framework.SystemRevision(cfg.System.Name, cfg.System.Version, cfg.System.Packages)
	if err != nil {
		return nil, err
	}

	repo := index.New()
	if err := repo.Index(sys); err != nil {
		return nil, err
	}
	revs := []*module.Revision{sys}
	where := map[*module.Revision]string{}
	var errs error
	for i, location := range locations {
		a, err := archive.Open(location)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		defer a.Close()
		rev, err := manifest.Load(module.ID(i+1), a)
		if err == nil {
			err = repo.Index(rev)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", location, err))
			continue
		}
		revs = append(revs, rev)
		where[rev] = location
	}
	repo.Commit()

	g := graph.New()
	r := resolver.NewDefault(resolver.WithBootPackages(cfg.BootPackages...))
	res, err := r.Resolve(ctx, resolver.Input{Optional: revs, Baseline: g, Candidates: repo})
	if err != nil {
		return nil, multierr.Append(errs, err)
	}
	g.Commit(res)

	rep := &report{
		Wires:              g.Snapshot(),
		UnresolvedRequired: res.Diagnostics.UnresolvedRequired,
		UnresolvedOptional: res.Diagnostics.UnresolvedOptional,
	}
	for _, rev := range revs {
		rep.Modules = append(rep.Modules, moduleRow{
			ID:       rev.ID,
			Name:     rev.SymbolicName,
			Version:  rev.Version.String(),
			Location: where[rev],
			Fragment: rev.Fragment,
			Resolved: g.IsResolved(rev),
		})
	}
	return rep, errs
}
