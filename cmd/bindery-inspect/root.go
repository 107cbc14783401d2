package main

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bayleafwalker/bindery-runtime/internal/config"
)

type rootOptions struct {
	configPath string
	output     string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bindery-inspect",
		Short: "Inspect bindery module archives and their wiring",
		Long: `bindery-inspect reads module archives the way the runtime does and
reports what the resolver would wire, without activating any module.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the runtime configuration file")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, yaml or json")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log resolver decisions to stderr")

	cmd.AddCommand(newResolveCommand(opts), newManifestCommand(opts))
	return cmd
}

func (o *rootOptions) config() (*config.Config, error) {
	return config.Load(o.configPath)
}

func (o *rootOptions) logger() logr.Logger {
	if !o.verbose {
		return logr.Discard()
	}
	zc := zap.NewDevelopmentConfig()
	zl, err := zc.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}
