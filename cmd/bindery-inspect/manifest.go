package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bayleafwalker/bindery-runtime/internal/archive"
	"github.com/bayleafwalker/bindery-runtime/internal/manifest"
)

func newManifestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest LOCATION",
		Short: "Validate and print the manifest of one module archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := archive.Open(args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			data, err := a.ReadFile(manifest.FileName)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], manifest.ErrNoManifest)
			}
			m, err := manifest.Decode(data)
			if err != nil {
				return err
			}
			format := opts.output
			if format == "table" {
				format = "yaml"
			}
			return render(cmd.OutOrStdout(), format, m)
		},
	}
}
