// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hotpatch/hotpatch/internal/config"
	"github.com/hotpatch/hotpatch/internal/patch"
)

type buildFlags struct {
	noIncremental bool
	plainOnly     bool
	workers       int
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noIncremental, "no-incremental", false, "compile every changed source, ignoring the fingerprint table")
	cmd.Flags().BoolVar(&f.plainOnly, "plain-only", false, "never run annotation processors")
	cmd.Flags().IntVarP(&f.workers, "workers", "j", 0, "concurrent compiler invocations (default build.workers, 0 means one per CPU)")
}

// apply lets explicitly set flags override the configuration.
func (f *buildFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.noIncremental {
		cfg.Build.Incremental = false
	}
	if f.plainOnly {
		cfg.Build.PlainOnly = true
	}
	if cmd.Flags().Changed("workers") {
		cfg.Build.Workers = f.workers
	}
}

func newBuildCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile the changed sources and deploy the patch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := app.setup(cmd, root)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			return app.build(ctx, cfg)
		},
	}
	flags.register(cmd)
	return cmd
}

// build runs one build and prints its summary. A compilation failure is
// reported as exit code 1.
func (a *App) build(ctx context.Context, cfg *config.Config, opts ...patch.Option) error {
	s, err := a.open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer s.close()

	summary, err := s.builder.Build(ctx)
	if err != nil {
		return err
	}
	renderSummary(a.stdout, summary)
	if summary.Action == patch.ActionCompileFailed {
		return &ExitError{Code: exitCompileFailed}
	}
	return nil
}
