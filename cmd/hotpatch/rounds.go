// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/spf13/cobra"
)

func newRoundsCommand(app *App, root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rounds",
		Short: "Show the compilation rounds of the current changes",
		Long: `Show the compilation rounds of the current changes.

Every changed Kotlin source is scheduled, whether or not its fingerprint
changed since the last build. Nothing is compiled or deployed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := app.setup(cmd, root)
			if err != nil {
				return err
			}
			s, err := app.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.close()

			plan, err := s.builder.Plan(ctx)
			if err != nil {
				return err
			}
			renderPlan(app.stdout, plan)
			return nil
		},
	}
}

func newGraphCommand(app *App, root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Show every module with its resolved dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := app.setup(cmd, root)
			if err != nil {
				return err
			}
			s, err := app.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.close()

			renderGraph(app.stdout, s.pctx)
			return nil
		},
	}
}

func newCleanCommand(app *App, root *rootFlags) *cobra.Command {
	var device bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the build directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := app.setup(cmd, root)
			if err != nil {
				return err
			}
			s, err := app.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.builder.Clean(ctx, device); err != nil {
				return err
			}
			_, _ = app.stdout.Write([]byte(SuccessStyle.Render("✓ Build directory removed") + "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&device, "device", false, "also remove installed patches from the device")
	return cmd
}
