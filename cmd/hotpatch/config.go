// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hotpatch/hotpatch/internal/config"
)

func newConfigCommand(app *App, root *rootFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage hotpatch configuration",
		Long: `Manage hotpatch configuration.

The first file found is used:
  - the --config flag
  - ./` + config.ProjectFileName + `
  - ` + config.UserFileName + ` in the user configuration directory

HOTPATCH_* environment variables and a .env file in the project directory
override file values, e.g. ` + config.EnvName("device.package") + `.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := app.setup(cmd, root)
			if err != nil {
				return err
			}
			source := SubtitleStyle.Render("(defaults)")
			if cfg.Source != "" {
				source = cfg.Source
			}
			_, _ = fmt.Fprintf(app.stderr, "%s %s\n", CmdStyle.Render("Config file:"), source)
			_, _ = fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	var force, user bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := initPath(root, user)
			if err != nil {
				return err
			}
			if err := config.WriteFile(path, config.DefaultConfig(), force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(app.stdout, "%s Created %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	initCmd.Flags().BoolVar(&user, "user", false, "write the user configuration instead of "+config.ProjectFileName)
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show where configuration files are looked up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := initPath(root, false)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(app.stdout, "%s %s\n", CmdStyle.Render("Project:"), project)
			if dir, err := config.UserConfigDir(); err == nil {
				_, _ = fmt.Fprintf(app.stdout, "%s %s\n", CmdStyle.Render("User:   "), filepath.Join(dir, config.UserFileName))
			}
			return nil
		},
	})

	return cfgCmd
}

// initPath returns the file written by "config init".
func initPath(root *rootFlags, user bool) (string, error) {
	if root.configPath != "" {
		return root.configPath, nil
	}
	if user {
		dir, err := config.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, config.UserFileName), nil
	}
	dir := root.projectDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, config.ProjectFileName), nil
}
