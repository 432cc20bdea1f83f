// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hotpatch/hotpatch/internal/classify"
	"github.com/hotpatch/hotpatch/internal/config"
	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/patch"
	"github.com/hotpatch/hotpatch/internal/watch"
)

func newWatchCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &buildFlags{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild and redeploy whenever a Kotlin source changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := app.setup(cmd, root)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			return app.watch(ctx, cfg, debounce)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a rebuild")
	return cmd
}

func (a *App) watch(ctx context.Context, cfg *config.Config, debounce time.Duration) error {
	logger := ctxlog.FromContext(ctx)

	// The classification memo outlives single builds.
	classifier, err := classify.NewImportScanner()
	if err != nil {
		return err
	}
	rebuild := func(ctx context.Context) {
		err := a.build(ctx, cfg, patch.WithClassifier(classifier))
		if err != nil && exitCode(err) != exitCompileFailed {
			a.renderError(a.stderr, err)
		}
	}

	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return err
	}
	var ignore []string
	if rel, ok := within(root, patch.NewLayout(root, cfg.Build.Root).BuildDir); ok {
		ignore = append(ignore, rel+"/**")
	}

	w, err := watch.New(ctx, watch.Config{
		Root:     root,
		Ignore:   ignore,
		Debounce: debounce,
		OnChange: func(ctx context.Context, changed []string) error {
			logger.Info("sources changed, rebuilding", "files", len(changed))
			rebuild(ctx)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	rebuild(ctx)
	_, _ = fmt.Fprintf(a.stdout, "\n%s\n", VerboseStyle.Render("→ Watching for changes (Ctrl+C to stop)"))
	return w.Run(ctx)
}

// within returns path relative to root when it lies below root.
func within(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
