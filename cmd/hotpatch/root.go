// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hotpatch/hotpatch/internal/config"
	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/metrics"
	"github.com/hotpatch/hotpatch/internal/patch"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// App wires CLI services. Command handlers receive it and delegate to
	// the patch pipeline through it.
	App struct {
		Config config.Provider
		// BuilderOptions are applied to every patch.Builder.
		BuilderOptions []patch.Option
		// Metrics is shared by every build of the process.
		Metrics *metrics.Recorder
		stdout  io.Writer
		stderr  io.Writer
		// guideStyle is the glamour style of the loaded configuration.
		guideStyle string
		verbose    bool
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config         config.Provider
		BuilderOptions []patch.Option
		Stdout         io.Writer
		Stderr         io.Writer
	}

	rootFlags struct {
		configPath string
		projectDir string
		verbose    bool
	}

	// session is one loaded project with its builder. close releases the
	// worker pool.
	session struct {
		cfg     *config.Config
		pctx    *patch.Context
		builder *patch.Builder
		pool    *workerpool.Pool
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	return &App{
		Config:         deps.Config,
		BuilderOptions: deps.BuilderOptions,
		Metrics:        metrics.New(),
		stdout:         deps.Stdout,
		stderr:         deps.Stderr,
		guideStyle:     config.ColorSchemeAuto.GlamourStyle(),
	}
}

func newRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Hot-patch changed Kotlin sources onto a running Android app",
		Long: TitleStyle.Render("hotpatch") + SubtitleStyle.Render(" - incremental Kotlin patches without a Gradle build") + `

hotpatch compiles the Kotlin sources changed in the git worktree in module
dependency order, runs annotation processors where needed, dexes the result
and restarts the application with the patch loaded.

` + SubtitleStyle.Render("Examples:") + `
  hotpatch build            Compile, dex and deploy the current changes
  hotpatch watch            Rebuild whenever a Kotlin source is saved
  hotpatch rounds           Show the compilation rounds without compiling
  hotpatch config init      Write a hotpatch.cue with the defaults`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ./"+config.ProjectFileName+", then the user config)")
	root.PersistentFlags().StringVarP(&flags.projectDir, "project", "C", "", "project directory (default the current directory)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newBuildCommand(app, flags),
		newWatchCommand(app, flags),
		newRoundsCommand(app, flags),
		newGraphCommand(app, flags),
		newCleanCommand(app, flags),
		newConfigCommand(app, flags),
	)
	return root
}

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	app := NewApp(Dependencies{})
	err := fang.Execute(ctx, newRootCommand(app),
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			app.renderError(w, err)
		}),
	)
	return exitCode(err)
}

// setup loads the configuration and attaches the logger to the command
// context.
func (a *App) setup(cmd *cobra.Command, flags *rootFlags) (context.Context, *config.Config, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: flags.configPath,
		ProjectDir:     flags.projectDir,
	})
	if err != nil {
		a.verbose = flags.verbose
		return ctx, nil, err
	}
	if flags.projectDir != "" && !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Join(flags.projectDir, cfg.Project.Root)
	}

	a.verbose = flags.verbose || cfg.UI.Verbose
	a.guideStyle = cfg.UI.ColorScheme.GlamourStyle()

	level := log.InfoLevel
	if a.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix:          config.AppName,
		ReportTimestamp: a.verbose,
		Level:           level,
	})
	if cfg.Source != "" {
		logger.Debug("configuration loaded", "file", cfg.Source)
	}
	return ctxlog.WithLogger(ctx, logger), cfg, nil
}

// open loads the project and creates its builder.
func (a *App) open(ctx context.Context, cfg *config.Config, opts ...patch.Option) (*session, error) {
	pool := workerpool.New(cfg.Build.WorkerCount())
	pctx, err := patch.Load(ctx, cfg, pool)
	if err != nil {
		pool.Release()
		return nil, err
	}
	all := append([]patch.Option{patch.WithMetrics(a.Metrics)}, a.BuilderOptions...)
	builder, err := patch.NewBuilder(pctx, cfg, pool, append(all, opts...)...)
	if err != nil {
		pool.Release()
		return nil, err
	}
	return &session{cfg: cfg, pctx: pctx, builder: builder, pool: pool}, nil
}

func (s *session) close() {
	s.pool.Release()
}
