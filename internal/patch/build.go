// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hotpatch/hotpatch/internal/changeset"
	"github.com/hotpatch/hotpatch/internal/classify"
	"github.com/hotpatch/hotpatch/internal/compiler"
	"github.com/hotpatch/hotpatch/internal/config"
	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/device"
	"github.com/hotpatch/hotpatch/internal/diffcache"
	"github.com/hotpatch/hotpatch/internal/fingerprint"
	"github.com/hotpatch/hotpatch/internal/issue"
	"github.com/hotpatch/hotpatch/internal/libresolve"
	"github.com/hotpatch/hotpatch/internal/metrics"
	"github.com/hotpatch/hotpatch/internal/schedule"
	"github.com/hotpatch/hotpatch/internal/shell"
	"github.com/hotpatch/hotpatch/internal/strategy"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

// Action is what a run ended up doing.
type Action int

const (
	// ActionReset cleared the build and the device patch: nothing changed.
	ActionReset Action = iota + 1
	// ActionRedeploy pushed the existing patch again: everything is up to date.
	ActionRedeploy
	// ActionRemoveOnly rebuilt the patch without the classes of removed sources.
	ActionRemoveOnly
	// ActionPatch compiled, built and deployed a new patch.
	ActionPatch
	// ActionCompileFailed stopped at a compilation failure; nothing was deployed.
	ActionCompileFailed
)

func (a Action) String() string {
	switch a {
	case ActionReset:
		return "reset"
	case ActionRedeploy:
		return "redeploy"
	case ActionRemoveOnly:
		return "remove-only"
	case ActionPatch:
		return "patch"
	case ActionCompileFailed:
		return "compile-failed"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

type (
	// ChangeReader lists the changed files of the worktree.
	ChangeReader interface {
		Read(ctx context.Context) (changeset.ChangeSet, error)
	}

	// Deployer installs the patch on the device.
	Deployer interface {
		CheckConnected(ctx context.Context) error
		PatchPath(ctx context.Context) (string, error)
		RemovePatches(ctx context.Context) error
		Push(ctx context.Context, local, remote string) error
		Restart(ctx context.Context) error
	}

	// Dexer converts class files to a dex file.
	Dexer interface {
		Dex(ctx context.Context, classFiles []string, outputDir string) (compiler.Outcome, error)
	}

	// Summary describes a finished run.
	Summary struct {
		Action Action
		Branch string
		// Supported and Ignored are the project-relative changed files.
		Supported []string
		Ignored   []string
		Compile   []string
		Remove    []string
		// StaleClasses are the classes deleted for removed sources.
		StaleClasses []string
		Report       strategy.Report
		PatchSize    int64
		Elapsed      time.Duration
	}

	// Plan is the schedule a build would compile, without touching any state.
	Plan struct {
		Branch    string
		Supported []string
		Ignored   []string
		Rounds    []schedule.Round
	}

	// DexError reports a failed d8 run.
	DexError struct {
		Output []string
	}

	// Builder runs builds for one loaded Context.
	Builder struct {
		pctx       *Context
		cfg        *config.Config
		pool       *workerpool.Pool
		runner     shell.Runner
		changes    ChangeReader
		device     Deployer
		dexer      Dexer
		classifier classify.Classifier
		metrics    *metrics.Recorder
		engine     *strategy.Engine
	}

	// Option configures a Builder.
	Option func(*Builder)
)

func (e *DexError) Error() string {
	return fmt.Sprintf("d8 failed with %d diagnostic line(s)", len(e.Output))
}

// WithRunner replaces the command runner used for compilers and files.
func WithRunner(r shell.Runner) Option { return func(b *Builder) { b.runner = r } }

// WithChangeReader replaces the git change-set reader.
func WithChangeReader(c ChangeReader) Option { return func(b *Builder) { b.changes = c } }

// WithDeployer replaces the adb deployer.
func WithDeployer(d Deployer) Option { return func(b *Builder) { b.device = d } }

// WithDexer replaces the d8 dexer.
func WithDexer(d Dexer) Option { return func(b *Builder) { b.dexer = d } }

// WithClassifier shares a classifier across builds, e.g. in watch mode.
func WithClassifier(c classify.Classifier) Option { return func(b *Builder) { b.classifier = c } }

// WithMetrics records run metrics into r.
func WithMetrics(r *metrics.Recorder) Option { return func(b *Builder) { b.metrics = r } }

// NewBuilder wires the compilers, the strategies and the deployment target
// for pctx.
func NewBuilder(pctx *Context, cfg *config.Config, pool *workerpool.Pool, opts ...Option) (*Builder, error) {
	b := &Builder{pctx: pctx, cfg: cfg, pool: pool}
	for _, opt := range opts {
		opt(b)
	}

	sdk := AndroidSDK(cfg.Toolchain.AndroidSDK)
	if b.runner == nil {
		b.runner = shell.NewInterpreter(shell.WithDir(pctx.Root))
	}
	if b.changes == nil {
		b.changes = &changeset.Reader{Root: pctx.Root}
	}
	if b.device == nil {
		adb := cfg.Device.ADB
		if adb == "" {
			adb = filepath.Join(sdk, "platform-tools", "adb")
		}
		b.device = &device.Device{
			Runner:    b.runner,
			ADB:       adb,
			Package:   cfg.Device.Package,
			Component: cfg.Device.Component,
			PatchDir:  cfg.Device.PatchDir,
		}
	}
	if b.dexer == nil {
		b.dexer = &compiler.Dexer{Runner: b.runner, SDK: sdk}
	}
	if b.classifier == nil {
		scanner, err := classify.NewImportScanner()
		if err != nil {
			return nil, err
		}
		b.classifier = scanner
	}
	if b.metrics == nil {
		b.metrics = metrics.New()
	}

	b.engine = b.newEngine()
	return b, nil
}

// AndroidSDK resolves the SDK root: the configured path, $ANDROID_HOME,
// $ANDROID_SDK_ROOT, then ~/Library/Android/sdk.
func AndroidSDK(configured string) string {
	for _, candidate := range []string{configured, os.Getenv("ANDROID_HOME"), os.Getenv("ANDROID_SDK_ROOT")} {
		if candidate != "" {
			return candidate
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Android", "sdk")
}

func (b *Builder) newEngine() *strategy.Engine {
	layout := b.pctx.Layout.Layout
	kotlin := &compiler.Kotlin{
		Runner:     b.runner,
		Pool:       b.pool,
		Path:       b.cfg.Toolchain.Kotlinc,
		Root:       b.pctx.Root,
		JVMTarget:  b.cfg.Build.JVMTarget,
		JavaXmx:    b.cfg.Build.JavaXmx,
		FriendDirs: []string{layout.Intermediate, layout.Final},
	}

	var plugins []compiler.Plugin
	if p := b.cfg.Toolchain.ParcelizePlugin; p != "" && fileExists(p) {
		plugins = append(plugins, compiler.Plugin{Path: p})
	}

	plain := &strategy.Plain{Kotlin: kotlin, Layout: layout, Classpath: b.pctx.Classpath, Plugins: plugins}

	var codegen strategy.Strategy
	if processors := b.processors(); len(processors) > 0 {
		gradleCache := b.cfg.Toolchain.GradleCache
		if gradleCache == "" {
			gradleCache = libresolve.DefaultModulesDir()
		}
		codegen = &strategy.CodeGeneration{
			Kotlin:   kotlin,
			Java:     &compiler.Java{Runner: b.runner, Path: b.cfg.Toolchain.Javac, JavaXmx: b.cfg.Build.JavaXmx},
			Runner:   b.runner,
			Pool:     b.pool,
			Resolver: &libresolve.Resolver{Runner: b.runner, Modules: gradleCache},
			Checker: &fingerprint.Checker{
				FinalDir:        layout.Final,
				IntermediateDir: layout.Intermediate,
				Classpath:       b.pctx.Classpath,
			},
			Layout:     layout,
			Root:       b.pctx.Root,
			Classpath:  b.pctx.Classpath,
			Plugins:    plugins,
			KaptPlugin: b.cfg.Toolchain.KaptPlugin,
			Processors: processors,
		}
	}

	return strategy.NewEngine(b.classifier, b.pool, plain, codegen,
		strategy.WithPlainOnly(b.cfg.Build.PlainOnly),
		strategy.WithRoot(b.pctx.Root),
	)
}

// processors returns the annotation processor coordinates, or none when the
// version catalog does not name the configured library.
func (b *Builder) processors() []libresolve.Coordinates {
	version, ok := b.pctx.Project.Versions[b.cfg.Codegen.Library]
	if !ok || b.cfg.Codegen.Group == "" {
		return nil
	}
	coords := make([]libresolve.Coordinates, 0, len(b.cfg.Codegen.Artifacts))
	for _, artifact := range b.cfg.Codegen.Artifacts {
		coords = append(coords, libresolve.Coordinates{Group: b.cfg.Codegen.Group, Artifact: artifact, Version: version})
	}
	return coords
}

// Plan reads the change set and schedules every supported source, without
// consulting or updating the fingerprint table.
func (b *Builder) Plan(ctx context.Context) (Plan, error) {
	plan, err := b.readChanges(ctx)
	if err != nil {
		return Plan{}, explain(err)
	}
	if len(plan.Supported) > 0 {
		if plan.Rounds, err = b.pctx.Rounds(existing(b.pctx.Root, plan.Supported)); err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}

// Build runs the whole pipeline. A compilation failure is reported through
// the summary (ActionCompileFailed) rather than as an error.
func (b *Builder) Build(ctx context.Context) (summary Summary, err error) {
	start := time.Now()
	defer func() {
		summary.Elapsed = time.Since(start)
		b.recordRun(ctx, summary, err)
	}()

	summary, err = b.build(ctx)
	return summary, explain(err)
}

func (b *Builder) build(ctx context.Context) (summary Summary, err error) {
	logger := ctxlog.FromContext(ctx)
	layout := b.pctx.Layout

	if b.cfg.Device.Package == "" || b.cfg.Device.Component == "" {
		return Summary{}, issue.NewErrorContext().
			WithOperation("deploy patch").
			WithSuggestion("Set device.package and device.component in " + config.ProjectFileName).
			WithSuggestion("Or export " + config.EnvName("device.package") + " and " + config.EnvName("device.component")).
			Wrap(errors.New("application package and launcher component are required")).
			BuildError()
	}

	if err := resetIntermediate(ctx, b.runner, layout); err != nil {
		return Summary{}, err
	}
	if err := shell.MkdirAll(ctx, b.runner, layout.Final); err != nil {
		return Summary{}, err
	}

	plan, err := b.readChanges(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary = Summary{Branch: plan.Branch, Supported: plan.Supported, Ignored: plan.Ignored}

	if len(summary.Supported) > 0 {
		cache := diffcache.New(b.pctx.Root, layout.Final, b.pool)
		var diff diffcache.Result
		if diff, err = cache.Run(ctx, summary.Supported); err != nil {
			return summary, err
		}
		// A run that stops on an error must not leave the new table behind,
		// or the next run would treat the uncompiled sources as up to date.
		defer b.rollbackOnError(ctx, cache, &err)
		summary.Compile, summary.Remove = diff.Compile, diff.Remove
		if !b.cfg.Build.Incremental {
			logger.Debug("incremental diff disabled, compiling every changed source")
			summary.Compile = existing(b.pctx.Root, summary.Supported)
		}
	}
	b.metrics.SetSources(len(summary.Compile), len(summary.Remove))
	logger.Debug("incremental diff", "compile", len(summary.Compile), "remove", len(summary.Remove))

	if err := b.device.CheckConnected(ctx); err != nil {
		return summary, err
	}
	remote, err := b.device.PatchPath(ctx)
	if err != nil {
		return summary, err
	}

	switch {
	case len(summary.Supported) == 0:
		summary.Action = ActionReset
		logger.Info("no supported changes, resetting patch")
		if err := discardOutput(ctx, b.runner, layout); err != nil {
			return summary, err
		}
		if err := b.device.RemovePatches(ctx); err != nil {
			return summary, err
		}
		return summary, b.device.Restart(ctx)

	case len(summary.Compile) == 0 && len(summary.Remove) == 0:
		summary.Action = ActionRedeploy
		logger.Info("everything is up to date")
		if fileExists(layout.DexFile()) {
			if err := b.device.Push(ctx, layout.DexFile(), remote); err != nil {
				return summary, err
			}
			summary.PatchSize = fileSize(layout.DexFile())
		}
		return summary, b.device.Restart(ctx)

	case len(summary.Compile) == 0:
		summary.Action = ActionRemoveOnly
		if summary.StaleClasses, err = removeStaleClasses(ctx, b.runner, layout.Final, summary.Remove); err != nil {
			return summary, err
		}
		return summary, b.deploy(ctx, &summary, remote)
	}

	if summary.StaleClasses, err = removeStaleClasses(ctx, b.runner, layout.Final, summary.Remove); err != nil {
		return summary, err
	}
	if !fileExists(b.cfg.Toolchain.Kotlinc) {
		return summary, issue.NewErrorContext().
			WithOperation("compile").
			WithResource(b.cfg.Toolchain.Kotlinc).
			WithGuide(issue.ToolchainMissingId).
			Wrap(fs.ErrNotExist).
			BuildError()
	}

	rounds, err := b.pctx.Rounds(summary.Compile)
	if err != nil {
		return summary, err
	}
	logger.Info("building patch", "rounds", len(rounds), "sources", len(summary.Compile))

	summary.Report, err = b.engine.Run(ctx, rounds)
	if err != nil {
		return summary, err
	}
	if summary.Report.Outcome.Failed() {
		summary.Action = ActionCompileFailed
		logger.Debug("compilation failed, discarding build output")
		return summary, discardOutput(ctx, b.runner, layout)
	}

	summary.Action = ActionPatch
	signed, err := signClasses(ctx, b.runner, b.pool, layout.Intermediate)
	if err != nil {
		return summary, err
	}
	logger.Debug("signed classes", "count", signed)
	if err := shell.CopyInto(ctx, b.runner, layout.Intermediate, layout.Final); err != nil {
		return summary, fmt.Errorf("copy classes to %s: %w", layout.Final, err)
	}
	return summary, b.deploy(ctx, &summary, remote)
}

func (b *Builder) readChanges(ctx context.Context) (Plan, error) {
	changes, err := b.changes.Read(ctx)
	if err != nil {
		return Plan{}, err
	}
	for _, path := range changes.Ignored {
		ctxlog.FromContext(ctx).Debug("ignoring unsupported change", "path", path)
	}
	plan := Plan{Branch: changes.Branch}
	if plan.Supported, err = b.pctx.Relative(changes.Supported); err != nil {
		return Plan{}, err
	}
	if plan.Ignored, err = b.pctx.Relative(changes.Ignored); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// rollbackOnError restores the fingerprint table when the run ends with
// *errp set.
func (b *Builder) rollbackOnError(ctx context.Context, cache *diffcache.Cache, errp *error) {
	if *errp == nil {
		return
	}
	if rerr := cache.Rollback(); rerr != nil {
		ctxlog.FromContext(ctx).Warn("fingerprint table not restored", "err", rerr)
		*errp = errors.Join(*errp, rerr)
		return
	}
	ctxlog.FromContext(ctx).Debug("fingerprint table restored after failed run")
}

// deploy dexes the final classes and replaces the patch on the device.
func (b *Builder) deploy(ctx context.Context, summary *Summary, remote string) error {
	layout := b.pctx.Layout
	classes, err := classFiles(ctx, b.runner, layout.Final)
	if err != nil {
		return err
	}
	if len(classes) == 0 {
		return fmt.Errorf("no class files in %s", layout.Final)
	}

	out, err := b.dexer.Dex(ctx, classes, layout.BuildDir)
	if err != nil {
		return err
	}
	if out.Failed() {
		return &DexError{Output: out.Diagnostics()}
	}
	summary.PatchSize = fileSize(layout.DexFile())

	if err := b.device.CheckConnected(ctx); err != nil {
		return err
	}
	if err := b.device.RemovePatches(ctx); err != nil {
		return err
	}
	if err := b.device.Push(ctx, layout.DexFile(), remote); err != nil {
		return err
	}
	return b.device.Restart(ctx)
}

// Clean removes the build directory. With device set, patches on the device
// are removed as well.
func (b *Builder) Clean(ctx context.Context, withDevice bool) error {
	if err := shell.RemoveAll(ctx, b.runner, b.pctx.Layout.BuildDir); err != nil {
		return err
	}
	if !withDevice {
		return nil
	}
	if err := b.device.CheckConnected(ctx); err != nil {
		return explain(err)
	}
	return explain(b.device.RemovePatches(ctx))
}

func (b *Builder) recordRun(ctx context.Context, summary Summary, err error) {
	for _, r := range summary.Report.Rounds {
		b.metrics.ObserveRound(r.Kind.String(), r.Elapsed, r.GenerationSkipped)
	}

	result := metrics.ResultOK
	switch {
	case err != nil:
		result = metrics.ResultError
	case summary.Action == ActionCompileFailed:
		result = metrics.ResultFailed
	case summary.Action == ActionReset || summary.Action == ActionRedeploy:
		result = metrics.ResultNoop
	}
	b.metrics.RunFinished(result, summary.Elapsed)

	if path := b.cfg.Metrics.Textfile; path != "" {
		if werr := b.metrics.WriteTextfile(path); werr != nil {
			ctxlog.FromContext(ctx).Warn("write metrics textfile", "path", path, "err", werr)
		}
	}
}

// existing keeps the project-relative paths that still exist on disk.
func existing(root string, paths []string) []string {
	var out []string
	for _, p := range paths {
		if fileExists(filepath.Join(root, filepath.FromSlash(p))) {
			out = append(out, p)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
