// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"mvdan.cc/sh/v3/interp"

	"github.com/hotpatch/hotpatch/internal/changeset"
	"github.com/hotpatch/hotpatch/internal/compiler"
	"github.com/hotpatch/hotpatch/internal/config"
	"github.com/hotpatch/hotpatch/internal/device"
	"github.com/hotpatch/hotpatch/internal/diffcache"
	"github.com/hotpatch/hotpatch/internal/fingerprint"
	"github.com/hotpatch/hotpatch/internal/issue"
	"github.com/hotpatch/hotpatch/internal/metrics"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/shell"
	"github.com/hotpatch/hotpatch/internal/testutil"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

// fakeKotlinc writes "<ref>.class" and "<ref>$Inner.class" into the -d
// directory for every source. A source containing "BROKEN" fails the call.
type fakeKotlinc struct {
	mu    sync.Mutex
	path  string
	root  string
	calls [][]string
}

func (k *fakeKotlinc) middleware(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 || args[0] != k.path {
			return next(ctx, args)
		}
		k.mu.Lock()
		k.calls = append(k.calls, args)
		k.mu.Unlock()

		idx := slices.Index(args, "-d")
		if idx < 0 || idx+1 >= len(args) {
			return interp.ExitStatus(2)
		}
		out, sources := args[idx+1], args[idx+2:]
		for _, src := range sources {
			content, err := os.ReadFile(filepath.Join(k.root, src))
			if err != nil {
				return err
			}
			if strings.Contains(string(content), "BROKEN") {
				_, _ = fmt.Fprintf(interp.HandlerCtx(ctx).Stdout, "e: %s:1:1 unresolved reference\n", src)
				return interp.ExitStatus(1)
			}
		}
		for _, src := range sources {
			ref, err := project.ClassReference(src)
			if err != nil {
				return err
			}
			for _, name := range []string{ref + ".class", ref + "$Inner.class"} {
				path := filepath.Join(out, filepath.FromSlash(name))
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(path, classBytes(strings.TrimSuffix(name, ".class")), 0o644); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// classBytes returns an empty class file declaring class name.
func classBytes(name string) []byte {
	data := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 52, 0, 3, 1}
	data = binary.BigEndian.AppendUint16(data, uint16(len(name)))
	data = append(data, name...)
	data = append(data, 7, 0, 1)
	// access, this, super, interfaces, fields, methods, attributes
	return append(data, 0, 0x21, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
}

type stubChanges struct {
	sets []changeset.ChangeSet
	err  error
	read int
}

func (s *stubChanges) Read(context.Context) (changeset.ChangeSet, error) {
	if s.err != nil {
		return changeset.ChangeSet{}, s.err
	}
	cs := s.sets[min(s.read, len(s.sets)-1)]
	s.read++
	return cs, nil
}

type fakeDevice struct {
	connectErr error
	calls      []string
	pushed     []string
}

func (d *fakeDevice) CheckConnected(context.Context) error {
	d.calls = append(d.calls, "check")
	return d.connectErr
}

func (d *fakeDevice) PatchPath(context.Context) (string, error) {
	d.calls = append(d.calls, "path")
	return "/data/local/tmp/hotpatch-1700000000.dex", nil
}

func (d *fakeDevice) RemovePatches(context.Context) error {
	d.calls = append(d.calls, "remove")
	return nil
}

func (d *fakeDevice) Push(_ context.Context, local, _ string) error {
	d.calls = append(d.calls, "push")
	d.pushed = append(d.pushed, local)
	return nil
}

func (d *fakeDevice) Restart(context.Context) error {
	d.calls = append(d.calls, "restart")
	return nil
}

type fakeDexer struct {
	classes [][]string
	fail    bool
}

func (d *fakeDexer) Dex(_ context.Context, classFiles []string, outputDir string) (compiler.Outcome, error) {
	d.classes = append(d.classes, slices.Sorted(slices.Values(classFiles)))
	if d.fail {
		return compiler.Failure("Error: invalid class file"), nil
	}
	return compiler.OK, os.WriteFile(filepath.Join(outputDir, DexFileName), []byte("dex\n035"), 0o644)
}

type fixture struct {
	proj    *testutil.Project
	cfg     *config.Config
	kotlinc *fakeKotlinc
	changes *stubChanges
	device  *fakeDevice
	dexer   *fakeDexer
	metrics *metrics.Recorder
	foo     string
	bar     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	proj := testutil.NewProject(t).
		Module(":core").
		Module(":app", testutil.Implementation(":core")).
		Write()
	f := &fixture{
		proj:    proj,
		changes: &stubChanges{},
		device:  &fakeDevice{},
		dexer:   &fakeDexer{},
		metrics: metrics.New(),
	}
	f.foo = proj.Source(":app", "com/example/Foo.kt", "package com.example\n\nclass Foo\n")
	f.bar = proj.Source(":core", "com/example/core/Bar.kt", "package com.example.core\n\nclass Bar\n")
	f.kotlinc = &fakeKotlinc{
		path: testutil.MustExecutable(t, filepath.Join(proj.Root, "toolchain", "kotlinc", "bin", "kotlinc")),
		root: proj.Root,
	}

	cfg := config.DefaultConfig()
	cfg.Project.Root = proj.Root
	cfg.Toolchain.Kotlinc = f.kotlinc.path
	cfg.Toolchain.ParcelizePlugin = ""
	cfg.Device.Package = "com.example.app"
	cfg.Device.Component = ".MainActivity"
	f.cfg = cfg
	return f
}

func (f *fixture) changed(paths ...string) *fixture {
	f.changes.sets = append(f.changes.sets, changeset.ChangeSet{Branch: "main", Supported: paths})
	return f
}

func (f *fixture) builder(t *testing.T) *Builder {
	t.Helper()

	pool := workerpool.New(2)
	t.Cleanup(pool.Release)
	pctx, err := Load(t.Context(), f.cfg, pool)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	runner := shell.NewInterpreter(shell.WithDir(pctx.Root), shell.WithExecMiddleware(f.kotlinc.middleware))
	b, err := NewBuilder(pctx, f.cfg, pool,
		WithRunner(runner),
		WithChangeReader(f.changes),
		WithDeployer(f.device),
		WithDexer(f.dexer),
		WithMetrics(f.metrics),
	)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return b
}

func (f *fixture) final(rel string) string {
	return filepath.Join(NewLayout(f.proj.Root, f.cfg.Build.Root).Final, filepath.FromSlash(rel))
}

func TestBuild_Patch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changed(f.foo, f.bar)
	b := f.builder(t)

	summary, err := b.Build(t.Context())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if summary.Action != ActionPatch {
		t.Fatalf("Action = %v, want %v", summary.Action, ActionPatch)
	}
	wantCompile := []string{"app/src/main/kotlin/com/example/Foo.kt", "core/src/main/kotlin/com/example/core/Bar.kt"}
	if !slices.Equal(summary.Compile, wantCompile) {
		t.Errorf("Compile = %v, want %v", summary.Compile, wantCompile)
	}
	// :core is compiled before :app, one kotlinc call per round.
	if len(f.kotlinc.calls) != 2 || len(summary.Report.Rounds) != 2 {
		t.Fatalf("kotlinc calls = %d, rounds = %+v", len(f.kotlinc.calls), summary.Report.Rounds)
	}
	if !slices.Contains(f.kotlinc.calls[0], "core/src/main/kotlin/com/example/core/Bar.kt") {
		t.Errorf("first round = %v, want :core", f.kotlinc.calls[0])
	}
	for _, rel := range []string{"com/example/Foo.class", "com/example/Foo$Inner.class", "com/example/core/Bar.class"} {
		data, err := os.ReadFile(f.final(rel))
		if err != nil {
			t.Errorf("%s missing from final directory", rel)
			continue
		}
		cf, err := fingerprint.ParseClass(data)
		if err != nil {
			t.Fatalf("ParseClass(%s) error = %v", rel, err)
		}
		if len(cf.Fields) != 1 || cf.Fields[0].Name != fingerprint.SignatureField {
			t.Errorf("%s fields = %+v, want the signature field", rel, cf.Fields)
		}
	}
	if len(f.dexer.classes) != 1 || len(f.dexer.classes[0]) != 4 {
		t.Errorf("dexed classes = %v", f.dexer.classes)
	}
	wantCalls := []string{"check", "path", "check", "remove", "push", "restart"}
	if !slices.Equal(f.device.calls, wantCalls) {
		t.Errorf("device calls = %v, want %v", f.device.calls, wantCalls)
	}
	if summary.PatchSize == 0 {
		t.Error("PatchSize = 0")
	}
}

func TestBuild_UpToDateRedeploys(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changed(f.foo)
	b := f.builder(t)

	if _, err := b.Build(t.Context()); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	f.device.calls = nil

	summary, err := b.Build(t.Context())
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if summary.Action != ActionRedeploy {
		t.Fatalf("Action = %v, want %v", summary.Action, ActionRedeploy)
	}
	if len(f.kotlinc.calls) != 1 {
		t.Errorf("kotlinc ran %d times, want 1", len(f.kotlinc.calls))
	}
	if !slices.Equal(f.device.calls, []string{"check", "path", "push", "restart"}) {
		t.Errorf("device calls = %v", f.device.calls)
	}
}

func TestBuild_ModifiedSourceRecompiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changed(f.foo, f.bar)
	b := f.builder(t)
	if _, err := b.Build(t.Context()); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}

	testutil.MustWriteFile(t, f.foo, "package com.example\n\nclass Foo(val x: Int)\n")
	summary, err := b.Build(t.Context())
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if !slices.Equal(summary.Compile, []string{"app/src/main/kotlin/com/example/Foo.kt"}) {
		t.Errorf("Compile = %v", summary.Compile)
	}
	// Classes of earlier patches are kept.
	if !testutil.Exists(f.final("com/example/core/Bar.class")) {
		t.Error("Bar.class dropped from final directory")
	}
}

func TestBuild_RemovedSourceOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changed(f.foo, f.bar).changed(f.bar)
	b := f.builder(t)
	if _, err := b.Build(t.Context()); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}

	summary, err := b.Build(t.Context())
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if summary.Action != ActionRemoveOnly {
		t.Fatalf("Action = %v, want %v", summary.Action, ActionRemoveOnly)
	}
	if !slices.Equal(summary.Remove, []string{"app/src/main/kotlin/com/example/Foo.kt"}) {
		t.Errorf("Remove = %v", summary.Remove)
	}
	if len(summary.StaleClasses) != 2 {
		t.Errorf("StaleClasses = %v, want Foo and Foo$Inner", summary.StaleClasses)
	}
	if testutil.Exists(f.final("com/example/Foo.class")) || testutil.Exists(f.final("com/example/Foo$Inner.class")) {
		t.Error("stale Foo classes left in final directory")
	}
	if !testutil.Exists(f.final("com/example/core/Bar.class")) {
		t.Error("Bar.class removed")
	}
	if len(f.kotlinc.calls) != 2 {
		t.Errorf("kotlinc ran %d times, want 2", len(f.kotlinc.calls))
	}
	if got := f.dexer.classes[len(f.dexer.classes)-1]; len(got) != 2 {
		t.Errorf("dexed classes = %v", got)
	}
}

func TestBuild_NoChangesResets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changed(f.foo).changed()
	b := f.builder(t)
	if _, err := b.Build(t.Context()); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	f.device.calls = nil

	summary, err := b.Build(t.Context())
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if summary.Action != ActionReset {
		t.Fatalf("Action = %v, want %v", summary.Action, ActionReset)
	}
	if testutil.Exists(f.final("com/example/Foo.class")) {
		t.Error("final directory not discarded")
	}
	if !slices.Equal(f.device.calls, []string{"check", "path", "remove", "restart"}) {
		t.Errorf("device calls = %v", f.device.calls)
	}
}

func TestBuild_CompileFailureDiscardsOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changed(f.bar).changed(f.bar, f.foo)
	b := f.builder(t)
	if _, err := b.Build(t.Context()); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	testutil.MustWriteFile(t, f.foo, "package com.example\n\nclass Foo : BROKEN\n")
	f.device.calls = nil

	summary, err := b.Build(t.Context())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if summary.Action != ActionCompileFailed {
		t.Fatalf("Action = %v, want %v", summary.Action, ActionCompileFailed)
	}
	diags := summary.Report.Outcome.Diagnostics()
	if len(diags) == 0 || !strings.Contains(diags[0], "unresolved reference") {
		t.Errorf("Diagnostics() = %v", diags)
	}
	if testutil.Exists(f.final("com/example/core/Bar.class")) {
		t.Error("final directory kept after a failed compilation")
	}
	if slices.Contains(f.device.calls, "push") {
		t.Errorf("patch pushed after a failed compilation: %v", f.device.calls)
	}
}

func TestBuild_NonIncrementalCompilesEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Build.Incremental = false
	f.changed(f.foo)
	b := f.builder(t)

	for i := range 2 {
		summary, err := b.Build(t.Context())
		if err != nil {
			t.Fatalf("Build() #%d error = %v", i, err)
		}
		if summary.Action != ActionPatch {
			t.Errorf("Build() #%d Action = %v, want %v", i, summary.Action, ActionPatch)
		}
	}
	if len(f.kotlinc.calls) != 2 {
		t.Errorf("kotlinc ran %d times, want 2", len(f.kotlinc.calls))
	}
}

func TestBuild_DeviceErrorCarriesGuide(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.device.connectErr = device.ErrNoDevice
	f.changed(f.foo)

	_, err := f.builder(t).Build(t.Context())
	if !errors.Is(err, device.ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
	guide, ok := issue.GuideFor(err)
	if !ok || guide.Id() != issue.NoDeviceId {
		t.Errorf("GuideFor() = %v, %v", guide, ok)
	}
	if len(f.kotlinc.calls) != 0 {
		t.Error("compiled without a device")
	}
}

func TestBuild_RetryAfterEnvironmentError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		disrupt func(t *testing.T, f *fixture)
		restore func(t *testing.T, f *fixture)
	}{
		{
			name:    "device disconnected",
			disrupt: func(_ *testing.T, f *fixture) { f.device.connectErr = device.ErrNoDevice },
			restore: func(_ *testing.T, f *fixture) { f.device.connectErr = nil },
		},
		{
			name: "compiler missing",
			disrupt: func(t *testing.T, f *fixture) {
				if err := os.Rename(f.kotlinc.path, f.kotlinc.path+".off"); err != nil {
					t.Fatal(err)
				}
			},
			restore: func(t *testing.T, f *fixture) {
				if err := os.Rename(f.kotlinc.path+".off", f.kotlinc.path); err != nil {
					t.Fatal(err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.changed(f.bar).changed(f.bar, f.foo)
			b := f.builder(t)
			if _, err := b.Build(t.Context()); err != nil {
				t.Fatalf("first Build() error = %v", err)
			}

			tt.disrupt(t, f)
			if _, err := b.Build(t.Context()); err == nil {
				t.Fatal("Build() succeeded despite the broken environment")
			}
			tt.restore(t, f)
			f.device.pushed = nil

			summary, err := b.Build(t.Context())
			if err != nil {
				t.Fatalf("Build() after fix error = %v", err)
			}
			if summary.Action != ActionPatch {
				t.Fatalf("Action = %v, want %v", summary.Action, ActionPatch)
			}
			if !slices.Equal(summary.Compile, []string{"app/src/main/kotlin/com/example/Foo.kt"}) {
				t.Errorf("Compile = %v, want the source changed before the failed run", summary.Compile)
			}
			if !testutil.Exists(f.final("com/example/Foo.class")) {
				t.Error("Foo.class missing from final directory")
			}
			if len(f.device.pushed) != 1 {
				t.Errorf("pushed = %v, want one patch", f.device.pushed)
			}
		})
	}
}

func TestBuild_RequiresLaunchTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Device.Component = ""
	f.changed(f.foo)

	_, err := f.builder(t).Build(t.Context())
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || !ae.HasSuggestions() {
		t.Fatalf("err = %v, want an actionable error with suggestions", err)
	}
}

func TestBuild_DexFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dexer.fail = true
	f.changed(f.foo)

	_, err := f.builder(t).Build(t.Context())
	var dexErr *DexError
	if !errors.As(err, &dexErr) {
		t.Fatalf("err = %v, want *DexError", err)
	}
	if slices.Contains(f.device.calls, "push") {
		t.Error("pushed a patch after d8 failed")
	}
}

func TestBuild_WritesMetricsTextfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "hotpatch.prom")
	f.changed(f.foo)

	if _, err := f.builder(t).Build(t.Context()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	text := testutil.MustReadFile(t, f.cfg.Metrics.Textfile)
	if !strings.Contains(text, "hotpatch_") {
		t.Errorf("textfile has no hotpatch metrics:\n%s", text)
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changes.sets = []changeset.ChangeSet{{
		Branch:    "feature",
		Supported: []string{f.foo, f.bar},
		Ignored:   []string{filepath.Join(f.proj.Root, "README.md")},
	}}
	b := f.builder(t)

	plan, err := b.Plan(t.Context())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Branch != "feature" || !slices.Equal(plan.Ignored, []string{"README.md"}) {
		t.Errorf("plan = %+v", plan)
	}
	if len(plan.Rounds) != 2 {
		t.Fatalf("Rounds = %d, want 2", len(plan.Rounds))
	}
	if mods := plan.Rounds[0].Modules(); len(mods) != 1 || mods[0].Name != "core" {
		t.Errorf("first round modules = %v", mods)
	}
	if len(f.kotlinc.calls) != 0 || testutil.Exists(f.final(diffcache.TableFile)) {
		t.Error("Plan() touched the build")
	}
}

func TestPlan_NotRepository(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changes.err = fmt.Errorf("%s: %w", f.proj.Root, changeset.ErrNotRepository)

	_, err := f.builder(t).Plan(t.Context())
	guide, ok := issue.GuideFor(err)
	if !ok || guide.Id() != issue.NotRepositoryId {
		t.Errorf("GuideFor(%v) = %v, %v", err, guide, ok)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.changed(f.foo)
	b := f.builder(t)
	if _, err := b.Build(t.Context()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	f.device.calls = nil

	if err := b.Clean(t.Context(), false); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if testutil.Exists(NewLayout(f.proj.Root, f.cfg.Build.Root).BuildDir) {
		t.Error("build directory not removed")
	}
	if len(f.device.calls) != 0 {
		t.Errorf("device touched: %v", f.device.calls)
	}

	if err := b.Clean(t.Context(), true); err != nil {
		t.Fatalf("Clean(device) error = %v", err)
	}
	if !slices.Equal(f.device.calls, []string{"check", "remove"}) {
		t.Errorf("device calls = %v", f.device.calls)
	}
}

func TestAction_String(t *testing.T) {
	t.Parallel()

	if got := ActionRemoveOnly.String(); got != "remove-only" {
		t.Errorf("String() = %q", got)
	}
	if got := Action(42).String(); got != "Action(42)" {
		t.Errorf("String() = %q", got)
	}
}
