// SPDX-License-Identifier: MPL-2.0

package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hotpatch/hotpatch/internal/compiler"
	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/libresolve"
	"github.com/hotpatch/hotpatch/internal/schedule"
	"github.com/hotpatch/hotpatch/internal/shell"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

// KaptPluginID is the kotlinc plugin id of the annotation processing plugin.
const KaptPluginID = "org.jetbrains.kotlin.kapt3"

// emptyJavacArguments is a serialized empty map: the processor gets no
// extra javac arguments.
const emptyJavacArguments = "rO0ABXcEAAAAAA"

// kaptScratch are the generator directories below "<intermediate>/kapt".
var kaptScratch = []string{"stubs", "classes", "sources", "incrementalData"}

type (
	// ArtifactResolver locates processor jars.
	ArtifactResolver interface {
		Resolve(ctx context.Context, c libresolve.Coordinates) (libresolve.Artifact, error)
	}

	// GenerationChecker decides whether a freshly compiled round changed
	// any injection shape.
	GenerationChecker interface {
		GenerationRequired(ctx context.Context, round schedule.Round) (bool, error)
	}

	// CodeGeneration compiles a round and, when injection shapes changed,
	// runs the annotation processor and compiles its output.
	CodeGeneration struct {
		Kotlin   *compiler.Kotlin
		Java     *compiler.Java
		Runner   shell.Runner
		Pool     *workerpool.Pool
		Resolver ArtifactResolver
		Checker  GenerationChecker
		Layout   Layout
		// Root resolves relative round sources.
		Root string
		// Classpath is the project classpath.
		Classpath []string
		// Plugins are applied to every kotlinc pass, e.g. parcelize.
		Plugins []compiler.Plugin
		// KaptPlugin is the annotation processing plugin jar.
		KaptPlugin string
		// Processors are resolved and put on the processor classpath.
		Processors []libresolve.Coordinates
	}
)

// Kind implements Strategy.
func (c *CodeGeneration) Kind() Kind { return KindCodeGeneration }

// Execute implements Strategy.
func (c *CodeGeneration) Execute(ctx context.Context, round schedule.Round) (result Result, err error) {
	logger := ctxlog.FromContext(ctx)

	processors, err := c.resolveProcessors(ctx)
	if err != nil {
		return Result{}, err
	}
	classpath := slices.Concat([]string{c.Layout.KaptDir("classes")}, processorJars(processors), c.Layout.classpath(c.Classpath))

	out, err := c.Kotlin.Compile(ctx, round, compiler.Invocation{
		Plugins:   c.Plugins,
		Classpath: classpath,
		OutputDir: c.Layout.Intermediate,
	})
	if err != nil || out.Failed() {
		return Result{Outcome: out}, err
	}

	required, err := c.Checker.GenerationRequired(ctx, round)
	if err != nil {
		return Result{}, err
	}
	if !required {
		logger.Info("injection shapes unchanged, skipping code generation")
		return Result{Outcome: compiler.OK, GenerationSkipped: true}, nil
	}

	// Scratch directories never outlive the round, whatever its outcome.
	defer func() {
		if cerr := shell.RemoveAll(context.WithoutCancel(ctx), c.Runner, c.scratchDirs()...); cerr != nil {
			err = errors.Join(err, fmt.Errorf("remove generator scratch: %w", cerr))
		}
	}()

	out, err = c.generate(ctx, round, classpath, processors)
	if err != nil || out.Failed() {
		return Result{Outcome: out}, err
	}

	if err := c.removeErrorStubs(ctx); err != nil {
		return Result{}, err
	}
	out, err = c.compileGenerated(ctx, classpath)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: out}, nil
}

func (c *CodeGeneration) resolveProcessors(ctx context.Context) ([]libresolve.Artifact, error) {
	tasks := make([]workerpool.Task[libresolve.Artifact], 0, len(c.Processors))
	for _, coords := range c.Processors {
		tasks = append(tasks, func(ctx context.Context) (libresolve.Artifact, error) {
			return c.Resolver.Resolve(ctx, coords)
		})
	}
	artifacts, err := workerpool.Run(ctx, c.Pool, tasks)
	if err != nil {
		return nil, fmt.Errorf("resolve annotation processor: %w", err)
	}
	return artifacts, nil
}

// generate runs the processor pass with companion classes hidden.
func (c *CodeGeneration) generate(ctx context.Context, round schedule.Round, classpath []string, processors []libresolve.Artifact) (compiler.Outcome, error) {
	components, err := componentSources(ctx, c.Runner, c.Pool, c.Root, round)
	if err != nil {
		return compiler.Outcome{}, fmt.Errorf("find component sources: %w", err)
	}
	companions, err := companionClasses(ctx, c.Runner, round, c.Classpath, c.Layout.Final)
	if err != nil {
		return compiler.Outcome{}, fmt.Errorf("find companion classes: %w", err)
	}

	ctxlog.FromContext(ctx).Info("running annotation processor", "companions", len(companions))
	return withHiddenCompanions(ctx, c.Runner, companions, func(ctx context.Context) (compiler.Outcome, error) {
		return c.Kotlin.Compile(ctx, withSources(round, components), compiler.Invocation{
			Plugins:   append(slices.Clone(c.Plugins), c.kaptPlugin(processors)),
			Classpath: classpath,
			OutputDir: c.Layout.Intermediate,
		})
	})
}

func (c *CodeGeneration) kaptPlugin(processors []libresolve.Artifact) compiler.Plugin {
	opts := []compiler.PluginOption{
		{Key: "sources", Value: c.Layout.KaptDir("sources")},
		{Key: "classes", Value: c.Layout.KaptDir("classes")},
		{Key: "stubs", Value: c.Layout.KaptDir("stubs")},
		{Key: "incrementalData", Value: c.Layout.KaptDir("incrementalData")},
		{Key: "aptMode", Value: "stubsAndApt"},
		{Key: "javacArguments", Value: emptyJavacArguments},
		{Key: "correctErrorTypes", Value: "true"},
		{Key: "useLightAnalysis", Value: "true"},
		{Key: "includeCompileClasspath", Value: "true"},
		{Key: "dumpDefaultParameterValues", Value: "false"},
		{Key: "mapDiagnosticLocations", Value: "false"},
		{Key: "stripMetadata", Value: "true"},
		{Key: "keepKdocCommentsInStubs", Value: "true"},
		{Key: "detectMemoryLeaks", Value: "default"},
		{Key: "infoAsWarnings", Value: "false"},
		{Key: "processIncrementally", Value: "false"},
		{Key: "verbose", Value: "false"},
	}
	for _, jar := range processorJars(processors) {
		opts = append(opts, compiler.PluginOption{Key: "apclasspath", Value: jar})
	}
	return compiler.Plugin{Path: c.KaptPlugin, ID: KaptPluginID, Options: opts}
}

// removeErrorStubs deletes the placeholder kapt emits for unresolved types.
func (c *CodeGeneration) removeErrorStubs(ctx context.Context) error {
	files, err := shell.Find(ctx, c.Runner, c.Layout.Intermediate, "NonExistentClass.java")
	if err != nil {
		return err
	}
	var stubs []string
	for _, f := range files {
		if strings.HasSuffix(filepath.ToSlash(f), "/error/NonExistentClass.java") {
			stubs = append(stubs, f)
		}
	}
	return shell.Remove(ctx, c.Runner, stubs...)
}

// compileGenerated compiles the generated companions and the generated
// component implementations as two concurrent javac passes.
func (c *CodeGeneration) compileGenerated(ctx context.Context, classpath []string) (compiler.Outcome, error) {
	sourcesDir := c.Layout.KaptDir("sources")
	if _, err := os.Stat(sourcesDir); err != nil {
		return compiler.OK, nil
	}

	var companions []string
	for _, suffix := range CompanionSuffixes {
		files, err := shell.Find(ctx, c.Runner, sourcesDir, "*"+suffix+".java")
		if err != nil {
			return compiler.Outcome{}, err
		}
		companions = append(companions, files...)
	}
	components, err := shell.Find(ctx, c.Runner, sourcesDir, "Dagger*.java")
	if err != nil {
		return compiler.Outcome{}, err
	}

	outcomes, err := workerpool.Run(ctx, c.Pool, []workerpool.Task[compiler.Outcome]{
		func(ctx context.Context) (compiler.Outcome, error) {
			return c.Java.Compile(ctx, companions, classpath, c.Layout.Intermediate)
		},
		func(ctx context.Context) (compiler.Outcome, error) {
			return c.Java.Compile(ctx, components, classpath, c.Layout.Intermediate)
		},
	})
	if err != nil {
		return compiler.Outcome{}, err
	}
	return compiler.Merge(outcomes...), nil
}

func (c *CodeGeneration) scratchDirs() []string {
	dirs := make([]string, 0, len(kaptScratch))
	for _, name := range kaptScratch {
		dirs = append(dirs, c.Layout.KaptDir(name))
	}
	return dirs
}

// processorJars flattens resolved artifacts and their dependency jars.
func processorJars(artifacts []libresolve.Artifact) []string {
	var jars []string
	for _, a := range artifacts {
		jars = append(jars, a.Jar)
		jars = append(jars, a.Dependencies...)
	}
	return jars
}
