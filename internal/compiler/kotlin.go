// SPDX-License-Identifier: MPL-2.0

package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/schedule"
	"github.com/hotpatch/hotpatch/internal/shell"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

type (
	// Plugin is a kotlinc compiler plugin. Options are passed as
	// "-P plugin:<id>:<key>=<value>" in order.
	Plugin struct {
		Path    string
		ID      string
		Options []PluginOption
	}

	// PluginOption is one key/value plugin argument. Keys may repeat.
	PluginOption struct {
		Key   string
		Value string
	}

	// Kotlin runs kotlinc.
	Kotlin struct {
		Runner shell.Runner
		Pool   *workerpool.Pool
		// Path is the kotlinc executable.
		Path string
		// Root is the project root, used to derive Gradle module names.
		Root      string
		JVMTarget string
		// JavaXmx is the JVM heap limit passed through JAVA_OPTS.
		JavaXmx string
		// FriendDirs are always granted internal visibility, typically
		// the intermediate and final build directories.
		FriendDirs []string
	}

	// Invocation describes one compilation of a round.
	Invocation struct {
		Plugins   []Plugin
		Classpath []string
		OutputDir string
	}
)

// Compile runs one kotlinc task per module of the round through the pool and
// merges the failures.
func (k *Kotlin) Compile(ctx context.Context, round schedule.Round, inv Invocation) (Outcome, error) {
	if _, err := os.Stat(k.Path); err != nil {
		return Outcome{}, fmt.Errorf("kotlin compiler: %w", err)
	}

	modules := round.Modules()
	tasks := make([]workerpool.Task[shell.Result], 0, len(modules))
	for _, m := range modules {
		cmdline := k.commandLine(m, round.Sources(m), inv)
		sources := len(round.Sources(m))
		tasks = append(tasks, func(ctx context.Context) (shell.Result, error) {
			logger := ctxlog.FromContext(ctx).With("module", m.Name)
			logger.Debug("kotlinc started", "sources", sources)
			start := time.Now()
			res, err := k.Runner.Run(ctx, cmdline)
			logger.Debug("kotlinc finished", "elapsed", time.Since(start).Round(time.Millisecond), "ok", res.Success)
			return res, err
		})
	}

	results, err := workerpool.Run(ctx, k.Pool, tasks)
	if err != nil {
		return Outcome{}, err
	}
	outcomes := make([]Outcome, 0, len(results))
	for _, res := range results {
		outcomes = append(outcomes, fromResult(res))
	}
	return Merge(outcomes...), nil
}

func (k *Kotlin) commandLine(m project.Module, sources []string, inv Invocation) string {
	cmd := shell.NewCommand(k.Path).
		Flag("-classpath", strings.Join(inv.Classpath, string(os.PathListSeparator))).
		Param("-Xjvm-default=all-compatibility", "-Xuse-fast-jar-file-system")
	if k.JVMTarget != "" {
		cmd.Flag("-jvm-target", k.JVMTarget)
	}
	if name := ModuleName(k.Root, m); name != "" {
		cmd.Flag("-module-name", name)
	}
	for _, p := range inv.Plugins {
		cmd.Arg("-Xplugin=" + p.Path)
		for _, o := range p.Options {
			cmd.Param("-P").Arg(fmt.Sprintf("plugin:%s:%s=%s", p.ID, o.Key, o.Value))
		}
	}
	if friends := k.friendPaths(m, inv.Classpath); len(friends) > 0 {
		cmd.Arg("-Xfriend-paths=" + strings.Join(friends, ","))
	}
	cmd.Flag("-d", inv.OutputDir).Arg(sources...)
	return withJavaOpts(k.JavaXmx, cmd)
}

// friendPaths grants internal visibility to the module's own Gradle outputs.
func (k *Kotlin) friendPaths(m project.Module, classpath []string) []string {
	friends := slices.Clone(k.FriendDirs)
	marker := "/" + m.Path + "/build/"
	for _, entry := range classpath {
		if !strings.Contains(filepath.ToSlash(entry), marker) {
			continue
		}
		if info, err := os.Stat(entry); err == nil && info.IsDir() && !slices.Contains(friends, entry) {
			friends = append(friends, entry)
		}
	}
	return friends
}

// ModuleName returns the kotlinc module name Gradle used for m, so internal
// declarations stay accessible: "<dir>_<variant>" for the most recently built
// variant that is neither a release nor a test variant. It returns "" when
// the module was never built.
func ModuleName(root string, m project.Module) string {
	candidates := []string{
		filepath.Join(root, m.Path, "build", "tmp", "kotlin-classes"),
		filepath.Join(root, m.Path, "build", "classes", "kotlin"),
	}
	for _, dir := range candidates {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var newest string
		var newestTime time.Time
		for _, e := range entries {
			name := strings.ToLower(e.Name())
			if !e.IsDir() || strings.Contains(name, "release") || strings.Contains(name, "test") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if newest == "" || info.ModTime().After(newestTime) {
				newest, newestTime = e.Name(), info.ModTime()
			}
		}
		if newest != "" {
			base := filepath.Base(filepath.FromSlash(m.Path))
			return strings.ReplaceAll(base, "-", "_") + "_" + newest
		}
	}
	return ""
}

func withJavaOpts(xmx string, cmd *shell.CommandBuilder) string {
	if xmx == "" {
		return cmd.String()
	}
	return "JAVA_OPTS=" + shell.Quote("-Xmx"+xmx) + " " + cmd.String()
}

func fromResult(res shell.Result) Outcome {
	if res.Success {
		return OK
	}
	if len(res.Output) == 0 {
		return Failure(fmt.Sprintf("exit status %d", res.ExitCode))
	}
	return Failure(res.Output...)
}
