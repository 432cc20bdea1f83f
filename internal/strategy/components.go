// SPDX-License-Identifier: MPL-2.0

package strategy

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hotpatch/hotpatch/internal/classify"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/schedule"
	"github.com/hotpatch/hotpatch/internal/shell"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

// ComponentMarker identifies sources declaring an injection component.
const ComponentMarker = "dagger.Component"

// componentSources returns the component sources of every module in the
// round, keyed by module. The processor needs them in the same pass to
// regenerate the component implementations. Relative round sources are
// resolved against root and the component sources found for them are
// returned relative to root as well.
func componentSources(ctx context.Context, runner shell.Runner, pool *workerpool.Pool, root string, round schedule.Round) (map[project.Module][]string, error) {
	type candidate struct {
		module project.Module
		path   string
	}
	var candidates []candidate
	for _, m := range round.Modules() {
		dir := moduleSourceDir(round.Sources(m))
		if dir == "" {
			continue
		}
		absDir := resolvePath(root, dir)
		if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
			continue
		}
		files, err := shell.Find(ctx, runner, absDir, "*"+project.KotlinExt)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if !project.IsSupportedSource(f) {
				continue
			}
			if !filepath.IsAbs(dir) {
				if rel, err := filepath.Rel(root, f); err == nil {
					f = rel
				}
			}
			candidates = append(candidates, candidate{module: m, path: f})
		}
	}

	tasks := make([]workerpool.Task[bool], 0, len(candidates))
	for _, c := range candidates {
		tasks = append(tasks, func(context.Context) (bool, error) {
			return declaresComponent(resolvePath(root, c.path))
		})
	}
	flags, err := workerpool.Run(ctx, pool, tasks)
	if err != nil {
		return nil, err
	}

	found := make(map[project.Module][]string)
	for i, c := range candidates {
		if flags[i] {
			found[c.module] = append(found[c.module], c.path)
		}
	}
	return found, nil
}

// moduleSourceDir returns "<module>/src" for the module of the given
// sources.
func moduleSourceDir(sources []string) string {
	for _, src := range sources {
		slashed := filepath.ToSlash(src)
		if i := strings.Index(slashed, project.SourceMarker); i >= 0 {
			return filepath.FromSlash(slashed[:i+len(project.SourceMarker)-1])
		}
	}
	return ""
}

// resolvePath joins a relative path onto root.
func resolvePath(root, path string) string {
	if root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func declaresComponent(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if classify.ImportMatches(sc.Text(), ComponentMarker) {
			return true, nil
		}
	}
	return false, sc.Err()
}

// withSources returns round extended by extra sources. Duplicates are
// dropped.
func withSources(round schedule.Round, extra map[project.Module][]string) schedule.Round {
	if len(extra) == 0 {
		return round
	}
	merged := make(map[project.Module][]string)
	for _, m := range round.Modules() {
		merged[m] = slices.Clone(round.Sources(m))
	}
	for m, srcs := range extra {
		merged[m] = append(merged[m], srcs...)
	}
	return schedule.NewRound(round.Index, merged)
}
