// SPDX-License-Identifier: MPL-2.0

// Package patch runs a hotpatch build: it reads the change set, narrows it
// with the fingerprint table, compiles the scheduled rounds, turns the
// accumulated classes into a dex patch and deploys it to the device.
package patch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hotpatch/hotpatch/internal/config"
	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/graph"
	"github.com/hotpatch/hotpatch/internal/manifest"
	"github.com/hotpatch/hotpatch/internal/schedule"
	"github.com/hotpatch/hotpatch/internal/strategy"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

const (
	// DexFileName is the patch written below the build directory.
	DexFileName     = "classes.dex"
	intermediateDir = "intermediate"
	finalDir        = "final"
)

type (
	// Layout locates the build directories of a project.
	Layout struct {
		strategy.Layout
		// BuildDir holds the intermediate and final directories and the
		// dex patch.
		BuildDir string
	}

	// Context is the state shared by every step of one run: the parsed
	// project, its resolved module graph and the library classpath. It is
	// built once per run and never mutated afterwards.
	Context struct {
		Root      string
		Project   *manifest.Project
		Graph     *graph.Graph
		Classpath []string
		Layout    Layout
	}
)

// NewLayout places the build directories below buildRoot, resolved against
// the project root when relative.
func NewLayout(root, buildRoot string) Layout {
	if !filepath.IsAbs(buildRoot) {
		buildRoot = filepath.Join(root, buildRoot)
	}
	return Layout{
		Layout: strategy.Layout{
			Intermediate: filepath.Join(buildRoot, intermediateDir),
			Final:        filepath.Join(buildRoot, finalDir),
		},
		BuildDir: buildRoot,
	}
}

// DexFile returns the path of the dex patch.
func (l Layout) DexFile() string {
	return filepath.Join(l.BuildDir, DexFileName)
}

// Load parses the project manifests and resolves the module graph.
func Load(ctx context.Context, cfg *config.Config, pool *workerpool.Pool) (*Context, error) {
	root, err := filepath.Abs(cfg.Project.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	proj, err := manifest.Load(ctx, root, pool, manifest.Options{
		SettingsFile: cfg.Project.SettingsFile,
		VersionsFile: cfg.Project.VersionsFile,
	})
	if err != nil {
		return nil, explain(err)
	}

	g := graph.New()
	if err := g.Setup(ctx, proj.Edges); err != nil {
		return nil, explain(err)
	}

	classpath, err := readClasspath(root, cfg.Project.ClasspathFile)
	if err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Debug("project loaded",
		"root", root, "modules", len(proj.Modules), "versions", len(proj.Versions), "classpath", len(classpath))
	return &Context{
		Root:      root,
		Project:   proj,
		Graph:     g,
		Classpath: classpath,
		Layout:    NewLayout(root, cfg.Build.Root),
	}, nil
}

// Relative converts absolute source paths to project-relative ones, the form
// used by the scheduler and the fingerprint table.
func (c *Context) Relative(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			out = append(out, filepath.ToSlash(p))
			continue
		}
		rel, err := filepath.Rel(c.Root, p)
		if err != nil {
			return nil, fmt.Errorf("relativize %s: %w", p, err)
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

// Rounds schedules sources in dependency order.
func (c *Context) Rounds(sources []string) ([]schedule.Round, error) {
	rel, err := c.Relative(sources)
	if err != nil {
		return nil, err
	}
	rounds, err := schedule.Build(c.Graph, rel)
	if err != nil {
		return nil, explain(err)
	}
	return rounds, nil
}

// readClasspath reads one classpath entry per line. Blank lines and lines
// starting with '#' are skipped; a ':'-separated line is split. An unset
// path yields an empty classpath.
func readClasspath(root, path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("classpath file %s: %w", path, err)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, entry := range strings.Split(line, string(os.PathListSeparator)) {
			if entry = strings.TrimSpace(entry); entry == "" {
				continue
			}
			if !filepath.IsAbs(entry) {
				entry = filepath.Join(root, entry)
			}
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read classpath file %s: %w", path, err)
	}
	return entries, nil
}
