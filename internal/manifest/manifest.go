// SPDX-License-Identifier: MPL-2.0

// Package manifest reads the Gradle project files that describe modules and
// their dependencies: settings.gradle(.kts) for the module list, each
// module's build.gradle(.kts) for project dependencies, and the version
// catalog for library versions.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

const (
	// DefaultVersionsFile is the version catalog location relative to the
	// project root.
	DefaultVersionsFile = "gradle/libs.versions.toml"
)

var (
	settingsFiles = []string{"settings.gradle", "settings.gradle.kts"}
	buildFiles    = []string{"build.gradle", "build.gradle.kts"}

	// ErrNoSettings is returned when the project root has no settings file.
	ErrNoSettings = errors.New("no settings.gradle found")
	// ErrNoModules is returned when the settings file declares no existing
	// module.
	ErrNoModules = errors.New("no Gradle modules declared")
)

type (
	// Project is the parsed module layout of a Gradle project.
	Project struct {
		Root    string
		Modules []project.Module
		// Edges holds the declared project dependencies of every module.
		Edges map[project.Module][]project.Edge
		// Versions is the library version catalog.
		Versions map[string]string
	}

	// Options select non-default manifest locations. Relative paths are
	// resolved against the project root.
	Options struct {
		SettingsFile string
		VersionsFile string
	}
)

// Load parses the project at root. Build files are parsed concurrently
// through pool. A missing version catalog yields an empty version table.
func Load(ctx context.Context, root string, pool *workerpool.Pool, opts Options) (*Project, error) {
	logger := ctxlog.FromContext(ctx)

	settings, err := locate(root, opts.SettingsFile, settingsFiles)
	if err != nil {
		return nil, err
	}
	modules, err := ParseSettings(settings, root)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("%s: %w", settings, ErrNoModules)
	}

	tasks := make([]workerpool.Task[[]project.Edge], 0, len(modules))
	for _, m := range modules {
		tasks = append(tasks, func(context.Context) ([]project.Edge, error) {
			path, err := locate(filepath.Join(root, m.Path), "", buildFiles)
			if errors.Is(err, os.ErrNotExist) {
				logger.Warn("module has no build file", "module", m.Name)
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return ParseBuildFile(path)
		})
	}
	edges, err := workerpool.Run(ctx, pool, tasks)
	if err != nil {
		return nil, err
	}

	p := &Project{
		Root:    root,
		Modules: modules,
		Edges:   make(map[project.Module][]project.Edge, len(modules)),
	}
	for i, m := range modules {
		p.Edges[m] = edges[i]
	}

	versionsFile := opts.VersionsFile
	if versionsFile == "" {
		versionsFile = DefaultVersionsFile
	}
	if !filepath.IsAbs(versionsFile) {
		versionsFile = filepath.Join(root, versionsFile)
	}
	p.Versions, err = ParseVersions(versionsFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("no version catalog", "path", versionsFile)
		p.Versions = map[string]string{}
	case err != nil:
		return nil, err
	}

	logger.Debug("project manifest loaded", "modules", len(modules), "versions", len(p.Versions))
	return p, nil
}

// Module returns the declared module with the given name.
func (p *Project) Module(name string) (project.Module, bool) {
	name = strings.TrimPrefix(name, ":")
	i := slices.IndexFunc(p.Modules, func(m project.Module) bool { return m.Name == name })
	if i < 0 {
		return project.Module{}, false
	}
	return p.Modules[i], true
}

// locate returns explicit (resolved against dir) or the first of names that
// exists in dir.
func locate(dir, explicit string, names []string) (string, error) {
	if explicit != "" {
		if !filepath.IsAbs(explicit) {
			explicit = filepath.Join(dir, explicit)
		}
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if slices.Equal(names, settingsFiles) {
		return "", fmt.Errorf("%s: %w", dir, ErrNoSettings)
	}
	return "", fmt.Errorf("%s: %w", dir, os.ErrNotExist)
}
