// SPDX-License-Identifier: MPL-2.0

// Package libresolve locates library jars in the local Gradle cache. It is
// used to put the annotation processor and its direct dependencies on the
// processor classpath; nothing is downloaded.
//
// Cache layout: <modules>/files-2.*/<group>/<artifact>/<version>/<sha1>/<file>.
package libresolve

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/shell"
)

// ErrNotResolved is the sentinel wrapped by NotResolvedError.
var ErrNotResolved = errors.New("library not found in Gradle cache")

type (
	// Coordinates identify a library.
	Coordinates struct {
		Group    string
		Artifact string
		Version  string
	}

	// Artifact is a resolved library jar with the jars of its direct
	// compile and runtime dependencies.
	Artifact struct {
		Coordinates  Coordinates
		Jar          string
		Dependencies []string
	}

	// NotResolvedError names the library that could not be found.
	NotResolvedError struct {
		Coordinates Coordinates
		Reason      string
	}

	// Resolver searches one Gradle modules cache.
	Resolver struct {
		Runner shell.Runner
		// Modules is the "modules-2" directory of the Gradle user home.
		Modules string
	}

	pom struct {
		Dependencies []pomDependency `xml:"dependencies>dependency"`
	}

	pomDependency struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
		Scope      string `xml:"scope"`
		Optional   bool   `xml:"optional"`
		Type       string `xml:"type"`
	}
)

func (c Coordinates) String() string {
	return c.Group + ":" + c.Artifact + ":" + c.Version
}

func (e *NotResolvedError) Error() string {
	return fmt.Sprintf("%s not found in Gradle cache: %s", e.Coordinates, e.Reason)
}

func (e *NotResolvedError) Unwrap() error { return ErrNotResolved }

// DefaultModulesDir returns $GRADLE_USER_HOME/caches/modules-2, falling back
// to ~/.gradle.
func DefaultModulesDir() string {
	home := os.Getenv("GRADLE_USER_HOME")
	if home == "" {
		if userHome, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(userHome, ".gradle")
		}
	}
	return filepath.Join(home, "caches", "modules-2")
}

// Resolve finds the jar of c and the jars of its direct dependencies.
// Dependencies missing from the cache are skipped with a warning.
func (r *Resolver) Resolve(ctx context.Context, c Coordinates) (Artifact, error) {
	if c.Group == "" || c.Artifact == "" || c.Version == "" {
		return Artifact{}, &NotResolvedError{Coordinates: c, Reason: "incomplete coordinates"}
	}
	jar, err := r.find(ctx, c, ".jar")
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{Coordinates: c, Jar: jar}

	pomPath, err := r.find(ctx, c, ".pom")
	if errors.Is(err, ErrNotResolved) {
		ctxlog.FromContext(ctx).Warn("no POM in cache, resolving without dependencies", "library", c)
		return artifact, nil
	}
	if err != nil {
		return Artifact{}, err
	}

	deps, err := readDependencies(pomPath)
	if err != nil {
		return Artifact{}, err
	}
	for _, dep := range deps {
		if dep.Version == "" {
			if dep.Version, err = r.newestVersion(dep); err != nil {
				ctxlog.FromContext(ctx).Warn("dependency not cached", "library", c, "dependency", dep, "err", err)
				continue
			}
		}
		path, err := r.find(ctx, dep, ".jar")
		if err != nil {
			ctxlog.FromContext(ctx).Warn("dependency not cached", "library", c, "dependency", dep)
			continue
		}
		artifact.Dependencies = append(artifact.Dependencies, path)
	}
	return artifact, nil
}

// find returns the first cached file named <artifact>-<version><ext>.
func (r *Resolver) find(ctx context.Context, c Coordinates, ext string) (string, error) {
	roots, err := r.filesDirs()
	if err != nil {
		return "", &NotResolvedError{Coordinates: c, Reason: err.Error()}
	}
	name := c.Artifact + "-" + c.Version + ext
	for _, root := range roots {
		dir := filepath.Join(root, c.Group, c.Artifact, c.Version)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		paths, err := shell.Find(ctx, r.Runner, dir, name)
		if err != nil {
			return "", fmt.Errorf("search %s: %w", dir, err)
		}
		if len(paths) > 0 {
			return paths[0], nil
		}
	}
	return "", &NotResolvedError{Coordinates: c, Reason: "no " + name}
}

// filesDirs returns the files-2.* directories, newest layout first.
func (r *Resolver) filesDirs() ([]string, error) {
	entries, err := os.ReadDir(r.Modules)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "files-2.") {
			dirs = append(dirs, filepath.Join(r.Modules, e.Name()))
		}
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no files-2.* directory in %s", r.Modules)
	}
	slices.Sort(dirs)
	slices.Reverse(dirs)
	return dirs, nil
}

// newestVersion picks the highest cached version of an unversioned
// dependency.
func (r *Resolver) newestVersion(c Coordinates) (string, error) {
	roots, err := r.filesDirs()
	if err != nil {
		return "", err
	}
	var versions []*semver.Version
	for _, root := range roots {
		entries, err := os.ReadDir(filepath.Join(root, c.Group, c.Artifact))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if v, err := semver.NewVersion(e.Name()); err == nil && e.IsDir() {
				versions = append(versions, v)
			}
		}
	}
	if len(versions) == 0 {
		return "", &NotResolvedError{Coordinates: c, Reason: "no cached versions"}
	}
	slices.SortFunc(versions, func(a, b *semver.Version) int { return a.Compare(b) })
	return versions[len(versions)-1].Original(), nil
}

// readDependencies returns the compile and runtime dependencies declared by
// a POM. Property references cannot be evaluated and leave the version empty.
func readDependencies(path string) ([]Coordinates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var p pom
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var deps []Coordinates
	for _, d := range p.Dependencies {
		scope := strings.TrimSpace(d.Scope)
		if d.Optional || (scope != "" && scope != "compile" && scope != "runtime") {
			continue
		}
		if d.Type != "" && d.Type != "jar" {
			continue
		}
		version := strings.TrimSpace(d.Version)
		if strings.Contains(version, "${") || strings.HasPrefix(version, "[") || strings.HasPrefix(version, "(") {
			version = ""
		}
		deps = append(deps, Coordinates{
			Group:    strings.TrimSpace(d.GroupID),
			Artifact: strings.TrimSpace(d.ArtifactID),
			Version:  version,
		})
	}
	return deps, nil
}
