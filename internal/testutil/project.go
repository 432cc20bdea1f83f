// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

type (
	// Project builds a Gradle project tree in a temporary directory.
	// Settings and build files are written by Write; sources are written
	// immediately.
	Project struct {
		t        testing.TB
		Root     string
		modules  []string
		deps     map[string][]Dep
		versions map[string]string
		kts      bool
	}

	// Dep is a declared project dependency.
	Dep struct {
		Module string
		API    bool
	}
)

// NewProject creates an empty project rooted at a fresh temporary directory.
func NewProject(t testing.TB) *Project {
	t.Helper()
	return &Project{
		t:        t,
		Root:     t.TempDir(),
		deps:     make(map[string][]Dep),
		versions: make(map[string]string),
	}
}

// KotlinScript switches the generated build scripts to the .kts dialect.
func (p *Project) KotlinScript() *Project {
	p.kts = true
	return p
}

// Module declares a module such as ":feature:login" with its dependencies.
func (p *Project) Module(name string, deps ...Dep) *Project {
	name = strings.TrimPrefix(name, ":")
	if !slices.Contains(p.modules, name) {
		p.modules = append(p.modules, name)
	}
	p.deps[name] = append(p.deps[name], deps...)
	return p
}

// Version adds an entry to the version catalog.
func (p *Project) Version(name, version string) *Project {
	p.versions[name] = version
	return p
}

// API is a transitive dependency on module.
func API(module string) Dep { return Dep{Module: strings.TrimPrefix(module, ":"), API: true} }

// Implementation is a plain dependency on module.
func Implementation(module string) Dep { return Dep{Module: strings.TrimPrefix(module, ":")} }

// ModuleDir returns the directory of a module.
func (p *Project) ModuleDir(module string) string {
	return filepath.Join(p.Root, filepath.FromSlash(strings.ReplaceAll(strings.TrimPrefix(module, ":"), ":", "/")))
}

// Source writes a Kotlin source below "<module>/src/main/kotlin" and
// returns its absolute path. pkgPath is slash separated, e.g.
// "com/example/Foo.kt".
func (p *Project) Source(module, pkgPath, content string) string {
	p.t.Helper()
	path := filepath.Join(p.ModuleDir(module), "src", "main", "kotlin", filepath.FromSlash(pkgPath))
	return MustWriteFile(p.t, path, content)
}

// Write writes the settings file, one build file per module and the
// version catalog.
func (p *Project) Write() *Project {
	p.t.Helper()

	var settings strings.Builder
	for _, m := range p.modules {
		if p.kts {
			fmt.Fprintf(&settings, "include(\":%s\")\n", m)
		} else {
			fmt.Fprintf(&settings, "include ':%s'\n", m)
		}
	}
	settingsName, buildName := "settings.gradle", "build.gradle"
	if p.kts {
		settingsName, buildName = "settings.gradle.kts", "build.gradle.kts"
	}
	MustWriteFile(p.t, filepath.Join(p.Root, settingsName), settings.String())

	for _, m := range p.modules {
		var build strings.Builder
		build.WriteString("plugins {\n    id 'com.android.library'\n}\n\ndependencies {\n")
		for _, d := range p.deps[m] {
			conf := "implementation"
			if d.API {
				conf = "api"
			}
			if p.kts {
				fmt.Fprintf(&build, "    %s(project(\":%s\"))\n", conf, d.Module)
			} else {
				fmt.Fprintf(&build, "    %s project(':%s')\n", conf, d.Module)
			}
		}
		build.WriteString("}\n")
		MustWriteFile(p.t, filepath.Join(p.ModuleDir(m), buildName), build.String())
	}

	if len(p.versions) > 0 {
		var catalog strings.Builder
		catalog.WriteString("[versions]\n")
		for _, name := range slices.Sorted(maps.Keys(p.versions)) {
			fmt.Fprintf(&catalog, "%s = %q\n", name, p.versions[name])
		}
		MustWriteFile(p.t, filepath.Join(p.Root, "gradle", "libs.versions.toml"), catalog.String())
	}
	return p
}
