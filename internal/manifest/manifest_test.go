// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/testutil"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

func TestParseBuildFile(t *testing.T) {
	t.Parallel()

	want := []project.Edge{
		{Target: project.NewModule(":m1:sub1"), Transitive: true},
		{Target: project.NewModule(":m1:sub2"), Transitive: true},
		{Target: project.NewModule(":m2:sub1")},
		{Target: project.NewModule(":m2:sub2")},
		{Target: project.NewModule(":m2:sub3:sub4")},
		{Target: project.NewModule(":m3:sub1")},
	}

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "kotlin script",
			file: "build.gradle.kts",
			content: `plugins {
    id("sample-module")
}

android {
    namespace = "sample.namespace"
}

dependencies {

    api(project(":m1:sub1"))
    api(project(":m1:sub2"))

    implementation(project(' :m2:sub1'))
    implementation(project(':m2:sub2 '))
    implementation(project('  :m2:sub3:sub4  '))
    compileOnly(project(":m3:sub1"))

    testImplementation(project(":testing"))
    implementation(libs.sample.lib1)
    kapt(libs.sample.kapt)
}

tasks.register("x") {
    dependsOn(project(":outside"))
}
`,
		},
		{
			name: "groovy",
			file: "build.gradle",
			content: `dependencies {
    api project(':m1:sub1'),
        project(path: ':m1:sub2')
    implementation project(":m2:sub1")
    implementation project(':m2:sub2')
    implementation project(path: ':m2:sub3:sub4')
    if (true) {
        compileOnly project(':m3:sub1')
    }
    androidTestImplementation project(':testing')
}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := testutil.MustWriteFile(t, filepath.Join(t.TempDir(), tt.file), tt.content)
			edges, err := ParseBuildFile(path)
			if err != nil {
				t.Fatalf("ParseBuildFile() error = %v", err)
			}
			if !slices.Equal(edges, want) {
				t.Errorf("ParseBuildFile() =\n%v\nwant\n%v", edges, want)
			}
		})
	}
}

func TestParseBuildFile_NoDependencies(t *testing.T) {
	t.Parallel()
	path := testutil.MustWriteFile(t, filepath.Join(t.TempDir(), "build.gradle"), "plugins { id 'x' }\n")
	edges, err := ParseBuildFile(path)
	if err != nil || len(edges) != 0 {
		t.Errorf("ParseBuildFile() = %v, %v", edges, err)
	}
}

func TestParseSettings(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, dir := range []string{"app", "core/data", "feature/login", "feature/home"} {
		testutil.MustMkdirAll(t, filepath.Join(root, filepath.FromSlash(dir)))
	}
	path := testutil.MustWriteFile(t, filepath.Join(root, "settings.gradle"), `rootProject.name = "sample"
include ':app'
include ':core:data', ':missing'
include(
    ":feature:login",
    ":feature:home",
)
// include ':commented'
include ':app'
`)

	modules, err := ParseSettings(path, root)
	if err != nil {
		t.Fatalf("ParseSettings() error = %v", err)
	}
	want := []project.Module{
		project.NewModule(":app"),
		project.NewModule(":core:data"),
		project.NewModule(":feature:login"),
		project.NewModule(":feature:home"),
	}
	if !slices.Equal(modules, want) {
		t.Errorf("ParseSettings() = %v, want %v", modules, want)
	}
}

func TestParseVersions(t *testing.T) {
	t.Parallel()

	path := testutil.MustWriteFile(t, filepath.Join(t.TempDir(), "libs.versions.toml"), `# catalog
[versions]
dagger = "2.51.1"
kotlin = { strictly = "2.0.0" }
agp = { require = "8.5.0", prefer = "8.5.1" }

[libraries]
dagger = { module = "com.google.dagger:dagger", version.ref = "dagger" }
`)
	versions, err := ParseVersions(path)
	if err != nil {
		t.Fatalf("ParseVersions() error = %v", err)
	}
	want := map[string]string{"dagger": "2.51.1", "kotlin": "2.0.0", "agp": "8.5.0"}
	for k, v := range want {
		if versions[k] != v {
			t.Errorf("versions[%q] = %q, want %q", k, versions[k], v)
		}
	}
	if len(versions) != len(want) {
		t.Errorf("versions = %v", versions)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	p := testutil.NewProject(t).
		Module(":app", testutil.API(":lib")).
		Module(":lib", testutil.API(":core"), testutil.Implementation(":util")).
		Module(":core").
		Module(":util").
		Version("dagger", "2.51").
		Write()
	testutil.MustMkdirAll(t, p.ModuleDir(":empty"))

	got, err := Load(t.Context(), p.Root, workerpool.New(2), Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Modules) != 4 {
		t.Fatalf("Modules = %v", got.Modules)
	}
	lib, ok := got.Module(":lib")
	if !ok {
		t.Fatal("Module(:lib) not found")
	}
	wantEdges := []project.Edge{
		{Target: project.NewModule(":core"), Transitive: true},
		{Target: project.NewModule(":util")},
	}
	if !slices.Equal(got.Edges[lib], wantEdges) {
		t.Errorf("Edges[lib] = %v, want %v", got.Edges[lib], wantEdges)
	}
	if got.Versions["dagger"] != "2.51" {
		t.Errorf("Versions = %v", got.Versions)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no settings", func(t *testing.T) {
		t.Parallel()
		_, err := Load(t.Context(), t.TempDir(), workerpool.New(1), Options{})
		if !errors.Is(err, ErrNoSettings) {
			t.Errorf("err = %v, want ErrNoSettings", err)
		}
	})

	t.Run("no modules", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		testutil.MustWriteFile(t, filepath.Join(root, "settings.gradle"), "include ':gone'\n")
		_, err := Load(t.Context(), root, workerpool.New(1), Options{})
		if !errors.Is(err, ErrNoModules) {
			t.Errorf("err = %v, want ErrNoModules", err)
		}
	})

	t.Run("missing catalog is empty", func(t *testing.T) {
		t.Parallel()
		p := testutil.NewProject(t).Module(":app").Write()
		got, err := Load(t.Context(), p.Root, workerpool.New(1), Options{})
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got.Versions) != 0 {
			t.Errorf("Versions = %v", got.Versions)
		}
	})
}
