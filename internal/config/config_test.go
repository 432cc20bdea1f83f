// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/hotpatch/hotpatch/internal/issue"
)

// isolated returns load options that see only temporary directories.
func isolated(t *testing.T) LoadOptions {
	t.Helper()
	return LoadOptions{ProjectDir: t.TempDir(), UserConfigDir: t.TempDir()}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func load(t *testing.T, opts LoadOptions) *Config {
	t.Helper()
	cfg, err := NewProvider().Load(context.Background(), opts)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t, isolated(t))

	want := DefaultConfig()
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("Load() = %+v\nwant %+v", cfg, want)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
}

func TestLoad_ProjectFile(t *testing.T) {
	opts := isolated(t)
	path := filepath.Join(opts.ProjectDir, ProjectFileName)
	writeFile(t, path, `
build: {
	workers: 4
	plain_only: true
}
device: package: "com.example.app"
codegen: artifacts: ["dagger-compiler"]
`)
	writeFile(t, filepath.Join(opts.UserConfigDir, UserFileName), `build: workers: 9`)

	cfg := load(t, opts)
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if cfg.Build.Workers != 4 || !cfg.Build.PlainOnly {
		t.Errorf("Build = %+v", cfg.Build)
	}
	if !cfg.Build.Incremental || cfg.Build.JVMTarget != "17" {
		t.Errorf("unset fields must keep defaults, got %+v", cfg.Build)
	}
	if cfg.Device.Package != "com.example.app" || cfg.Device.PatchDir != "/data/local/tmp" {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if !slices.Equal(cfg.Codegen.Artifacts, []string{"dagger-compiler"}) {
		t.Errorf("Artifacts = %v", cfg.Codegen.Artifacts)
	}
}

func TestLoad_UserFile(t *testing.T) {
	opts := isolated(t)
	path := filepath.Join(opts.UserConfigDir, UserFileName)
	writeFile(t, path, `ui: color_scheme: "dark"`)

	cfg := load(t, opts)
	if cfg.Source != path || cfg.UI.ColorScheme != ColorSchemeDark {
		t.Errorf("Load() = source %q, scheme %q", cfg.Source, cfg.UI.ColorScheme)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	opts := isolated(t)
	writeFile(t, filepath.Join(opts.ProjectDir, ProjectFileName), `build: workers: 2`)
	opts.ConfigFilePath = filepath.Join(t.TempDir(), "ci.cue")
	writeFile(t, opts.ConfigFilePath, `build: workers: 7`)

	if cfg := load(t, opts); cfg.Build.Workers != 7 {
		t.Errorf("Workers = %d, want the explicit file's 7", cfg.Build.Workers)
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	opts := isolated(t)
	opts.ConfigFilePath = filepath.Join(opts.ProjectDir, "missing.cue")

	_, err := NewProvider().Load(context.Background(), opts)
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("Load() error = %v, want ErrConfigNotFound", err)
	}
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Resource != opts.ConfigFilePath || !ae.HasSuggestions() {
		t.Errorf("Load() error = %#v, want an actionable error naming the file", err)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", `build: {`, ProjectFileName},
		{"negative workers", `build: workers: -1`, "build.workers"},
		{"unknown section", `gradle: daemon: true`, "gradle"},
		{"unknown field", `build: turbo: true`, "build.turbo"},
		{"relative patch dir", `device: patch_dir: "tmp"`, "device.patch_dir"},
		{"bad scheme", `ui: color_scheme: "neon"`, "ui.color_scheme"},
		{"bad xmx", `build: java_xmx: "lots"`, "build.java_xmx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := isolated(t)
			writeFile(t, filepath.Join(opts.ProjectDir, ProjectFileName), tt.content)

			_, err := NewProvider().Load(context.Background(), opts)
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
			if guide, ok := issue.GuideFor(err); !ok || guide.Id() != issue.ConfigInvalidId {
				t.Error("invalid configuration should link the config guide")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	opts := isolated(t)
	writeFile(t, filepath.Join(opts.ProjectDir, ProjectFileName), `build: workers: 4`)
	t.Setenv("HOTPATCH_BUILD_WORKERS", "3")
	t.Setenv("HOTPATCH_BUILD_INCREMENTAL", "false")
	t.Setenv("HOTPATCH_DEVICE_PACKAGE", "com.example.env")

	cfg := load(t, opts)
	if cfg.Build.Workers != 3 || cfg.Build.Incremental {
		t.Errorf("Build = %+v, want env values", cfg.Build)
	}
	if cfg.Device.Package != "com.example.env" {
		t.Errorf("Device.Package = %q", cfg.Device.Package)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	opts := isolated(t)
	writeFile(t, filepath.Join(opts.ProjectDir, DotEnvFileName), strings.Join([]string{
		"# local overrides",
		"HOTPATCH_TOOLCHAIN_KOTLINC=/opt/kotlinc/bin/kotlinc",
		"HOTPATCH_DEVICE_COMPONENT=.DotEnvActivity",
		"HOTPATCH_CODEGEN_ARTIFACTS=hilt-compiler,dagger-compiler",
		"UNRELATED=1",
	}, "\n"))
	t.Setenv("HOTPATCH_DEVICE_COMPONENT", ".ProcessActivity")

	cfg := load(t, opts)
	if cfg.Toolchain.Kotlinc != "/opt/kotlinc/bin/kotlinc" {
		t.Errorf("Kotlinc = %q, want the .env value", cfg.Toolchain.Kotlinc)
	}
	if cfg.Device.Component != ".ProcessActivity" {
		t.Errorf("Component = %q, the process environment must win over .env", cfg.Device.Component)
	}
	if !slices.Equal(cfg.Codegen.Artifacts, []string{"hilt-compiler", "dagger-compiler"}) {
		t.Errorf("Artifacts = %v", cfg.Codegen.Artifacts)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("HOTPATCH_UI_COLOR_SCHEME", "neon")

	_, err := NewProvider().Load(context.Background(), isolated(t))
	if !errors.Is(err, ErrInvalidColorScheme) || !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want an invalid color scheme", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, isolated(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	opts := isolated(t)
	path := filepath.Join(opts.ProjectDir, ProjectFileName)

	want := DefaultConfig()
	want.Build.Workers = 6
	want.Project.SettingsFile = "settings.gradle.kts"
	want.Device.Package = "com.example.app"
	want.Device.Component = ".MainActivity"
	want.Metrics.Textfile = "/var/lib/node_exporter/hotpatch.prom"
	if err := WriteFile(path, want, false); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got := load(t, opts)
	want.Source = path
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %+v\nwant %+v", got, want)
	}

	err := WriteFile(path, DefaultConfig(), false)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("WriteFile() over an existing file = %v, want fs.ErrExist", err)
	}
	if err := WriteFile(path, DefaultConfig(), true); err != nil {
		t.Errorf("WriteFile(force) error = %v", err)
	}
}

func TestEnvName(t *testing.T) {
	t.Parallel()

	if got := EnvName("build.jvm_target"); got != "HOTPATCH_BUILD_JVM_TARGET" {
		t.Errorf("EnvName() = %q", got)
	}
}

func TestBuildConfig_WorkerCount(t *testing.T) {
	t.Parallel()

	if got := (BuildConfig{Workers: 3}).WorkerCount(); got != 3 {
		t.Errorf("WorkerCount() = %d, want 3", got)
	}
	if got := (BuildConfig{}).WorkerCount(); got < 1 {
		t.Errorf("WorkerCount() = %d, want at least 1", got)
	}
}

func TestColorScheme(t *testing.T) {
	t.Parallel()

	for _, s := range []ColorScheme{"", ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight} {
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%q) = %v", s, err)
		}
	}
	if err := ColorScheme("neon").Validate(); !errors.Is(err, ErrInvalidColorScheme) {
		t.Errorf("Validate(neon) = %v", err)
	}
	if ColorSchemeLight.GlamourStyle() != "light" || ColorScheme("").GlamourStyle() != "auto" {
		t.Error("GlamourStyle() mapping is wrong")
	}
}
