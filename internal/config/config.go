// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hotpatch/hotpatch/internal/cueutil"
	"github.com/hotpatch/hotpatch/internal/issue"
)

const (
	// AppName names the user configuration directory.
	AppName = "hotpatch"
	// ProjectFileName is the configuration file looked up in the project directory.
	ProjectFileName = "hotpatch.cue"
	// UserFileName is the configuration file in the user configuration directory.
	UserFileName = "config.cue"
	// EnvPrefix prefixes environment overrides, e.g. HOTPATCH_BUILD_WORKERS.
	EnvPrefix = "HOTPATCH"
	// DotEnvFileName is read from the project directory.
	DotEnvFileName = ".env"
)

// ErrConfigNotFound is returned when an explicitly requested file is missing.
var ErrConfigNotFound = errors.New("config file not found")

//go:embed config_schema.cue
var configSchema string

// UserConfigDir returns the hotpatch directory under the platform's user
// configuration directory.
func UserConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// EnvName returns the environment variable overriding a dotted key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolvePath(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Run 'hotpatch config init --force' to start from the defaults").
				WithGuide(issue.ConfigInvalidId).
				Wrap(err).
				BuildError()
		}
	}

	if err := applyDotEnv(v, filepath.Join(opts.projectDir(), DotEnvFileName)); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read environment file").
			WithResource(filepath.Join(opts.projectDir(), DotEnvFileName)).
			WithSuggestion("Each line must be KEY=VALUE").
			Wrap(err).
			BuildError()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = path

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Check " + EnvPrefix + "_* variables in the environment and in " + DotEnvFileName).
			WithGuide(issue.ConfigInvalidId).
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

// resolvePath picks the configuration file; an empty result means defaults
// only.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the --config path").
				WithSuggestion("Run 'hotpatch config init' to create a configuration file").
				Wrap(ErrConfigNotFound).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	if local := filepath.Join(opts.projectDir(), ProjectFileName); fileExists(local) {
		return local, nil
	}

	userDir := opts.UserConfigDir
	if userDir == "" {
		dir, err := UserConfigDir()
		if err != nil {
			// No home directory: nothing more to look up.
			return "", nil
		}
		userDir = dir
	}
	if global := filepath.Join(userDir, UserFileName); fileExists(global) {
		return global, nil
	}
	return "", nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("project.root", d.Project.Root)
	v.SetDefault("project.settings_file", d.Project.SettingsFile)
	v.SetDefault("project.versions_file", d.Project.VersionsFile)
	v.SetDefault("project.classpath_file", d.Project.ClasspathFile)
	v.SetDefault("build.root", d.Build.Root)
	v.SetDefault("build.incremental", d.Build.Incremental)
	v.SetDefault("build.plain_only", d.Build.PlainOnly)
	v.SetDefault("build.workers", d.Build.Workers)
	v.SetDefault("build.jvm_target", d.Build.JVMTarget)
	v.SetDefault("build.java_xmx", d.Build.JavaXmx)
	v.SetDefault("toolchain.kotlinc", d.Toolchain.Kotlinc)
	v.SetDefault("toolchain.javac", d.Toolchain.Javac)
	v.SetDefault("toolchain.parcelize_plugin", d.Toolchain.ParcelizePlugin)
	v.SetDefault("toolchain.kapt_plugin", d.Toolchain.KaptPlugin)
	v.SetDefault("toolchain.android_sdk", d.Toolchain.AndroidSDK)
	v.SetDefault("toolchain.gradle_cache", d.Toolchain.GradleCache)
	v.SetDefault("codegen.library", d.Codegen.Library)
	v.SetDefault("codegen.group", d.Codegen.Group)
	v.SetDefault("codegen.artifacts", d.Codegen.Artifacts)
	v.SetDefault("device.adb", d.Device.ADB)
	v.SetDefault("device.package", d.Device.Package)
	v.SetDefault("device.component", d.Device.Component)
	v.SetDefault("device.patch_dir", d.Device.PatchDir)
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into
// viper, keeping defaults for unset fields.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	values, err := cueutil.DecodeMap(configSchema, "#Config", data, path)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return nil
}

// applyDotEnv applies HOTPATCH_* entries of a .env file. Variables already
// present in the process environment win.
func applyDotEnv(v *viper.Viper, path string) error {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, key := range v.AllKeys() {
		name := EnvName(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if value, ok := values[name]; ok {
			v.Set(key, value)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteFile writes cfg as CUE. An existing file is kept unless force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force && fileExists(path) {
		return issue.NewErrorContext().
			WithOperation("write configuration").
			WithResource(path).
			WithSuggestion("Use --force to overwrite it").
			Wrap(fs.ErrExist).
			BuildError()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg as a configuration file accepted by the schema.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// hotpatch configuration\n")

	section := func(name string, fields ...string) {
		fmt.Fprintf(&sb, "\n%s: {\n", name)
		for _, f := range fields {
			if f != "" {
				sb.WriteString("\t" + f + "\n")
			}
		}
		sb.WriteString("}\n")
	}
	str := func(key, value string) string {
		if value == "" {
			return ""
		}
		return fmt.Sprintf("%s: %q", key, value)
	}

	section("project",
		str("root", cfg.Project.Root),
		str("settings_file", cfg.Project.SettingsFile),
		str("versions_file", cfg.Project.VersionsFile),
		str("classpath_file", cfg.Project.ClasspathFile),
	)
	section("build",
		str("root", cfg.Build.Root),
		fmt.Sprintf("incremental: %t", cfg.Build.Incremental),
		fmt.Sprintf("plain_only: %t", cfg.Build.PlainOnly),
		fmt.Sprintf("workers: %d", cfg.Build.Workers),
		str("jvm_target", cfg.Build.JVMTarget),
		str("java_xmx", cfg.Build.JavaXmx),
	)
	section("toolchain",
		str("kotlinc", cfg.Toolchain.Kotlinc),
		str("javac", cfg.Toolchain.Javac),
		str("parcelize_plugin", cfg.Toolchain.ParcelizePlugin),
		str("kapt_plugin", cfg.Toolchain.KaptPlugin),
		str("android_sdk", cfg.Toolchain.AndroidSDK),
		str("gradle_cache", cfg.Toolchain.GradleCache),
	)

	artifacts := make([]string, len(cfg.Codegen.Artifacts))
	for i, a := range cfg.Codegen.Artifacts {
		artifacts[i] = fmt.Sprintf("%q", a)
	}
	section("codegen",
		str("library", cfg.Codegen.Library),
		str("group", cfg.Codegen.Group),
		"artifacts: ["+strings.Join(artifacts, ", ")+"]",
	)
	section("device",
		str("adb", cfg.Device.ADB),
		str("package", cfg.Device.Package),
		str("component", cfg.Device.Component),
		str("patch_dir", cfg.Device.PatchDir),
	)
	section("ui",
		fmt.Sprintf("verbose: %t", cfg.UI.Verbose),
		str("color_scheme", string(cfg.UI.ColorScheme)),
	)
	if cfg.Metrics.Textfile != "" {
		section("metrics", str("textfile", cfg.Metrics.Textfile))
	}
	return sb.String()
}
