// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// ColorSchemeAuto picks the guide style from the terminal background.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces the dark guide style.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces the light guide style.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme selects the style of rendered troubleshooting guides.
	ColorScheme string

	// InvalidColorSchemeError wraps ErrInvalidColorScheme.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError collects field errors found after decoding. It
	// wraps ErrInvalidConfig.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the hotpatch configuration.
	Config struct {
		Project   ProjectConfig   `json:"project" mapstructure:"project"`
		Build     BuildConfig     `json:"build" mapstructure:"build"`
		Toolchain ToolchainConfig `json:"toolchain" mapstructure:"toolchain"`
		Codegen   CodegenConfig   `json:"codegen" mapstructure:"codegen"`
		Device    DeviceConfig    `json:"device" mapstructure:"device"`
		UI        UIConfig        `json:"ui" mapstructure:"ui"`
		Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`

		// Source is the file the configuration was read from; empty when only
		// defaults and the environment apply.
		Source string `json:"-" mapstructure:"-"`
	}

	// ProjectConfig locates the Gradle project.
	ProjectConfig struct {
		Root string `json:"root" mapstructure:"root"`
		// SettingsFile overrides settings.gradle(.kts) discovery.
		SettingsFile string `json:"settings_file,omitempty" mapstructure:"settings_file"`
		VersionsFile string `json:"versions_file" mapstructure:"versions_file"`
		// ClasspathFile lists extra classpath entries, one per line, e.g. the
		// resolved compile classpath exported by a Gradle task.
		ClasspathFile string `json:"classpath_file,omitempty" mapstructure:"classpath_file"`
	}

	// BuildConfig controls compilation.
	BuildConfig struct {
		// Root holds the fingerprint table and the build directories,
		// relative to the project root.
		Root        string `json:"root" mapstructure:"root"`
		Incremental bool   `json:"incremental" mapstructure:"incremental"`
		PlainOnly   bool   `json:"plain_only" mapstructure:"plain_only"`
		// Workers bounds concurrent tasks; 0 means one per CPU.
		Workers   int    `json:"workers" mapstructure:"workers"`
		JVMTarget string `json:"jvm_target" mapstructure:"jvm_target"`
		JavaXmx   string `json:"java_xmx" mapstructure:"java_xmx"`
	}

	// ToolchainConfig locates compilers and plugins.
	ToolchainConfig struct {
		Kotlinc         string `json:"kotlinc" mapstructure:"kotlinc"`
		Javac           string `json:"javac" mapstructure:"javac"`
		ParcelizePlugin string `json:"parcelize_plugin,omitempty" mapstructure:"parcelize_plugin"`
		KaptPlugin      string `json:"kapt_plugin,omitempty" mapstructure:"kapt_plugin"`
		AndroidSDK      string `json:"android_sdk,omitempty" mapstructure:"android_sdk"`
		// GradleCache is the modules-2 directory of the Gradle user home.
		GradleCache string `json:"gradle_cache,omitempty" mapstructure:"gradle_cache"`
	}

	// CodegenConfig names the annotation processor run by the code
	// generation strategy.
	CodegenConfig struct {
		// Library is the version catalog key holding the processor version.
		Library   string   `json:"library" mapstructure:"library"`
		Group     string   `json:"group" mapstructure:"group"`
		Artifacts []string `json:"artifacts" mapstructure:"artifacts"`
	}

	// DeviceConfig describes the deployment target.
	DeviceConfig struct {
		ADB       string `json:"adb,omitempty" mapstructure:"adb"`
		Package   string `json:"package,omitempty" mapstructure:"package"`
		Component string `json:"component,omitempty" mapstructure:"component"`
		PatchDir  string `json:"patch_dir" mapstructure:"patch_dir"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
	}

	// MetricsConfig configures the Prometheus textfile written after a run.
	MetricsConfig struct {
		Textfile string `json:"textfile,omitempty" mapstructure:"textfile"`
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	const kotlinPlugin = "/Applications/Android Studio.app/Contents/plugins/Kotlin/kotlinc"
	return &Config{
		Project: ProjectConfig{
			Root:         ".",
			VersionsFile: "gradle/libs.versions.toml",
		},
		Build: BuildConfig{
			Root:        filepath.Join("hotpatch", "build"),
			Incremental: true,
			JVMTarget:   "17",
			JavaXmx:     "8g",
		},
		Toolchain: ToolchainConfig{
			Kotlinc:         kotlinPlugin + "/bin/kotlinc",
			Javac:           "javac",
			ParcelizePlugin: kotlinPlugin + "/lib/parcelize-compiler.jar",
			KaptPlugin:      kotlinPlugin + "/lib/kotlin-annotation-processing.jar",
		},
		Codegen: CodegenConfig{
			Library:   "dagger",
			Group:     "com.google.dagger",
			Artifacts: []string{"dagger-compiler", "dagger-spi"},
		},
		Device: DeviceConfig{
			PatchDir: "/data/local/tmp",
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// WorkerCount resolves Workers to a positive bound.
func (c BuildConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Validate reports field errors the schema cannot express, such as values
// that arrived through the environment.
func (c *Config) Validate() error {
	var errs []error
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Build.Workers < 0 {
		errs = append(errs, fmt.Errorf("build.workers: must not be negative, got %d", c.Build.Workers))
	}
	if strings.TrimSpace(c.Build.Root) == "" {
		errs = append(errs, errors.New("build.root: must not be empty"))
	}
	if c.Device.PatchDir != "" && !strings.HasPrefix(c.Device.PatchDir, "/") {
		errs = append(errs, fmt.Errorf("device.patch_dir: must be an absolute device path, got %q", c.Device.PatchDir))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// GlamourStyle maps the scheme to a glamour style name.
func (s ColorScheme) GlamourStyle() string {
	switch s {
	case ColorSchemeDark, ColorSchemeLight:
		return string(s)
	default:
		return "auto"
	}
}

// Validate rejects unknown schemes. The empty value means auto.
func (s ColorScheme) Validate() error {
	switch s {
	case "", ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: s}
	}
}

func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("ui.color_scheme: invalid value %q (valid: auto, dark, light)", e.Value)
}

func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap exposes ErrInvalidConfig and every field error to errors.Is.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
