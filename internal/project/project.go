// SPDX-License-Identifier: MPL-2.0

// Package project holds the module identity and source-layout conventions of a
// Gradle multi-module project: module names map to directories, and a source
// file belongs to the module whose directory precedes its "/src/" segment.
package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// SourceMarker separates a module directory from its source sets.
	SourceMarker = "/src/"

	// KotlinExt is the only source extension the build compiles.
	KotlinExt = ".kt"
)

// ErrNotModuleSource is returned when a path does not follow the
// "<module>/src/..." layout.
var ErrNotModuleSource = errors.New("path is not a module source")

// testSourceDirs are excluded from hot patches.
var testSourceDirs = []string{"/src/test/java/", "/src/test/kotlin/"}

type (
	// Module is a buildable unit. Name is the Gradle project path without
	// its leading colon ("feature:login"); Path is the matching directory
	// relative to the project root ("feature/login").
	Module struct {
		Name string
		Path string
	}

	// Edge is a declared dependency on another module. Transitive edges are
	// exported: consumers of the declaring module see the target's own
	// dependencies too.
	Edge struct {
		Target     Module
		Transitive bool
	}

	// NotModuleSourceError names the offending path.
	NotModuleSourceError struct {
		Path string
	}
)

func (e *NotModuleSourceError) Error() string {
	return fmt.Sprintf("%s: missing %q segment", e.Path, SourceMarker)
}

func (e *NotModuleSourceError) Unwrap() error { return ErrNotModuleSource }

// NewModule builds a module from a Gradle project path such as ":feature:login".
func NewModule(name string) Module {
	name = strings.TrimPrefix(strings.TrimSpace(name), ":")
	return Module{Name: name, Path: strings.ReplaceAll(name, ":", "/")}
}

// String returns the Gradle notation with a leading colon.
func (m Module) String() string {
	return ":" + m.Name
}

// ModuleOf returns the module owning a source path. The path is expected to be
// relative to the project root.
func ModuleOf(source string) (Module, error) {
	source = filepath.ToSlash(source)
	idx := strings.Index(source, SourceMarker)
	if idx <= 0 {
		return Module{}, &NotModuleSourceError{Path: source}
	}
	dir := strings.TrimPrefix(source[:idx], "./")
	return NewModule(strings.ReplaceAll(dir, "/", ":")), nil
}

// ClassReference returns the JVM internal name a source compiles to, e.g.
// "lib/src/main/kotlin/com/acme/Foo.kt" becomes "com/acme/Foo". Top-level
// functions compiled into "FooKt" are not covered.
func ClassReference(source string) (string, error) {
	source = filepath.ToSlash(source)
	idx := strings.Index(source, SourceMarker)
	if idx < 0 {
		return "", &NotModuleSourceError{Path: source}
	}
	// Skip "<flavor>/{java,kotlin}/".
	rest := source[idx+len(SourceMarker):]
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[2] == "" || (parts[1] != "java" && parts[1] != "kotlin") {
		return "", &NotModuleSourceError{Path: source}
	}
	ref := parts[2]
	return strings.TrimSuffix(ref, filepath.Ext(ref)), nil
}

// IsSupportedSource reports whether a path is a Kotlin production source.
func IsSupportedSource(path string) bool {
	path = filepath.ToSlash(path)
	if !strings.HasSuffix(path, KotlinExt) {
		return false
	}
	for _, dir := range testSourceDirs {
		if strings.Contains(path, dir) {
			return false
		}
	}
	return true
}
