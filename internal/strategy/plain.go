// SPDX-License-Identifier: MPL-2.0

package strategy

import (
	"context"
	"path/filepath"

	"github.com/hotpatch/hotpatch/internal/compiler"
	"github.com/hotpatch/hotpatch/internal/schedule"
)

// Layout names the build directories shared by all rounds of a run.
type Layout struct {
	// Intermediate receives the classes of the current run.
	Intermediate string
	// Final accumulates the classes of every patch since the last clean.
	Final string
}

// KaptDir returns a generator scratch directory below Intermediate.
func (l Layout) KaptDir(name string) string {
	return filepath.Join(l.Intermediate, "kapt", name)
}

// classpath puts the run's own output ahead of the project classpath so
// classes compiled in earlier rounds shadow their stale project versions.
func (l Layout) classpath(extra ...[]string) []string {
	cp := []string{l.Intermediate, l.Final}
	for _, e := range extra {
		cp = append(cp, e...)
	}
	return cp
}

// Plain compiles a round with kotlinc only.
type Plain struct {
	Kotlin    *compiler.Kotlin
	Layout    Layout
	Classpath []string
	// Plugins are applied to every compilation, e.g. parcelize.
	Plugins []compiler.Plugin
}

// Kind implements Strategy.
func (p *Plain) Kind() Kind { return KindPlain }

// Execute implements Strategy.
func (p *Plain) Execute(ctx context.Context, round schedule.Round) (Result, error) {
	out, err := p.Kotlin.Compile(ctx, round, compiler.Invocation{
		Plugins:   p.Plugins,
		Classpath: p.Layout.classpath(p.Classpath),
		OutputDir: p.Layout.Intermediate,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: out}, nil
}
