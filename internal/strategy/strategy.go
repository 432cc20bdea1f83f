// SPDX-License-Identifier: MPL-2.0

// Package strategy compiles scheduled rounds. Each round passes through
// Classify, Select, Execute and Aggregate: its sources are split into
// generation-required and plain ones, one strategy is chosen for the whole
// round, the strategy runs, and the engine stops at the first failed round.
package strategy

import (
	"context"
	"fmt"

	"github.com/hotpatch/hotpatch/internal/compiler"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/schedule"
)

// Kind names a compilation strategy.
type Kind int

const (
	// KindPlain compiles sources with kotlinc only.
	KindPlain Kind = iota
	// KindCodeGeneration additionally runs the annotation processor when
	// injectable members changed.
	KindCodeGeneration
)

type (
	// Strategy compiles one round.
	Strategy interface {
		Kind() Kind
		Execute(ctx context.Context, round schedule.Round) (Result, error)
	}

	// Result is the outcome of a strategy. GenerationSkipped is set when
	// the code-generation strategy found no injection change and compiled
	// the round without running the processor.
	Result struct {
		Outcome           compiler.Outcome
		GenerationSkipped bool
	}

	// Classification splits a round's sources per module.
	Classification struct {
		Generation map[project.Module][]string
		Plain      map[project.Module][]string
	}
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindCodeGeneration:
		return "codegen"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RequiresGeneration reports whether any source takes part in code
// generation.
func (c Classification) RequiresGeneration() bool {
	return len(c.Generation) > 0
}

// Count returns the number of classified sources.
func (c Classification) Count() (generation, plain int) {
	for _, s := range c.Generation {
		generation += len(s)
	}
	for _, s := range c.Plain {
		plain += len(s)
	}
	return generation, plain
}
