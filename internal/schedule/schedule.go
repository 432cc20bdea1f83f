// SPDX-License-Identifier: MPL-2.0

// Package schedule partitions changed sources into dependency-ordered rounds.
// A round only contains modules none of which depends on another module still
// waiting to be scheduled, so each round can import everything compiled
// before it.
package schedule

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hotpatch/hotpatch/internal/project"
)

var (
	// ErrStuck is the sentinel wrapped by StuckError.
	ErrStuck = errors.New("round scheduling made no progress")

	// ErrUnknownModule is the sentinel wrapped by UnknownModuleError.
	ErrUnknownModule = errors.New("source module not in graph")
)

type (
	// DependencyGraph is the part of the module graph the scheduler needs.
	DependencyGraph interface {
		IsDependency(root, candidate project.Module) (bool, error)
		Contains(module project.Module) bool
	}

	// StuckError reports the modules left over when no module of the
	// frontier was free of outstanding dependencies.
	StuckError struct {
		Modules []string
	}

	// UnknownModuleError reports a source whose module is not in the graph.
	UnknownModuleError struct {
		Source string
		Module string
	}

	// Round is one step of the schedule. Index is 1-based.
	Round struct {
		Index   int
		sources map[project.Module][]string
	}
)

func (e *StuckError) Error() string {
	return fmt.Sprintf("cannot schedule modules with mutual dependencies: %s", strings.Join(e.Modules, ", "))
}

func (e *StuckError) Unwrap() error { return ErrStuck }

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("source %s belongs to module %q which is not part of the project", e.Source, e.Module)
}

func (e *UnknownModuleError) Unwrap() error { return ErrUnknownModule }

// NewRound creates a round from a module to sources mapping. Source lists
// are copied and sorted.
func NewRound(index int, sources map[project.Module][]string) Round {
	r := Round{Index: index, sources: make(map[project.Module][]string, len(sources))}
	for m, paths := range sources {
		sorted := slices.Clone(paths)
		slices.Sort(sorted)
		r.sources[m] = slices.Compact(sorted)
	}
	return r
}

// Modules returns the round's modules sorted by name.
func (r Round) Modules() []project.Module {
	modules := make([]project.Module, 0, len(r.sources))
	for m := range r.sources {
		modules = append(modules, m)
	}
	slices.SortFunc(modules, func(a, b project.Module) int {
		return strings.Compare(a.Name, b.Name)
	})
	return modules
}

// Sources returns the sources of one module in this round.
func (r Round) Sources(m project.Module) []string {
	return slices.Clone(r.sources[m])
}

// AllSources returns every source of the round, grouped by module in name
// order.
func (r Round) AllSources() []string {
	var all []string
	for _, m := range r.Modules() {
		all = append(all, r.sources[m]...)
	}
	return all
}

// Len returns the number of sources in the round.
func (r Round) Len() int {
	n := 0
	for _, paths := range r.sources {
		n += len(paths)
	}
	return n
}

// Build groups sources by owning module and orders the modules into rounds.
// Sources are paths relative to the project root.
func Build(g DependencyGraph, sources []string) ([]Round, error) {
	byModule := make(map[project.Module][]string)
	for _, src := range sources {
		m, err := project.ModuleOf(src)
		if err != nil {
			return nil, err
		}
		if !g.Contains(m) {
			return nil, &UnknownModuleError{Source: src, Module: m.Name}
		}
		byModule[m] = append(byModule[m], src)
	}

	frontier := make([]project.Module, 0, len(byModule))
	for m := range byModule {
		frontier = append(frontier, m)
	}
	slices.SortFunc(frontier, func(a, b project.Module) int {
		return strings.Compare(a.Name, b.Name)
	})

	var rounds []Round
	for len(frontier) > 0 {
		ready, waiting, err := extract(g, frontier)
		if err != nil {
			return nil, err
		}
		if len(ready) == 0 {
			stuck := make([]string, 0, len(waiting))
			for _, m := range waiting {
				stuck = append(stuck, m.Name)
			}
			return nil, &StuckError{Modules: stuck}
		}

		batch := make(map[project.Module][]string, len(ready))
		for _, m := range ready {
			batch[m] = byModule[m]
		}
		rounds = append(rounds, NewRound(len(rounds)+1, batch))
		frontier = waiting
	}
	return rounds, nil
}

// extract splits the frontier into modules with no dependency on any other
// frontier module and the rest. Both keep the frontier's order.
func extract(g DependencyGraph, frontier []project.Module) (ready, waiting []project.Module, err error) {
	for _, m := range frontier {
		blocked := false
		for _, other := range frontier {
			if other == m {
				continue
			}
			dep, err := g.IsDependency(m, other)
			if err != nil {
				return nil, nil, err
			}
			if dep {
				blocked = true
				break
			}
		}
		if blocked {
			waiting = append(waiting, m)
		} else {
			ready = append(ready, m)
		}
	}
	return ready, waiting, nil
}
