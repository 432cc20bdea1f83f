// SPDX-License-Identifier: MPL-2.0

// Package graph resolves the module dependency graph of a project.
//
// Declared edges are expanded once, at setup: an exported (transitive) edge
// contributes its target plus all of the target's own declared edges, which
// are expanded in turn when they are exported as well. A plain edge
// contributes only its target.
package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/dag"
	"github.com/hotpatch/hotpatch/internal/project"
)

var (
	// ErrAlreadyInitialized is returned when Setup is called more than once.
	ErrAlreadyInitialized = errors.New("module graph already initialized")

	// ErrNotInitialized is returned by queries made before Setup.
	ErrNotInitialized = errors.New("module graph not initialized")

	// ErrUnknownModule is the sentinel wrapped by UnknownModuleError.
	ErrUnknownModule = errors.New("unknown module")
)

type (
	// UnknownModuleError names a module missing from the graph.
	UnknownModuleError struct {
		Module string
		// Referrer is the module whose declaration mentioned Module, if any.
		Referrer string
	}

	// Graph maps every module to its resolved dependency closure. It is set
	// up exactly once and read-only afterwards, so queries are safe for
	// concurrent use.
	Graph struct {
		mu       sync.RWMutex
		consumed bool
		ready    bool
		resolved map[project.Module]map[project.Module]struct{}
	}
)

func (e *UnknownModuleError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("unknown module %q referenced by %q", e.Module, e.Referrer)
	}
	return fmt.Sprintf("unknown module %q", e.Module)
}

func (e *UnknownModuleError) Unwrap() error { return ErrUnknownModule }

// New returns an empty graph awaiting Setup.
func New() *Graph {
	return &Graph{}
}

// Setup rejects cyclic declarations and stores the resolved closure of every
// module in declared. Calling it a second time fails with ErrAlreadyInitialized,
// even when the first call failed.
func (g *Graph) Setup(ctx context.Context, declared map[project.Module][]project.Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.consumed {
		return ErrAlreadyInitialized
	}
	g.consumed = true

	if err := checkAcyclic(declared); err != nil {
		return err
	}

	resolved := make(map[project.Module]map[project.Module]struct{}, len(declared))
	for module := range declared {
		closure, err := resolve(module, declared)
		if err != nil {
			return err
		}
		resolved[module] = closure
	}

	g.resolved = resolved
	g.ready = true
	ctxlog.FromContext(ctx).Debug("module graph ready", "modules", len(resolved))
	return nil
}

// ChildModules returns the resolved dependencies of module sorted by name.
// The boolean is false when the module is unknown.
func (g *Graph) ChildModules(module project.Module) ([]project.Module, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	closure, ok := g.resolved[module]
	if !ok {
		return nil, false
	}
	return sortModules(maps.Keys(closure)), true
}

// IsDependency reports whether candidate is in the resolved closure of root.
func (g *Graph) IsDependency(root, candidate project.Module) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.ready {
		return false, ErrNotInitialized
	}
	closure, ok := g.resolved[root]
	if !ok {
		return false, &UnknownModuleError{Module: root.Name}
	}
	_, ok = closure[candidate]
	return ok, nil
}

// Modules returns every module known to the graph sorted by name.
func (g *Graph) Modules() []project.Module {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortModules(maps.Keys(g.resolved))
}

// Contains reports whether module is known to the graph.
func (g *Graph) Contains(module project.Module) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.resolved[module]
	return ok
}

// resolve expands the declared edges of module to a fixed point. Each exported
// target is expanded at most once, so diamonds terminate.
func resolve(module project.Module, declared map[project.Module][]project.Edge) (map[project.Module]struct{}, error) {
	closure := make(map[project.Module]struct{})
	expanded := make(map[project.Module]bool)

	pending := slices.Clone(declared[module])
	for len(pending) > 0 {
		edge := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		closure[edge.Target] = struct{}{}
		if !edge.Transitive || expanded[edge.Target] {
			continue
		}
		expanded[edge.Target] = true

		next, ok := declared[edge.Target]
		if !ok {
			return nil, &UnknownModuleError{Module: edge.Target.Name, Referrer: module.Name}
		}
		pending = append(pending, next...)
	}
	return closure, nil
}

func checkAcyclic(declared map[project.Module][]project.Edge) error {
	d := dag.New()
	for _, module := range sortModules(maps.Keys(declared)) {
		d.AddNode(module.Name)
		for _, edge := range declared[module] {
			d.AddDependency(module.Name, edge.Target.Name)
		}
	}
	if _, err := d.TopologicalSort(); err != nil {
		return fmt.Errorf("module graph: %w", err)
	}
	return nil
}

func sortModules(modules []project.Module) []project.Module {
	slices.SortFunc(modules, func(a, b project.Module) int {
		return strings.Compare(a.Name, b.Name)
	})
	return modules
}
