// SPDX-License-Identifier: MPL-2.0

// Package dag orders module names by their declared dependencies and reports
// dependency cycles. Module graph setup runs it before resolving closures so
// that a cyclic project is rejected with the offending modules named.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCycle is the sentinel wrapped by CycleError.
var ErrCycle = errors.New("module dependency cycle")

type (
	// CycleError indicates that the module graph contains a cycle.
	CycleError struct {
		// Cycle holds the modules that lie on a cycle or between two cycles,
		// sorted by name. Modules merely depending on a cycle are excluded.
		Cycle []string
	}

	// Graph is a directed graph over module names. An edge from A to B means
	// A must be compiled before B, i.e. B depends on A.
	Graph struct {
		// dependents maps each node to the nodes that depend on it.
		dependents map[string][]string
		// nodes tracks all nodes in insertion order for deterministic output.
		nodes   []string
		nodeSet map[string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		dependents: make(map[string][]string),
		nodeSet:    make(map[string]bool),
	}
}

// AddNode adds a node to the graph. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddDependency records that dependent depends on dependency.
// Both nodes are implicitly added.
func (g *Graph) AddDependency(dependent, dependency string) {
	g.AddNode(dependency)
	g.AddNode(dependent)
	g.dependents[dependency] = append(g.dependents[dependency], dependent)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// TopologicalSort returns a compile order using Kahn's algorithm: every node
// appears after all of its dependencies. Nodes at the same level keep their
// insertion order. A cyclic graph yields a *CycleError.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = 0
	}
	for _, deps := range g.dependents {
		for _, d := range deps {
			inDegree[d]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, d := range g.dependents[node] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, &CycleError{Cycle: g.cycleMembers(inDegree)}
	}
	return result, nil
}

// cycleMembers narrows the nodes Kahn's algorithm could not emit down to the
// ones on a cycle. Dependents of a cycle are left over too; they are peeled
// off by repeatedly dropping nodes with no remaining dependents.
func (g *Graph) cycleMembers(inDegree map[string]int) []string {
	remaining := make(map[string]bool)
	for _, node := range g.nodes {
		if inDegree[node] > 0 {
			remaining[node] = true
		}
	}

	for {
		pruned := false
		for node := range remaining {
			hasDependent := false
			for _, d := range g.dependents[node] {
				if remaining[d] {
					hasDependent = true
					break
				}
			}
			if !hasDependent {
				delete(remaining, node)
				pruned = true
			}
		}
		if !pruned {
			break
		}
	}

	cycle := make([]string, 0, len(remaining))
	for node := range remaining {
		cycle = append(cycle, node)
	}
	slices.Sort(cycle)
	return cycle
}
