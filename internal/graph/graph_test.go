// SPDX-License-Identifier: MPL-2.0

package graph

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/hotpatch/hotpatch/internal/dag"
	"github.com/hotpatch/hotpatch/internal/project"
)

var (
	app     = project.NewModule(":app")
	lib     = project.NewModule(":lib")
	core    = project.NewModule(":core")
	feature = project.NewModule(":feature")
	util    = project.NewModule(":util")
)

func api(m project.Module) project.Edge  { return project.Edge{Target: m, Transitive: true} }
func impl(m project.Module) project.Edge { return project.Edge{Target: m} }

func mustSetup(t *testing.T, declared map[project.Module][]project.Edge) *Graph {
	t.Helper()
	g := New()
	if err := g.Setup(context.Background(), declared); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return g
}

func names(modules []project.Module) []string {
	out := make([]string, 0, len(modules))
	for _, m := range modules {
		out = append(out, m.Name)
	}
	return out
}

func TestSetup_TransitiveClosure(t *testing.T) {
	t.Parallel()

	g := mustSetup(t, map[project.Module][]project.Edge{
		app:  {api(lib)},
		lib:  {impl(core)},
		core: nil,
	})

	ok, err := g.IsDependency(app, core)
	if err != nil {
		t.Fatalf("IsDependency() error = %v", err)
	}
	if !ok {
		t.Error("app should depend on core through exported lib")
	}

	children, ok := g.ChildModules(app)
	if !ok {
		t.Fatal("ChildModules(app) reported unknown module")
	}
	if got := names(children); !slices.Equal(got, []string{"core", "lib"}) {
		t.Errorf("ChildModules(app) = %v, want [core lib]", got)
	}
}

func TestSetup_PlainEdgeDoesNotLeak(t *testing.T) {
	t.Parallel()

	g := mustSetup(t, map[project.Module][]project.Edge{
		app:  {impl(lib)},
		lib:  {api(core)},
		core: {impl(util)},
		util: nil,
	})

	ok, _ := g.IsDependency(app, core)
	if ok {
		t.Error("plain edge app -> lib must not expose lib's dependencies")
	}

	children, _ := g.ChildModules(lib)
	if got := names(children); !slices.Equal(got, []string{"core", "util"}) {
		t.Errorf("ChildModules(lib) = %v, want [core util]", got)
	}
}

func TestSetup_ChainedExports(t *testing.T) {
	t.Parallel()

	g := mustSetup(t, map[project.Module][]project.Edge{
		app:  {api(lib)},
		lib:  {api(core)},
		core: {impl(util)},
		util: {impl(feature)},
	})

	children, _ := g.ChildModules(app)
	if got := names(children); !slices.Equal(got, []string{"core", "lib", "util"}) {
		t.Errorf("ChildModules(app) = %v, want [core lib util]", got)
	}
}

func TestSetup_Diamond(t *testing.T) {
	t.Parallel()

	g := mustSetup(t, map[project.Module][]project.Edge{
		app:     {api(lib), api(feature)},
		lib:     {api(core)},
		feature: {api(core)},
		core:    {impl(util)},
		util:    nil,
	})

	children, _ := g.ChildModules(app)
	if got := names(children); !slices.Equal(got, []string{"core", "feature", "lib", "util"}) {
		t.Errorf("ChildModules(app) = %v", got)
	}
}

func TestSetup_Twice(t *testing.T) {
	t.Parallel()

	g := mustSetup(t, map[project.Module][]project.Edge{app: nil})
	err := g.Setup(context.Background(), map[project.Module][]project.Edge{app: nil})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Setup() error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestSetup_AfterFailedSetup(t *testing.T) {
	t.Parallel()

	g := New()
	cyclic := map[project.Module][]project.Edge{lib: {impl(core)}, core: {impl(lib)}}
	if err := g.Setup(context.Background(), cyclic); err == nil {
		t.Fatal("Setup() with a cycle succeeded")
	}
	err := g.Setup(context.Background(), map[project.Module][]project.Edge{app: nil})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Setup() after failure error = %v, want ErrAlreadyInitialized", err)
	}
	if _, err := g.IsDependency(app, lib); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("IsDependency() error = %v, want ErrNotInitialized", err)
	}
}

func TestSetup_Cycle(t *testing.T) {
	t.Parallel()

	err := New().Setup(context.Background(), map[project.Module][]project.Edge{
		app:  {impl(lib)},
		lib:  {impl(core)},
		core: {impl(lib)},
	})
	var cycleErr *dag.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Setup() error = %v, want *dag.CycleError", err)
	}
	if !slices.Equal(cycleErr.Cycle, []string{"core", "lib"}) {
		t.Errorf("Cycle = %v, want [core lib]", cycleErr.Cycle)
	}
}

func TestSetup_UnknownExportedTarget(t *testing.T) {
	t.Parallel()

	err := New().Setup(context.Background(), map[project.Module][]project.Edge{
		app: {api(lib)},
	})
	var unknown *UnknownModuleError
	if !errors.As(err, &unknown) {
		t.Fatalf("Setup() error = %v, want *UnknownModuleError", err)
	}
	if unknown.Module != "lib" || unknown.Referrer != "app" {
		t.Errorf("UnknownModuleError = %+v", unknown)
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()

	g := New()
	if _, err := g.IsDependency(app, lib); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("IsDependency() before Setup error = %v", err)
	}

	if err := g.Setup(context.Background(), map[project.Module][]project.Edge{app: {impl(lib)}, lib: nil}); err != nil {
		t.Fatal(err)
	}

	if _, ok := g.ChildModules(core); ok {
		t.Error("ChildModules(core) should report unknown module")
	}
	if _, err := g.IsDependency(core, app); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("IsDependency(core) error = %v, want ErrUnknownModule", err)
	}
	if !g.Contains(lib) || g.Contains(core) {
		t.Error("Contains() mismatch")
	}
	if got := names(g.Modules()); !slices.Equal(got, []string{"app", "lib"}) {
		t.Errorf("Modules() = %v", got)
	}
}
