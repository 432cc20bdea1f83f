// SPDX-License-Identifier: MPL-2.0

package uroot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/u-root/u-root/pkg/core"
	"github.com/u-root/u-root/pkg/core/cp"
	"github.com/u-root/u-root/pkg/core/mkdir"
	"github.com/u-root/u-root/pkg/core/mv"
	"github.com/u-root/u-root/pkg/core/rm"
)

// Registry maps command names to built-in implementations. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// NewDefaultRegistry returns a registry holding the file commands the build
// issues: cp, find, mkdir, mv and rm.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(newCoreCommand("cp", cp.New))
	r.Register(&findCommand{})
	r.Register(newCoreCommand("mkdir", func() core.Command { return mkdir.New() }))
	r.Register(newCoreCommand("mv", func() core.Command { return mv.New() }))
	r.Register(newCoreCommand("rm", func() core.Command { return rm.New() }))
	return r
}

// Register adds a command. It panics on an empty or duplicate name.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := cmd.Name()
	if name == "" {
		panic("uroot: cannot register command with empty name")
	}
	if _, exists := r.commands[name]; exists {
		panic(fmt.Sprintf("uroot: command %q already registered", name))
	}
	r.commands[name] = cmd
}

// Lookup retrieves a command by name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a command by name. args[0] must be the command name.
func (r *Registry) Run(ctx context.Context, name string, args []string) error {
	cmd, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("[uroot] %s: command not found", name)
	}
	return cmd.Run(ctx, args)
}
