// SPDX-License-Identifier: MPL-2.0

package uroot

import "context"

// Command is a built-in utility invoked by the shell runner.
type Command interface {
	// Name returns the command name (e.g., "mv", "find").
	Name() string

	// Run executes the command. args[0] is the command name and args[1:]
	// are the arguments. The context carries the HandlerContext.
	Run(ctx context.Context, args []string) error
}
