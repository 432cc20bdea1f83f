// SPDX-License-Identifier: MPL-2.0

package uroot

import (
	"context"
	"fmt"

	"github.com/u-root/u-root/pkg/core"
)

// coreCommand adapts a u-root pkg/core command.
type coreCommand struct {
	name   string
	newCmd func() core.Command
}

func newCoreCommand(name string, newCmd func() core.Command) *coreCommand {
	return &coreCommand{name: name, newCmd: newCmd}
}

// Name returns the command name.
func (c *coreCommand) Name() string {
	return c.name
}

// Run executes a fresh instance of the wrapped command.
func (c *coreCommand) Run(ctx context.Context, args []string) error {
	cmd := c.newCmd()
	configureCommand(ctx, cmd)

	var cmdArgs []string
	if len(args) > 1 {
		cmdArgs = args[1:]
	}
	return wrapError(c.name, cmd.RunContext(ctx, cmdArgs...))
}

func configureCommand(ctx context.Context, cmd core.Command) {
	hc := GetHandlerContext(ctx)
	cmd.SetIO(hc.Stdin, hc.Stdout, hc.Stderr)
	cmd.SetWorkingDir(hc.Dir)
	cmd.SetLookupEnv(hc.LookupEnv)
}

// wrapError prefixes err with "[uroot] <cmd>:". A nil err stays nil.
func wrapError(cmdName string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[uroot] %s: %w", cmdName, err)
}
