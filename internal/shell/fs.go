// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CommandError reports a helper command that exited unsuccessfully.
type CommandError struct {
	Command string
	Output  []string
}

func (e *CommandError) Error() string {
	if len(e.Output) == 0 {
		return fmt.Sprintf("command failed: %s", e.Command)
	}
	return fmt.Sprintf("command failed: %s: %s", e.Command, strings.Join(e.Output, "; "))
}

// Find lists regular files below root whose base name matches pattern.
func Find(ctx context.Context, r Runner, root, pattern string) ([]string, error) {
	cmd := NewCommand("find").Arg(root).Param("-type", "f").Flag("-name", pattern)
	return check(ctx, r, cmd)
}

// Rename moves from to to.
func Rename(ctx context.Context, r Runner, from, to string) error {
	_, err := check(ctx, r, NewCommand("mv").Arg(from, to))
	return err
}

// Remove deletes files. Missing files are ignored.
func Remove(ctx context.Context, r Runner, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := check(ctx, r, NewCommand("rm").Param("-f").Arg(paths...))
	return err
}

// RemoveAll deletes directory trees. Missing trees are ignored.
func RemoveAll(ctx context.Context, r Runner, dirs ...string) error {
	if len(dirs) == 0 {
		return nil
	}
	_, err := check(ctx, r, NewCommand("rm").Param("-rf").Arg(dirs...))
	return err
}

// CopyInto copies the entries of dir src into dir dst, merging with
// directories already present there and overwriting files. A missing src
// copies nothing. Both paths must be absolute.
func CopyInto(ctx context.Context, r Runner, src, dst string) error {
	if !filepath.IsAbs(src) || !filepath.IsAbs(dst) {
		return fmt.Errorf("copy %s into %s: paths must be absolute", src, dst)
	}
	entries, err := os.ReadDir(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := MkdirAll(ctx, r, dst); err != nil {
		return err
	}
	// One call per entry: cp only reports the error of its last source.
	for _, e := range entries {
		if _, err := check(ctx, r, NewCommand("cp").Param("-r").Arg(filepath.Join(src, e.Name()), dst)); err != nil {
			return err
		}
	}
	return nil
}

// MkdirAll creates directories with their parents.
func MkdirAll(ctx context.Context, r Runner, dirs ...string) error {
	if len(dirs) == 0 {
		return nil
	}
	_, err := check(ctx, r, NewCommand("mkdir").Param("-p").Arg(dirs...))
	return err
}

func check(ctx context.Context, r Runner, cmd *CommandBuilder) ([]string, error) {
	line := cmd.String()
	res, err := r.Run(ctx, line)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &CommandError{Command: line, Output: res.Output}
	}
	return res.Output, nil
}
