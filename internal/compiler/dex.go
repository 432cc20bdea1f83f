// SPDX-License-Identifier: MPL-2.0

package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/Masterminds/semver/v3"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/shell"
)

// ErrNoBuildTools is returned when the SDK has no usable build-tools.
var ErrNoBuildTools = errors.New("no Android build-tools installed")

// Dexer converts class files to a dex patch with d8 from the newest
// installed build-tools.
type Dexer struct {
	Runner shell.Runner
	// SDK is the Android SDK root.
	SDK string
}

// D8Path returns the d8 executable of the newest build-tools version.
// Versions are ordered semantically; directories that are not versions
// sort before all versions, by name.
func (d *Dexer) D8Path() (string, error) {
	root := filepath.Join(d.SDK, "build-tools")
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoBuildTools, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w at %s", ErrNoBuildTools, root)
	}
	slices.SortFunc(names, compareVersions)
	newest := names[len(names)-1]

	d8 := filepath.Join(root, newest, "d8")
	if _, err := os.Stat(d8); err != nil {
		return "", fmt.Errorf("d8 not found in build-tools %s: %w", newest, err)
	}
	return d8, nil
}

// Dex writes classes.dex for classFiles into outputDir.
func (d *Dexer) Dex(ctx context.Context, classFiles []string, outputDir string) (Outcome, error) {
	d8, err := d.D8Path()
	if err != nil {
		return Outcome{}, err
	}
	ctxlog.FromContext(ctx).Debug("d8 started", "tool", d8, "classes", len(classFiles))

	cmd := shell.NewCommand(d8).Arg(classFiles...).Flag("--output", outputDir)
	res, err := d.Runner.Run(ctx, cmd.String())
	if err != nil {
		return Outcome{}, err
	}
	return fromResult(res), nil
}

func compareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	default:
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	}
}
