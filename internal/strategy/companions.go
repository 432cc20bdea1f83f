// SPDX-License-Identifier: MPL-2.0

package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/fingerprint"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/schedule"
	"github.com/hotpatch/hotpatch/internal/shell"
)

// HiddenSuffix is appended to companion classes while they are hidden.
const HiddenSuffix = "_TEMP"

// CompanionSuffixes name the generated classes whose presence on the
// classpath stops the processor from generating them again.
var CompanionSuffixes = []string{"_Factory", "_MembersInjector"}

// companionClasses returns the existing companion classes of the round's
// sources in their modules' classpath directories, followed by every
// companion class in the final directory.
func companionClasses(ctx context.Context, runner shell.Runner, round schedule.Round, classpath []string, finalDir string) ([]string, error) {
	var found []string
	for _, m := range round.Modules() {
		dirs := moduleClassDirs(m, classpath)
		for _, src := range round.Sources(m) {
			ref, err := project.ClassReference(src)
			if err != nil {
				return nil, err
			}
			for _, dir := range dirs {
				for _, suffix := range CompanionSuffixes {
					candidate := filepath.Join(dir, ref+suffix+".class")
					if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
						found = append(found, candidate)
					}
				}
			}
		}
	}

	if info, err := os.Stat(finalDir); err == nil && info.IsDir() {
		for _, suffix := range CompanionSuffixes {
			files, err := shell.Find(ctx, runner, finalDir, "*"+suffix+".class")
			if err != nil {
				return nil, err
			}
			found = append(found, files...)
		}
	}

	slices.Sort(found)
	return slices.Compact(found), nil
}

func moduleClassDirs(m project.Module, classpath []string) []string {
	marker := "/" + m.Path + "/"
	var dirs []string
	for _, entry := range classpath {
		slashed := filepath.ToSlash(entry)
		if !strings.Contains(slashed, marker) || strings.Contains(slashed, fingerprint.ScratchMarker) {
			continue
		}
		if info, err := os.Stat(entry); err == nil && info.IsDir() {
			dirs = append(dirs, entry)
		}
	}
	return dirs
}

// hiddenCompanions is a set of companion classes renamed out of the
// classpath. restore must run on every exit path of the generation pass.
type hiddenCompanions struct {
	runner   shell.Runner
	renamed  []string
	restored bool
}

// hideCompanions renames each path to path+HiddenSuffix. When a rename
// fails the ones already done are restored before returning the error.
func hideCompanions(ctx context.Context, runner shell.Runner, paths []string) (*hiddenCompanions, error) {
	h := &hiddenCompanions{runner: runner}
	for _, p := range paths {
		if err := shell.Rename(ctx, runner, p, p+HiddenSuffix); err != nil {
			return nil, errors.Join(fmt.Errorf("hide companion %s: %w", p, err), h.restore(ctx))
		}
		h.renamed = append(h.renamed, p)
	}
	if len(h.renamed) > 0 {
		ctxlog.FromContext(ctx).Debug("companion classes hidden", "count", len(h.renamed))
	}
	return h, nil
}

// restore renames every hidden class back. It runs even when ctx is
// already canceled and is a no-op after the first call.
func (h *hiddenCompanions) restore(ctx context.Context) error {
	if h.restored {
		return nil
	}
	h.restored = true
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, p := range h.renamed {
		if err := shell.Rename(ctx, h.runner, p+HiddenSuffix, p); err != nil {
			errs = append(errs, fmt.Errorf("restore companion %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// withHiddenCompanions runs fn while paths are hidden and restores them
// afterwards regardless of how fn returns.
func withHiddenCompanions[T any](ctx context.Context, runner shell.Runner, paths []string, fn func(context.Context) (T, error)) (result T, err error) {
	h, err := hideCompanions(ctx, runner, paths)
	if err != nil {
		return result, err
	}
	defer func() {
		if rerr := h.restore(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(ctx)
}
