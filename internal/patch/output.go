// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hotpatch/hotpatch/internal/fingerprint"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/shell"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

// resetIntermediate empties the intermediate directory.
func resetIntermediate(ctx context.Context, r shell.Runner, l Layout) error {
	if err := shell.RemoveAll(ctx, r, l.Intermediate); err != nil {
		return err
	}
	return shell.MkdirAll(ctx, r, l.Intermediate)
}

// discardOutput drops every class of previous patches together with the
// fingerprint table, so the next run starts from scratch.
func discardOutput(ctx context.Context, r shell.Runner, l Layout) error {
	if err := resetIntermediate(ctx, r, l); err != nil {
		return err
	}
	return shell.RemoveAll(ctx, r, l.Final)
}

// classFiles lists every class below dir; a missing dir has none.
func classFiles(ctx context.Context, r shell.Runner, dir string) ([]string, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return shell.Find(ctx, r, dir, "*.class")
}

// signClasses stamps fingerprint.SignatureField into every class below dir
// and returns how many classes it changed.
func signClasses(ctx context.Context, r shell.Runner, pool *workerpool.Pool, dir string) (int, error) {
	paths, err := classFiles(ctx, r, dir)
	if err != nil {
		return 0, err
	}
	tasks := make([]workerpool.Task[bool], 0, len(paths))
	for _, path := range paths {
		tasks = append(tasks, func(context.Context) (bool, error) {
			return signClass(path)
		})
	}
	signed, err := workerpool.Run(ctx, pool, tasks)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ok := range signed {
		if ok {
			count++
		}
	}
	return count, nil
}

func signClass(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("sign %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("sign %s: %w", path, err)
	}
	out, changed, err := fingerprint.Sign(data)
	if err != nil {
		return false, fmt.Errorf("sign %s: %w", path, err)
	}
	if !changed {
		return false, nil
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("sign %s: %w", path, err)
	}
	return true, nil
}

// removeStaleClasses deletes the classes compiled from removed sources,
// including their inner and anonymous classes ("Name$Inner.class"). It
// returns the deleted paths.
func removeStaleClasses(ctx context.Context, r shell.Runner, final string, removed []string) ([]string, error) {
	if len(removed) == 0 {
		return nil, nil
	}
	prefixes := make([]string, 0, len(removed))
	for _, src := range removed {
		ref, err := project.ClassReference(src)
		if err != nil {
			continue
		}
		prefixes = append(prefixes, filepath.ToSlash(filepath.Join(final, filepath.FromSlash(ref))))
	}

	all, err := classFiles(ctx, r, final)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, path := range all {
		p := filepath.ToSlash(path)
		for _, prefix := range prefixes {
			if p == prefix+".class" || strings.HasPrefix(p, prefix+"$") {
				stale = append(stale, path)
				break
			}
		}
	}
	if err := shell.Remove(ctx, r, stale...); err != nil {
		return nil, err
	}
	return stale, nil
}
