// SPDX-License-Identifier: MPL-2.0

// Package diffcache narrows a list of changed sources down to the sources
// that really need compiling, and detects sources removed since the last run.
//
// The only state is a fingerprint table kept in the final build directory.
// Fingerprints are 64-bit xxhash digests of file content; a collision would
// skip a changed source, which is accepted for a local development cache.
// Losing the table degrades to compiling every changed source.
package diffcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/workerpool"
)

// ErrSourceMissing is the sentinel wrapped by SourceMissingError.
var ErrSourceMissing = errors.New("source file does not exist")

type (
	// SourceMissingError names a changed source that vanished before it
	// could be fingerprinted.
	SourceMissingError struct {
		Path string
	}

	// Result lists sources to compile and to remove, both sorted.
	Result struct {
		Compile []string
		Remove  []string
	}

	// Cache compares changed sources against the table of the previous run.
	Cache struct {
		root     string
		tableDir string
		pool     *workerpool.Pool
		// previous is the table replaced by the last Run, nil before it.
		previous Table
	}
)

func (e *SourceMissingError) Error() string {
	return fmt.Sprintf("source file does not exist: %s", e.Path)
}

func (e *SourceMissingError) Unwrap() error { return ErrSourceMissing }

// Empty reports whether there is nothing to compile or remove.
func (r Result) Empty() bool {
	return len(r.Compile) == 0 && len(r.Remove) == 0
}

// New creates a cache. Source paths passed to Run are resolved against root;
// the table lives in tableDir.
func New(root, tableDir string, pool *workerpool.Pool) *Cache {
	return &Cache{root: root, tableDir: tableDir, pool: pool}
}

// Run fingerprints changed concurrently, diffs the result against the stored
// table and persists the new table before returning. Callers that fail
// before acting on the result call Rollback. A source present now
// with a new fingerprint is compiled; a source only present in the stored
// table is removed.
func (c *Cache) Run(ctx context.Context, changed []string) (Result, error) {
	logger := ctxlog.FromContext(ctx)

	previous, err := ReadTable(c.tableDir)
	if errors.Is(err, ErrCorruptTable) {
		logger.Warn("discarding fingerprint table", "err", err)
		previous = Table{}
	} else if err != nil {
		return Result{}, err
	}

	current, err := c.fingerprintAll(ctx, changed)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for path, fp := range current {
		if old, ok := previous[path]; !ok || old != fp {
			result.Compile = append(result.Compile, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			result.Remove = append(result.Remove, path)
		}
	}
	slices.Sort(result.Compile)
	slices.Sort(result.Remove)

	for _, path := range result.Compile {
		logger.Debug("fingerprint changed", "path", path, "before", previous[path], "after", current[path])
	}
	for _, path := range result.Remove {
		logger.Debug("source removed", "path", path)
	}

	if err := WriteTable(c.tableDir, current); err != nil {
		return Result{}, err
	}
	c.previous = previous
	return result, nil
}

// Rollback puts back the table replaced by the last Run, so a run that
// failed after the diff reports the same sources again next time. It does
// nothing when Run has not persisted a table.
func (c *Cache) Rollback() error {
	if c.previous == nil {
		return nil
	}
	defer func() { c.previous = nil }()
	if len(c.previous) == 0 {
		err := os.Remove(filepath.Join(c.tableDir, TableFile))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("roll back fingerprint table: %w", err)
		}
		return nil
	}
	if err := WriteTable(c.tableDir, c.previous); err != nil {
		return fmt.Errorf("roll back fingerprint table: %w", err)
	}
	return nil
}

func (c *Cache) fingerprintAll(ctx context.Context, paths []string) (Table, error) {
	unique := slices.Clone(paths)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	tasks := make([]workerpool.Task[uint64], 0, len(unique))
	for _, p := range unique {
		tasks = append(tasks, func(context.Context) (uint64, error) {
			return Fingerprint(c.resolve(p), p)
		})
	}
	values, err := workerpool.Run(ctx, c.pool, tasks)
	if err != nil {
		return nil, err
	}

	table := make(Table, len(unique))
	for i, p := range unique {
		table[p] = values[i]
	}
	return table, nil
}

func (c *Cache) resolve(path string) string {
	if filepath.IsAbs(path) || c.root == "" {
		return path
	}
	return filepath.Join(c.root, path)
}

// Fingerprint returns the xxhash64 digest of the file at path. name is the
// path reported in a SourceMissingError.
func Fingerprint(path, name string) (uint64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, &SourceMissingError{Path: name}
	}
	if err != nil {
		return 0, fmt.Errorf("fingerprint %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("fingerprint %s: %w", name, err)
	}
	return h.Sum64(), nil
}
