// SPDX-License-Identifier: MPL-2.0

// Package fingerprint decides whether a code-generation pass is needed for a
// round. It compares the injection snapshot of each source's previous class
// file with the one just compiled: generation only matters when the shape of
// injectable members changed, not when method bodies did.
package fingerprint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/project"
	"github.com/hotpatch/hotpatch/internal/schedule"
)

// ScratchMarker identifies generator scratch directories on the classpath.
const ScratchMarker = "/tmp/kapt3/"

// Checker locates class files before and after a compilation.
type Checker struct {
	// FinalDir holds classes of previous patches.
	FinalDir string
	// IntermediateDir receives the classes of the current run.
	IntermediateDir string
	// Classpath is the project classpath, searched for a "before" class
	// when FinalDir has none.
	Classpath []string
}

// GenerationRequired reports whether any source of the round changed the
// injection snapshot of its class. A missing or unreadable class on either
// side counts as a change.
func (c *Checker) GenerationRequired(ctx context.Context, round schedule.Round) (bool, error) {
	logger := ctxlog.FromContext(ctx)
	modules := round.Modules()

	for _, src := range round.AllSources() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ref, err := project.ClassReference(src)
		if err != nil {
			return false, err
		}

		before, beforeOK := c.Before(ref, modules)
		after := filepath.Join(c.IntermediateDir, ref+".class")

		beforeHash, beforeErr := snapshotHash(before, beforeOK)
		afterHash, afterErr := snapshotHash(after, true)
		if beforeErr != nil || afterErr != nil {
			logger.Warn("injection snapshot unavailable", "class", ref, "err", errors.Join(beforeErr, afterErr))
			return true, nil
		}

		logger.Debug("injection snapshot", "class", ref, "before", beforeHash, "after", afterHash)
		if changed(beforeHash, afterHash) {
			logger.Info("injection shape changed", "class", ref)
			return true, nil
		}
	}
	return false, nil
}

// Before returns the previous class file for ref: the final directory first,
// then the first classpath directory of one of the round's modules that is
// not a hotpatch or generator scratch directory.
func (c *Checker) Before(ref string, modules []project.Module) (string, bool) {
	path := filepath.Join(c.FinalDir, ref+".class")
	if fileExists(path) {
		return path, true
	}

	for _, entry := range c.Classpath {
		slashed := filepath.ToSlash(entry)
		if c.isOwnBuildDir(entry) || strings.Contains(slashed, ScratchMarker) {
			continue
		}
		if !belongsToAny(slashed, modules) {
			continue
		}
		candidate := filepath.Join(entry, ref+".class")
		if fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (c *Checker) isOwnBuildDir(entry string) bool {
	for _, dir := range []string{c.FinalDir, c.IntermediateDir} {
		if dir != "" && strings.Contains(entry, filepath.Clean(dir)) {
			return true
		}
	}
	return false
}

func belongsToAny(entry string, modules []project.Module) bool {
	for _, m := range modules {
		if strings.Contains(entry, "/"+m.Path+"/") || strings.HasPrefix(entry, m.Path+"/") {
			return true
		}
	}
	return false
}

// changed treats a class missing on one side only as a change. A source
// compiled to differently named classes is absent on both sides.
func changed(before, after *uint64) bool {
	if before == nil || after == nil {
		return (before == nil) != (after == nil)
	}
	return *before != *after
}

// snapshotHash returns nil without error for an absent class.
func snapshotHash(path string, present bool) (*uint64, error) {
	if !present {
		return nil, nil
	}
	snap, err := SnapshotFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap.Hash, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
