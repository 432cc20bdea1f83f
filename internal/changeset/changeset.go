// SPDX-License-Identifier: MPL-2.0

// Package changeset lists the source files a developer changed in the git
// worktree: modified, added, renamed and untracked files that still exist.
package changeset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/project"
)

// ErrNotRepository is returned when the project is not inside a git
// worktree.
var ErrNotRepository = errors.New("project is not a git repository")

type (
	// ChangeSet is the worktree state relevant to a patch.
	ChangeSet struct {
		// Branch is the short name of HEAD, or the abbreviated commit hash
		// when HEAD is detached. It is empty in a repository without commits.
		Branch string
		// Supported are absolute paths of changed sources that can be
		// patched.
		Supported []string
		// Ignored are absolute paths of other changed files.
		Ignored []string
	}

	// Reader reads the change set of the worktree containing Root.
	Reader struct {
		Root string
	}
)

// Empty reports whether nothing changed at all.
func (c ChangeSet) Empty() bool {
	return len(c.Supported) == 0 && len(c.Ignored) == 0
}

// Read returns the changed files below Root. Paths outside Root, deleted
// files and files ignored by .gitignore are left out.
func (r *Reader) Read(ctx context.Context) (ChangeSet, error) {
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return ChangeSet{}, err
	}
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return ChangeSet{}, fmt.Errorf("%s: %w", root, ErrNotRepository)
	}
	if err != nil {
		return ChangeSet{}, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return ChangeSet{}, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return ChangeSet{}, fmt.Errorf("worktree status: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return ChangeSet{}, err
	}

	cs := ChangeSet{Branch: branch(repo)}
	wtRoot := wt.Filesystem.Root()
	for rel, fs := range status {
		if !changed(fs.Staging) && !changed(fs.Worktree) {
			continue
		}
		if fs.Staging == git.Deleted || fs.Worktree == git.Deleted {
			continue
		}
		path := filepath.Join(wtRoot, filepath.FromSlash(rel))
		if !within(root, path) {
			continue
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}
		if project.IsSupportedSource(path) {
			cs.Supported = append(cs.Supported, path)
		} else {
			cs.Ignored = append(cs.Ignored, path)
		}
	}
	slices.Sort(cs.Supported)
	slices.Sort(cs.Ignored)

	ctxlog.FromContext(ctx).Debug("worktree status", "branch", cs.Branch, "supported", len(cs.Supported), "ignored", len(cs.Ignored))
	return cs, nil
}

func changed(code git.StatusCode) bool {
	switch code {
	case git.Modified, git.Added, git.Renamed, git.Copied, git.Untracked, git.UpdatedButUnmerged:
		return true
	default:
		return false
	}
}

func branch(repo *git.Repository) string {
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if ref, rerr := repo.Reference(plumbing.HEAD, false); rerr == nil && ref.Type() == plumbing.SymbolicReference {
				return ref.Target().Short()
			}
		}
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return head.Hash().String()[:7]
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
