// SPDX-License-Identifier: MPL-2.0

// Package watch re-runs a build when Kotlin sources change.
//
// It monitors the project tree and invokes a callback after a debounce
// period. Events within the debounce window are coalesced so the callback
// fires once with the full set of changed paths.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
)

// DefaultDebounce is the quiet period after the last event before a rebuild.
// Editors and Gradle sync write in bursts.
const DefaultDebounce = 500 * time.Millisecond

var (
	// DefaultPatterns select Kotlin sources.
	DefaultPatterns = []string{"**/*.kt"}

	defaultIgnores = []string{
		"**/.git/**",
		"**/.gradle/**",
		"**/.idea/**",
		"**/build/**",
		"**/src/test/**",
		"**/src/androidTest/**",
		"**/*.swp",
		"**/*~",
		"**/.DS_Store",
	}

	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid watch configuration")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("watcher already running")
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Root is the project directory. Patterns are matched against paths
		// relative to it.
		Root string

		// Patterns select the files that trigger a rebuild. Empty means
		// DefaultPatterns.
		Patterns []string

		// Ignore lists extra patterns that never trigger a rebuild, such as
		// the hotpatch build directory. They extend the built-in ignores.
		Ignore []string

		// Debounce falls back to DefaultDebounce when not positive.
		Debounce time.Duration

		// OnChange receives the sorted, deduplicated changed paths relative
		// to Root. Calls never overlap.
		OnChange func(ctx context.Context, changed []string) error
	}

	// InvalidConfigError lists every invalid field of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Watcher monitors the project tree. Run must be called once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		patterns []string
		ignores  []string
		debounce time.Duration
		root     string
		started  atomic.Bool
	}
)

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid watch configuration: %s", strings.Join(msgs, "; "))
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks every pattern and the root directory.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" && c.Root != "" {
		errs = append(errs, errors.New("root is blank"))
	}
	for label, patterns := range map[string][]string{"watch": c.Patterns, "ignore": c.Ignore} {
		for _, pat := range patterns {
			if pat == "" {
				errs = append(errs, fmt.Errorf("empty %s pattern", label))
				continue
			}
			if !doublestar.ValidatePattern(pat) {
				errs = append(errs, fmt.Errorf("%s pattern %q: %w", label, pat, doublestar.ErrBadPattern))
			}
		}
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// New creates a Watcher and registers every non-ignored directory below
// Root.
func New(ctx context.Context, cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		patterns: patterns,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		debounce: debounce,
		root:     abs,
	}
	if err := w.addDirectories(ctx); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is canceled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when the watcher breaks. A change
// arriving while a callback runs is delivered after it returns.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	logger := ctxlog.FromContext(ctx)

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			logger.Debug("build still running, postponing rebuild")
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}

		logger.Debug("sources changed", "paths", changed)
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			logger.Error("rebuild failed", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			logger.Warn("close file watcher", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("file watcher event channel closed")
			}
			rel, err := filepath.Rel(w.root, evt.Name)
			if err != nil || w.isIgnored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(ctx, evt.Name)
			}
			if !w.matches(rel) || evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}

			mu.Lock()
			pending[filepath.ToSlash(rel)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("file watcher error channel closed")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("file watcher: %w", err)
			}
			logger.Warn("file watcher", "err", err)
		}
	}
}

func (w *Watcher) addDirectories(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	count := 0
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Debug("skipping unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(w.root, path); relErr == nil && rel != "." && w.isIgnoredDir(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debug("watching project", "root", w.root, "directories", count)
	return nil
}

// maybeAddDir extends the watch to directories created after startup.
func (w *Watcher) maybeAddDir(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || w.isIgnoredDir(rel) {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		ctxlog.FromContext(ctx).Warn("watch new directory", "path", path, "err", err)
	}
}

func (w *Watcher) isIgnoredDir(rel string) bool {
	return w.isIgnored(rel) || w.isIgnored(rel+"/")
}

func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, normalized); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}
