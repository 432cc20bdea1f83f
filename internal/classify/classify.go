// SPDX-License-Identifier: MPL-2.0

// Package classify decides which sources take part in the dependency
// injection graph and therefore need a code-generation pass.
package classify

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMarkers are import fragments of the Dagger and JSR-330 namespaces.
var DefaultMarkers = []string{"dagger.", "javax.inject.Inject"}

const defaultCacheSize = 4096

type (
	// Classifier reports whether a source requires code generation.
	Classifier interface {
		RequiresGeneration(ctx context.Context, path string) (bool, error)
	}

	// ImportScanner classifies a source by its import lines: any import
	// containing one of the markers places it in the injection graph.
	// Results are memoized per file version, which keeps repeated runs in
	// watch mode from rescanning untouched files.
	ImportScanner struct {
		markers []string
		memo    *lru.Cache[fileVersion, bool]
	}

	fileVersion struct {
		path    string
		modTime time.Time
		size    int64
	}
)

// NewImportScanner creates a scanner. With no markers DefaultMarkers apply.
func NewImportScanner(markers ...string) (*ImportScanner, error) {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	memo, err := lru.New[fileVersion, bool](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("classification cache: %w", err)
	}
	return &ImportScanner{markers: markers, memo: memo}, nil
}

// RequiresGeneration implements Classifier.
func (s *ImportScanner) RequiresGeneration(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("classify %s: %w", path, err)
	}
	key := fileVersion{path: path, modTime: info.ModTime(), size: info.Size()}
	if v, ok := s.memo.Get(key); ok {
		return v, nil
	}

	v, err := s.scan(path)
	if err != nil {
		return false, err
	}
	s.memo.Add(key, v)
	return v, nil
}

func (s *ImportScanner) scan(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("classify %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ImportMatches(scanner.Text(), s.markers...) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("classify %s: %w", path, err)
	}
	return false, nil
}

// ImportMatches reports whether line is an import containing any marker.
func ImportMatches(line string, markers ...string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "import ") {
		return false
	}
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
