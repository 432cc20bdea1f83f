// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/hotpatch/hotpatch/internal/project"
)

var (
	// includeRef matches one quoted module reference in an include line.
	includeRef = regexp.MustCompile(`["']\s*(:[^"']+?)\s*["']`)
	// projectRef matches project(':x'), project(":x") and project(path: ':x').
	projectRef = regexp.MustCompile(`project\s*\(\s*(?:path\s*[:=]\s*)?["']\s*(:[^"']+?)\s*["']`)
	// configuration matches the dependency configuration starting a line.
	configuration = regexp.MustCompile(`^([A-Za-z]+)\b`)
)

// ParseSettings returns the modules included by a settings file. Modules
// whose directory does not exist below root are skipped.
func ParseSettings(path, root string) ([]project.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var modules []project.Module
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	inInclude := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "include"):
			inInclude = true
		case inInclude && (strings.HasPrefix(line, "'") || strings.HasPrefix(line, `"`)):
		default:
			inInclude = false
			continue
		}
		// A trailing comma continues the include list on the next line.
		inInclude = strings.HasSuffix(line, ",") || strings.HasSuffix(line, "(")

		for _, match := range includeRef.FindAllStringSubmatch(line, -1) {
			m := project.NewModule(match[1])
			if seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			if info, err := os.Stat(filepath.Join(root, m.Path)); err != nil || !info.IsDir() {
				continue
			}
			modules = append(modules, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return modules, nil
}

// ParseBuildFile returns the project dependencies declared in the
// dependencies block of a build file. "api" dependencies are transitive;
// test configurations are ignored; every other configuration yields a
// plain edge. A project reference on its own line inherits the
// configuration of the closest preceding one.
func ParseBuildFile(path string) ([]project.Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var edges []project.Edge
	index := make(map[project.Module]int)
	depth := 0
	inBlock := false
	current := ""

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inBlock {
			if !strings.HasPrefix(strings.ReplaceAll(line, " ", ""), "dependencies{") {
				continue
			}
			inBlock, depth, current = true, 0, ""
		}

		if m := configuration.FindStringSubmatch(line); m != nil && m[1] != "project" {
			current = m[1]
		}
		for _, match := range projectRef.FindAllStringSubmatch(line, -1) {
			if isTestConfiguration(current) {
				continue
			}
			edge := project.Edge{Target: project.NewModule(match[1]), Transitive: current == "api"}
			if i, ok := index[edge.Target]; ok {
				edges[i].Transitive = edges[i].Transitive || edge.Transitive
				continue
			}
			index[edge.Target] = len(edges)
			edges = append(edges, edge)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 {
			inBlock = false
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	slices.SortFunc(edges, func(a, b project.Edge) int { return strings.Compare(a.Target.Name, b.Target.Name) })
	return edges, nil
}

func isTestConfiguration(name string) bool {
	return strings.HasPrefix(name, "test") || strings.HasPrefix(name, "androidTest")
}
