// SPDX-License-Identifier: MPL-2.0

package uroot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// findCommand lists files below one or more roots in lexical order.
//
//	find <root>... [-type f|d] [-name <pattern>]
//
// -name matches the base name with shell glob syntax.
type findCommand struct{}

type findQuery struct {
	roots    []string
	name     string
	fileType byte
}

func (c *findCommand) Name() string { return "find" }

func (c *findCommand) Run(ctx context.Context, args []string) error {
	q, err := parseFindArgs(args[1:])
	if err != nil {
		return wrapError(c.Name(), err)
	}
	hc := GetHandlerContext(ctx)

	for _, root := range q.roots {
		walkRoot := root
		if !filepath.IsAbs(walkRoot) && hc.Dir != "" {
			walkRoot = filepath.Join(hc.Dir, walkRoot)
		}
		err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !q.matches(d) {
				return nil
			}
			rel, err := filepath.Rel(walkRoot, path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(hc.Stdout, filepath.Join(root, rel))
			return err
		})
		if err != nil {
			return wrapError(c.Name(), err)
		}
	}
	return nil
}

func (q findQuery) matches(d fs.DirEntry) bool {
	switch q.fileType {
	case 'f':
		if !d.Type().IsRegular() {
			return false
		}
	case 'd':
		if !d.IsDir() {
			return false
		}
	}
	if q.name == "" {
		return true
	}
	ok, err := doublestar.Match(q.name, d.Name())
	return err == nil && ok
}

func parseFindArgs(args []string) (findQuery, error) {
	var q findQuery
	i := 0
	for ; i < len(args) && !strings.HasPrefix(args[i], "-"); i++ {
		q.roots = append(q.roots, args[i])
	}
	if len(q.roots) == 0 {
		q.roots = []string{"."}
	}

	for ; i < len(args); i++ {
		flag := args[i]
		if i+1 >= len(args) {
			return q, fmt.Errorf("missing argument to %s", flag)
		}
		i++
		value := args[i]
		switch flag {
		case "-name":
			if !doublestar.ValidatePattern(value) {
				return q, fmt.Errorf("invalid pattern %q", value)
			}
			q.name = value
		case "-type":
			if value != "f" && value != "d" {
				return q, fmt.Errorf("unsupported type %q", value)
			}
			q.fileType = value[0]
		default:
			return q, errors.New("unsupported predicate " + flag)
		}
	}
	return q, nil
}
