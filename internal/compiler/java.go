// SPDX-License-Identifier: MPL-2.0

package compiler

import (
	"context"
	"os"
	"strings"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/shell"
)

// Java runs javac.
type Java struct {
	Runner  shell.Runner
	Path    string
	JavaXmx string
}

// Compile compiles sources with debug information into outputDir. No sources
// is a successful no-op.
func (j *Java) Compile(ctx context.Context, sources, classpath []string, outputDir string) (Outcome, error) {
	if len(sources) == 0 {
		return OK, nil
	}
	path := j.Path
	if path == "" {
		path = "javac"
	}
	cmd := shell.NewCommand(path).
		Flag("-classpath", strings.Join(classpath, string(os.PathListSeparator))).
		Param("-g").
		Flag("-d", outputDir).
		Arg(sources...)

	ctxlog.FromContext(ctx).Debug("javac started", "sources", len(sources))
	res, err := j.Runner.Run(ctx, withJavaOpts(j.JavaXmx, cmd))
	if err != nil {
		return Outcome{}, err
	}
	return fromResult(res), nil
}
