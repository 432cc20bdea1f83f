// SPDX-License-Identifier: MPL-2.0

// Package shell runs command lines for the build: compiler invocations, file
// listing, renames and removals all go through a Runner.
//
// The default Runner interprets command lines with mvdan.cc/sh, so behavior
// does not depend on the host shell. find, mkdir, mv and rm are served by
// built-in implementations; everything else runs as an external process.
package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/uroot"
)

type (
	// Result is the outcome of one command line. Output interleaves standard
	// output and standard error line by line.
	Result struct {
		Output   []string
		Success  bool
		ExitCode int
	}

	// Runner executes a command line. An error is returned only when the
	// line could not be run at all; a failing command yields a Result with
	// Success false.
	Runner interface {
		Run(ctx context.Context, cmdline string) (Result, error)
	}

	// ExecMiddleware wraps the handler that executes simple commands.
	ExecMiddleware = func(next interp.ExecHandlerFunc) interp.ExecHandlerFunc

	// Interpreter is the default Runner.
	Interpreter struct {
		dir        string
		env        []string
		builtins   *uroot.Registry
		middleware []ExecMiddleware
	}

	// Option configures an Interpreter.
	Option func(*Interpreter)

	// lockedBuffer serializes writes from a process's stdout and stderr
	// copiers.
	lockedBuffer struct {
		mu  sync.Mutex
		buf bytes.Buffer
	}
)

// WithDir sets the working directory of every command.
func WithDir(dir string) Option {
	return func(i *Interpreter) { i.dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(pairs ...string) Option {
	return func(i *Interpreter) { i.env = append(i.env, pairs...) }
}

// WithExecMiddleware installs handlers in front of the built-ins. Tests use
// it to stand in for compilers.
func WithExecMiddleware(mw ...ExecMiddleware) Option {
	return func(i *Interpreter) { i.middleware = append(i.middleware, mw...) }
}

// NewInterpreter creates a Runner inheriting the process environment.
func NewInterpreter(opts ...Option) *Interpreter {
	i := &Interpreter{
		env:      os.Environ(),
		builtins: uroot.NewDefaultRegistry(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run implements Runner.
func (i *Interpreter) Run(ctx context.Context, cmdline string) (Result, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(cmdline), "")
	if err != nil {
		return Result{}, fmt.Errorf("parse command line: %w", err)
	}

	var out lockedBuffer
	handlers := append([]ExecMiddleware{}, i.middleware...)
	handlers = append(handlers, i.builtinHandler)

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(i.env...)),
		interp.StdIO(nil, &out, &out),
		interp.ExecHandlers(handlers...),
	}
	if i.dir != "" {
		opts = append(opts, interp.Dir(i.dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return Result{}, fmt.Errorf("create interpreter: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("exec", "cmd", cmdline)
	result := Result{Success: true}
	if err := runner.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if !errors.As(err, &status) {
			return Result{}, fmt.Errorf("run %q: %w", firstWord(cmdline), err)
		}
		result.Success = false
		result.ExitCode = int(status)
	}
	result.Output = out.lines()
	return result, nil
}

// builtinHandler serves registered built-ins and falls through to external
// processes for everything else. A failing built-in reports its error on
// stderr and exits with status 1.
func (i *Interpreter) builtinHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 {
			return next(ctx, args)
		}
		cmd, ok := i.builtins.Lookup(args[0])
		if !ok {
			return next(ctx, args)
		}
		if err := cmd.Run(ctx, args); err != nil {
			hc := interp.HandlerCtx(ctx)
			_, _ = fmt.Fprintln(hc.Stderr, err)
			return interp.ExitStatus(1)
		}
		return nil
	}
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func firstWord(cmdline string) string {
	if fields := strings.Fields(cmdline); len(fields) > 0 {
		return fields[0]
	}
	return cmdline
}
