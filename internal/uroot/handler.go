// SPDX-License-Identifier: MPL-2.0

package uroot

import (
	"context"
	"io"

	"mvdan.cc/sh/v3/interp"
)

type (
	// HandlerContext provides the I/O and working directory of a command.
	HandlerContext struct {
		Stdin     io.Reader
		Stdout    io.Writer
		Stderr    io.Writer
		Dir       string
		LookupEnv func(string) (string, bool)
	}

	handlerContextKey struct{}
)

// WithHandlerContext stores a HandlerContext in the context. Commands run
// outside the shell interpreter, such as in tests, get their I/O this way.
func WithHandlerContext(ctx context.Context, hc *HandlerContext) context.Context {
	return context.WithValue(ctx, handlerContextKey{}, hc)
}

// GetHandlerContext returns the HandlerContext stored by WithHandlerContext,
// or the one of the running shell interpreter.
func GetHandlerContext(ctx context.Context) *HandlerContext {
	if hc, ok := ctx.Value(handlerContextKey{}).(*HandlerContext); ok {
		return hc
	}
	hc := interp.HandlerCtx(ctx)
	return &HandlerContext{
		Stdin:  hc.Stdin,
		Stdout: hc.Stdout,
		Stderr: hc.Stderr,
		Dir:    hc.Dir,
		LookupEnv: func(name string) (string, bool) {
			v := hc.Env.Get(name)
			return v.Str, v.Set
		},
	}
}
