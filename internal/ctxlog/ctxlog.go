// SPDX-License-Identifier: MPL-2.0

// Package ctxlog carries a charmbracelet/log Logger through context.Context so
// that every stage of a build run logs with the same sink and level.
package ctxlog

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

type loggerKey struct{}

// discard is returned when no logger was attached. Components can always log
// without nil checks, and tests stay quiet unless they opt in.
var discard = log.New(io.Discard)

// WithLogger returns a copy of ctx that carries logger.
func WithLogger(ctx context.Context, logger *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a logger that discards
// everything if none was attached.
func FromContext(ctx context.Context) *log.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*log.Logger); ok && logger != nil {
		return logger
	}
	return discard
}
