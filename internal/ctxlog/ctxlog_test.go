// SPDX-License-Identifier: MPL-2.0

package ctxlog

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestFromContext_Missing(t *testing.T) {
	t.Parallel()

	logger := FromContext(context.Background())
	if logger == nil {
		t.Fatal("FromContext() returned nil")
	}
	// Must not panic.
	logger.Info("dropped")
}

func TestFromContext_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf)
	ctx := WithLogger(context.Background(), logger)

	FromContext(ctx).Info("compiled", "round", 1)

	if !strings.Contains(buf.String(), "compiled") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "round=1") {
		t.Errorf("expected key/value in output, got %q", buf.String())
	}
}
