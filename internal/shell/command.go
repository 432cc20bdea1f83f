// SPDX-License-Identifier: MPL-2.0

package shell

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// CommandBuilder assembles a command line. Param appends raw text, Arg
// appends quoted words.
type CommandBuilder struct {
	parts []string
}

// NewCommand starts a command line with a quoted program path.
func NewCommand(program string) *CommandBuilder {
	return &CommandBuilder{parts: []string{Quote(program)}}
}

// Param appends raw, already shell-safe fragments. Blank ones are skipped.
func (b *CommandBuilder) Param(params ...string) *CommandBuilder {
	for _, p := range params {
		if p = strings.TrimSpace(p); p != "" {
			b.parts = append(b.parts, p)
		}
	}
	return b
}

// Arg appends words quoted for the shell. Empty ones are skipped.
func (b *CommandBuilder) Arg(args ...string) *CommandBuilder {
	for _, a := range args {
		if a != "" {
			b.parts = append(b.parts, Quote(a))
		}
	}
	return b
}

// Flag appends a flag followed by its quoted value.
func (b *CommandBuilder) Flag(flag, value string) *CommandBuilder {
	return b.Param(flag).Arg(value)
}

// String returns the command line.
func (b *CommandBuilder) String() string {
	return strings.Join(b.parts, " ")
}

// Quote returns s quoted so the shell reads it back as a single word.
func Quote(s string) string {
	if q, err := syntax.Quote(s, syntax.LangBash); err == nil {
		return q
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
