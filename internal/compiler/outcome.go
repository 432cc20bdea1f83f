// SPDX-License-Identifier: MPL-2.0

// Package compiler invokes the external toolchain: kotlinc once per module of
// a round, javac for generated sources and d8 for the final dex patch.
//
// A compiler reporting errors is an expected result, returned as a failed
// Outcome carrying the diagnostics verbatim. Go errors are reserved for
// failures to run the tool at all.
package compiler

// Outcome is the result of one or more compiler invocations.
type Outcome struct {
	failed bool
	lines  []string
}

// OK is the successful Outcome.
var OK = Outcome{}

// Failure returns a failed Outcome with the given diagnostic lines.
func Failure(lines ...string) Outcome {
	return Outcome{failed: true, lines: lines}
}

// Failed reports whether the invocation failed.
func (o Outcome) Failed() bool {
	return o.failed
}

// Diagnostics returns the collected compiler output of a failure.
func (o Outcome) Diagnostics() []string {
	return o.lines
}

// Merge combines outcomes: the result fails if any input failed, and carries
// the diagnostics of every failure in order.
func Merge(outcomes ...Outcome) Outcome {
	var merged Outcome
	for _, o := range outcomes {
		if o.failed {
			merged.failed = true
			merged.lines = append(merged.lines, o.lines...)
		}
	}
	return merged
}
