// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
)

const (
	exitOK = 0
	// exitCompileFailed is returned when the compiler rejected the sources.
	exitCompileFailed = 1
	// exitEnvironment covers usage and environment errors.
	exitEnvironment = 2
)

// ExitError signals a non-zero exit code whose cause was already reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitEnvironment
}
