// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrEmptyPath is returned when a Request has no executable.
	ErrEmptyPath = errors.New("executable path is required")

	// ErrEnvMismatch is returned when an env override does not read back.
	ErrEnvMismatch = errors.New("environment override not applied")

	// ErrBuildFailed is wrapped by the CommandError returned from a failed build.
	ErrBuildFailed = errors.New("build failed")
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a command failure with its exit code and stderr.
//
// # Description
//
// Used for the build tool, where a non-zero exit is fatal. Benchmark trials
// never produce a CommandError: their exit code is data.
//
// # Thread Safety
//
// CommandError is immutable after creation and safe for concurrent reads.
//
// # Example
//
//	err := NewCommandError("make -C src", 2, "main.c:3: error", ErrBuildFailed)
//	fmt.Println(err.Error()) // "make -C src (exit 2): main.c:3: error"
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.ExitCode) // 2
//	}
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// NewCommandError creates a CommandError with trimmed stderr.
func NewCommandError(command string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  command,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// Error returns "<command> (exit N): <stderr or wrapped>".
func (e *CommandError) Error() string {
	if e.HasStderr() {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, lastLines(e.Stderr, 5))
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap enables errors.Is and errors.As through the chain.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// lastLines keeps compiler output readable in a one-line error.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return "...\n" + strings.Join(lines[len(lines)-n:], "\n")
}
