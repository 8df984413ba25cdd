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
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitCodes maps the exit codes a benchmark program uses on purpose to a
// human-readable cause.
type ExitCodes map[int]string

// DefaultExitCodes is the convention of the thread and OpenMP exercises.
var DefaultExitCodes = ExitCodes{
	1: "Wrong number of arguments",
	2: "Ran out of heap memory",
}

// MPIExitCodes is the convention of the MPI exercises.
var MPIExitCodes = ExitCodes{
	1: "Wrong number of arguments",
	2: "Wrong arguments: too small problem and too many processes",
	3: "Wrong arguments: problem size must be divisible by the number of processes",
}

// ExitCodeTables lists the tables selectable by name from configuration.
var ExitCodeTables = map[string]ExitCodes{
	"default": DefaultExitCodes,
	"mpi":     MPIExitCodes,
}

// Classify returns the cause for an exit code.
//
// Description:
//
//	Zero yields "". Negative codes are signal terminations (-11 is a
//	segmentation fault). Codes present in the table return their label.
//	Anything else is passed through unclassified as "exit status N".
func (t ExitCodes) Classify(code int) string {
	switch {
	case code == 0:
		return ""
	case code < 0:
		sig := syscall.Signal(-code)
		if sig == unix.SIGSEGV {
			return "Segmentation fault"
		}
		if name := unix.SignalName(sig); name != "" {
			return "Terminated by signal " + name
		}
		return fmt.Sprintf("Terminated by signal %d", -code)
	}
	if label, ok := t[code]; ok {
		return label
	}
	return fmt.Sprintf("exit status %d", code)
}

// Known reports whether the code is in the table or is a signal.
func (t ExitCodes) Known(code int) bool {
	if code < 0 {
		return true
	}
	_, ok := t[code]
	return ok
}
