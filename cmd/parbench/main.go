// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command parbench runs benchmark sweeps of the parallel programming
// exercises and turns their results into CSV, LaTeX tables and plots.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/AleutianAI/parbench/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errAborted) {
			ux.Error(err.Error())
		}
		os.Exit(exitCode(err))
	}
}

// exitCode is 130 for an interrupted sweep, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
