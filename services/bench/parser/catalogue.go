// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parser

// Catalogue maps pattern names to the lines printed by the coursework
// programs. Specs may use these names in place of a regular expression.
var Catalogue = map[string]string{
	"elapsed":         `Elapsed time:\s*([\d.]+)`,
	"elapsed-seconds": `Elapsed time = ([\d.]+) seconds`,
	"execution":       `Execution time: (\d+\.\d+)s`,
	"time":            `(?m)^Time:\s*([\d.]+)`,
	"mpi-exec":        `Parallel matrix-vector multiplication execution time:\s*([\d.]+)`,
	"mpi-share":       `Parallel matrix-vector multiplication data sharing time:\s*([\d.]+)`,
	"mpi-sequential":  `Sequential matrix-vector multiplication time:\s*([\d.]+)`,
}

// CheckCatalogue holds the self-check pairs printed by the coursework
// programs, keyed by check name.
var CheckCatalogue = map[string]CheckSpec{
	"common-variable": {
		Name:     "common-variable",
		Expected: `Expected value of common variable:\s*(-?\d+)`,
		Actual:   `Actual value of common variable:\s*(-?\d+)`,
	},
	"table-sum": {
		Name:     "table-sum",
		Expected: `Expected value of sum of common table elements:\s*(-?\d+)`,
		Actual:   `Actual value of sum of common table elements:\s*(-?\d+)`,
	},
	"table-elements": {
		Name:     "table-elements",
		Expected: `Expected value of common table element:\s*(-?\d+)`,
		Actual:   `Actual value element\[\d+\]:\s*(-?\d+)`,
	},
}
