// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exercise

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/parser"
	"github.com/AleutianAI/parbench/services/bench/sink"
)

// Catalogue is a validated set of exercises addressable by name.
//
// Thread Safety: Immutable after NewCatalogue; safe for concurrent use.
type Catalogue struct {
	list   []Exercise
	byName map[string]int
}

// NewCatalogue validates every exercise and the references between them.
//
// # Description
//
// Names must be unique and every baseline_from must name another exercise
// of the catalogue. All problems are reported together.
func NewCatalogue(list []Exercise) (*Catalogue, error) {
	c := &Catalogue{list: slices.Clone(list), byName: make(map[string]int, len(list))}
	var errs []error
	for i := range c.list {
		e := &c.list[i]
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
		}
		if _, dup := c.byName[e.Name]; dup {
			errs = append(errs, fmt.Errorf("%w %q: duplicate name", ErrInvalidExercise, e.Name))
			continue
		}
		c.byName[e.Name] = i
	}
	for i := range c.list {
		e := &c.list[i]
		if e.BaselineFrom == nil {
			continue
		}
		if _, ok := c.byName[e.BaselineFrom.Exercise]; !ok {
			errs = append(errs, fmt.Errorf("%w %q: baseline_from: %w: %s",
				ErrInvalidExercise, e.Name, ErrUnknownExercise, e.BaselineFrom.Exercise))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Get returns the exercise called name.
func (c *Catalogue) Get(name string) (*Exercise, error) {
	i, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExercise, name)
	}
	return &c.list[i], nil
}

// Names returns the exercise names in declaration order.
func (c *Catalogue) Names() []string {
	out := make([]string, len(c.list))
	for i, e := range c.list {
		out[i] = e.Name
	}
	return out
}

// Exercises returns a copy of the exercises in declaration order.
func (c *Catalogue) Exercises() []Exercise {
	return slices.Clone(c.list)
}

// BaselineRows loads the aggregated rows of the exercise e takes its
// baseline from. It returns nil when e has no BaselineFrom, and an error
// wrapping sink.ErrMissingFile when that exercise has not been swept yet.
func (c *Catalogue) BaselineRows(e *Exercise, root string) ([]datatypes.Row, error) {
	if e.BaselineFrom == nil {
		return nil, nil
	}
	other, err := c.Get(e.BaselineFrom.Exercise)
	if err != nil {
		return nil, err
	}
	rows, err := sink.ReadRows(other.AggregatedPath(root))
	if err != nil {
		return nil, fmt.Errorf("baseline of %s: %w", e.Name, err)
	}
	return rows, nil
}

// -----------------------------------------------------------------------------
// Built-in exercises
// -----------------------------------------------------------------------------

func axis(name string, vs ...string) AxisSpec {
	return AxisSpec{Name: name, Values: vs}
}

func geometric(name string, start, factor int64, count int) AxisSpec {
	return AxisSpec{Name: name, Range: &RangeSpec{Start: start, Factor: factor, Count: count}}
}

func counterExercise(name, dir, description string) Exercise {
	return Exercise{
		Name:        name,
		Description: description,
		Dir:         dir,
		Build:       &BuildSpec{Dir: dir},
		Command:     "./app",
		Args:        []string{"{{.threads}}", "{{.iterations}}"},
		Axes: []AxisSpec{
			geometric("iterations", 10, 10, 6),
			axis("threads", "1", "2", "4", "8", "16", "32"),
		},
		WorkerAxis:  "threads",
		Repetitions: 10,
		Patterns: parser.Spec{
			Time:   "elapsed",
			Checks: []parser.CheckSpec{{Name: "common-variable"}},
		},
		Tables: []TableSpec{{
			RowAxis:    "iterations",
			RowLabel:   "Iterations",
			ColumnAxis: "threads",
			PowerOfTen: true,
		}},
		Plots: []PlotSpec{{
			Name:   "times",
			X:      "threads",
			Series: "iterations",
			Title:  description,
			XLabel: "Threads",
			YLabel: "Time (s)",
			LogX:   true,
		}},
	}
}

// Builtin returns the coursework exercises. Directories are relative to
// the working directory of parbench, normally the course repository root.
func Builtin() []Exercise {
	return []Exercise{
		{
			Name:        "pi",
			Description: "Monte Carlo estimation of pi",
			Dir:         "exercise_1/ex1",
			Build:       &BuildSpec{Dir: "exercise_1/ex1"},
			Command:     "./app",
			Args:        []string{"{{.throws}}", "{{.threads}}"},
			Axes: []AxisSpec{
				geometric("throws", 1000000, 10, 3),
				axis("threads", "1", "2", "4", "8"),
			},
			WorkerAxis:  "threads",
			Repetitions: 10,
			Patterns:    parser.Spec{Time: "time"},
			Tables: []TableSpec{{
				RowAxis:    "throws",
				RowLabel:   "Throws",
				ColumnAxis: "threads",
				PowerOfTen: true,
			}},
		},
		counterExercise("counter-mutex", "exercise_1/ex2/mutex_lock", "Shared counter, mutex"),
		counterExercise("counter-atomic", "exercise_1/ex2/atomic_operations", "Shared counter, atomic operations"),
		{
			Name:        "false-sharing",
			Description: "Per-thread table slots padded to the cache line",
			Dir:         "exercise_1/ex3/solution_2",
			Build:       &BuildSpec{Dir: "exercise_1/ex3/solution_2"},
			Command:     "./app",
			Args:        []string{"{{.threads}}", "{{.iterations}}", "{{.cacheline}}"},
			Axes: []AxisSpec{
				geometric("iterations", 10, 10, 6),
				axis("threads", "1", "2", "4", "8", "16", "32"),
				axis("cacheline", "64"),
			},
			WorkerAxis:  "threads",
			Repetitions: 10,
			Patterns: parser.Spec{
				Time: "elapsed",
				Checks: []parser.CheckSpec{
					{Name: "table-sum"},
					{Name: "table-elements"},
				},
			},
			Tables: []TableSpec{{
				RowAxis:    "iterations",
				RowLabel:   "Iterations",
				ColumnAxis: "threads",
				PowerOfTen: true,
			}},
		},
		{
			Name:        "backsub",
			Description: "Back substitution with OpenMP loop scheduling",
			Dir:         "assignment_2/ex2",
			Build:       &BuildSpec{Dir: "assignment_2/ex2"},
			Command:     "./build/app",
			Args:        []string{"{{.threads}}", "{{.iterations}}", "{{.method}}"},
			Env: map[string]string{
				"OMP_SCHEDULE": `{{.schedule}}{{if ne .chunk "default"}},{{if eq .chunk "maxchunk"}}{{div .iterations .threads}}{{else}}{{.chunk}}{{end}}{{end}}`,
			},
			Axes: []AxisSpec{
				axis("method", "rows", "columns"),
				axis("schedule", "static", "dynamic", "guided"),
				axis("chunk", "default", "1", "maxchunk"),
				geometric("iterations", 2500, 2, 5),
				axis("threads", "1", "2", "3", "4", "8"),
			},
			WorkerAxis:  "threads",
			Repetitions: 10,
			Patterns:    parser.Spec{Time: "elapsed"},
			Tables: []TableSpec{{
				RowAxis:    "iterations",
				RowLabel:   "Iterations",
				ColumnAxis: "threads",
				GroupAxis:  "schedule",
				SplitBy:    []string{"method", "chunk"},
			}},
		},
		{
			Name:        "life-openmp",
			Description: "Game of life, OpenMP",
			Dir:         "assignment_2/ex1",
			Build:       &BuildSpec{Dir: "assignment_2/ex1"},
			Command:     "bin/main",
			Args:        []string{"{{.generations}}", "{{.grid}}", "{{.mode}}", "{{.threads}}"},
			Axes: []AxisSpec{
				axis("generations", "1000"),
				axis("grid", "64", "1024", "4096"),
				axis("mode", "0", "1"),
				axis("threads", "1", "2", "4", "8", "16"),
			},
			WorkerAxis:  "threads",
			Repetitions: 10,
			Patterns:    parser.Spec{Time: "execution"},
			Baseline:    map[string]string{"mode": "0", "threads": "1"},
			Results:     ResultsSpec{Raw: true},
			Tables: []TableSpec{{
				RowAxis:    "grid",
				RowLabel:   "Grid",
				ColumnAxis: "threads",
				SplitBy:    []string{"mode"},
			}},
			Plots: []PlotSpec{{
				Name:   "times",
				X:      "threads",
				Series: "mode",
				Per:    []string{"grid"},
				Title:  "Game of life",
				XLabel: "Threads",
				YLabel: "Time (s)",
			}},
		},
		{
			Name:        "life-mpi",
			Description: "Game of life, MPI",
			Dir:         "assignment_3/ex1",
			Build:       &BuildSpec{Dir: "assignment_3/ex1"},
			Launcher:    []string{"mpiexec", "-f", "machines", "-n", "{{.processes}}"},
			Command:     "bin/main",
			Args:        []string{"{{.generations}}", "{{.grid}}"},
			Axes: []AxisSpec{
				axis("generations", "1000"),
				axis("grid", "128", "1024", "8192"),
				axis("processes", "1", "4", "16", "64", "128"),
			},
			WorkerAxis:   "processes",
			Repetitions:  10,
			Timeout:      30 * time.Minute,
			Patterns:     parser.Spec{Time: "execution"},
			ExitCodes:    "mpi",
			FailOnStderr: true,
			Results:      ResultsSpec{Raw: true},
			Tables: []TableSpec{{
				RowAxis:    "grid",
				RowLabel:   "Grid",
				ColumnAxis: "processes",
			}},
			Plots: []PlotSpec{{
				Name:   "times",
				X:      "processes",
				Per:    []string{"grid"},
				Title:  "Game of life, MPI",
				XLabel: "Processes",
				YLabel: "Time (s)",
				LogX:   true,
			}},
		},
		{
			Name:        "matvec-sequential",
			Description: "Matrix-vector multiplication, sequential reference",
			Dir:         "assignment_3/ex2/source/sequential",
			Build:       &BuildSpec{Dir: "assignment_3/ex2/source/sequential"},
			Command:     "build/app",
			Args:        []string{"{{.size}}"},
			Axes: []AxisSpec{
				axis("size", "8192", "16384", "32768"),
			},
			Repetitions: 10,
			Patterns:    parser.Spec{Time: "mpi-sequential"},
		},
		{
			Name:        "matvec-mpi",
			Description: "Matrix-vector multiplication, MPI",
			Dir:         "assignment_3/ex2/scripts",
			Build:       &BuildSpec{Dir: "assignment_3/ex2/source/parallel"},
			Launcher:    []string{"mpiexec", "-n", "{{.processes}}"},
			Command:     "../source/parallel/build/app",
			Args:        []string{"{{.size}}"},
			Axes: []AxisSpec{
				axis("size", "8192", "16384", "32768"),
				axis("processes", "1", "4", "8"),
			},
			WorkerAxis:   "processes",
			Repetitions:  10,
			Patterns:     parser.Spec{Time: "mpi-exec", Secondary: "mpi-share"},
			ExitCodes:    "mpi",
			FailOnStderr: true,
			BaselineFrom: &BaselineFrom{Exercise: "matvec-sequential", Match: []string{"size"}},
			Tables: []TableSpec{{
				RowAxis:    "size",
				RowLabel:   "Size",
				ColumnAxis: "processes",
			}},
		},
	}
}
