// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exercise describes benchmark exercises declaratively and wires
// them to the runner, parser, sweep driver, aggregator and sinks.
//
// An Exercise is plain data, loaded from YAML or taken from the built-in
// catalogue. Everything that varies between coursework harnesses (how the
// program is built and launched, which axes are swept, which lines are
// scraped, how results are tabulated) is a field here rather than code.
package exercise

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/parbench/services/bench/aggregate"
	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/parser"
	"github.com/AleutianAI/parbench/services/bench/report"
	"github.com/AleutianAI/parbench/services/bench/runner"
	"github.com/AleutianAI/parbench/services/bench/sweep"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidExercise wraps every validation failure of an Exercise.
	ErrInvalidExercise = errors.New("invalid exercise")

	// ErrUnknownExercise is returned when a name is not in the catalogue.
	ErrUnknownExercise = errors.New("unknown exercise")
)

// exerciseValidate checks struct tags. Semantic checks live in Validate.
var exerciseValidate = validator.New()

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Exercise is one benchmark harness.
type Exercise struct {
	// Name identifies the exercise on the command line and names its
	// result directory.
	Name        string `yaml:"name" validate:"required,excludesall=/"`
	Description string `yaml:"description,omitempty"`

	// Dir is the working directory of every trial, relative to the
	// directory parbench runs in.
	Dir string `yaml:"dir,omitempty"`

	// Build, when set, is run before the sweep.
	Build *BuildSpec `yaml:"build,omitempty"`

	// Launcher is prepended to the command, e.g. mpiexec -n {{.procs}}.
	Launcher []string `yaml:"launcher,omitempty"`

	// Command, Args and Env values are text/template strings rendered
	// against the configuration's axis values.
	Command string            `yaml:"command" validate:"required"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	Axes []AxisSpec `yaml:"axes" validate:"required,min=1,dive"`

	// WorkerAxis holds the degree of parallelism. Empty disables speedup
	// and efficiency unless Baseline or BaselineFrom is set.
	WorkerAxis string `yaml:"worker_axis,omitempty"`

	Repetitions int           `yaml:"repetitions" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`

	Patterns parser.Spec `yaml:"patterns"`

	// ExitCodes names a runner.ExitCodeTables entry. Empty means "default".
	ExitCodes string `yaml:"exit_codes,omitempty"`

	// FailOnStderr treats any stderr output as a failed trial.
	FailOnStderr bool `yaml:"fail_on_stderr,omitempty"`

	// Baseline fixes axes to obtain the baseline configuration, e.g.
	// {mode: "0", threads: "1"}. Empty defaults to WorkerAxis = 1.
	Baseline map[string]string `yaml:"baseline,omitempty"`

	// BaselineFrom takes baseline means from another exercise's results.
	BaselineFrom *BaselineFrom `yaml:"baseline_from,omitempty"`

	TrimOutliers bool `yaml:"trim_outliers,omitempty"`

	// MinCompiler rejects the build when the compiler is older, e.g. "9".
	MinCompiler string `yaml:"min_compiler,omitempty"`

	Results ResultsSpec `yaml:"results,omitempty"`
	Tables  []TableSpec `yaml:"tables,omitempty" validate:"dive"`
	Plots   []PlotSpec  `yaml:"plots,omitempty" validate:"dive"`
}

// BuildSpec configures the build tool invocation.
type BuildSpec struct {
	Tool string `yaml:"tool,omitempty"`
	Dir  string `yaml:"dir"`
}

// AxisSpec declares one sweep axis by explicit values or a geometric range.
type AxisSpec struct {
	Name   string     `yaml:"name" validate:"required"`
	Values []string   `yaml:"values,omitempty"`
	Range  *RangeSpec `yaml:"range,omitempty"`
}

// RangeSpec yields Count values Start, Start*Factor, Start*Factor^2, ...
type RangeSpec struct {
	Start  int64 `yaml:"start" validate:"gt=0"`
	Factor int64 `yaml:"factor" validate:"gte=2"`
	Count  int   `yaml:"count" validate:"gte=1,lte=63"`
}

// BaselineFrom points at another exercise whose means are the baselines.
type BaselineFrom struct {
	Exercise string `yaml:"exercise" validate:"required"`

	// Match lists the axes, shared by both exercises, that identify the
	// baseline row, e.g. [size].
	Match []string `yaml:"match" validate:"required,min=1"`
}

// ResultsSpec names the result files within the exercise result directory.
type ResultsSpec struct {
	// Dir overrides the result directory, relative to the results root.
	Dir string `yaml:"dir,omitempty"`

	// Raw also writes one ';'-separated line per trial.
	Raw bool `yaml:"raw,omitempty"`
}

// TableSpec produces wide CSV and LaTeX tables from the aggregated rows.
type TableSpec struct {
	// Name is a sub-directory for the outputs; empty writes to tables/.
	Name       string   `yaml:"name,omitempty"`
	RowAxis    string   `yaml:"row_axis" validate:"required"`
	RowLabel   string   `yaml:"row_label,omitempty"`
	ColumnAxis string   `yaml:"column_axis" validate:"required"`
	GroupAxis  string   `yaml:"group_axis,omitempty"`
	SplitBy    []string `yaml:"split_by,omitempty"`

	// Types limits the generated report.TableTypes. Empty means all that
	// apply.
	Types []string `yaml:"types,omitempty"`

	PowerOfTen bool `yaml:"power_of_ten,omitempty"`
	Precision  *int `yaml:"precision,omitempty"`
}

// PlotSpec produces error-bar plots of a metric against an axis.
type PlotSpec struct {
	Name   string `yaml:"name" validate:"required"`
	X      string `yaml:"x" validate:"required"`
	Series string `yaml:"series,omitempty"`

	// Per draws one plot for each value combination of these axes.
	Per []string `yaml:"per,omitempty"`

	Title  string `yaml:"title,omitempty"`
	XLabel string `yaml:"x_label,omitempty"`
	YLabel string `yaml:"y_label,omitempty"`
	LogX   bool   `yaml:"log_x,omitempty"`
}

// -----------------------------------------------------------------------------
// Axes
// -----------------------------------------------------------------------------

// Expand returns the axis values.
func (a AxisSpec) Expand() (datatypes.Axis, error) {
	switch {
	case len(a.Values) > 0 && a.Range != nil:
		return datatypes.Axis{}, fmt.Errorf("axis %s: values and range are exclusive", a.Name)
	case a.Range != nil:
		values := make([]string, 0, a.Range.Count)
		v := a.Range.Start
		for i := 0; i < a.Range.Count; i++ {
			values = append(values, strconv.FormatInt(v, 10))
			if i+1 < a.Range.Count && v > (1<<62)/a.Range.Factor {
				return datatypes.Axis{}, fmt.Errorf("axis %s: range overflows", a.Name)
			}
			v *= a.Range.Factor
		}
		return datatypes.Axis{Name: a.Name, Values: values}, nil
	default:
		return datatypes.Axis{Name: a.Name, Values: slices.Clone(a.Values)}, nil
	}
}

// SweepAxes expands every axis spec in declaration order.
func (e *Exercise) SweepAxes() ([]datatypes.Axis, error) {
	axes := make([]datatypes.Axis, 0, len(e.Axes))
	for _, spec := range e.Axes {
		a, err := spec.Expand()
		if err != nil {
			return nil, err
		}
		axes = append(axes, a)
	}
	return axes, nil
}

// AxisNames returns the declared axis names in order.
func (e *Exercise) AxisNames() []string {
	names := make([]string, len(e.Axes))
	for i, a := range e.Axes {
		names[i] = a.Name
	}
	return names
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validate checks struct tags and cross-field consistency.
//
// # Description
//
// Besides the tags, it expands the axes, compiles the output patterns and
// the invocation templates, renders the invocation for the first
// configuration, and checks that every axis referenced by the worker axis,
// baseline, tables and plots is declared. All problems are reported
// together, wrapped in ErrInvalidExercise.
func (e *Exercise) Validate() error {
	if err := exerciseValidate.Struct(e); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidExercise, e.Name, err)
	}

	var errs []error
	axes, err := e.SweepAxes()
	if err != nil {
		errs = append(errs, err)
	} else if err := sweep.ValidateAxes(axes); err != nil {
		errs = append(errs, err)
	}

	declared := e.AxisNames()
	requireAxis := func(what, name string) {
		if name != "" && !slices.Contains(declared, name) {
			errs = append(errs, fmt.Errorf("%s: %w: %s", what, sweep.ErrUnknownAxis, name))
		}
	}
	requireAxis("worker_axis", e.WorkerAxis)
	for name := range e.Baseline {
		requireAxis("baseline", name)
	}
	if e.BaselineFrom != nil {
		for _, name := range e.BaselineFrom.Match {
			requireAxis("baseline_from", name)
		}
		if e.BaselineFrom.Exercise == e.Name {
			errs = append(errs, errors.New("baseline_from refers to the exercise itself"))
		}
	}
	for _, t := range e.Tables {
		for _, name := range append([]string{t.RowAxis, t.ColumnAxis, t.GroupAxis}, t.SplitBy...) {
			requireAxis("table", name)
		}
		if _, err := report.SelectTableTypes(t.Types); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range e.Plots {
		for _, name := range append([]string{p.X, p.Series}, p.Per...) {
			requireAxis("plot "+p.Name, name)
		}
	}

	if _, ok := runner.ExitCodeTables[e.exitCodesName()]; !ok {
		errs = append(errs, fmt.Errorf("unknown exit code table %q", e.ExitCodes))
	}
	if _, err := parser.New(e.Patterns); err != nil {
		errs = append(errs, fmt.Errorf("patterns: %w", err))
	}

	inv, err := compileInvocation(e)
	if err != nil {
		errs = append(errs, err)
	} else if len(errs) == 0 {
		first, err := sweep.Enumerate(axes)
		if err == nil && len(first) > 0 {
			if _, err := inv.Request(first[0]); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidExercise, e.Name, errors.Join(errs...))
	}
	return nil
}

func (e *Exercise) exitCodesName() string {
	if e.ExitCodes == "" {
		return "default"
	}
	return e.ExitCodes
}

// -----------------------------------------------------------------------------
// Aggregation
// -----------------------------------------------------------------------------

// AggregateOptions returns the aggregation options of the exercise.
// baselineRows are the rows of the BaselineFrom exercise, nil otherwise.
func (e *Exercise) AggregateOptions(baselineRows []datatypes.Row) aggregate.Options {
	opts := aggregate.Options{
		WorkerAxis:   e.WorkerAxis,
		TrimOutliers: e.TrimOutliers,
	}
	switch {
	case e.BaselineFrom != nil:
		opts.Baseline = aggregate.ProjectBaseline(e.BaselineFrom.Match...)
		opts.BaselineRows = baselineRows
		if opts.BaselineRows == nil {
			opts.BaselineRows = []datatypes.Row{}
		}
	case len(e.Baseline) > 0:
		opts.Baseline = aggregate.FixedBaseline(e.Baseline)
	}
	return opts
}

// -----------------------------------------------------------------------------
// Paths
// -----------------------------------------------------------------------------

// ResultDir is the directory holding every output of the exercise.
func (e *Exercise) ResultDir(root string) string {
	if e.Results.Dir != "" {
		return filepath.Join(root, e.Results.Dir)
	}
	return filepath.Join(root, e.Name)
}

// AggregatedPath is the per-configuration CSV.
func (e *Exercise) AggregatedPath(root string) string {
	return filepath.Join(e.ResultDir(root), "results.csv")
}

// RawPath is the per-trial CSV written when Results.Raw is set.
func (e *Exercise) RawPath(root string) string {
	return filepath.Join(e.ResultDir(root), "raw.csv")
}

// MetadataPath is the run description written next to the results.
func (e *Exercise) MetadataPath(root string) string {
	return filepath.Join(e.ResultDir(root), "run.yaml")
}

// TableOutput returns where one table type of a table spec is written.
func (e *Exercise) TableOutput(root string, t TableSpec, tt report.TableType) report.TableOutput {
	dir := filepath.Join(e.ResultDir(root), "tables", t.Name)
	return report.TableOutput{
		CSVPath: filepath.Join(dir, tt.Stem+".csv"),
		TexPath: filepath.Join(dir, tt.Stem+".tex"),
	}
}

// PlotPath returns the file of one plot, suffix naming the Per values.
func (e *Exercise) PlotPath(root string, p PlotSpec, suffix, format string) string {
	name := p.Name
	if suffix != "" {
		name += "__" + suffix
	}
	return filepath.Join(e.ResultDir(root), "plots", name+"."+format)
}
