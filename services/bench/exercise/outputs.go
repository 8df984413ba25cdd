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
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/report"
)

// hasBaseline reports whether speedup and efficiency can be defined.
func (e *Exercise) hasBaseline() bool {
	return e.WorkerAxis != "" || len(e.Baseline) > 0 || e.BaselineFrom != nil
}

// tableTypes returns the table types of t restricted to the names selected
// on the command line. Types that cannot be filled are dropped: share times
// without a secondary pattern, speedup and efficiency without a baseline.
func (e *Exercise) tableTypes(t TableSpec, selected []string) ([]report.TableType, error) {
	types, err := report.SelectTableTypes(t.Types)
	if err != nil {
		return nil, err
	}
	wanted, err := report.SelectTableTypes(selected)
	if err != nil {
		return nil, err
	}

	var out []report.TableType
	for _, tt := range types {
		if !slices.ContainsFunc(wanted, func(w report.TableType) bool { return w.Name == tt.Name }) {
			continue
		}
		switch tt.Metric {
		case datatypes.MetricSecondary:
			if e.Patterns.Secondary == "" {
				continue
			}
		case datatypes.MetricSpeedup, datatypes.MetricEfficiency:
			if !e.hasBaseline() {
				continue
			}
		}
		out = append(out, tt)
	}
	return out, nil
}

// TableJobs returns the jobs writing every table of e from rows.
//
// # Description
//
// Each TableSpec is pivoted once per selected table type. Empty selected
// means every type. Tables are rendered after the sweep and never while
// trials are being measured.
//
// # Outputs
//
//   - []report.Job: CSV and LaTeX writers, ready for report.RunJobs.
//   - error: Unknown table type or a pivot failure (unknown axis,
//     ambiguous cell).
func TableJobs(e *Exercise, rows []datatypes.Row, root string, selected []string) ([]report.Job, error) {
	var jobs []report.Job
	for _, t := range e.Tables {
		types, err := e.tableTypes(t, selected)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		opts := report.DefaultLatexOptions()
		opts.PowerOfTen = t.PowerOfTen
		if t.Precision != nil {
			opts.Precision = *t.Precision
		}

		for _, tt := range types {
			wide, err := report.Pivot(rows, report.PivotSpec{
				RowAxis:    t.RowAxis,
				RowLabel:   t.RowLabel,
				ColumnAxis: t.ColumnAxis,
				GroupAxis:  t.GroupAxis,
				SplitBy:    t.SplitBy,
				Metric:     tt.Metric,
			})
			if err != nil {
				return nil, fmt.Errorf("%s: table %s: %w", e.Name, tt.Name, err)
			}
			if len(wide) == 0 {
				continue
			}
			jobs = append(jobs, report.WideJobs(wide, e.TableOutput(root, t, tt), opts)...)
		}
	}
	return jobs, nil
}

// PlotJobs returns the jobs drawing every plot of e from rows.
//
// Rows are partitioned by the plot's Per axes and each partition is drawn
// into its own file. format is the file extension (pdf, png, svg, eps).
func PlotJobs(e *Exercise, rows []datatypes.Row, root, format string, style report.PlotStyle) []report.Job {
	var jobs []report.Job
	for _, p := range e.Plots {
		st := style
		st.LogX = st.LogX || p.LogX
		spec := report.PlotSpec{Title: p.Title, XLabel: p.XLabel, YLabel: p.YLabel}
		if spec.XLabel == "" {
			spec.XLabel = p.X
		}
		if spec.YLabel == "" {
			spec.YLabel = "time (s)"
		}

		for _, part := range partition(rows, p.Per) {
			path := e.PlotPath(root, p, part.suffix, format)
			partSpec := spec
			if part.suffix != "" && partSpec.Title != "" {
				partSpec.Title += " (" + part.label + ")"
			}
			series := report.SeriesFrom(part.rows, p.X, p.Series)
			jobs = append(jobs, report.Job{Name: path, Render: func(context.Context) error {
				return report.SavePlot(path, series, partSpec, st)
			}})
		}
	}
	return jobs
}

type rowPartition struct {
	suffix string
	label  string
	rows   []datatypes.Row
}

// partition groups rows by their values on axes, in first-seen order.
func partition(rows []datatypes.Row, axes []string) []rowPartition {
	var out []rowPartition
	index := map[string]int{}
	for _, r := range rows {
		var suffix, label []string
		for _, a := range axes {
			v, _ := r.Config.Get(a)
			suffix = append(suffix, a+"-"+v)
			label = append(label, a+"="+v)
		}
		key := strings.Join(suffix, "_")
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, rowPartition{suffix: key, label: strings.Join(label, ", ")})
		}
		out[i].rows = append(out[i].rows, r)
	}
	return out
}
