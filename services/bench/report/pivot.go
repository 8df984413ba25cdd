// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package report turns aggregated rows into wide tables, LaTeX fragments,
console summaries and plots.

A wide table has one line per value of a row axis (usually the problem
size) and one column per value of a column axis (usually the worker count):

	Size,1,4,8
	1000,0.91,0.25,0.14

Split axes produce one wide table per value combination, for instance one
per OpenMP schedule. A group axis keeps several blocks in one table, which
the grouped LaTeX template renders with a multi-row cell per block.
*/
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

var (
	// ErrUnknownPivotAxis is returned when a pivot names an axis the rows lack.
	ErrUnknownPivotAxis = errors.New("pivot axis not in rows")

	// ErrAmbiguousCell is returned when two rows land in the same cell.
	ErrAmbiguousCell = errors.New("several rows map to one cell")
)

// PivotSpec describes how rows become wide tables.
type PivotSpec struct {
	// RowAxis gives one line per value.
	RowAxis string

	// RowLabel is the header of the row-axis column. Defaults to RowAxis.
	RowLabel string

	// ColumnAxis gives one column per value.
	ColumnAxis string

	// GroupAxis, when set, splits lines into blocks within one table.
	GroupAxis string

	// SplitBy produces one table per combination of these axes.
	SplitBy []string

	// Metric is the value placed in each cell.
	Metric datatypes.Metric
}

// WideRow is one line of a wide table.
type WideRow struct {
	Group string
	Label string
	Cells []datatypes.Optional
}

// Wide is a pivoted table.
type Wide struct {
	// Split holds the split axis values of this table, empty without SplitBy.
	Split datatypes.Configuration

	RowLabel   string
	GroupLabel string
	Columns    []string
	Rows       []WideRow
}

// Suffix returns a file-name fragment for the split, e.g. "schedule-static".
func (w Wide) Suffix() string {
	parts := make([]string, 0, w.Split.Len())
	names, values := w.Split.Names(), w.Split.Values()
	for i := range names {
		parts = append(parts, names[i]+"-"+values[i])
	}
	return strings.Join(parts, "_")
}

// Header returns the CSV header: [group,] row label, then column values.
func (w Wide) Header() []string {
	var h []string
	if w.GroupLabel != "" {
		h = append(h, w.GroupLabel)
	}
	h = append(h, w.RowLabel)
	return append(h, w.Columns...)
}

// Records returns the CSV body, undefined cells as "NaN".
func (w Wide) Records() [][]string {
	out := make([][]string, 0, len(w.Rows))
	for _, r := range w.Rows {
		var rec []string
		if w.GroupLabel != "" {
			rec = append(rec, r.Group)
		}
		rec = append(rec, r.Label)
		for _, c := range r.Cells {
			rec = append(rec, c.String())
		}
		out = append(out, rec)
	}
	return out
}

// Groups returns the rows partitioned by group, in first-seen order.
func (w Wide) Groups() [][]WideRow {
	var out [][]WideRow
	index := map[string]int{}
	for _, r := range w.Rows {
		i, ok := index[r.Group]
		if !ok {
			i = len(out)
			index[r.Group] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], r)
	}
	return out
}

// Pivot builds wide tables from aggregated rows.
//
// Description:
//
//	Split combinations, groups, line labels and columns all keep the order
//	in which they first appear in rows, which for sweep output is the axis
//	declaration order. Cells with no row are undefined. Axes not named in
//	the PivotSpec must not vary within a cell.
//
// Inputs:
//   - rows: Aggregated rows sharing the same axes.
//   - spec: Axes and metric.
//
// Outputs:
//   - []Wide: One table per split combination.
//   - error: Unknown axis or metric, or an ambiguous cell.
func Pivot(rows []datatypes.Row, spec PivotSpec) ([]Wide, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if _, err := rows[0].Value(spec.Metric); err != nil {
		return nil, err
	}
	axes := append([]string{spec.RowAxis, spec.ColumnAxis}, spec.SplitBy...)
	if spec.GroupAxis != "" {
		axes = append(axes, spec.GroupAxis)
	}
	for _, a := range axes {
		if _, ok := rows[0].Config.Get(a); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPivotAxis, a)
		}
	}

	rowLabel := spec.RowLabel
	if rowLabel == "" {
		rowLabel = spec.RowAxis
	}

	type cellKey struct{ group, label, column string }
	type building struct {
		wide   *Wide
		lines  map[[2]string]int
		cols   map[string]int
		filled map[cellKey]bool
		cells  map[cellKey]datatypes.Optional
	}

	var tables []*building
	bySplit := map[string]*building{}

	for _, r := range rows {
		split := project(r.Config, spec.SplitBy)
		b, ok := bySplit[split.Key()]
		if !ok {
			b = &building{
				wide:   &Wide{Split: split, RowLabel: rowLabel, GroupLabel: spec.GroupAxis},
				lines:  map[[2]string]int{},
				cols:   map[string]int{},
				filled: map[cellKey]bool{},
				cells:  map[cellKey]datatypes.Optional{},
			}
			bySplit[split.Key()] = b
			tables = append(tables, b)
		}

		label, _ := r.Config.Get(spec.RowAxis)
		column, _ := r.Config.Get(spec.ColumnAxis)
		var group string
		if spec.GroupAxis != "" {
			group, _ = r.Config.Get(spec.GroupAxis)
		}

		k := cellKey{group, label, column}
		if b.filled[k] {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousCell, r.Config)
		}
		b.filled[k] = true
		v, _ := r.Value(spec.Metric)
		b.cells[k] = v

		if _, ok := b.cols[column]; !ok {
			b.cols[column] = len(b.wide.Columns)
			b.wide.Columns = append(b.wide.Columns, column)
		}
		if _, ok := b.lines[[2]string{group, label}]; !ok {
			b.lines[[2]string{group, label}] = len(b.wide.Rows)
			b.wide.Rows = append(b.wide.Rows, WideRow{Group: group, Label: label})
		}
	}

	out := make([]Wide, 0, len(tables))
	for _, b := range tables {
		w := *b.wide
		// lines were grouped in first-seen order; keep groups contiguous
		w.Rows = contiguous(w.Rows)
		for i := range w.Rows {
			cells := make([]datatypes.Optional, len(w.Columns))
			for j, c := range w.Columns {
				cells[j] = b.cells[cellKey{w.Rows[i].Group, w.Rows[i].Label, c}]
			}
			w.Rows[i].Cells = cells
		}
		out = append(out, w)
	}
	return out, nil
}

// contiguous reorders rows so each group forms one block, stable within a
// group.
func contiguous(rows []WideRow) []WideRow {
	w := Wide{Rows: rows}
	var out []WideRow
	for _, g := range w.Groups() {
		out = append(out, g...)
	}
	return out
}

func project(cfg datatypes.Configuration, names []string) datatypes.Configuration {
	values := make([]string, len(names))
	for i, n := range names {
		values[i], _ = cfg.Get(n)
	}
	return datatypes.NewConfiguration(names, values)
}
