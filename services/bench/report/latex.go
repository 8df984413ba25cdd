// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// UndefinedCell is written in LaTeX for an undefined value.
const UndefinedCell = "--"

// TableType is one kind of derived table.
type TableType struct {
	Name   string
	Metric datatypes.Metric
	// Stem is the output file name without extension.
	Stem string
}

// TableTypes lists the selectable table types in generation order.
var TableTypes = []TableType{
	{Name: "exectimes", Metric: datatypes.MetricMean, Stem: "execution_times"},
	{Name: "sharetimes", Metric: datatypes.MetricSecondary, Stem: "share_times"},
	{Name: "speedup", Metric: datatypes.MetricSpeedup, Stem: "speedup"},
	{Name: "efficiency", Metric: datatypes.MetricEfficiency, Stem: "efficiency"},
}

// SelectTableTypes resolves names to table types. "all" or no names select
// every type. Only the named types are returned.
func SelectTableTypes(names []string) ([]TableType, error) {
	if len(names) == 0 || slices.Contains(names, "all") {
		return slices.Clone(TableTypes), nil
	}
	var out []TableType
	for _, tt := range TableTypes {
		if slices.Contains(names, tt.Name) {
			out = append(out, tt)
		}
	}
	for _, n := range names {
		if !slices.ContainsFunc(TableTypes, func(tt TableType) bool { return tt.Name == n }) {
			return nil, fmt.Errorf("unknown table type %q", n)
		}
	}
	return out, nil
}

// LatexOptions controls cell formatting.
type LatexOptions struct {
	// Precision is the number of decimals; negative keeps the shortest
	// representation.
	Precision int

	// PowerOfTen writes labels such as 1000 as $10^3$.
	PowerOfTen bool
}

// DefaultLatexOptions uses four decimals.
func DefaultLatexOptions() LatexOptions {
	return LatexOptions{Precision: 4}
}

// Block is one multi-row group of a grouped table.
type Block struct {
	Label string
	Rows  []WideRow
}

const rowsTemplate = `{{range .}}	{{label .Label}} & {{cells .Cells}} \\
{{end}}`

const groupedTemplate = `{{range .}}	\SetCell[r={{len .Rows}}]{m} {{.Label}}
{{range .Rows}}	& {{label .Label}} & {{cells .Cells}} \\
{{end}}	\hline
{{end}}`

func (o LatexOptions) funcs() template.FuncMap {
	return template.FuncMap{
		"label": func(s string) string {
			if o.PowerOfTen {
				if p, ok := PowerOfTen(s); ok {
					return p
				}
			}
			return s
		},
		"cells": func(cells []datatypes.Optional) string {
			parts := make([]string, len(cells))
			for i, c := range cells {
				parts[i] = FormatCell(c, o.Precision)
			}
			return strings.Join(parts, " & ")
		},
	}
}

// WriteLatexRows writes one "label & v1 & ... \\" line per wide row.
func WriteLatexRows(w io.Writer, rows []WideRow, opts LatexOptions) error {
	t := template.Must(template.New("rows").Funcs(opts.funcs()).Parse(rowsTemplate))
	return t.Execute(w, rows)
}

// WriteLatexGrouped writes each block as a \SetCell multi-row group closed
// by \hline.
func WriteLatexGrouped(w io.Writer, blocks []Block, opts LatexOptions) error {
	t := template.Must(template.New("grouped").Funcs(opts.funcs()).Parse(groupedTemplate))
	return t.Execute(w, blocks)
}

// Latex renders a wide table, grouped when it has a group axis.
func Latex(w Wide, opts LatexOptions) (string, error) {
	var buf bytes.Buffer
	var err error
	if w.GroupLabel != "" {
		err = WriteLatexGrouped(&buf, BlocksFromGroups(w), opts)
	} else {
		err = WriteLatexRows(&buf, w.Rows, opts)
	}
	return buf.String(), err
}

// BlocksFromGroups turns each group of a wide table into a block.
func BlocksFromGroups(w Wide) []Block {
	var out []Block
	for _, g := range w.Groups() {
		out = append(out, Block{Label: g[0].Group, Rows: g})
	}
	return out
}

// BlocksFromSplits turns each split table into a block labelled by its split
// values joined with ", ", e.g. "dynamic, 1".
func BlocksFromSplits(ws []Wide) []Block {
	out := make([]Block, 0, len(ws))
	for _, w := range ws {
		out = append(out, Block{Label: strings.Join(w.Split.Values(), ", "), Rows: w.Rows})
	}
	return out
}

// FormatCell formats a value for LaTeX, "--" when undefined.
func FormatCell(v datatypes.Optional, precision int) string {
	if !v.Valid {
		return UndefinedCell
	}
	return strconv.FormatFloat(v.Value, 'f', precision, 64)
}

// PowerOfTen returns "$10^N$" for "1" followed by N zeros.
func PowerOfTen(s string) (string, bool) {
	if len(s) < 2 || s[0] != '1' || strings.Trim(s[1:], "0") != "" {
		return "", false
	}
	return fmt.Sprintf("$10^%d$", len(s)-1), true
}
