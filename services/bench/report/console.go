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
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/AleutianAI/parbench/pkg/ux"
	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// SummaryColumns are the metric columns shown after the axis columns.
var SummaryColumns = []string{"n", "mean", "min", "max", "speedup", "efficiency"}

// SummaryRecords returns one line per row: axis values, then the
// SummaryColumns formatted to precision, undefined as "--".
func SummaryRecords(rows []datatypes.Row, precision int) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		rec := r.Config.Values()
		rec = append(rec,
			strconv.Itoa(r.Samples)+"/"+strconv.Itoa(r.Trials),
			FormatCell(r.Mean, precision),
			FormatCell(r.Min, precision),
			FormatCell(r.Max, precision),
			FormatCell(r.Speedup, 2),
			FormatCell(r.Efficiency, 2),
		)
		out = append(out, rec)
	}
	return out
}

// SummaryTable renders rows as a bordered terminal table.
func SummaryTable(rows []datatypes.Row) string {
	if len(rows) == 0 {
		return ""
	}
	headers := append(rows[0].Config.Names(), SummaryColumns...)
	records := SummaryRecords(rows, 4)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ux.ColorTealDeep)).
		Headers(headers...).
		Rows(records...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Inherit(ux.Styles.Title)
			}
			if col >= len(headers)-len(SummaryColumns) {
				s = s.Align(lipgloss.Right)
			}
			if rec := records[row]; rec[len(rec)-len(SummaryColumns)+1] == UndefinedCell {
				return s.Inherit(ux.Styles.Muted)
			}
			return s
		})
	return t.String()
}
