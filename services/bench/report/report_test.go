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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/sink"
)

func row(names, values []string, mean, speedup float64) datatypes.Row {
	return datatypes.Row{
		Config:  datatypes.NewConfiguration(names, values),
		Mean:    datatypes.Some(mean),
		Min:     datatypes.Some(mean * 0.9),
		Max:     datatypes.Some(mean * 1.1),
		Speedup: datatypes.Some(speedup),
	}
}

// scheduleRows covers schedule x iterations x threads.
func scheduleRows() []datatypes.Row {
	names := []string{"schedule", "iterations", "threads"}
	var rows []datatypes.Row
	for _, sched := range []string{"static", "dynamic"} {
		for _, it := range []string{"1000", "10000"} {
			for _, th := range []string{"1", "2", "4"} {
				rows = append(rows, row(names, []string{sched, it, th}, 1, float64(len(th))))
			}
		}
	}
	return rows
}

// -----------------------------------------------------------------------------
// Pivot Tests
// -----------------------------------------------------------------------------

func TestPivot(t *testing.T) {
	t.Run("rows by size columns by workers", func(t *testing.T) {
		names := []string{"size", "procs"}
		rows := []datatypes.Row{
			row(names, []string{"1000", "1"}, 0.9, 1),
			row(names, []string{"1000", "4"}, 0.25, 3.6),
			row(names, []string{"2000", "1"}, 1.8, 1),
		}
		tables, err := Pivot(rows, PivotSpec{RowAxis: "size", RowLabel: "Size", ColumnAxis: "procs", Metric: datatypes.MetricMean})
		require.NoError(t, err)
		require.Len(t, tables, 1)
		w := tables[0]
		assert.Equal(t, []string{"Size", "1", "4"}, w.Header())
		assert.Equal(t, [][]string{{"1000", "0.9", "0.25"}, {"2000", "1.8", "NaN"}}, w.Records())
		assert.Equal(t, "", w.Suffix())
	})

	t.Run("split by schedule", func(t *testing.T) {
		tables, err := Pivot(scheduleRows(), PivotSpec{
			RowAxis: "iterations", ColumnAxis: "threads", SplitBy: []string{"schedule"}, Metric: datatypes.MetricSpeedup,
		})
		require.NoError(t, err)
		require.Len(t, tables, 2)
		assert.Equal(t, "schedule-static", tables[0].Suffix())
		assert.Equal(t, "schedule-dynamic", tables[1].Suffix())
		assert.Len(t, tables[0].Rows, 2)
	})

	t.Run("group axis keeps one table", func(t *testing.T) {
		tables, err := Pivot(scheduleRows(), PivotSpec{
			RowAxis: "iterations", ColumnAxis: "threads", GroupAxis: "schedule", Metric: datatypes.MetricMean,
		})
		require.NoError(t, err)
		require.Len(t, tables, 1)
		assert.Equal(t, []string{"schedule", "iterations", "1", "2", "4"}, tables[0].Header())
		assert.Len(t, tables[0].Groups(), 2)
	})

	t.Run("unnamed varying axis is ambiguous", func(t *testing.T) {
		_, err := Pivot(scheduleRows(), PivotSpec{RowAxis: "iterations", ColumnAxis: "threads", Metric: datatypes.MetricMean})
		assert.ErrorIs(t, err, ErrAmbiguousCell)
	})

	t.Run("unknown axis and metric", func(t *testing.T) {
		_, err := Pivot(scheduleRows(), PivotSpec{RowAxis: "size", ColumnAxis: "threads", Metric: datatypes.MetricMean})
		assert.ErrorIs(t, err, ErrUnknownPivotAxis)
		_, err = Pivot(scheduleRows(), PivotSpec{RowAxis: "iterations", ColumnAxis: "threads", Metric: "median"})
		assert.Error(t, err)
	})
}

// -----------------------------------------------------------------------------
// LaTeX Tests
// -----------------------------------------------------------------------------

func TestLatex(t *testing.T) {
	w := Wide{
		RowLabel: "Size",
		Columns:  []string{"1", "4"},
		Rows: []WideRow{
			{Label: "1000", Cells: []datatypes.Optional{datatypes.Some(1), datatypes.Some(3.14159)}},
			{Label: "1200", Cells: []datatypes.Optional{datatypes.Some(1), datatypes.None}},
		},
	}

	t.Run("rows", func(t *testing.T) {
		got, err := Latex(w, LatexOptions{Precision: 2, PowerOfTen: true})
		require.NoError(t, err)
		want := "\t$10^3$ & 1.00 & 3.14 \\\\\n\t1200 & 1.00 & -- \\\\\n"
		assert.Equal(t, want, got)
	})

	t.Run("grouped", func(t *testing.T) {
		g := w
		g.GroupLabel = "schedule"
		g.Rows = []WideRow{
			{Group: "static", Label: "10", Cells: []datatypes.Optional{datatypes.Some(1), datatypes.Some(2)}},
			{Group: "static", Label: "100", Cells: []datatypes.Optional{datatypes.Some(1), datatypes.Some(3)}},
			{Group: "guided", Label: "10", Cells: []datatypes.Optional{datatypes.Some(1), datatypes.None}},
		}
		got, err := Latex(g, LatexOptions{Precision: 1})
		require.NoError(t, err)
		want := "\t\\SetCell[r=2]{m} static\n" +
			"\t& 10 & 1.0 & 2.0 \\\\\n" +
			"\t& 100 & 1.0 & 3.0 \\\\\n" +
			"\t\\hline\n" +
			"\t\\SetCell[r=1]{m} guided\n" +
			"\t& 10 & 1.0 & -- \\\\\n" +
			"\t\\hline\n"
		assert.Equal(t, want, got)
	})

	t.Run("blocks from splits", func(t *testing.T) {
		ws := []Wide{
			{Split: datatypes.NewConfiguration([]string{"schedule", "chunk"}, []string{"dynamic", "1"})},
			{Split: datatypes.NewConfiguration([]string{"schedule", "chunk"}, []string{"guided", "maxchunk"})},
		}
		blocks := BlocksFromSplits(ws)
		assert.Equal(t, "dynamic, 1", blocks[0].Label)
		assert.Equal(t, "guided, maxchunk", blocks[1].Label)
	})
}

func TestPowerOfTen(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"10", "$10^1$", true},
		{"100000", "$10^5$", true},
		{"1", "", false},
		{"1200", "", false},
		{"2000", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := PowerOfTen(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectTableTypes(t *testing.T) {
	all, err := SelectTableTypes(nil)
	require.NoError(t, err)
	assert.Len(t, all, len(TableTypes))

	got, err := SelectTableTypes([]string{"speedup"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "speedup", got[0].Stem)

	got, err = SelectTableTypes([]string{"efficiency", "exectimes"})
	require.NoError(t, err)
	assert.Equal(t, "exectimes", got[0].Name)
	assert.Equal(t, "efficiency", got[1].Name)

	_, err = SelectTableTypes([]string{"bogus"})
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// Rendering Tests
// -----------------------------------------------------------------------------

func TestWideJobs(t *testing.T) {
	dir := t.TempDir()
	tables, err := Pivot(scheduleRows(), PivotSpec{
		RowAxis: "iterations", RowLabel: "Iterations", ColumnAxis: "threads",
		SplitBy: []string{"schedule"}, Metric: datatypes.MetricSpeedup,
	})
	require.NoError(t, err)

	out := TableOutput{
		CSVPath: filepath.Join(dir, "final", "speedup.csv"),
		TexPath: filepath.Join(dir, "latex", "speedup.tex"),
	}
	jobs := WideJobs(tables, out, LatexOptions{Precision: 2, PowerOfTen: true})
	require.Len(t, jobs, 3)
	require.NoError(t, RunJobs(context.Background(), jobs, 2))

	table, err := sink.ReadTable(filepath.Join(dir, "final", "speedup__schedule-static.csv"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Iterations", "1", "2", "4"}, table.Header)
	assert.Equal(t, []string{"1000", "1", "1", "1"}, table.Rows[0])

	tex, err := os.ReadFile(out.TexPath)
	require.NoError(t, err)
	assert.Contains(t, string(tex), `\SetCell[r=2]{m} static`)
	assert.Contains(t, string(tex), `& $10^4$ & 1.00 & 1.00 & 1.00 \\`)
	assert.Equal(t, 2, strings.Count(string(tex), `\hline`))
}

func TestRunJobs(t *testing.T) {
	t.Run("all run", func(t *testing.T) {
		var n atomic.Int32
		jobs := make([]Job, 10)
		for i := range jobs {
			jobs[i] = Job{Name: "j", Render: func(context.Context) error { n.Add(1); return nil }}
		}
		require.NoError(t, RunJobs(context.Background(), jobs, 3))
		assert.Equal(t, int32(10), n.Load())
	})

	t.Run("first error returned with name", func(t *testing.T) {
		boom := errors.New("boom")
		jobs := []Job{{Name: "out/a.tex", Render: func(context.Context) error { return boom }}}
		err := RunJobs(context.Background(), jobs, 0)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "out/a.tex")
	})
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, "a/b.csv", SplitPath("a/b.csv", ""))
	assert.Equal(t, "a/b__schedule-static.csv", SplitPath("a/b.csv", "schedule-static"))
}

// -----------------------------------------------------------------------------
// Plot and Console Tests
// -----------------------------------------------------------------------------

func TestSeriesFrom(t *testing.T) {
	names := []string{"grid", "procs"}
	rows := []datatypes.Row{
		row(names, []string{"64", "1"}, 2, 1),
		row(names, []string{"64", "4"}, 1, 2),
		row(names, []string{"128", "1"}, 8, 1),
		{Config: datatypes.NewConfiguration(names, []string{"128", "4"})},
	}
	series := SeriesFrom(rows, "procs", "grid")
	require.Len(t, series, 2)
	assert.Equal(t, "grid=64", series[0].Name)
	assert.Equal(t, []float64{1, 4}, series[0].X)
	assert.Len(t, series[1].X, 1, "undefined mean is skipped")
}

func TestSavePlot(t *testing.T) {
	names := []string{"grid", "procs"}
	rows := []datatypes.Row{
		row(names, []string{"64", "1"}, 2, 1),
		row(names, []string{"64", "2"}, 1.2, 1.6),
		row(names, []string{"64", "4"}, 0.8, 2.5),
	}
	path := filepath.Join(t.TempDir(), "plots", "life.svg")
	style := DefaultPlotStyle()
	style.LogX = true
	err := SavePlot(path, SeriesFrom(rows, "procs", "grid"), PlotSpec{Title: "Game of life", XLabel: "processes", YLabel: "time (s)"}, style)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	err = SavePlot(filepath.Join(t.TempDir(), "empty.svg"), nil, PlotSpec{}, style)
	assert.ErrorIs(t, err, ErrNoPoints)
}

func TestSummaryTable(t *testing.T) {
	names := []string{"size", "threads"}
	rows := []datatypes.Row{
		row(names, []string{"1000", "1"}, 1, 1),
		{Config: datatypes.NewConfiguration(names, []string{"1000", "2"}), Trials: 3},
	}
	out := SummaryTable(rows)
	assert.Contains(t, out, "speedup")
	assert.Contains(t, out, "1000")
	assert.Contains(t, out, "--")
	assert.Equal(t, "", SummaryTable(nil))
}
