// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"github.com/AleutianAI/parbench/pkg/ux"
	"github.com/AleutianAI/parbench/services/bench/exercise"
	"github.com/AleutianAI/parbench/services/bench/report"
	"github.com/AleutianAI/parbench/services/bench/sink"
)

// plotFormats are the file formats gonum/plot can save to here.
var plotFormats = []string{"pdf", "png", "svg"}

func runTables(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	e, err := state.catalogue.Get(args[0])
	if err != nil {
		return err
	}
	if _, err := report.SelectTableTypes(tableTypes); err != nil {
		return err
	}
	if err := runFlagsWithoutFresh(cmd, freshTables); err != nil {
		return err
	}

	if freshTables {
		opts, err := sweepOptionsFromFlags()
		if err != nil {
			return err
		}
		outcome, err := sweepExercise(ctx, e, opts)
		if outcome != nil {
			printOutcome(e, outcome)
		}
		if err != nil {
			return err
		}
	}

	generate := func() error { return generateTables(ctx, e) }
	if err := generate(); err != nil {
		if !watchTables {
			return err
		}
		ux.Warning(err.Error())
	}
	if watchTables {
		return watchFile(ctx, e.AggregatedPath(state.cfg.ResultsRoot), state.logger.Slog(), generate)
	}
	return nil
}

// generateTables renders the exercise's tables from its aggregated file.
func generateTables(ctx context.Context, e *exercise.Exercise) error {
	root := state.cfg.ResultsRoot
	rows, err := sink.ReadRows(e.AggregatedPath(root))
	if err != nil {
		return err
	}
	noteLastRun(e)
	jobs, err := exercise.TableJobs(e, rows, root, tableTypes)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		ux.Warning(fmt.Sprintf("%s: no tables to generate", e.Name))
		return nil
	}
	if err := report.RunJobs(ctx, jobs, state.cfg.Render.Concurrency); err != nil {
		return err
	}
	printJobs(jobs)
	state.logger.Info("tables written", "exercise", e.Name, "files", len(jobs))
	return nil
}

func runPlot(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	e, err := state.catalogue.Get(args[0])
	if err != nil {
		return err
	}
	format := plotFormat
	if format == "" {
		format = state.cfg.Render.PlotFormat
	}
	if !slices.Contains(plotFormats, format) {
		return fmt.Errorf("unsupported plot format %q (want one of %v)", format, plotFormats)
	}

	root := state.cfg.ResultsRoot
	rows, err := sink.ReadRows(e.AggregatedPath(root))
	if err != nil {
		return err
	}
	noteLastRun(e)
	jobs := exercise.PlotJobs(e, rows, root, format, plotStyle())
	if len(jobs) == 0 {
		ux.Warning(fmt.Sprintf("%s: no plots configured", e.Name))
		return nil
	}
	if err := report.RunJobs(ctx, jobs, state.cfg.Render.Concurrency); err != nil {
		return err
	}
	printJobs(jobs)
	return nil
}

// noteLastRun reports which sweep last wrote the results, warning when it
// was interrupted. Result files from before run.yaml existed are accepted.
func noteLastRun(e *exercise.Exercise) {
	meta, err := exercise.ReadMetadata(e.MetadataPath(state.cfg.ResultsRoot))
	if err != nil {
		state.logger.Debug("no run metadata", "exercise", e.Name, "error", err)
		return
	}
	state.logger.Info("rendering results", "exercise", e.Name, "run_id", meta.RunID, "finished", meta.Finished)
	if meta.Interrupted {
		ux.Warning(fmt.Sprintf("%s: last sweep (run %s) was interrupted after %d of %d configurations",
			e.Name, meta.RunID, meta.Completed, meta.Configurations))
	}
}

// plotStyle applies the render config to the default style.
func plotStyle() report.PlotStyle {
	style := report.DefaultPlotStyle()
	if w := state.cfg.Render.PlotWidthPt; w > 0 {
		style.Width = vg.Points(w)
	}
	if f := state.cfg.Render.PlotFont; f != "" {
		style.Variant = f
	}
	return style
}

func printJobs(jobs []report.Job) {
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	slices.Sort(names)
	for _, n := range names {
		ux.FileStatus(n, ux.IconSuccess, "")
	}
}
