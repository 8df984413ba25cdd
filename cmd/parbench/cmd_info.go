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
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/parbench/cmd/parbench/config"
	"github.com/AleutianAI/parbench/pkg/ux"
	"github.com/AleutianAI/parbench/services/bench/exercise"
	"github.com/AleutianAI/parbench/services/bench/runner"
	"github.com/AleutianAI/parbench/services/bench/sweep"
	"github.com/AleutianAI/parbench/services/bench/sysinfo"
)

func runList(cmd *cobra.Command, args []string) error {
	writeList(cmd.OutOrStdout(), state.catalogue.Exercises())
	return nil
}

// writeList prints one line per exercise: name, configuration count and
// description.
func writeList(w io.Writer, list []exercise.Exercise) {
	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		fmt.Fprintln(w, ux.Styles.Title.Render("Exercises"))
	}
	for _, e := range list {
		count := "?"
		if axes, err := e.SweepAxes(); err == nil {
			count = strconv.Itoa(sweep.Count(axes))
		}
		if machine {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, count, e.Description)
			continue
		}
		fmt.Fprintf(w, "  %s %-18s %s %s\n",
			ux.IconBullet.Render(),
			ux.Styles.Highlight.Render(e.Name),
			ux.Styles.Muted.Render(fmt.Sprintf("%5s configs", count)),
			e.Description)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "parbench.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.Init(path); err != nil {
		return err
	}
	ux.Success("wrote " + path)
	return nil
}

func runSysinfo(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	logger := state.logger.Slog()
	collector := &sysinfo.Collector{Runner: runner.NewExecRunner(state.cfg.Timeouts, logger), Logger: logger}
	info, err := collector.Collect(ctx)
	if err != nil {
		return err
	}
	if err := info.SaveINI(sysinfoOut); err != nil {
		return err
	}
	for _, f := range info.Fields() {
		ux.Info(fmt.Sprintf("%-16s %s", f.Key, f.Value))
	}
	ux.Success("wrote " + sysinfoOut)
	return nil
}
