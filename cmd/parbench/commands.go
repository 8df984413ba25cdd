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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/parbench/cmd/parbench/config"
	"github.com/AleutianAI/parbench/pkg/logging"
	"github.com/AleutianAI/parbench/pkg/ux"
	"github.com/AleutianAI/parbench/services/bench/exercise"
)

// errAborted is returned when the user declines a confirmation.
var errAborted = errors.New("aborted")

// app is the state shared by all commands, set up in PersistentPreRunE.
type app struct {
	cfg       config.ParbenchConfig
	catalogue *exercise.Catalogue
	logger    *logging.Logger
}

var state app

// --- Global Command Variables ---
var (
	configPath       string
	logLevel         string
	logDir           string
	jsonLogs         bool
	personalityLevel string

	// sweep
	cleanResults  bool
	assumeYes     bool
	noBuild       bool
	repetitions   int
	trialTimeout  time.Duration
	selectFlags   []string
	scheduleFlag  string
	methodFlag    string
	traceFile     string
	metricsFile   string
	skipSysinfo   bool

	// tables / plot
	tableTypes  []string
	freshTables bool
	watchTables bool
	plotFormat  string

	// sysinfo
	sysinfoOut string

	rootCmd = &cobra.Command{
		Use:   "parbench",
		Short: "Benchmark sweeps for the parallel programming exercises",
		Long: `parbench builds an exercise, runs it over every combination of its
parameter axes, parses the reported times and writes aggregated CSV
results, wide tables, LaTeX fragments and plots.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				state.logger.Close()
			}
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the configured exercises",
		Args:  cobra.NoArgs,
		RunE:  runList, // Defined in cmd_info.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the parbench configuration",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the built-in exercise catalogue as YAML (default parbench.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit, // Defined in cmd_info.go
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep EXERCISE",
		Short: "Build an exercise and run its benchmark sweep",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep, // Defined in cmd_sweep.go
	}

	tablesCmd = &cobra.Command{
		Use:   "tables EXERCISE",
		Short: "Generate wide CSV tables and LaTeX fragments from results",
		Args:  cobra.ExactArgs(1),
		RunE:  runTables, // Defined in cmd_report.go
	}

	plotCmd = &cobra.Command{
		Use:   "plot EXERCISE",
		Short: "Plot mean times with min/max error bars",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlot, // Defined in cmd_report.go
	}

	sysinfoCmd = &cobra.Command{
		Use:   "sysinfo",
		Short: "Record the machine's CPU, cache, OS and compiler",
		Args:  cobra.NoArgs,
		RunE:  runSysinfo, // Defined in cmd_info.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default $PARBENCH_CONFIG or ./parbench.yaml, else built-in)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&logDir, "log-dir", "", "also write JSON logs to this directory")
	pf.BoolVar(&jsonLogs, "json-logs", false, "log to stderr as JSON")
	pf.StringVar(&personalityLevel, "output", "", "output style: full, minimal, machine (default from terminal)")

	addRunFlags(sweepCmd, "")

	tf := tablesCmd.Flags()
	tf.StringArrayVarP(&tableTypes, "type", "t", nil, "table type to generate: exectimes, sharetimes, speedup, efficiency, all (repeatable)")
	tf.BoolVar(&freshTables, "fresh", false, "run the sweep first instead of reading existing results")
	tf.BoolVar(&watchTables, "watch", false, "regenerate whenever the result file changes")
	addRunFlags(tablesCmd, "with --fresh, ")

	plotCmd.Flags().StringVar(&plotFormat, "format", "", "plot format: pdf, png, svg (default from config)")

	sysinfoCmd.Flags().StringVarP(&sysinfoOut, "output-file", "o", "system.ini", "INI file to write")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(listCmd, configCmd, sweepCmd, tablesCmd, plotCmd, sysinfoCmd)
}

// runFlags are the sweep flags shared by sweep and tables --fresh.
var runFlags = []string{
	"clean", "yes", "no-build", "repetitions", "timeout", "select",
	"schedule", "method", "trace-file", "metrics-file", "no-sysinfo",
}

// addRunFlags registers the sweep flags on cmd. prefix qualifies the help
// text, e.g. "with --fresh, ".
func addRunFlags(cmd *cobra.Command, prefix string) {
	f := cmd.Flags()
	f.BoolVarP(&cleanResults, "clean", "c", false, prefix+"delete previous results before the first write")
	f.BoolVar(&assumeYes, "yes", false, prefix+"do not ask before deleting results")
	f.BoolVar(&noBuild, "no-build", false, prefix+"skip the clean build")
	f.IntVarP(&repetitions, "repetitions", "r", 0, prefix+"trials per configuration (default from exercise)")
	f.DurationVar(&trialTimeout, "timeout", 0, prefix+"per-trial timeout, e.g. 30s (0 keeps the configured one)")
	f.StringArrayVar(&selectFlags, "select", nil, prefix+"restrict an axis: name=v1,v2 (repeatable)")
	f.StringVarP(&scheduleFlag, "schedule", "s", "", prefix+"shorthand for --select schedule=...")
	f.StringVarP(&methodFlag, "method", "m", "", prefix+"shorthand for --select method=...")
	f.StringVar(&traceFile, "trace-file", "", prefix+"write OpenTelemetry spans as JSON lines")
	f.StringVar(&metricsFile, "metrics-file", "", prefix+"write metrics (.prom textfile, or .json for OTel JSON)")
	f.BoolVar(&skipSysinfo, "no-sysinfo", false, prefix+"do not write system.ini next to the results")
}

// runFlagsWithoutFresh returns an error naming the sweep flags set on a
// tables invocation that does not run the sweep.
func runFlagsWithoutFresh(cmd *cobra.Command, fresh bool) error {
	if fresh {
		return nil
	}
	var set []string
	for _, name := range runFlags {
		if cmd.Flags().Changed(name) {
			set = append(set, "--"+name)
		}
	}
	if len(set) > 0 {
		return fmt.Errorf("%s: only valid with --fresh", strings.Join(set, ", "))
	}
	return nil
}

// setup loads the configuration and creates the logger.
func setup(cmd *cobra.Command, args []string) error {
	if personalityLevel != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
	} else {
		ux.InitPersonality()
	}

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}

	if cmd == configInitCmd {
		state.logger = logging.New(logging.Config{Level: level, Service: "parbench", JSON: jsonLogs, Output: cmd.ErrOrStderr()})
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dir := logDir
	if dir == "" {
		dir = cfg.LogDir
	}
	state.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  dir,
		Service: "parbench",
		JSON:    jsonLogs,
		Output:  cmd.ErrOrStderr(),
	})
	cat, err := cfg.Catalogue()
	if err != nil {
		return err
	}
	state.cfg = cfg
	state.catalogue = cat
	return nil
}
