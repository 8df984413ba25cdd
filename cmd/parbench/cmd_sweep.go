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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/AleutianAI/parbench/pkg/ux"
	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/exercise"
	"github.com/AleutianAI/parbench/services/bench/report"
	"github.com/AleutianAI/parbench/services/bench/runner"
	"github.com/AleutianAI/parbench/services/bench/sweep"
	"github.com/AleutianAI/parbench/services/bench/sysinfo"
)

// sweepOptions are the sweep flags of one invocation.
type sweepOptions struct {
	Clean       bool
	NoBuild     bool
	NoSysinfo   bool
	Repetitions int
	Timeout     time.Duration
	Selection   map[string][]string
	TraceFile   string
	MetricsFile string
	Confirmer   ux.Confirmer
	Interactive bool
}

func sweepOptionsFromFlags() (sweepOptions, error) {
	sel, err := parseSelection(selectFlags, scheduleFlag, methodFlag)
	if err != nil {
		return sweepOptions{}, err
	}
	var confirmer ux.Confirmer = ux.HuhConfirmer{}
	if assumeYes {
		confirmer = ux.StaticConfirmer{Answer: true}
	}
	return sweepOptions{
		Clean:       cleanResults,
		NoBuild:     noBuild,
		NoSysinfo:   skipSysinfo,
		Repetitions: repetitions,
		Timeout:     trialTimeout,
		Selection:   sel,
		TraceFile:   traceFile,
		MetricsFile: metricsFile,
		Confirmer:   confirmer,
		Interactive: ux.IsInteractive(),
	}, nil
}

// interruptContext is cancelled by SIGINT or SIGTERM. Running children
// receive SIGINT through their process group.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, unix.SIGTERM)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	e, err := state.catalogue.Get(args[0])
	if err != nil {
		return err
	}
	opts, err := sweepOptionsFromFlags()
	if err != nil {
		return err
	}
	outcome, err := sweepExercise(ctx, e, opts)
	if outcome != nil {
		printOutcome(e, outcome)
	}
	return err
}

// withTimeout returns a copy of e with the trial timeout resolved: the
// flag wins, then the exercise's own value, then the config default.
func withTimeout(e *exercise.Exercise, flag, fallback time.Duration) *exercise.Exercise {
	ex := *e
	switch {
	case flag > 0:
		ex.Timeout = flag
	case ex.Timeout == 0:
		ex.Timeout = fallback
	}
	return &ex
}

// sweepExercise builds e and runs its sweep.
//
// Description:
//
//	The plan is validated before anything is built or deleted. A clean run
//	asks for confirmation first. The build is a clean rebuild through the
//	exercise's build tool, preceded by a compiler version check when the
//	exercise sets a minimum. system.ini is written next to the results.
//	Progress goes to a terminal view when interactive, to throttled log
//	lines otherwise.
//
// Outputs:
//   - *exercise.Outcome: Nil when the sweep did not start.
//   - error: Setup, build, interrupt or write failure.
func sweepExercise(ctx context.Context, e *exercise.Exercise, opts sweepOptions) (*exercise.Outcome, error) {
	root := state.cfg.ResultsRoot
	logger := state.logger.Slog()
	ex := withTimeout(e, opts.Timeout, state.cfg.Timeouts.Trial)
	execRunner := runner.NewExecRunner(state.cfg.Timeouts, logger)

	session := &exercise.Session{
		Exercise:    ex,
		Root:        root,
		Runner:      execRunner,
		Logger:      logger,
		Clean:       opts.Clean,
		Repetitions: opts.Repetitions,
		Selection:   opts.Selection,
		RunID:       uuid.NewString(),
	}
	_, total, err := session.Plan()
	if err != nil {
		return nil, err
	}

	if opts.Clean {
		ok, err := opts.Confirmer.Confirm(
			fmt.Sprintf("Delete previous results of %s?", ex.Name),
			fmt.Sprintf("%s will be truncated before the first trial.", ex.AggregatedPath(root)))
		if err != nil {
			return nil, err
		}
		if !ok {
			ux.Warning("sweep cancelled")
			return nil, errAborted
		}
	}

	baseline, err := state.catalogue.BaselineRows(ex, root)
	if err != nil {
		logger.Warn("baseline unavailable, speedup left undefined", "exercise", ex.Name, "error", err)
	}
	session.BaselineRows = baseline

	if err := prepare(ctx, ex, execRunner, logger, opts); err != nil {
		return nil, err
	}

	tel, err := startTelemetry(ctx, logger, ex.Name, session.RunID, total, opts.TraceFile, opts.MetricsFile)
	if err != nil {
		return nil, err
	}
	var observers sweep.Observers
	if tel != nil {
		observers = append(observers, tel.Observer())
	}

	var progress *ux.SweepProgress
	if opts.Interactive {
		progress = ux.NewSweepProgress(fmt.Sprintf("%s · %d configurations", ex.Name, total), total, os.Stderr)
		progress.Start()
		observers = append(observers, tuiObserver{progress: progress})
	} else {
		observers = append(observers, newLogObserver(logger.With("exercise", ex.Name), logProgressInterval))
	}
	session.Observer = observers

	outcome, runErr := session.Run(ctx)

	if progress != nil {
		if err := progress.Finish(); err != nil {
			logger.Debug("progress view", "error", err)
		}
	}
	if tel != nil {
		var rows []datatypes.Row
		if outcome != nil {
			rows = outcome.Rows
		}
		if err := tel.Finish(rows, runErr); err != nil {
			logger.Warn("telemetry incomplete", "error", err)
		}
	}
	return outcome, runErr
}

// prepare checks the compiler, builds, and records the system description.
func prepare(ctx context.Context, ex *exercise.Exercise, r runner.Runner, logger *slog.Logger, opts sweepOptions) error {
	needSysinfo := !opts.NoSysinfo || (!opts.NoBuild && ex.MinCompiler != "")
	var info sysinfo.Info
	if needSysinfo {
		err := ux.WithSpinner("Reading system info", func() error {
			var err error
			info, err = (&sysinfo.Collector{Runner: r, Logger: logger}).Collect(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if !opts.NoBuild && ex.Build != nil {
		if err := sysinfo.CheckCompiler(info.CompilerVersion, ex.MinCompiler); err != nil {
			return fmt.Errorf("%s: %w", ex.Name, err)
		}
		b := &runner.Builder{
			Runner:  r,
			Tool:    ex.Build.Tool,
			Dir:     ex.Build.Dir,
			Timeout: state.cfg.Timeouts,
			Logger:  logger,
		}
		if err := build(ctx, b, ex.Name); err != nil {
			return err
		}
	}

	if !opts.NoSysinfo {
		path := filepath.Join(ex.ResultDir(state.cfg.ResultsRoot), "system.ini")
		if err := info.SaveINI(path); err != nil {
			return err
		}
		logger.Debug("system description written", "path", path)
	}
	return nil
}

// build rebuilds the exercise behind a spinner naming the current step.
func build(ctx context.Context, b *runner.Builder, name string) error {
	spin := ux.NewSpinner("Building " + name).WithType(ux.SpinnerLine)
	b.OnStep = func(step string) {
		switch step {
		case "clean":
			spin.UpdateMessage("Cleaning " + name)
		default:
			spin.UpdateMessage("Building " + name)
		}
	}
	spin.Start()
	if err := b.Rebuild(ctx); err != nil {
		spin.StopWithError("Building " + name + " failed")
		var cmdErr *runner.CommandError
		if errors.As(err, &cmdErr) && cmdErr.HasStderr() {
			ux.WarningBox(cmdErr.Command, cmdErr.Stderr)
		}
		return err
	}
	spin.StopWithSuccess("Built " + name)
	return nil
}

// printOutcome shows the summary table and trial counts.
func printOutcome(e *exercise.Exercise, outcome *exercise.Outcome) {
	ok, failed := trialCounts(outcome.Sets)
	m := outcome.Metadata
	if ux.GetPersonality().Level != ux.PersonalityMachine && len(outcome.Rows) > 0 {
		fmt.Fprintln(os.Stdout, report.SummaryTable(outcome.Rows))
	}
	ux.Summary(ok, failed, ok+failed, m.Finished.Sub(m.Started))
	if m.Interrupted {
		ux.Warning(fmt.Sprintf("interrupted after %d of %d configurations; completed rows are saved", m.Completed, m.Configurations))
	}
	ux.Box("Results", e.AggregatedPath(state.cfg.ResultsRoot))
	if path := state.logger.FilePath(); path != "" {
		ux.Info("Log: " + path)
	}
}
