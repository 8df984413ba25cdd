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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parbench/cmd/parbench/config"
	"github.com/AleutianAI/parbench/pkg/logging"
	"github.com/AleutianAI/parbench/pkg/ux"
	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/exercise"
	"github.com/AleutianAI/parbench/services/bench/parser"
	"github.com/AleutianAI/parbench/services/bench/runner"
	"github.com/AleutianAI/parbench/services/bench/sink"
)

// useState installs a test configuration and restores the previous state.
func useState(t *testing.T, list []exercise.Exercise) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ResultsRoot = t.TempDir()
	if list != nil {
		cfg.Exercises = list
	}
	cat, err := cfg.Catalogue()
	require.NoError(t, err)

	prev := state
	state = app{cfg: cfg, catalogue: cat, logger: logging.New(logging.Config{Quiet: true})}

	orig := ux.GetPersonality()
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	restore := ux.SetOutput(io.Discard, io.Discard)

	t.Cleanup(func() {
		state.logger.Close()
		state = prev
		restore()
		ux.SetPersonalityLevel(orig.Level)
	})
}

func shellExercise() exercise.Exercise {
	return exercise.Exercise{
		Name:    "shell",
		Command: "/bin/sh",
		Args:    []string{"-c", "echo Elapsed time: $((8 / {{.threads}}))"},
		Axes: []exercise.AxisSpec{
			{Name: "size", Values: []string{"10"}},
			{Name: "threads", Values: []string{"1", "2"}},
		},
		WorkerAxis:  "threads",
		Repetitions: 2,
		Patterns:    parser.Spec{Time: "elapsed"},
		Tables: []exercise.TableSpec{
			{RowAxis: "size", ColumnAxis: "threads", Types: []string{"exectimes", "speedup"}},
		},
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 130, exitCode(fmt.Errorf("sweep: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestWithTimeout(t *testing.T) {
	e := &exercise.Exercise{Name: "x", Timeout: time.Minute}
	assert.Equal(t, 5*time.Second, withTimeout(e, 5*time.Second, time.Hour).Timeout)
	assert.Equal(t, time.Minute, withTimeout(e, 0, time.Hour).Timeout)
	assert.Equal(t, time.Minute, e.Timeout, "original must not change")

	bare := &exercise.Exercise{Name: "y"}
	assert.Equal(t, time.Hour, withTimeout(bare, 0, time.Hour).Timeout)
}

func TestWriteList(t *testing.T) {
	orig := ux.GetPersonality()
	defer ux.SetPersonalityLevel(orig.Level)
	ux.SetPersonalityLevel(ux.PersonalityMachine)

	var buf bytes.Buffer
	writeList(&buf, exercise.Builtin())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(exercise.Builtin()))
	assert.True(t, strings.HasPrefix(lines[0], "pi\t12\t"), "first line %q", lines[0])
}

func TestRunFlags(t *testing.T) {
	for _, cmd := range []*cobra.Command{sweepCmd, tablesCmd} {
		for _, name := range runFlags {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s --%s", cmd.Name(), name)
		}
	}
	assert.Equal(t, "s", tablesCmd.Flags().Lookup("schedule").Shorthand)
	assert.Equal(t, "m", tablesCmd.Flags().Lookup("method").Shorthand)

	prevSchedule, prevSelect := scheduleFlag, selectFlags
	t.Cleanup(func() { scheduleFlag, selectFlags = prevSchedule, prevSelect })

	cmd := &cobra.Command{Use: "tables"}
	addRunFlags(cmd, "with --fresh, ")
	require.NoError(t, runFlagsWithoutFresh(cmd, false))

	require.NoError(t, cmd.Flags().Set("schedule", "static"))
	require.NoError(t, cmd.Flags().Set("select", "threads=1,2"))
	assert.EqualError(t, runFlagsWithoutFresh(cmd, false), "--select, --schedule: only valid with --fresh")
	assert.NoError(t, runFlagsWithoutFresh(cmd, true))

	opts, err := sweepOptionsFromFlags()
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"schedule": {"static"}, "threads": {"1", "2"}}, opts.Selection)
}

func TestSweepExercise_EndToEnd(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	e := shellExercise()
	useState(t, []exercise.Exercise{e})

	got, err := state.catalogue.Get("shell")
	require.NoError(t, err)

	dir := t.TempDir()
	opts := sweepOptions{
		NoBuild:     true,
		NoSysinfo:   true,
		Confirmer:   ux.StaticConfirmer{Answer: true},
		TraceFile:   filepath.Join(dir, "trace.jsonl"),
		MetricsFile: filepath.Join(dir, "metrics.prom"),
	}
	outcome, err := sweepExercise(context.Background(), got, opts)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Len(t, outcome.Sets, 2)

	ok, failed := trialCounts(outcome.Sets)
	assert.Equal(t, 4, ok)
	assert.Equal(t, 0, failed)

	rows, err := sink.ReadRows(got.AggregatedPath(state.cfg.ResultsRoot))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, 8.0, rows[0].Mean.Value, 1e-9)
	assert.InDelta(t, 2.0, rows[1].Speedup.Value, 1e-9)

	prom, err := os.ReadFile(opts.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `parbench_sweep_trials_total{exercise="shell",outcome="ok"} 4`)

	trace, err := os.ReadFile(opts.TraceFile)
	require.NoError(t, err)
	assert.Contains(t, string(trace), "sweep.shell")

	require.NoError(t, generateTables(context.Background(), got))
	speedup := filepath.Join(got.ResultDir(state.cfg.ResultsRoot), "tables", "speedup.csv")
	_, err = os.Stat(speedup)
	assert.NoError(t, err, "speedup table not written")
}

func TestSweepExercise_CleanDeclined(t *testing.T) {
	e := shellExercise()
	useState(t, []exercise.Exercise{e})
	got, err := state.catalogue.Get("shell")
	require.NoError(t, err)

	outcome, err := sweepExercise(context.Background(), got, sweepOptions{
		Clean:     true,
		NoBuild:   true,
		NoSysinfo: true,
		Confirmer: ux.StaticConfirmer{Answer: false},
	})
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, errAborted)
	_, statErr := os.Stat(got.AggregatedPath(state.cfg.ResultsRoot))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "nothing may be written")
}

func TestSweepExercise_LockedResultsFlushTelemetry(t *testing.T) {
	e := shellExercise()
	useState(t, []exercise.Exercise{e})
	got, err := state.catalogue.Get("shell")
	require.NoError(t, err)

	held, err := sink.Open(got.AggregatedPath(state.cfg.ResultsRoot), got.AggregatedHeader(), sink.Options{})
	require.NoError(t, err)
	defer held.Close()

	dir := t.TempDir()
	opts := sweepOptions{
		NoBuild:     true,
		NoSysinfo:   true,
		Confirmer:   ux.StaticConfirmer{Answer: true},
		TraceFile:   filepath.Join(dir, "trace.jsonl"),
		MetricsFile: filepath.Join(dir, "metrics.prom"),
	}
	outcome, err := sweepExercise(context.Background(), got, opts)
	assert.Nil(t, outcome)
	require.ErrorIs(t, err, sink.ErrLocked)

	trace, err := os.ReadFile(opts.TraceFile)
	require.NoError(t, err)
	assert.Contains(t, string(trace), "sweep.shell", "sweep span not exported")
	assert.Contains(t, string(trace), "locked by another writer")

	_, err = os.Stat(opts.MetricsFile)
	assert.NoError(t, err, "metrics textfile not written")
}

func TestBuild_Output(t *testing.T) {
	orig := ux.GetPersonality()
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	var out, errOut bytes.Buffer
	restore := ux.SetOutput(&out, &errOut)
	t.Cleanup(func() {
		restore()
		ux.SetPersonalityLevel(orig.Level)
	})

	mock := &runner.MockRunner{RunFunc: func(_ context.Context, req runner.Request) (runner.Result, error) {
		if len(req.Args) == 0 {
			return runner.Result{ExitCode: 2, Stderr: "main.c:3: error: expected ';'\n"}, nil
		}
		return runner.Result{}, nil
	}}
	b := &runner.Builder{Runner: mock, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	err := build(context.Background(), b, "pi")
	require.ErrorIs(t, err, runner.ErrBuildFailed)

	assert.Equal(t, "", out.String())
	want := []string{
		"PROGRESS: Building pi",
		"PROGRESS: Cleaning pi",
		"PROGRESS: Building pi",
		"ERROR: Building pi failed",
		"WARN make: main.c:3: error: expected ';'",
	}
	assert.Equal(t, want, strings.Split(strings.TrimSpace(errOut.String()), "\n"))
}

func TestPrintOutcome_Machine(t *testing.T) {
	e := shellExercise()
	useState(t, []exercise.Exercise{e})
	state.logger = logging.New(logging.Config{Quiet: true, LogDir: t.TempDir()})
	var out bytes.Buffer
	restore := ux.SetOutput(&out, io.Discard)
	defer restore()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	outcome := &exercise.Outcome{
		Sets: []datatypes.TrialSet{{Trials: []datatypes.TrialResult{
			{Time: datatypes.Some(1), Valid: true},
			{ExitCode: 2, Cause: "Ran out of heap memory"},
		}}},
		Metadata: exercise.RunMetadata{Started: started, Finished: started.Add(3 * time.Second)},
	}
	printOutcome(&e, outcome)

	got := out.String()
	assert.Contains(t, got, "SUMMARY: ok=1 failed=1 total=2 elapsed=3s")
	assert.Contains(t, got, "Results: "+e.AggregatedPath(state.cfg.ResultsRoot))
	assert.Contains(t, got, "Log: "+state.logger.FilePath())
}

func TestSweepExercise_BadSelection(t *testing.T) {
	e := shellExercise()
	useState(t, []exercise.Exercise{e})
	got, err := state.catalogue.Get("shell")
	require.NoError(t, err)

	_, err = sweepExercise(context.Background(), got, sweepOptions{
		NoBuild:   true,
		NoSysinfo: true,
		Selection: map[string][]string{"threads": {"3"}},
		Confirmer: ux.StaticConfirmer{Answer: true},
	})
	assert.Error(t, err)
}

func TestGenerateTables_MissingResults(t *testing.T) {
	useState(t, nil)
	e, err := state.catalogue.Get("backsub")
	require.NoError(t, err)
	err = generateTables(context.Background(), e)
	assert.ErrorIs(t, err, sink.ErrMissingFile)
}

func TestNoteLastRun(t *testing.T) {
	e := shellExercise()
	useState(t, []exercise.Exercise{e})
	var errOut bytes.Buffer
	restore := ux.SetOutput(io.Discard, &errOut)
	defer restore()

	noteLastRun(&e)
	assert.Empty(t, errOut.String(), "missing run.yaml is not a warning")

	require.NoError(t, exercise.WriteMetadata(e.MetadataPath(state.cfg.ResultsRoot), exercise.RunMetadata{
		RunID:          "run-7",
		Exercise:       e.Name,
		Interrupted:    true,
		Completed:      1,
		Configurations: 2,
	}))
	noteLastRun(&e)
	assert.Equal(t, "WARN: shell: last sweep (run run-7) was interrupted after 1 of 2 configurations\n", errOut.String())
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	obs := newLogObserver(logger, time.Hour)

	cfg := func(threads string) datatypes.Configuration {
		return datatypes.NewConfiguration([]string{"threads"}, []string{threads})
	}
	ok := datatypes.TrialResult{Valid: true, Time: datatypes.Some(1)}
	bad := datatypes.TrialResult{ExitCode: 2, Cause: "Ran out of heap memory"}

	for i, th := range []string{"1", "2", "4"} {
		c := cfg(th)
		obs.ConfigStarted(i, 3, c)
		obs.TrialDone(c, 0, ok)
		res := ok
		if th == "2" {
			res = bad
		}
		obs.TrialDone(c, 1, res)
		require.NoError(t, obs.ConfigDone(datatypes.TrialSet{Config: c, Trials: []datatypes.TrialResult{ok, res}}, time.Second))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "first and last configuration are always reported: %q", buf.String())
	assert.Contains(t, lines[0], "done=1")
	assert.Contains(t, lines[1], "done=3")
	assert.Contains(t, lines[1], "failed_trials=1")
	assert.Equal(t, time.Duration(0), obs.eta())
}

func TestConfigLine(t *testing.T) {
	c := datatypes.NewConfiguration([]string{"threads"}, []string{"4"})
	set := datatypes.TrialSet{Config: c, Trials: []datatypes.TrialResult{
		{Valid: true, Time: datatypes.Some(0.5)},
		{Valid: true, Time: datatypes.Some(1.5)},
		{ExitCode: 1, Cause: "Wrong number of arguments"},
	}}
	line := configLine(set, 1500*time.Millisecond)
	assert.Contains(t, line, "threads=4")
	assert.Contains(t, line, "2/3")
	assert.Contains(t, line, "1.5s")
}

func TestWatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", "pi.csv")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)), func() error {
			if calls.Add(1) == 1 {
				cancel()
			}
			return nil
		})
	}()

	// The watcher needs the directory before the first write.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Dir(path))
		return err == nil
	}, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("threads,mean\n1,%d\n", i)), 0o644))
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watchFile did not return")
	}
	assert.Equal(t, int32(1), calls.Load(), "burst of writes must be debounced into one call")
}
