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
	"log/slog"
	"strings"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/parser"
	"github.com/AleutianAI/parbench/services/bench/runner"
	"github.com/AleutianAI/parbench/services/bench/sweep"
)

// Executor runs one trial of an exercise: render, run, classify, parse.
//
// # Description
//
// Every fault of a single trial is turned into data. A process that could
// not start, exited non-zero, timed out or (with FailOnStderr) wrote to
// stderr yields a TrialResult with ExitCode and Cause set and no timing.
// Otherwise the parser decides which measurements are present and whether
// the self-checks passed.
//
// # Thread Safety
//
// Safe for concurrent use if the Runner is; the sweep driver calls it
// sequentially.
type Executor struct {
	inv          *Invocation
	runner       runner.Runner
	parser       parser.Parser
	codes        runner.ExitCodes
	failOnStderr bool
	logger       *slog.Logger
}

// NewExecutor compiles the exercise's invocation and patterns.
func NewExecutor(e *Exercise, r runner.Runner, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inv, err := compileInvocation(e)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidExercise, e.Name, err)
	}
	p, err := parser.New(e.Patterns)
	if err != nil {
		return nil, fmt.Errorf("%w %q: patterns: %w", ErrInvalidExercise, e.Name, err)
	}
	codes, ok := runner.ExitCodeTables[e.exitCodesName()]
	if !ok {
		return nil, fmt.Errorf("%w %q: unknown exit code table %q", ErrInvalidExercise, e.Name, e.ExitCodes)
	}
	return &Executor{
		inv:          inv,
		runner:       r,
		parser:       p,
		codes:        codes,
		failOnStderr: e.FailOnStderr,
		logger:       logger.With("exercise", e.Name),
	}, nil
}

// Execute satisfies sweep.Executor.
func (x *Executor) Execute(ctx context.Context, cfg datatypes.Configuration, rep int) datatypes.TrialResult {
	req, err := x.inv.Request(cfg)
	if err != nil {
		x.logger.Error("trial not started", "config", cfg.String(), "repetition", rep, "error", err)
		return datatypes.TrialResult{Cause: err.Error()}
	}

	res, err := x.runner.Run(ctx, req)
	if err != nil {
		x.logger.Error("trial not run", "command", req.CommandLine(), "repetition", rep, "error", err)
		return datatypes.TrialResult{ExitCode: res.ExitCode, Cause: err.Error(), Wall: res.Duration}
	}

	if cause := x.failure(req, res); cause != "" {
		attrs := []any{
			"config", cfg.String(),
			"repetition", rep,
			"exit_code", res.ExitCode,
			"cause", cause,
		}
		if res.ExitCode != 0 && !x.codes.Known(res.ExitCode) && strings.TrimSpace(res.Stderr) != "" {
			attrs = append(attrs, "stderr", lastLine(res.Stderr))
		}
		x.logger.Warn("trial failed", attrs...)
		return datatypes.TrialResult{ExitCode: res.ExitCode, Cause: cause, Wall: res.Duration}
	}

	out := x.parser.Parse(res.Stdout)
	out.Wall = res.Duration
	switch {
	case !out.Valid:
		x.logger.Warn("self-check failed", "config", cfg.String(), "repetition", rep)
	case !out.Time.Valid:
		x.logger.Warn("no timing in output", "config", cfg.String(), "repetition", rep)
	default:
		x.logger.Debug("trial done", "config", cfg.String(), "repetition", rep, "time", out.Time.Value)
	}
	return out
}

// failure returns the cause of a failed run, or "".
func (x *Executor) failure(req runner.Request, res runner.Result) string {
	switch {
	case res.TimedOut:
		return fmt.Sprintf("Timed out after %s", req.Timeout)
	case res.ExitCode != 0:
		return x.codes.Classify(res.ExitCode)
	case x.failOnStderr && strings.TrimSpace(res.Stderr) != "":
		return "Error output: " + lastLine(res.Stderr)
	}
	return ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

var _ sweep.Executor = (*Executor)(nil).Execute
