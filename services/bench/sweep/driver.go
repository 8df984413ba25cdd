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
Package sweep enumerates benchmark configurations and runs their trials.

A sweep is declared as an ordered list of axes. The driver walks their
Cartesian product and calls an Executor a fixed number of times for each
configuration. Trials never overlap: the quantity being measured is the
wall-clock time of the program under test, and a second concurrent trial
would compete with it for the same cores and caches.
*/
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// ErrInvalidRepetitions is returned when Repetitions is less than one.
var ErrInvalidRepetitions = errors.New("repetitions must be at least 1")

// Executor performs one trial of a configuration. rep is the zero-based
// repetition index. Executors report failures inside the TrialResult.
type Executor func(ctx context.Context, cfg datatypes.Configuration, rep int) datatypes.TrialResult

// Observer receives progress callbacks from the driver, on the driver's
// goroutine.
//
// ConfigDone is where rows are emitted. An error returned from it is a
// structural fault (e.g. the result file cannot be written) and stops the
// sweep.
type Observer interface {
	ConfigStarted(index, total int, cfg datatypes.Configuration)
	TrialDone(cfg datatypes.Configuration, rep int, res datatypes.TrialResult)
	ConfigDone(set datatypes.TrialSet, elapsed time.Duration) error
}

// Driver runs sweeps.
//
// Thread Safety: A Driver may be reused but Run must not be called
// concurrently; that would defeat the sequential execution model.
type Driver struct {
	// Repetitions is the number of trials per configuration.
	Repetitions int

	// Observer is optional.
	Observer Observer

	// Logger is optional; nil uses slog.Default().
	Logger *slog.Logger
}

// Run executes the sweep.
//
// Description:
//
//	For every configuration in Enumerate(axes) order, calls execute exactly
//	Repetitions times, sequentially, keeping every result including absent
//	and invalid ones. When ctx is cancelled the sweep stops before the next
//	trial; the configurations completed so far are returned with ctx.Err().
//
// Inputs:
//   - ctx: Cancellation. Checked before each trial.
//   - axes: Ordered sweep axes.
//   - execute: Performs one trial.
//
// Outputs:
//   - []datatypes.TrialSet: One entry per completed configuration, in order.
//   - error: Validation error, context error, or an Observer error.
func (d *Driver) Run(ctx context.Context, axes []datatypes.Axis, execute Executor) ([]datatypes.TrialSet, error) {
	if d.Repetitions < 1 {
		return nil, ErrInvalidRepetitions
	}
	if execute == nil {
		return nil, errors.New("executor is required")
	}
	configs, err := Enumerate(axes)
	if err != nil {
		return nil, err
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := d.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	out := make([]datatypes.TrialSet, 0, len(configs))
	for i, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		obs.ConfigStarted(i, len(configs), cfg)
		start := time.Now()

		trials := make([]datatypes.TrialResult, 0, d.Repetitions)
		for rep := 0; rep < d.Repetitions; rep++ {
			if err := ctx.Err(); err != nil {
				logger.Warn("sweep interrupted", "config", cfg.String(), "completed_trials", rep)
				return out, err
			}
			res := execute(ctx, cfg, rep)
			trials = append(trials, res)
			obs.TrialDone(cfg, rep, res)
		}

		set := datatypes.TrialSet{Config: cfg, Trials: trials}
		if err := obs.ConfigDone(set, time.Since(start)); err != nil {
			return out, fmt.Errorf("config %s: %w", cfg, err)
		}
		out = append(out, set)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Observers
// -----------------------------------------------------------------------------

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) ConfigStarted(int, int, datatypes.Configuration)                {}
func (NopObserver) TrialDone(datatypes.Configuration, int, datatypes.TrialResult) {}
func (NopObserver) ConfigDone(datatypes.TrialSet, time.Duration) error            { return nil }

// Observers fans callbacks out to several observers in order. ConfigDone
// stops at the first error.
type Observers []Observer

func (o Observers) ConfigStarted(index, total int, cfg datatypes.Configuration) {
	for _, x := range o {
		x.ConfigStarted(index, total, cfg)
	}
}

func (o Observers) TrialDone(cfg datatypes.Configuration, rep int, res datatypes.TrialResult) {
	for _, x := range o {
		x.TrialDone(cfg, rep, res)
	}
}

func (o Observers) ConfigDone(set datatypes.TrialSet, elapsed time.Duration) error {
	for _, x := range o {
		if err := x.ConfigDone(set, elapsed); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Observer = NopObserver{}
	_ Observer = Observers(nil)
)
