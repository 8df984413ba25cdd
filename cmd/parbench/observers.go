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
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/parbench/pkg/ux"
	"github.com/AleutianAI/parbench/services/bench/aggregate"
	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/report"
	"github.com/AleutianAI/parbench/services/bench/sweep"
)

// configLine is the one-line result of a finished configuration.
func configLine(set datatypes.TrialSet, elapsed time.Duration) string {
	row := aggregate.Summarize(set, aggregate.Options{})
	return fmt.Sprintf("%s  mean %ss  %d/%d  %s",
		set.Config.String(), report.FormatCell(row.Mean, 4), row.Samples, row.Trials,
		elapsed.Round(time.Millisecond))
}

// trialCounts splits trials into usable and not.
func trialCounts(sets []datatypes.TrialSet) (ok, failed int) {
	for _, s := range sets {
		for _, t := range s.Trials {
			if t.Usable() && !t.Failed() {
				ok++
			} else {
				failed++
			}
		}
	}
	return ok, failed
}

// -----------------------------------------------------------------------------
// Terminal progress
// -----------------------------------------------------------------------------

// tuiObserver forwards driver callbacks to the progress view.
type tuiObserver struct {
	progress *ux.SweepProgress
}

func (o tuiObserver) ConfigStarted(index, total int, cfg datatypes.Configuration) {
	o.progress.Send(ux.ConfigStartedMsg{Index: index, Total: total, Label: cfg.String()})
}

func (o tuiObserver) TrialDone(_ datatypes.Configuration, rep int, res datatypes.TrialResult) {
	o.progress.Send(ux.TrialDoneMsg{Rep: rep, Failed: res.Failed() || !res.Usable(), Cause: res.Cause})
}

func (o tuiObserver) ConfigDone(set datatypes.TrialSet, elapsed time.Duration) error {
	o.progress.Send(ux.ConfigDoneMsg{Line: configLine(set, elapsed), Elapsed: elapsed})
	return nil
}

// -----------------------------------------------------------------------------
// Log progress
// -----------------------------------------------------------------------------

// logProgressInterval is the minimum gap between progress log lines.
const logProgressInterval = 10 * time.Second

// logObserver reports progress as log lines, throttled so long sweeps of
// short trials do not flood the log.
type logObserver struct {
	logger  *slog.Logger
	every   *rate.Sometimes
	started time.Time
	total   int
	done    int
	failed  int
}

func newLogObserver(logger *slog.Logger, interval time.Duration) *logObserver {
	return &logObserver{
		logger:  logger,
		every:   &rate.Sometimes{First: 1, Interval: interval},
		started: time.Now(),
	}
}

func (o *logObserver) ConfigStarted(_, total int, _ datatypes.Configuration) {
	o.total = total
}

func (o *logObserver) TrialDone(_ datatypes.Configuration, _ int, res datatypes.TrialResult) {
	if res.Failed() || !res.Usable() {
		o.failed++
	}
}

func (o *logObserver) ConfigDone(set datatypes.TrialSet, elapsed time.Duration) error {
	o.done++
	last := o.done == o.total
	report := func() {
		o.logger.Info("progress",
			"done", o.done,
			"total", o.total,
			"failed_trials", o.failed,
			"eta", o.eta().Round(time.Second),
			"last", configLine(set, elapsed))
	}
	if last {
		report()
		return nil
	}
	o.every.Do(report)
	return nil
}

// eta extrapolates the mean configuration time to the remaining ones.
func (o *logObserver) eta() time.Duration {
	if o.done == 0 || o.total <= o.done {
		return 0
	}
	per := time.Since(o.started) / time.Duration(o.done)
	return per * time.Duration(o.total-o.done)
}

var (
	_ sweep.Observer = tuiObserver{}
	_ sweep.Observer = (*logObserver)(nil)
)
