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
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/AleutianAI/parbench/services/bench/aggregate"
	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/sink"
	"github.com/AleutianAI/parbench/services/bench/sweep"
)

// ErrHeaderMismatch is returned when appending to a result file whose
// header belongs to a different axis set.
var ErrHeaderMismatch = errors.New("result file header does not match the exercise axes")

// Recorder writes results as the sweep progresses.
//
// # Description
//
// After each configuration its summary row (without speedup, which needs
// the baseline) is appended to the aggregated file, so a crash loses at
// most the configuration in progress. With raw output enabled every trial
// is appended to the raw file as well.
//
// # Thread Safety
//
// Not safe for concurrent use; the sweep driver calls it from one goroutine.
type Recorder struct {
	opts      aggregate.Options
	rows      *sink.Writer
	raw       *sink.Writer
	secondary bool
	rawErr    error
}

// RawHeader returns the header of the per-trial file.
func (e *Exercise) RawHeader() []string {
	h := append([]string{"iteration"}, e.AxisNames()...)
	h = append(h, "time(s)")
	if e.Patterns.Secondary != "" {
		h = append(h, "secondary(s)")
	}
	return h
}

// AggregatedHeader returns the header of the aggregated file.
func (e *Exercise) AggregatedHeader() []string {
	return append(e.AxisNames(), datatypes.RowHeader...)
}

// OpenRecorder opens the result files of e under root.
//
// # Description
//
// Clean truncates both files. Without clean, an existing aggregated file
// must have the same header, since its rows are merged with the new ones.
//
// # Outputs
//
//   - *Recorder: Holds the file locks until Close.
//   - error: sink.ErrLocked when another sweep writes the same files,
//     ErrHeaderMismatch, or a filesystem error.
func OpenRecorder(e *Exercise, root string, clean bool) (*Recorder, error) {
	header := e.AggregatedHeader()
	path := e.AggregatedPath(root)
	if !clean {
		if err := checkHeader(path, header); err != nil {
			return nil, err
		}
	}

	rows, err := sink.Open(path, header, sink.Options{Clean: clean})
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		opts:      e.AggregateOptions(nil),
		rows:      rows,
		secondary: e.Patterns.Secondary != "",
	}
	if e.Results.Raw {
		r.raw, err = sink.Open(e.RawPath(root), e.RawHeader(), sink.Options{Clean: clean, Delimiter: sink.RawDelimiter})
		if err != nil {
			rows.Close()
			return nil, err
		}
	}
	return r, nil
}

func checkHeader(path string, want []string) error {
	t, err := sink.ReadTable(path, sink.DefaultDelimiter)
	switch {
	case errors.Is(err, sink.ErrMissingFile):
		return nil
	case err != nil:
		return err
	case t.Header == nil || slices.Equal(t.Header, want):
		return nil
	default:
		return fmt.Errorf("%w: %s (run with --clean to start over)", ErrHeaderMismatch, path)
	}
}

// ConfigStarted satisfies sweep.Observer.
func (r *Recorder) ConfigStarted(int, int, datatypes.Configuration) {}

// TrialDone appends the raw line when enabled. Raw write errors surface
// in ConfigDone.
func (r *Recorder) TrialDone(cfg datatypes.Configuration, rep int, res datatypes.TrialResult) {
	if r.raw == nil {
		return
	}
	rec := append([]string{strconv.Itoa(rep)}, cfg.Values()...)
	rec = append(rec, usable(res, res.Time).String())
	if r.secondary {
		rec = append(rec, usable(res, res.Secondary).String())
	}
	if err := r.raw.Write(rec); err != nil {
		r.rawErr = errors.Join(r.rawErr, err)
	}
}

// usable hides values of trials that failed their self-check.
func usable(res datatypes.TrialResult, v datatypes.Optional) datatypes.Optional {
	if !res.Valid {
		return datatypes.None
	}
	return v
}

// ConfigDone appends the summary row. A write error stops the sweep.
func (r *Recorder) ConfigDone(set datatypes.TrialSet, _ time.Duration) error {
	err := r.rawErr
	r.rawErr = nil
	if err != nil {
		return err
	}
	return r.rows.WriteRow(aggregate.Summarize(set, r.opts))
}

// Close releases both files.
func (r *Recorder) Close() error {
	var errs []error
	errs = append(errs, r.rows.Close())
	if r.raw != nil {
		errs = append(errs, r.raw.Close())
	}
	return errors.Join(errs...)
}

var _ sweep.Observer = (*Recorder)(nil)
