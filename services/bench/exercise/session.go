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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/parbench/services/bench/aggregate"
	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/runner"
	"github.com/AleutianAI/parbench/services/bench/sink"
	"github.com/AleutianAI/parbench/services/bench/sweep"
)

// Session is one sweep of one exercise.
type Session struct {
	Exercise *Exercise

	// Root is the results root; the exercise writes below ResultDir(Root).
	Root string

	Runner runner.Runner
	Logger *slog.Logger

	// Clean truncates previous results before the first write.
	Clean bool

	// Repetitions overrides Exercise.Repetitions when positive.
	Repetitions int

	// Selection restricts axes to a subset of their values.
	Selection map[string][]string

	// Observer receives progress callbacks in addition to the recorder.
	Observer sweep.Observer

	// BaselineRows are the rows of the BaselineFrom exercise.
	BaselineRows []datatypes.Row

	// RunID identifies the run in logs and metadata. Empty generates one.
	RunID string
}

// Outcome summarizes a finished or interrupted session.
type Outcome struct {
	Metadata RunMetadata
	Sets     []datatypes.TrialSet

	// Rows are the aggregated rows now in the result file, including rows
	// of earlier runs that this run did not repeat.
	Rows []datatypes.Row
}

// Plan returns the axes that will be swept and the configuration count.
func (s *Session) Plan() ([]datatypes.Axis, int, error) {
	axes, err := s.Exercise.SweepAxes()
	if err != nil {
		return nil, 0, err
	}
	if len(s.Selection) > 0 {
		if axes, err = sweep.Select(axes, s.Selection); err != nil {
			return nil, 0, err
		}
	}
	if err := sweep.ValidateAxes(axes); err != nil {
		return nil, 0, err
	}
	return axes, sweep.Count(axes), nil
}

func (s *Session) repetitions() int {
	if s.Repetitions > 0 {
		return s.Repetitions
	}
	return s.Exercise.Repetitions
}

// Run executes the sweep and finalizes the result files.
//
// # Description
//
// Trials run through the exercise's Executor; the Recorder appends one
// summary row per configuration as it completes. When the sweep ends,
// normally or by cancellation, the completed configurations are aggregated
// with speedup and efficiency, merged with rows already in the file, and
// the aggregated file is rewritten. Run metadata is written last.
//
// # Outputs
//
//   - *Outcome: Never nil once the sweep started, even with an error.
//   - error: A setup error, the context error on interrupt, or a write
//     failure.
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	e := s.Exercise
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}
	logger = logger.With("exercise", e.Name, "run_id", s.RunID)

	axes, total, err := s.Plan()
	if err != nil {
		return nil, err
	}
	exec, err := NewExecutor(e, s.Runner, logger)
	if err != nil {
		return nil, err
	}
	rec, err := OpenRecorder(e, s.Root, s.Clean)
	if err != nil {
		return nil, err
	}

	observers := sweep.Observers{rec}
	if s.Observer != nil {
		observers = append(observers, s.Observer)
	}
	driver := &sweep.Driver{Repetitions: s.repetitions(), Observer: observers, Logger: logger}

	meta := RunMetadata{
		RunID:          s.RunID,
		Exercise:       e.Name,
		Started:        time.Now().UTC(),
		Repetitions:    s.repetitions(),
		Clean:          s.Clean,
		Configurations: total,
		Selection:      s.Selection,
	}
	for _, a := range axes {
		meta.Axes = append(meta.Axes, MetadataAxis{Name: a.Name, Values: a.Values})
	}

	logger.Info("sweep started", "configurations", total, "repetitions", meta.Repetitions, "clean", s.Clean)
	sets, runErr := driver.Run(ctx, axes, exec.Execute)
	closeErr := rec.Close()

	out := &Outcome{Sets: sets}
	rows, finErr := s.finalize(sets)
	out.Rows = rows

	meta.Finished = time.Now().UTC()
	meta.Completed = len(sets)
	meta.Interrupted = runErr != nil && ctx.Err() != nil
	out.Metadata = meta
	metaErr := WriteMetadata(e.MetadataPath(s.Root), meta)

	if runErr != nil {
		logger.Warn("sweep stopped", "completed", len(sets), "configurations", total, "error", runErr)
	} else {
		logger.Info("sweep finished", "configurations", total, "elapsed", meta.Finished.Sub(meta.Started).Round(time.Millisecond))
	}
	return out, errors.Join(runErr, closeErr, finErr, metaErr)
}

// finalize merges this run's rows into the aggregated file.
func (s *Session) finalize(sets []datatypes.TrialSet) ([]datatypes.Row, error) {
	e := s.Exercise
	opts := e.AggregateOptions(s.BaselineRows)
	current := aggregate.Aggregate(sets, opts)

	path := e.AggregatedPath(s.Root)
	existing, err := sink.ReadRows(path)
	if err != nil && !errors.Is(err, sink.ErrMissingFile) {
		return current, err
	}
	full, err := e.SweepAxes()
	if err != nil {
		return current, err
	}

	rows := MergeRows(existing, current, full)
	aggregate.ApplyBaseline(rows, opts)

	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = r.Record()
	}
	if err := sink.WriteTable(path, e.AggregatedHeader(), records, sink.DefaultDelimiter); err != nil {
		return rows, err
	}
	return rows, nil
}

// MergeRows combines rows read from a result file with freshly aggregated
// ones.
//
// # Description
//
// A configuration present in current replaces every older row with the
// same key. The result is ordered by the enumeration order of axes; rows
// whose configuration is not part of that enumeration (values removed from
// the exercise since) follow in file order.
func MergeRows(existing, current []datatypes.Row, axes []datatypes.Axis) []datatypes.Row {
	byKey := make(map[string]datatypes.Row, len(existing)+len(current))
	var order []string
	add := func(r datatypes.Row) {
		k := r.Config.Key()
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = r
	}
	for _, r := range existing {
		add(r)
	}
	for _, r := range current {
		add(r)
	}

	out := make([]datatypes.Row, 0, len(order))
	if configs, err := sweep.Enumerate(axes); err == nil {
		for _, cfg := range configs {
			k := cfg.Key()
			if r, ok := byKey[k]; ok {
				out = append(out, r)
				delete(byKey, k)
			}
		}
	}
	for _, k := range order {
		if r, ok := byKey[k]; ok {
			out = append(out, r)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Metadata
// -----------------------------------------------------------------------------

// RunMetadata describes one run; it is written as run.yaml.
type RunMetadata struct {
	RunID          string              `yaml:"run_id"`
	Exercise       string              `yaml:"exercise"`
	Started        time.Time           `yaml:"started"`
	Finished       time.Time           `yaml:"finished"`
	Repetitions    int                 `yaml:"repetitions"`
	Clean          bool                `yaml:"clean"`
	Interrupted    bool                `yaml:"interrupted"`
	Configurations int                 `yaml:"configurations"`
	Completed      int                 `yaml:"completed"`
	Axes           []MetadataAxis      `yaml:"axes"`
	Selection      map[string][]string `yaml:"selection,omitempty"`
}

// MetadataAxis is one swept axis.
type MetadataAxis struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values,flow"`
}

// WriteMetadata writes m to path as YAML.
func WriteMetadata(path string, m RunMetadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return sink.ReplaceFile(path, data)
}

// ReadMetadata reads a run.yaml file.
func ReadMetadata(path string) (RunMetadata, error) {
	var m RunMetadata
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}
