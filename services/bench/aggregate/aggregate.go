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
Package aggregate reduces trial sets to per-configuration rows.

Only trials that are valid and carry a primary time contribute. A
configuration with no such trial yields a row whose statistics, speedup and
efficiency are all undefined; undefined is never turned into zero.

Speedup compares a row against the row its BaselineSelector picks, usually
the same configuration with one worker:

	speedup    = baseline.Mean / row.Mean
	efficiency = speedup / workers
*/
package aggregate

import (
	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// DefaultWorkerAxis is the axis holding the degree of parallelism.
const DefaultWorkerAxis = "workers"

// BaselineSelector maps a configuration to the configuration it is compared
// against. ok is false when the configuration has no baseline.
type BaselineSelector func(cfg datatypes.Configuration) (base datatypes.Configuration, ok bool)

// WorkerBaseline compares every configuration with the same configuration
// where axis is set to value.
func WorkerBaseline(axis, value string) BaselineSelector {
	return FixedBaseline(map[string]string{axis: value})
}

// FixedBaseline sets every named axis to the given value. Configurations
// lacking one of the axes have no baseline.
//
// Example:
//
//	// game of life: compare against the serial mode
//	sel := aggregate.FixedBaseline(map[string]string{"mode": "0", "procs": "1"})
func FixedBaseline(fixed map[string]string) BaselineSelector {
	return func(cfg datatypes.Configuration) (datatypes.Configuration, bool) {
		out := cfg
		for name, value := range fixed {
			var ok bool
			out, ok = out.With(name, value)
			if !ok {
				return cfg, false
			}
		}
		return out, true
	}
}

// ProjectBaseline keeps only the named axes, in the given order. Used when
// the baseline comes from another exercise with fewer axes, e.g. a
// sequential run indexed by size only.
func ProjectBaseline(names ...string) BaselineSelector {
	return func(cfg datatypes.Configuration) (datatypes.Configuration, bool) {
		values := make([]string, len(names))
		for i, n := range names {
			v, ok := cfg.Get(n)
			if !ok {
				return cfg, false
			}
			values[i] = v
		}
		return datatypes.NewConfiguration(names, values), true
	}
}

// Options controls aggregation.
type Options struct {
	// WorkerAxis names the axis used for efficiency. Empty disables
	// efficiency.
	WorkerAxis string

	// Baseline selects the comparison configuration. Nil defaults to
	// WorkerBaseline(WorkerAxis, "1"); nil with an empty WorkerAxis disables
	// speedup.
	Baseline BaselineSelector

	// BaselineRows, when set, is searched for the baseline instead of the
	// rows being aggregated.
	BaselineRows []datatypes.Row

	// TrimOutliers drops IQR outliers before computing statistics.
	TrimOutliers bool
}

func (o Options) selector() BaselineSelector {
	if o.Baseline != nil {
		return o.Baseline
	}
	if o.WorkerAxis == "" {
		return nil
	}
	return WorkerBaseline(o.WorkerAxis, "1")
}

// Summarize computes the statistics of one trial set, without speedup or
// efficiency.
func Summarize(set datatypes.TrialSet, opts Options) datatypes.Row {
	row := datatypes.Row{Config: set.Config, Trials: len(set.Trials)}

	var primary, secondary []float64
	for _, t := range set.Trials {
		if !t.Usable() {
			continue
		}
		primary = append(primary, t.Time.Value)
		if t.Secondary.Valid {
			secondary = append(secondary, t.Secondary.Value)
		}
	}
	if opts.TrimOutliers {
		primary = RemoveOutliers(primary, DefaultOutlierThreshold)
	}

	if s, ok := Describe(primary); ok {
		row.Samples = s.N
		row.Mean = datatypes.Some(s.Mean)
		row.Min = datatypes.Some(s.Min)
		row.Max = datatypes.Some(s.Max)
		row.StdDev = datatypes.Some(s.StdDev)
		row.CILow = datatypes.Some(s.CILow)
		row.CIHigh = datatypes.Some(s.CIHigh)
	}
	if m, ok := sortedMean(secondary); ok {
		row.SecondaryMean = datatypes.Some(m)
	}
	return row
}

// Aggregate produces one row per distinct configuration.
//
// Description:
//
//	Trial sets with the same configuration are merged before summarizing,
//	so the result depends only on the multiset of trials per configuration.
//	Rows keep the order in which each configuration first appears. Speedup
//	and efficiency are then filled in from the selected baseline.
//
// Inputs:
//   - sets: Trial sets, in any order, possibly repeating configurations.
//   - opts: Worker axis, baseline selector, outlier trimming.
//
// Outputs:
//   - []datatypes.Row: One row per distinct configuration.
func Aggregate(sets []datatypes.TrialSet, opts Options) []datatypes.Row {
	var order []string
	merged := make(map[string]*datatypes.TrialSet)
	for _, s := range sets {
		key := s.Config.Key()
		m, ok := merged[key]
		if !ok {
			m = &datatypes.TrialSet{Config: s.Config}
			merged[key] = m
			order = append(order, key)
		}
		m.Trials = append(m.Trials, s.Trials...)
	}

	rows := make([]datatypes.Row, len(order))
	for i, key := range order {
		rows[i] = Summarize(*merged[key], opts)
	}
	ApplyBaseline(rows, opts)
	return rows
}

// ApplyBaseline fills Speedup and Efficiency in place.
//
// Description:
//
//	Rows whose baseline cannot be found, or whose mean or baseline mean is
//	undefined, get undefined speedup and efficiency. Efficiency also needs a
//	positive integer on the worker axis.
func ApplyBaseline(rows []datatypes.Row, opts Options) {
	sel := opts.selector()
	if sel == nil {
		return
	}
	pool := opts.BaselineRows
	if pool == nil {
		pool = rows
	}
	means := make(map[string]datatypes.Optional, len(pool))
	for _, r := range pool {
		means[r.Config.Key()] = r.Mean
	}

	for i := range rows {
		rows[i].Speedup = datatypes.None
		rows[i].Efficiency = datatypes.None

		baseCfg, ok := sel(rows[i].Config)
		if !ok {
			continue
		}
		baseMean, ok := means[baseCfg.Key()]
		if !ok {
			continue
		}
		rows[i].Speedup = baseMean.Div(rows[i].Mean)

		if opts.WorkerAxis == "" {
			continue
		}
		workers, err := rows[i].Config.Int(opts.WorkerAxis)
		if err != nil || workers <= 0 {
			continue
		}
		rows[i].Efficiency = rows[i].Speedup.Div(datatypes.Some(float64(workers)))
	}
}
