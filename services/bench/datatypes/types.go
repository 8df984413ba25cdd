// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the value types shared by every stage of a
// benchmark sweep: configurations, trial results and aggregated rows.
package datatypes

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Optional
// -----------------------------------------------------------------------------

// Optional is a float64 measurement that may be absent.
//
// Description:
//
//	An absent Optional is the "undefined" sentinel. It is never coerced to
//	zero: arithmetic helpers return an absent result if any operand is absent.
//
// Thread Safety: Value type; safe to copy.
type Optional struct {
	Value float64
	Valid bool
}

// None is the absent measurement.
var None = Optional{}

// Some returns a present measurement. NaN and Inf are treated as absent.
func Some(v float64) Optional {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return None
	}
	return Optional{Value: v, Valid: true}
}

// Get returns the value and whether it is present.
func (o Optional) Get() (float64, bool) {
	return o.Value, o.Valid
}

// Float returns the value, or NaN when absent.
func (o Optional) Float() float64 {
	if !o.Valid {
		return math.NaN()
	}
	return o.Value
}

// Div returns o / d. The result is absent if either side is absent or d is zero.
func (o Optional) Div(d Optional) Optional {
	if !o.Valid || !d.Valid || d.Value == 0 {
		return None
	}
	return Some(o.Value / d.Value)
}

// String formats the value as decimal text, or "NaN" when absent.
func (o Optional) String() string {
	if !o.Valid {
		return "NaN"
	}
	return strconv.FormatFloat(o.Value, 'f', -1, 64)
}

// ParseOptional parses decimal text written by String. Empty text, "NaN"
// and unparsable text yield None.
func ParseOptional(s string) Optional {
	s = strings.TrimSpace(s)
	if s == "" {
		return None
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return None
	}
	return Some(v)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Axis is one named dimension of a sweep with its ordered values.
type Axis struct {
	Name   string
	Values []string
}

// Configuration is one point of a sweep: an ordered set of axis values.
//
// Description:
//
//	Configuration is immutable. With returns a modified copy. Values are kept
//	as text because they are passed to child processes verbatim; numeric
//	accessors parse on demand.
//
// Thread Safety: Immutable; safe for concurrent use.
type Configuration struct {
	names  []string
	values []string
}

// NewConfiguration builds a configuration from parallel name/value slices.
// It panics if the lengths differ.
func NewConfiguration(names, values []string) Configuration {
	if len(names) != len(values) {
		panic(fmt.Sprintf("datatypes: %d axis names for %d values", len(names), len(values)))
	}
	return Configuration{
		names:  append([]string(nil), names...),
		values: append([]string(nil), values...),
	}
}

// Len returns the number of axes.
func (c Configuration) Len() int { return len(c.names) }

// Names returns a copy of the axis names in declaration order.
func (c Configuration) Names() []string { return append([]string(nil), c.names...) }

// Values returns a copy of the axis values in declaration order.
func (c Configuration) Values() []string { return append([]string(nil), c.values...) }

// Get returns the value of the named axis.
func (c Configuration) Get(name string) (string, bool) {
	for i, n := range c.names {
		if n == name {
			return c.values[i], true
		}
	}
	return "", false
}

// Int returns the named axis parsed as an integer.
func (c Configuration) Int(name string) (int, error) {
	v, ok := c.Get(name)
	if !ok {
		return 0, fmt.Errorf("axis %q not in configuration %s", name, c)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("axis %q: %w", name, err)
	}
	return n, nil
}

// With returns a copy with the named axis set to value. Setting an axis that
// is not part of the configuration returns the configuration unchanged and
// false.
func (c Configuration) With(name, value string) (Configuration, bool) {
	for i, n := range c.names {
		if n == name {
			out := NewConfiguration(c.names, c.values)
			out.values[i] = value
			return out, true
		}
	}
	return c, false
}

// Map returns the configuration as a name -> value map.
func (c Configuration) Map() map[string]string {
	m := make(map[string]string, len(c.names))
	for i, n := range c.names {
		m[n] = c.values[i]
	}
	return m
}

// Key returns a canonical identity usable as a map key.
func (c Configuration) Key() string {
	var b strings.Builder
	for i, n := range c.names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(c.values[i])
	}
	return b.String()
}

// String implements fmt.Stringer.
func (c Configuration) String() string {
	return "{" + c.Key() + "}"
}

// Equal reports whether both configurations have the same axes and values.
func (c Configuration) Equal(o Configuration) bool {
	return c.Key() == o.Key()
}

// -----------------------------------------------------------------------------
// Trial results
// -----------------------------------------------------------------------------

// TrialResult is one execution attempt of a configuration.
type TrialResult struct {
	// Time is the primary execution time in seconds.
	Time Optional

	// Secondary is an optional second timing (e.g. data sharing time).
	Secondary Optional

	// Valid is false when the program's own self-check failed.
	Valid bool

	// ExitCode of the benchmarked process. Negative for signals.
	ExitCode int

	// Cause is a human-readable classification of a failure, empty on success.
	Cause string

	// Wall is the wall-clock duration of the invocation as seen by the runner.
	Wall time.Duration
}

// Failed reports whether the trial produced no usable measurement because the
// process itself failed.
func (t TrialResult) Failed() bool {
	return t.ExitCode != 0 || t.Cause != ""
}

// Usable reports whether the trial contributes a primary time to aggregation.
func (t TrialResult) Usable() bool {
	return t.Valid && t.Time.Valid
}

// TrialSet holds every trial collected for one configuration.
type TrialSet struct {
	Config Configuration
	Trials []TrialResult
}

// -----------------------------------------------------------------------------
// Aggregated rows
// -----------------------------------------------------------------------------

// Row is one aggregated configuration with its derived metrics.
type Row struct {
	Config Configuration

	// Trials is the number of attempted trials; Samples the number used.
	Trials  int
	Samples int

	Mean   Optional
	Min    Optional
	Max    Optional
	StdDev Optional

	// CILow and CIHigh bound the 95% confidence interval of the mean.
	CILow  Optional
	CIHigh Optional

	// SecondaryMean is the mean of the secondary timing over valid trials.
	SecondaryMean Optional

	Speedup    Optional
	Efficiency Optional
}

// Metric names a column that can be read out of a Row.
type Metric string

const (
	MetricMean       Metric = "mean"
	MetricMin        Metric = "min"
	MetricMax        Metric = "max"
	MetricStdDev     Metric = "stddev"
	MetricSecondary  Metric = "secondary"
	MetricSpeedup    Metric = "speedup"
	MetricEfficiency Metric = "efficiency"
)

// Value returns the row's value for the metric.
func (r Row) Value(m Metric) (Optional, error) {
	switch m {
	case MetricMean:
		return r.Mean, nil
	case MetricMin:
		return r.Min, nil
	case MetricMax:
		return r.Max, nil
	case MetricStdDev:
		return r.StdDev, nil
	case MetricSecondary:
		return r.SecondaryMean, nil
	case MetricSpeedup:
		return r.Speedup, nil
	case MetricEfficiency:
		return r.Efficiency, nil
	default:
		return None, fmt.Errorf("unknown metric %q", m)
	}
}

// RowHeader is the CSV header for aggregated rows, after the axis columns.
var RowHeader = []string{
	"trials", "samples", "mean", "min", "max", "stddev",
	"ci_low", "ci_high", "secondary_mean", "speedup", "efficiency",
}

// Header returns the axis names followed by RowHeader.
func (r Row) Header() []string {
	return append(r.Config.Names(), RowHeader...)
}

// Record returns the row as CSV fields matching Header.
func (r Row) Record() []string {
	out := r.Config.Values()
	return append(out,
		strconv.Itoa(r.Trials),
		strconv.Itoa(r.Samples),
		r.Mean.String(),
		r.Min.String(),
		r.Max.String(),
		r.StdDev.String(),
		r.CILow.String(),
		r.CIHigh.String(),
		r.SecondaryMean.String(),
		r.Speedup.String(),
		r.Efficiency.String(),
	)
}
