// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultConfidence is the confidence level of Row.CILow/CIHigh.
const DefaultConfidence = 0.95

// DefaultOutlierThreshold is the IQR multiplier used when trimming.
const DefaultOutlierThreshold = 1.5

// Summary holds descriptive statistics over one sample.
type Summary struct {
	N      int
	Mean   float64
	Min    float64
	Max    float64
	StdDev float64
	CILow  float64
	CIHigh float64
}

// Describe computes statistics over samples.
//
// Description:
//
//	The input is copied and sorted ascending before any arithmetic, so every
//	permutation of the same multiset yields bit-identical results. With one
//	sample the standard deviation is zero and the confidence interval
//	collapses to the value.
//
// Inputs:
//   - samples: Present, valid measurements. Must not be empty.
//
// Outputs:
//   - Summary: Statistics. ok is false for an empty sample.
func Describe(samples []float64) (Summary, bool) {
	if len(samples) == 0 {
		return Summary{}, false
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	s := Summary{
		N:   len(sorted),
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
	}
	if s.N == 1 {
		s.Mean = sorted[0]
		s.CILow, s.CIHigh = s.Mean, s.Mean
		return s, true
	}

	s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	margin := tCritical(s.N-1, DefaultConfidence) * s.StdDev / math.Sqrt(float64(s.N))
	s.CILow, s.CIHigh = s.Mean-margin, s.Mean+margin
	return s, true
}

// sortedMean sums in ascending order.
func sortedMean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return stat.Mean(sorted, nil), true
}

// tCritical returns the two-tailed Student's t critical value.
func tCritical(df int, confidence float64) float64 {
	if df < 1 {
		df = 1
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return t.Quantile(1 - (1-confidence)/2)
}

// RemoveOutliers drops values outside [Q1 - k*IQR, Q3 + k*IQR].
//
// Description:
//
//	Quartiles interpolate the empirical distribution function linearly.
//	Samples with fewer than four values are returned unchanged; quartiles
//	are meaningless below that. The result is sorted.
func RemoveOutliers(samples []float64, k float64) []float64 {
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	if len(sorted) < 4 {
		return sorted
	}
	if k <= 0 {
		k = DefaultOutlierThreshold
	}

	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	lo, hi := q1-k*iqr, q3+k*iqr

	out := sorted[:0:0]
	for _, v := range sorted {
		if v >= lo && v <= hi {
			out = append(out, v)
		}
	}
	return out
}
