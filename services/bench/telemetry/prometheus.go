// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// =============================================================================
// Prometheus Metrics for Sweeps
// =============================================================================

// SweepMetrics are the sweep progress counters exported in the
// node-exporter textfile format.
type SweepMetrics struct {
	// trials counts trials by exercise and outcome.
	trials *prometheus.CounterVec

	// failures counts failed trials by exercise and cause.
	failures *prometheus.CounterVec

	// configurations counts completed configurations by exercise.
	configurations *prometheus.CounterVec

	// trialSeconds is the distribution of trial wall times.
	trialSeconds *prometheus.HistogramVec

	// lastRun is the unix time a sweep last finished, by exercise.
	lastRun *prometheus.GaugeVec
}

// NewSweepMetrics registers the sweep metrics with reg.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	f := promauto.With(reg)
	return &SweepMetrics{
		trials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parbench",
			Subsystem: "sweep",
			Name:      "trials_total",
			Help:      "Total trials executed by outcome",
		}, []string{"exercise", "outcome"}),

		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parbench",
			Subsystem: "sweep",
			Name:      "trial_failures_total",
			Help:      "Total failed trials by cause",
		}, []string{"exercise", "cause"}),

		configurations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parbench",
			Subsystem: "sweep",
			Name:      "configurations_total",
			Help:      "Total configurations completed",
		}, []string{"exercise"}),

		trialSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parbench",
			Subsystem: "sweep",
			Name:      "trial_seconds",
			Help:      "Trial wall-clock time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"exercise"}),

		lastRun: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parbench",
			Subsystem: "sweep",
			Name:      "last_completion_timestamp_seconds",
			Help:      "Unix time the last sweep completed",
		}, []string{"exercise"}),
	}
}

// ObserveTrial counts one trial.
func (m *SweepMetrics) ObserveTrial(exercise string, res datatypes.TrialResult) {
	outcome := Outcome(res)
	m.trials.WithLabelValues(exercise, outcome).Inc()
	if outcome == "failed" {
		cause := res.Cause
		if cause == "" {
			cause = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		m.failures.WithLabelValues(exercise, cause).Inc()
	}
	m.trialSeconds.WithLabelValues(exercise).Observe(res.Wall.Seconds())
}

// ObserveConfig counts one completed configuration.
func (m *SweepMetrics) ObserveConfig(exercise string) {
	m.configurations.WithLabelValues(exercise).Inc()
}

// MarkCompleted sets the completion timestamp to now.
func (m *SweepMetrics) MarkCompleted(exercise string) {
	m.lastRun.WithLabelValues(exercise).SetToCurrentTime()
}

// WriteTextfile writes every metric in g to path in the text exposition
// format, atomically, creating the parent directory.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
