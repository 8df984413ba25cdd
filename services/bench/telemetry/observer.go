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
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/sweep"
)

// Observer forwards sweep callbacks to an OTelSink and SweepMetrics.
//
// Description:
//
//	Each configuration gets a span under the context the Observer was
//	created with; trials are recorded beneath it. Either destination may be
//	nil. Telemetry errors never stop a sweep.
//
// Thread Safety: Not safe for concurrent use; the sweep driver calls it
// from one goroutine.
type Observer struct {
	ctx      context.Context
	exercise string
	otel     *OTelSink
	metrics  *SweepMetrics
	logger   *slog.Logger

	cfgCtx  context.Context
	cfgSpan trace.Span
}

// NewObserver creates an Observer. ctx usually carries the sweep span.
// Recording failures are logged at debug level to logger, or to
// slog.Default when logger is nil.
func NewObserver(ctx context.Context, exercise string, otel *OTelSink, metrics *SweepMetrics, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{ctx: ctx, exercise: exercise, otel: otel, metrics: metrics, logger: logger}
}

// ConfigStarted opens the configuration span.
func (o *Observer) ConfigStarted(index, total int, cfg datatypes.Configuration) {
	if o.otel == nil {
		return
	}
	o.cfgCtx, o.cfgSpan = o.otel.StartConfigSpan(o.ctx, index, cfg)
	o.cfgSpan.SetAttributes(attribute.Int("configurations", total))
}

// TrialDone records the trial.
func (o *Observer) TrialDone(cfg datatypes.Configuration, rep int, res datatypes.TrialResult) {
	if o.otel != nil {
		ctx := o.cfgCtx
		if ctx == nil {
			ctx = o.ctx
		}
		if err := o.otel.RecordTrial(ctx, cfg, rep, res); err != nil {
			o.logger.Debug("trial telemetry not recorded", "config", cfg.String(), "rep", rep, "error", err)
		}
	}
	if o.metrics != nil {
		o.metrics.ObserveTrial(o.exercise, res)
	}
}

// ConfigDone closes the configuration span.
func (o *Observer) ConfigDone(set datatypes.TrialSet, elapsed time.Duration) error {
	if o.otel != nil {
		if err := o.otel.RecordConfig(o.ctx, set.Config, elapsed); err != nil {
			o.logger.Debug("configuration telemetry not recorded", "config", set.Config.String(), "error", err)
		}
		if o.cfgSpan != nil {
			o.cfgSpan.End()
			o.cfgSpan, o.cfgCtx = nil, nil
		}
	}
	if o.metrics != nil {
		o.metrics.ObserveConfig(o.exercise)
	}
	return nil
}

// Abort ends a configuration span left open by an interrupted sweep.
func (o *Observer) Abort(reason string) {
	if o.cfgSpan != nil {
		o.cfgSpan.AddEvent("interrupted", trace.WithAttributes(attribute.String("reason", reason)))
		o.cfgSpan.End()
		o.cfgSpan, o.cfgCtx = nil, nil
	}
}

var _ sweep.Observer = (*Observer)(nil)
