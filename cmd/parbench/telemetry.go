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
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
	"github.com/AleutianAI/parbench/services/bench/telemetry"
)

// shutdownTimeout bounds the final telemetry flush.
const shutdownTimeout = 5 * time.Second

// sweepTelemetry owns the exporters of one sweep.
//
// Description:
//
//	Spans go to the trace file. A metrics file ending in .json receives the
//	OTel metrics as JSON; any other name receives every metric, OTel and
//	native Prometheus, in the node-exporter textfile format.
type sweepTelemetry struct {
	exercise  string
	providers *telemetry.Providers
	sink      *telemetry.OTelSink
	registry  *prometheus.Registry
	metrics   *telemetry.SweepMetrics
	observer  *telemetry.Observer
	ctx       context.Context
	span      trace.Span
	textfile  string
}

// startTelemetry returns nil when neither file is requested.
func startTelemetry(ctx context.Context, logger *slog.Logger, exercise, runID string, configurations int, traceFile, metricsFile string) (*sweepTelemetry, error) {
	if traceFile == "" && metricsFile == "" {
		return nil, nil
	}

	t := &sweepTelemetry{exercise: exercise, registry: prometheus.NewRegistry()}
	var jsonMetrics string
	if strings.EqualFold(filepath.Ext(metricsFile), ".json") {
		jsonMetrics = metricsFile
	} else {
		t.textfile = metricsFile
	}

	providers, err := telemetry.NewFileProviders("parbench", traceFile, jsonMetrics, t.registry)
	if err != nil {
		return nil, err
	}
	t.providers = providers

	cfg := telemetry.DefaultOTelConfig()
	cfg.TracerProvider = providers.Tracer
	cfg.MeterProvider = providers.Meter
	sink, err := telemetry.NewOTelSink(cfg)
	if err != nil {
		return nil, errors.Join(err, providers.Shutdown(context.Background()))
	}
	t.sink = sink
	t.metrics = telemetry.NewSweepMetrics(t.registry)

	t.ctx, t.span = sink.StartSweepSpan(ctx, exercise, runID, configurations)
	t.observer = telemetry.NewObserver(t.ctx, exercise, sink, t.metrics, logger)
	return t, nil
}

// Observer returns the sweep observer.
func (t *sweepTelemetry) Observer() *telemetry.Observer {
	return t.observer
}

// Finish records final speedups, ends the sweep span, writes the metrics
// textfile and flushes the exporters.
func (t *sweepTelemetry) Finish(rows []datatypes.Row, runErr error) error {
	var errs []error
	if runErr != nil {
		t.observer.Abort(runErr.Error())
		t.span.RecordError(runErr)
		t.span.SetStatus(codes.Error, runErr.Error())
	} else {
		t.metrics.MarkCompleted(t.exercise)
	}
	errs = append(errs, t.sink.RecordRows(context.WithoutCancel(t.ctx), rows))
	t.span.End()

	if t.textfile != "" {
		errs = append(errs, telemetry.WriteTextfile(t.textfile, t.registry))
	}
	errs = append(errs, t.sink.Close())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs = append(errs, t.providers.Shutdown(ctx))
	return errors.Join(errs...)
}
