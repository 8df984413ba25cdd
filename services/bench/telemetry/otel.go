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
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrOTelInitFailed is returned when OpenTelemetry initialization fails.
	ErrOTelInitFailed = errors.New("opentelemetry initialization failed")

	// ErrInvalidOTelConfig is returned when the OTel configuration is invalid.
	ErrInvalidOTelConfig = errors.New("invalid opentelemetry configuration")

	// ErrSinkClosed is returned when recording on a closed sink.
	ErrSinkClosed = errors.New("telemetry sink is closed")
)

const instrumentationName = "github.com/AleutianAI/parbench/services/bench/telemetry"

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// OTelConfig configures the OpenTelemetry sink.
//
// Description:
//
//	OTelConfig specifies service name, instrumentation version, and optional
//	providers for tracing and metrics.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type OTelConfig struct {
	// ServiceName is the service name for telemetry.
	// Required.
	ServiceName string

	// ServiceVersion is the instrumentation version.
	// Optional.
	ServiceVersion string

	// TracerProvider is the tracer provider to use.
	// If nil, uses the global tracer provider.
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If nil, uses the global meter provider.
	MeterProvider metric.MeterProvider

	// TraceEnabled enables trace span creation.
	// Default: true.
	TraceEnabled bool

	// MetricsEnabled enables metric recording.
	// Default: true.
	MetricsEnabled bool
}

// DefaultOTelConfig returns a configuration with both signals enabled.
//
// Example:
//
//	config := telemetry.DefaultOTelConfig()
//	config.TracerProvider = providers.Tracer
//	sink, err := telemetry.NewOTelSink(config)
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "parbench",
		ServiceVersion: "1.0.0",
		TraceEnabled:   true,
		MetricsEnabled: true,
	}
}

// Validate checks that required fields are set.
func (c *OTelConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// OpenTelemetry Sink
// -----------------------------------------------------------------------------

// OTelSink records sweeps as spans and metrics.
//
// Description:
//
//	A sweep is one root span; each configuration is a child span and each
//	trial a grandchild whose start time is back-dated by the trial's wall
//	time. Trial durations feed a histogram, trial outcomes a counter, and
//	final speedups a gauge.
//
// Thread Safety: Safe for concurrent use.
type OTelSink struct {
	config *OTelConfig
	tracer trace.Tracer
	meter  metric.Meter

	trialDuration  metric.Float64Histogram
	trialsTotal    metric.Int64Counter
	configDuration metric.Float64Histogram
	speedup        metric.Float64Gauge
	efficiency     metric.Float64Gauge

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates an OpenTelemetry sink.
//
// Inputs:
//   - config: OpenTelemetry configuration. Must not be nil.
//
// Outputs:
//   - *OTelSink: The created sink. Never nil on success.
//   - error: Non-nil if configuration is invalid or initialization fails.
//
// Assumptions:
//   - Caller is responsible for shutting down providers.
func NewOTelSink(config *OTelConfig) (*OTelSink, error) {
	if config == nil {
		return nil, ErrInvalidOTelConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOTelConfig, err)
	}

	cfg := *config

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	s := &OTelSink{
		config: &cfg,
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:  mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}

	if cfg.MetricsEnabled {
		if err := s.initializeMetrics(); err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
	}
	return s, nil
}

func (s *OTelSink) initializeMetrics() error {
	var err error

	s.trialDuration, err = s.meter.Float64Histogram(
		"trial.duration",
		metric.WithDescription("Wall-clock duration of one trial"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	s.trialsTotal, err = s.meter.Int64Counter(
		"trial.total",
		metric.WithDescription("Trials executed, by outcome"),
		metric.WithUnit("{trial}"),
	)
	if err != nil {
		return err
	}

	s.configDuration, err = s.meter.Float64Histogram(
		"configuration.duration",
		metric.WithDescription("Duration of all repetitions of one configuration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	s.speedup, err = s.meter.Float64Gauge(
		"configuration.speedup",
		metric.WithDescription("Speedup over the baseline configuration"),
		metric.WithUnit("{ratio}"),
	)
	if err != nil {
		return err
	}

	s.efficiency, err = s.meter.Float64Gauge(
		"configuration.efficiency",
		metric.WithDescription("Speedup divided by workers"),
		metric.WithUnit("{ratio}"),
	)
	return err
}

func (s *OTelSink) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Outcome classifies a trial for the outcome attribute.
func Outcome(res datatypes.TrialResult) string {
	switch {
	case res.Failed():
		return "failed"
	case !res.Valid:
		return "invalid"
	case !res.Time.Valid:
		return "unparsed"
	default:
		return "ok"
	}
}

// ConfigAttributes converts a configuration to span attributes "axis.<name>".
func ConfigAttributes(cfg datatypes.Configuration) []attribute.KeyValue {
	names, values := cfg.Names(), cfg.Values()
	attrs := make([]attribute.KeyValue, len(names))
	for i := range names {
		attrs[i] = attribute.String("axis."+names[i], values[i])
	}
	return attrs
}

// StartSweepSpan starts the root span of a sweep. The caller ends it.
func (s *OTelSink) StartSweepSpan(ctx context.Context, exercise, runID string, configurations int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "sweep."+exercise,
		trace.WithAttributes(
			attribute.String("exercise", exercise),
			attribute.String("run.id", runID),
			attribute.Int("configurations", configurations),
		),
	)
}

// StartConfigSpan starts the span of one configuration.
func (s *OTelSink) StartConfigSpan(ctx context.Context, index int, cfg datatypes.Configuration) (context.Context, trace.Span) {
	attrs := append(ConfigAttributes(cfg), attribute.Int("configuration.index", index))
	return s.tracer.Start(ctx, "configuration", trace.WithAttributes(attrs...))
}

// RecordTrial records one finished trial under the span in ctx.
//
// Description:
//
//	The trial span is created after the fact, starting res.Wall before now.
//	Failed and invalid trials set the span status to Error with the cause.
func (s *OTelSink) RecordTrial(ctx context.Context, cfg datatypes.Configuration, rep int, res datatypes.TrialResult) error {
	if s.isClosed() {
		return ErrSinkClosed
	}
	outcome := Outcome(res)

	if s.config.TraceEnabled {
		end := time.Now()
		attrs := []attribute.KeyValue{
			attribute.Int("trial.repetition", rep),
			attribute.Int("trial.exit_code", res.ExitCode),
			attribute.Bool("trial.valid", res.Valid),
			attribute.String("trial.outcome", outcome),
		}
		if v, ok := res.Time.Get(); ok {
			attrs = append(attrs, attribute.Float64("trial.time_seconds", v))
		}
		if v, ok := res.Secondary.Get(); ok {
			attrs = append(attrs, attribute.Float64("trial.secondary_seconds", v))
		}
		_, span := s.tracer.Start(ctx, "trial",
			trace.WithTimestamp(end.Add(-res.Wall)),
			trace.WithAttributes(attrs...),
		)
		if outcome != "ok" {
			span.SetStatus(codes.Error, res.Cause)
		}
		span.End(trace.WithTimestamp(end))
	}

	if s.config.MetricsEnabled {
		set := metric.WithAttributes(attribute.String("outcome", outcome))
		s.trialsTotal.Add(ctx, 1, set)
		s.trialDuration.Record(ctx, res.Wall.Seconds(), metric.WithAttributes(ConfigAttributes(cfg)...))
	}
	return nil
}

// RecordConfig records the total duration of one configuration.
func (s *OTelSink) RecordConfig(ctx context.Context, cfg datatypes.Configuration, elapsed time.Duration) error {
	if s.isClosed() {
		return ErrSinkClosed
	}
	if s.config.MetricsEnabled {
		s.configDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(ConfigAttributes(cfg)...))
	}
	return nil
}

// RecordRows records speedup and efficiency gauges for aggregated rows.
// Undefined values are skipped.
func (s *OTelSink) RecordRows(ctx context.Context, rows []datatypes.Row) error {
	if s.isClosed() {
		return ErrSinkClosed
	}
	if !s.config.MetricsEnabled {
		return nil
	}
	for _, r := range rows {
		attrs := metric.WithAttributes(ConfigAttributes(r.Config)...)
		if v, ok := r.Speedup.Get(); ok {
			s.speedup.Record(ctx, v, attrs)
		}
		if v, ok := r.Efficiency.Get(); ok {
			s.efficiency.Record(ctx, v, attrs)
		}
	}
	return nil
}

// Close marks the sink closed. Providers are owned by the caller.
//
// Thread Safety: Safe for concurrent use. Idempotent.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
