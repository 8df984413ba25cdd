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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ProviderOptions selects where telemetry goes.
type ProviderOptions struct {
	ServiceName string

	// TraceWriter receives spans as JSON lines. Nil disables tracing.
	TraceWriter io.Writer

	// MetricWriter receives OTel metrics as JSON on shutdown. Nil disables
	// the stdout metric exporter.
	MetricWriter io.Writer

	// Registry, when set, also exposes OTel metrics in Prometheus format.
	Registry *prometheus.Registry
}

// Providers owns the SDK providers for one command.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider

	closers []io.Closer
}

// NewProviders builds SDK providers.
//
// Description:
//
//	The tracer provider always exists so spans carry valid IDs; without a
//	TraceWriter no exporter is attached. The meter provider gets a periodic
//	stdout reader for MetricWriter and a Prometheus reader for Registry.
//
// Outputs:
//   - *Providers: Must be shut down by the caller.
//   - error: Exporter construction failure.
func NewProviders(opts ProviderOptions) (*Providers, error) {
	name := opts.ServiceName
	if name == "" {
		name = DefaultOTelConfig().ServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.TraceWriter != nil {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(opts.TraceWriter))
		if err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exp))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.MetricWriter != nil {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.MetricWriter))
		if err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	if opts.Registry != nil {
		exp, err := otelprom.New(otelprom.WithRegisterer(opts.Registry))
		if err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(exp))
	}

	return &Providers{
		Tracer: sdktrace.NewTracerProvider(traceOpts...),
		Meter:  sdkmetric.NewMeterProvider(meterOpts...),
	}, nil
}

// NewFileProviders opens tracePath and metricPath (either may be empty)
// and builds providers writing to them. The files are closed by Shutdown.
func NewFileProviders(serviceName, tracePath, metricPath string, reg *prometheus.Registry) (*Providers, error) {
	opts := ProviderOptions{ServiceName: serviceName, Registry: reg}
	var closers []io.Closer

	open := func(path string) (*os.File, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		closers = append(closers, f)
		return f, nil
	}
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if tracePath != "" {
		f, err := open(tracePath)
		if err != nil {
			return nil, err
		}
		opts.TraceWriter = f
	}
	if metricPath != "" {
		f, err := open(metricPath)
		if err != nil {
			closeAll()
			return nil, err
		}
		opts.MetricWriter = f
	}

	p, err := NewProviders(opts)
	if err != nil {
		closeAll()
		return nil, err
	}
	p.closers = closers
	return p, nil
}

// Shutdown flushes and stops both providers, then closes owned files.
func (p *Providers) Shutdown(ctx context.Context) error {
	errs := []error{
		p.Tracer.Shutdown(ctx),
		p.Meter.Shutdown(ctx),
	}
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
