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
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "asyncgen"

// Trace exporters.
const (
	traceNone   = ""
	traceStdout = "stdout"
	traceOTLP   = "otlp"
)

// Metric exporters.
const (
	metricsNone       = ""
	metricsStdout     = "stdout"
	metricsPrometheus = "prometheus"
)

// shutdownFunc flushes and stops a telemetry provider.
type shutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func telemetryResource() *resource.Resource {
	return resource.NewSchemaless(attribute.String("service.name", serviceName))
}

// setupTracing installs the global tracer provider.
//
// Inputs:
//
//	exporter - "" (no tracing), "stdout" (pretty JSON to w) or "otlp".
//	endpoint - host:port of the OTLP gRPC collector, used with "otlp".
//
// Outputs:
//
//	shutdownFunc - Flushes pending spans. Always non-nil.
//	error - Unknown exporter or exporter creation failure.
func setupTracing(ctx context.Context, exporter, endpoint string, w io.Writer) (shutdownFunc, error) {
	var exp sdktrace.SpanExporter
	var err error
	switch exporter {
	case traceNone:
		return noopShutdown, nil
	case traceStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	case traceOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	default:
		return noopShutdown, fmt.Errorf("unknown trace exporter %q", exporter)
	}
	if err != nil {
		return noopShutdown, fmt.Errorf("creating %s trace exporter: %w", exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(telemetryResource()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// setupMetrics installs the global meter provider.
//
// Inputs:
//
//	exporter - "" (no metrics), "stdout" (pretty JSON to w on shutdown and
//	           periodically) or "prometheus" (bridged into the default
//	           Prometheus registry served on /metrics).
func setupMetrics(exporter string, w io.Writer) (shutdownFunc, error) {
	var reader sdkmetric.Reader
	switch exporter {
	case metricsNone:
		return noopShutdown, nil
	case metricsStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return noopShutdown, fmt.Errorf("creating stdout metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	case metricsPrometheus:
		exp, err := otelprom.New()
		if err != nil {
			return noopShutdown, fmt.Errorf("creating prometheus metric exporter: %w", err)
		}
		reader = exp
	default:
		return noopShutdown, fmt.Errorf("unknown metrics exporter %q", exporter)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(telemetryResource()),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// shutdownAll runs every shutdown function and aggregates their errors.
func shutdownAll(ctx context.Context, fns ...shutdownFunc) error {
	var errs *multierror.Error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
