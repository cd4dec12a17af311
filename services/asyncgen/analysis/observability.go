// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const analysisTracerName = "asyncgen.analysis"

var (
	tracer = otel.Tracer(analysisTracerName)
	meter  = otel.Meter(analysisTracerName)
)

// Pass names, used in spans, metrics and errors.
const (
	passTreeBuilder    = "tree_builder"
	passPreAnalysis    = "pre_analysis"
	passDiscovery      = "discovery"
	passClassification = "classification"
	passPostAnalysis   = "post_analysis"
)

// Package-level Prometheus metrics for analysis runs.
var (
	// passDuration measures each pass.
	//
	// Labels:
	//   - pass: tree_builder, pre_analysis, discovery, classification, post_analysis
	//   - status: "success" or "error"
	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asyncgen",
			Subsystem: "analysis",
			Name:      "pass_duration_seconds",
			Help:      "Duration of analysis passes in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"pass", "status"},
	)

	// runsTotal counts analysis runs.
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asyncgen",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Total number of analysis runs.",
		},
		[]string{"status"},
	)
)

// verdictCounter counts final method verdicts through the OTel meter so
// that exporters configured by the host see them too.
var verdictCounter, _ = meter.Int64Counter(
	"asyncgen.analysis.verdicts",
	metric.WithDescription("Final function verdicts per analysis run."),
)

// startPass opens the span of a pass and returns a function that ends it and
// records the duration.
func startPass(ctx context.Context, pass string, documents int) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, "analysis."+pass,
		trace.WithAttributes(
			attribute.String("pass", pass),
			attribute.Int("documents", documents),
		),
	)
	start := time.Now()
	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		passDuration.WithLabelValues(pass, status).Observe(time.Since(start).Seconds())
		span.End()
	}
}

func recordVerdicts(ctx context.Context, counts map[MethodConversion]int64) {
	if verdictCounter == nil {
		return
	}
	for c, n := range counts {
		verdictCounter.Add(ctx, n, metric.WithAttributes(attribute.String("conversion", c.String())))
	}
}
