// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package asyncgen

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncgen",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "asyncgen",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncgen",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the analyze rate limiter",
	})
)

// MetricsMiddleware records request counts and latencies. Unmatched routes
// are recorded as "unmatched" to bound label cardinality.
//
// Thread Safety: This middleware is safe for concurrent use.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// RateLimitMiddleware rejects requests with 429 once the limiter has no
// tokens left.
//
// Description:
//
//	The Retry-After header holds the number of seconds until a token is
//	available. The rejection is recorded on the active span, which otelgin
//	extracts from the request context when tracing is enabled.
//
// Thread Safety: This middleware is safe for concurrent use.
func RateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := limiter.Reserve()
		delay := r.Delay()
		if r.OK() && delay == 0 {
			c.Next()
			return
		}
		if r.OK() {
			r.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		}

		rateLimited.Inc()
		span := trace.SpanFromContext(c.Request.Context())
		span.SetAttributes(attribute.Bool("rate_limited", true))
		span.SetStatus(codes.Error, "rate limited")

		slog.Warn("request rate limited",
			slog.String("path", c.Request.URL.Path),
			slog.String("method", c.Request.Method),
		)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "too many analysis requests",
			Code:  "RATE_LIMITED",
		})
	}
}
