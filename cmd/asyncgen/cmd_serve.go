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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/asyncgen/services/asyncgen"
)

// storeDirEnv overrides the default snapshot store directory of the server.
const storeDirEnv = "ASYNCGEN_STORE_DIR"

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	port           int
	storeDir       string
	noStore        bool
	debug          bool
	analyzeRate    float64
	analyzeBurst   int
	analyzeTimeout time.Duration
	trace          string
	otlpEndpoint   string
	metrics        string
}

func newServeCommand(g *globalOptions) *cobra.Command {
	o := &serveOptions{}
	defaults := asyncgen.DefaultServiceConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis and snapshot HTTP API",
		Long: `Serve exposes the analysis over HTTP under /v1/asyncgen and Prometheus
metrics on /metrics.

Snapshots are kept in --store, or $ASYNCGEN_STORE_DIR, or in memory when
neither is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.port, "port", 8080, "port to listen on")
	f.StringVar(&o.storeDir, "store", "", "snapshot store directory")
	f.BoolVar(&o.noStore, "no-store", false, "disable snapshot endpoints")
	f.BoolVar(&o.debug, "debug", false, "gin debug mode and request logging")
	f.Float64Var(&o.analyzeRate, "analyze-rate", defaults.AnalyzeRate, "analyze requests per second, 0 disables limiting")
	f.IntVar(&o.analyzeBurst, "analyze-burst", defaults.AnalyzeBurst, "analyze request burst")
	f.DurationVar(&o.analyzeTimeout, "analyze-timeout", defaults.AnalyzeTimeout, "upper bound for one analysis")
	f.StringVar(&o.trace, "trace", "", "export spans: stdout or otlp")
	f.StringVar(&o.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector host:port, used with --trace=otlp")
	f.StringVar(&o.metrics, "metrics", metricsPrometheus, "export otel metrics: prometheus, stdout or empty")
	return cmd
}

func runServe(ctx context.Context, g *globalOptions, o *serveOptions) error {
	logger := g.logger

	if o.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := setupTracing(ctx, o.trace, o.otlpEndpoint, os.Stderr)
	if err != nil {
		return err
	}
	shutdownMetrics, err := setupMetrics(o.metrics, os.Stderr)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}
	defer func() {
		if err := shutdownAll(context.Background(), shutdownTracing, shutdownMetrics); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	cfg := asyncgen.DefaultServiceConfig()
	cfg.AnalyzeRate = o.analyzeRate
	cfg.AnalyzeBurst = o.analyzeBurst
	cfg.AnalyzeTimeout = o.analyzeTimeout
	opts := []asyncgen.ServiceOption{asyncgen.WithLogger(logger)}

	if !o.noStore {
		dir := o.storeDir
		if dir == "" {
			dir = os.Getenv(storeDirEnv)
		}
		mgr, closeStore, err := openStore(dir, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		if dir == "" {
			logger.Warn("snapshot store is in memory, snapshots are lost on exit")
		} else {
			logger.Info("snapshot store opened", slog.String("path", dir))
		}
		opts = append(opts, asyncgen.WithSnapshotManager(mgr))
	}

	svc := asyncgen.NewService(cfg, opts...)
	router := newRouter(svc, o.debug)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", o.port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting asyncgen server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down asyncgen server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with the API under /v1 and Prometheus
// metrics on /metrics.
func newRouter(svc *asyncgen.Service, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	asyncgen.RegisterRoutes(v1, asyncgen.NewHandlers(svc))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
