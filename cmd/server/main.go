// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Digest service
//
// Entry point for the long-running digest service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to the database and, when configured, Redis
//  3. Runs scheduled IMAP ingestion passes
//  4. Serves the day digest API and Prometheus metrics
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/digest/internal/api"
	"github.com/bcem/digest/internal/app"
	"github.com/bcem/digest/internal/config"
	"github.com/bcem/digest/internal/pipeline"
	"github.com/bcem/digest/internal/scheduler"
)

// Summaries can take a while; /ingest responds only after the whole pass.
const apiWriteTimeout = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg.LogLevel))

	slog.Info("starting digest service",
		"imap", cfg.IMAP.Addr(),
		"folder", cfg.IMAP.Folder,
		"timezone", cfg.Timezone,
		"schedule", cfg.Schedule,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Scheduled ingestion ---
	sched, err := scheduler.New("ingest", cfg.Schedule, cfg.Location, func(ctx context.Context) error {
		result, err := a.Pipeline.Run(ctx)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			slog.Info("skipping scheduled ingestion, run already in progress")
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("scheduled ingestion complete",
			"run_id", result.RunID,
			"found", result.Found,
			"ingested", len(result.Items),
			"skipped", result.Skipped,
		)
		return nil
	})
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	// --- HTTP Server ---
	mux := http.NewServeMux()
	api.NewHandler(a.Store, a.Pipeline, a.Mailbox, a.RedisPinger()).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	stopped, err := api.Serve(ctx, cfg.Port, mux, apiWriteTimeout)
	if err != nil {
		slog.Error("failed to start HTTP server", "error", err)
		os.Exit(1)
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case <-stopped:
		slog.Error("HTTP server stopped unexpectedly")
	}

	cancel()
	<-stopped
	wg.Wait()
	slog.Info("digest service stopped")
}
