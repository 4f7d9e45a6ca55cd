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

// Package app wires the configured components together for the commands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/bcem/digest/internal/api"
	"github.com/bcem/digest/internal/config"
	"github.com/bcem/digest/internal/dedup"
	"github.com/bcem/digest/internal/mailbox"
	"github.com/bcem/digest/internal/metrics"
	"github.com/bcem/digest/internal/pipeline"
	"github.com/bcem/digest/internal/queue"
	"github.com/bcem/digest/internal/store"
	"github.com/bcem/digest/internal/summary"
	"github.com/bcem/digest/internal/timestamp"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config    *config.Config
	Store     store.Store
	Mailbox   *mailbox.Service
	Publisher *queue.Publisher // nil without Redis
	Pipeline  *pipeline.Orchestrator
	Registry  *prometheus.Registry

	rdb *redis.Client
}

// NewLogger returns a JSON logger at the named level (debug, info, warn,
// error). Unknown names fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// New connects to the store and Redis and builds the pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}

	st, err := store.Open(ctx, cfg.Database, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st
	slog.Info("connected to database", "driver", cfg.Database.Driver)

	var filter *dedup.Filter
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opt)
		a.Publisher = queue.NewPublisher(a.rdb, cfg.EventsQueue)
		if err := a.Publisher.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		filter = dedup.NewFilter(a.rdb, dedup.DefaultTTL)
		slog.Info("connected to Redis", "queue", cfg.EventsQueue)
	} else {
		slog.Info("redis not configured, ingest events disabled")
	}

	a.Mailbox = mailbox.NewService(cfg.IMAP, mailboxTokens(ctx, cfg.IMAP))

	summarizer, err := summary.NewFromConfig(cfg.Summary, &http.Client{})
	if err != nil {
		a.Close()
		return nil, err
	}

	pcfg := pipeline.Config{
		Mailbox:    a.Mailbox,
		Store:      a.Store,
		Summarizer: summarizer,
		Resolver:   timestamp.NewResolver(cfg.Location),
		Folder:     cfg.IMAP.Folder,
		Metrics:    metrics.New(a.Registry),
	}
	// Leave the interfaces nil, not typed-nil, when Redis is off.
	if a.Publisher != nil {
		pcfg.Publisher = a.Publisher
		pcfg.Dedup = filter
	}
	a.Pipeline = pipeline.NewOrchestrator(pcfg)
	return a, nil
}

// RedisPinger returns the Redis health check, or nil without Redis.
func (a *App) RedisPinger() api.Pinger {
	if a.Publisher == nil {
		return nil
	}
	return a.Publisher
}

// Close releases the store and Redis connections.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			slog.Warn("close store failed", "error", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("close redis failed", "error", err)
		}
	}
}

func mailboxTokens(ctx context.Context, cfg config.IMAPConfig) oauth2.TokenSource {
	if cfg.Auth == config.AuthPassword || cfg.Auth == "" {
		return nil
	}
	return mailbox.NewTokenSource(ctx, cfg.OAuth)
}
