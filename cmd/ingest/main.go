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

// Digest one-shot ingestion command
//
// Runs a single ingestion pass against the configured mailbox and exits.
// Useful for cron-driven deployments and for seeding a fresh database.
//
// Usage:
//
//	go run ./cmd/ingest/ [--folder Newsletters] [--list-folders] [--summarize-day <id>]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bcem/digest/internal/app"
	"github.com/bcem/digest/internal/config"
)

func main() {
	// --- CLI Flags ---
	folderFlag := flag.String("folder", "", "Mailbox folder to ingest (default: configured folder)")
	listFlag := flag.Bool("list-folders", false, "List mailbox folders and exit")
	dayFlag := flag.Int64("summarize-day", 0, "Regenerate the summary of the given day id and exit")
	flag.Parse()

	if *dayFlag < 0 {
		fmt.Fprintf(os.Stderr, "Error: --summarize-day must be a positive id\n\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}

	code := run(ctx, a, *folderFlag, *listFlag, *dayFlag)
	a.Close()
	os.Exit(code)
}

func run(ctx context.Context, a *app.App, folder string, listFolders bool, dayID int64) int {
	switch {
	case listFolders:
		folders, err := a.Mailbox.ListFolders(ctx)
		if err != nil {
			slog.Error("list folders failed", "error", err)
			return 1
		}
		for _, f := range folders {
			fmt.Println(f)
		}
		return 0

	case dayID > 0:
		result, err := a.Pipeline.SummarizeDay(ctx, dayID)
		if err != nil {
			slog.Error("day summary failed", "day_id", dayID, "error", err)
			return 1
		}
		slog.Info("day summary complete",
			"day_id", result.BucketID,
			"status", result.Status,
			"persisted", result.Persisted,
		)
		fmt.Println(result.Summary)
		return 0
	}

	if folder == "" {
		folder = a.Config.IMAP.Folder
	}
	slog.Info("starting ingestion", "imap", a.Config.IMAP.Addr(), "folder", folder)

	result, err := a.Pipeline.RunFolder(ctx, folder)
	if err != nil {
		slog.Error("ingestion failed", "error", err)
		return 1
	}

	// --- Summary ---
	slog.Info("ingestion complete",
		"run_id", result.RunID,
		"found", result.Found,
		"ingested", len(result.Items),
		"skipped", result.Skipped,
		"elapsed", result.Elapsed,
	)
	for _, f := range result.Failures {
		slog.Warn("skipped message",
			"uid", f.UID,
			"stage", f.Stage,
			"error", f.Error,
		)
	}
	return 0
}
