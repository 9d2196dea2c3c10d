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

// onebox syncd — Historical Backfill Command
//
// Standalone CLI tool that ingests historical messages from configured
// mailbox accounts within a configurable date range. Intended for seeding
// the index on new deployments.
//
// Usage:
//
//	go run ./cmd/backfill/ [--accounts a@org.com,b@org.com] [--since 168h]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oneboxhq/syncd/internal/backfill"
	"github.com/oneboxhq/syncd/internal/classify"
	"github.com/oneboxhq/syncd/internal/config"
	"github.com/oneboxhq/syncd/internal/dedup"
	"github.com/oneboxhq/syncd/internal/mailbox"
	"github.com/oneboxhq/syncd/internal/sink"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	accountsFlag := flag.String("accounts", "", "Comma-separated account IDs (optional; empty = all configured accounts)")
	sinceFlag := flag.String("since", "168h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	flag.Parse()

	sinceDuration, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	slog.Info("starting historical backfill", "since", sinceDuration)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Resolve accounts ---
	var accounts []mailbox.Credentials
	if *accountsFlag != "" {
		wanted := make(map[string]bool)
		for _, id := range strings.Split(*accountsFlag, ",") {
			if id = strings.TrimSpace(id); id != "" {
				wanted[id] = true
			}
		}
		for _, acct := range cfg.Accounts {
			if wanted[acct.ID] {
				accounts = append(accounts, acct.Credentials())
			}
		}
	} else {
		for _, acct := range cfg.Accounts {
			accounts = append(accounts, acct.Credentials())
		}
	}

	if len(accounts) == 0 {
		slog.Error("no accounts to backfill")
		os.Exit(1)
	}
	slog.Info("resolved accounts for backfill", "count", len(accounts))

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	store, err := sink.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise document store", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := classify.NewPublisher(rdb, cfg.ClassifyQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Run Backfill ---
	runner := backfill.NewRunner(mailbox.NewIMAPDialer(cfg.DialTimeout), store, publisher, filter)

	result, err := runner.Run(ctx, backfill.Request{
		Accounts: accounts,
		Since:    sinceDuration,
	})
	if err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("backfill complete",
		"total_indexed", result.TotalIndexed,
		"total_skipped", result.TotalSkipped,
		"elapsed", result.Elapsed,
	)

	for _, ar := range result.AccountResults {
		slog.Info("account result",
			"account", ar.AccountID,
			"found", ar.Found,
			"indexed", ar.Indexed,
			"skipped", ar.Skipped,
			"errors", ar.Errors,
		)
	}
}
