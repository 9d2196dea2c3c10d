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

// onebox syncd — mailbox synchronization service
//
// Entry point for the sync daemon. It:
//  1. Loads account + tuning configuration from config.yaml
//  2. Connects to PostgreSQL (document sink) and Redis (classify queue, dedup)
//  3. Starts a persistent listen-mode session per configured account
//  4. Serves the account control API and a health endpoint
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oneboxhq/syncd/internal/classify"
	"github.com/oneboxhq/syncd/internal/config"
	"github.com/oneboxhq/syncd/internal/control"
	"github.com/oneboxhq/syncd/internal/dedup"
	"github.com/oneboxhq/syncd/internal/mailbox"
	"github.com/oneboxhq/syncd/internal/sink"
	"github.com/oneboxhq/syncd/internal/syncer"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting onebox sync service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"watchdog_period", cfg.WatchdogPeriod,
		"fetch_batch_limit", cfg.FetchBatchLimit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	store, err := sink.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise document store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := classify.NewPublisher(rdb, cfg.ClassifyQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Sync Manager ---
	dialer := mailbox.NewIMAPDialer(cfg.DialTimeout)
	manager := syncer.NewManager(syncer.Deps{
		Dialer:   dialer,
		Sink:     store,
		Pipeline: publisher,
		Dedup:    filter,
	}, syncer.Tuning{
		WatchdogPeriod:        cfg.WatchdogPeriod,
		InitialReconnectDelay: cfg.InitialReconnectDelay,
		MaxReconnectAttempts:  cfg.MaxReconnectAttempts,
		FetchBatchLimit:       cfg.FetchBatchLimit,
	})

	// --- Start configured accounts ---
	for _, acct := range cfg.Accounts {
		if err := manager.StartAccount(acct.Credentials()); err != nil {
			slog.Error("failed to start account sync",
				"account", acct.ID,
				"error", err,
			)
			continue
		}
		slog.Info("account sync starting", "account", acct.ID)
	}

	// --- Control + Health Server ---
	mux := http.NewServeMux()
	control.NewHandler(manager).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		manager.StopAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("sync service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("sync service stopped")
}
