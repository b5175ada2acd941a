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

// Inbox pipeline service
//
// Long-running process for the enrichment pipeline. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Opens the message store and connects to Redis
//  3. Syncs every configured owner's mailbox on an interval
//  4. Consumes enrichment jobs and classifies (and drafts for) new mail
//  5. Serves health and Prometheus metrics endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
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
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/inboxcopilot/pipeline/internal/config"
	"github.com/inboxcopilot/pipeline/internal/dedup"
	"github.com/inboxcopilot/pipeline/internal/pipeline"
	"github.com/inboxcopilot/pipeline/internal/queue"
	"github.com/inboxcopilot/pipeline/internal/store"
	"github.com/inboxcopilot/pipeline/internal/worker"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting inbox pipeline service",
		"store", cfg.StoreDriver,
		"owners", len(cfg.Owners),
		"sync_interval", cfg.SyncInterval,
		"worker", cfg.WorkerEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Open Store ---
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store ready", "driver", cfg.StoreDriver)

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.EnrichQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Generation Gateway ---
	gw, err := pipeline.NewGateway(cfg)
	if err != nil {
		slog.Error("failed to configure generation", "error", err)
		os.Exit(1)
	}

	p := pipeline.Build(pipeline.FromConfig(cfg, st, gw, publisher))

	// --- Periodic Sync ---
	p.Engine.StartPeriodic(ctx)

	// --- Enrichment Worker ---
	var enricher *worker.Worker
	if cfg.WorkerEnabled {
		wcfg := worker.Config{
			Source:      queue.NewConsumer(rdb, cfg.EnrichQueue, 0),
			Requeuer:    publisher,
			Claimer:     dedup.NewFilter(rdb, cfg.DedupTTL),
			Classifier:  p.Classifier,
			Concurrency: cfg.Concurrency,
		}
		if cfg.DraftReplies {
			wcfg.Drafter = p.Drafter
		}
		enricher = worker.New(wcfg)
		enricher.Start(ctx)
	}

	// --- Health and Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

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

		p.Engine.Stop()
		if enricher != nil {
			enricher.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
	}()

	slog.Info("pipeline service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("pipeline service stopped")
}
