package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavascapital/marketfeed/internal/cache"
	"github.com/kavascapital/marketfeed/internal/candle"
	"github.com/kavascapital/marketfeed/internal/config"
	"github.com/kavascapital/marketfeed/internal/feed"
	"github.com/kavascapital/marketfeed/internal/hub"
	"github.com/kavascapital/marketfeed/internal/logging"
	"github.com/kavascapital/marketfeed/internal/model"
	"github.com/kavascapital/marketfeed/internal/pipeline"
	"github.com/kavascapital/marketfeed/internal/server"
	"github.com/kavascapital/marketfeed/internal/store"
	"github.com/kavascapital/marketfeed/internal/subs"
	"github.com/kavascapital/marketfeed/internal/version"
	"github.com/kavascapital/marketfeed/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/feedd.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger so config errors are structured too; replaced once
	// the config-driven logger exists.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting feedd",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := store.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	db := store.New(pool, logger)

	// Core plumbing: one registry feeds both the upstream connector and the
	// client-facing hub; one queue links the connector to the dispatcher.
	registry := subs.NewRegistry()
	queue := pipeline.NewQueue[model.Event](cfg.Feed.QueueCapacity)

	hotCache := cache.New(cache.Config{TTL: cfg.Cache.TTL}, db, logger)
	hotCache.Start(ctx)
	defer hotCache.Stop()

	batchWriter := writer.New(writer.Config{
		BatchSize: cfg.Writer.BatchSize,
		MaxAge:    cfg.Writer.MaxAge,
		RetryCap:  cfg.Writer.RetryCap,
	}, db, logger)
	batchWriter.Start(ctx)

	connector := feed.NewConnector(cfg.Feed, registry, queue, logger)

	broadcaster := hub.New(hub.Config{
		SendTimeout: cfg.Server.SendTimeout,
		BufferSize:  cfg.Server.BufferSize,
	}, registry, connector, logger)
	defer broadcaster.Close()

	dispatcher := pipeline.NewDispatcher(queue, hotCache, batchWriter, broadcaster, logger)
	dispatcher.Start(ctx)

	aggregator := candle.New(candle.Config{
		CheckInterval: cfg.Candles.CheckInterval,
		Intervals:     model.AllIntervals(),
		Concurrency:   cfg.Candles.Concurrency,
	}, db, db, registry, broadcaster, logger)
	aggregator.Start(ctx)

	wsServer := server.New(cfg.Server, registry, broadcaster, connector, logger)
	wsServer.Health = healthHandler(pool, connector, registry, batchWriter, hotCache, broadcaster, queue)
	if err := wsServer.Start(ctx); err != nil {
		logger.Error("failed to start websocket server", "error", err)
		os.Exit(1)
	}

	// Connector last: every consumer downstream of the queue is ready.
	if err := connector.Start(ctx); err != nil {
		logger.Error("failed to start feed connector", "error", err)
		os.Exit(1)
	}

	logger.Info("feedd running", "instance_id", cfg.Instance.ID)

	select {
	case <-ctx.Done():
	case err := <-connector.Fatal():
		logger.Error("upstream connection lost permanently", "error", err)
		cancel()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting clients, then stop the producer. Closing the queue lets
	// the dispatcher drain everything already decoded.
	wsServer.Stop(shutdownCtx)
	connector.Stop(shutdownCtx)
	stopPipeline(dispatcher, batchWriter, aggregator)

	logger.Info("feedd stopped")
}

type stopper interface {
	Stop()
}

// stopPipeline drains the ingest path in order: dispatcher first, then the
// writer's final flush, and only then the final candle pass so closing
// buckets see every persisted tick.
func stopPipeline(dispatcher interface{ Wait() }, batchWriter, aggregator stopper) {
	dispatcher.Wait()
	batchWriter.Stop()
	aggregator.Stop()
}

// healthHandler reports component status for /healthz.
func healthHandler(pool *pgxpool.Pool, connector *feed.Connector, registry *subs.Registry,
	batchWriter *writer.Writer, hotCache *cache.Cache, broadcaster *hub.Hub,
	queue *pipeline.Queue[model.Event]) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		feedStats := connector.Stats()
		health.Components["feed"] = feedStats
		if feedStats.State != feed.StateConnected.String() {
			health.Status = "degraded"
		}

		writerStats := batchWriter.Stats()
		health.Components["writer"] = writerStats
		if writerStats.SustainedFailure {
			health.Status = "unhealthy"
		}

		subscribers, instruments := registry.Stats()
		health.Components["registry"] = map[string]int{
			"subscribers": subscribers,
			"instruments": instruments,
		}
		health.Components["cache"] = hotCache.Stats()
		health.Components["hub"] = broadcaster.Stats()
		health.Components["queue"] = queue.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
