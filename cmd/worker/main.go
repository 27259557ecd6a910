package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hms-api/internal/config"
	"github.com/jwalitptl/hms-api/internal/repository/postgres"
	"github.com/jwalitptl/hms-api/pkg/logger"
	"github.com/jwalitptl/hms-api/pkg/messaging/redis"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/worker"
)

// The worker drains the postgres outbox to Redis. With the memory storage
// driver the API process does this itself.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Setup(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	l := logger.Component("outbox-worker")

	if cfg.Storage.Driver != "postgres" {
		l.Fatal().Str("driver", cfg.Storage.Driver).Msg("worker requires the postgres storage driver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:           cfg.Redis.URL,
		MaxRetries:    cfg.Redis.MaxRetries,
		RetryBackoff:  cfg.Redis.RetryBackoff,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		ChannelPrefix: cfg.Redis.ChannelPrefix,
	}, l)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	m := metrics.New("hms", prometheus.DefaultRegisterer)
	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))

	processor, err := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
	}, l, m)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create outbox processor")
	}
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, l, m)

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		rctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(rctx); err != nil {
			http.Error(w, "database: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := broker.Ping(rctx); err != nil {
			http.Error(w, "redis: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("health server stopped")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	<-ctx.Done()
	l.Info().Msg("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("health server forced to shutdown")
	}
	wg.Wait()

	l.Info().Msg("worker exited properly")
}
