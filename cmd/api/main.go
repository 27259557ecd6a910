package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/hms-api/internal/config"
	bedHandler "github.com/jwalitptl/hms-api/internal/handler/bed"
	billingHandler "github.com/jwalitptl/hms-api/internal/handler/billing"
	"github.com/jwalitptl/hms-api/internal/handler/health"
	wardHandler "github.com/jwalitptl/hms-api/internal/handler/ward"
	"github.com/jwalitptl/hms-api/internal/middleware"
	"github.com/jwalitptl/hms-api/internal/repository"
	"github.com/jwalitptl/hms-api/internal/repository/memory"
	"github.com/jwalitptl/hms-api/internal/repository/postgres"
	"github.com/jwalitptl/hms-api/internal/router"
	bedService "github.com/jwalitptl/hms-api/internal/service/bed"
	billingService "github.com/jwalitptl/hms-api/internal/service/billing"
	wardService "github.com/jwalitptl/hms-api/internal/service/ward"
	"github.com/jwalitptl/hms-api/pkg/auth"
	"github.com/jwalitptl/hms-api/pkg/logger"
	"github.com/jwalitptl/hms-api/pkg/messaging/redis"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/retry"
	"github.com/jwalitptl/hms-api/pkg/worker"
)

type storage struct {
	wards    repository.WardRepository
	beds     repository.BedRepository
	invoices repository.InvoiceRepository
	outbox   repository.OutboxRepository
	checks   map[string]health.Check
	close    func() error
}

func openStorage(cfg *config.Config) (*storage, error) {
	if cfg.Storage.Driver == "memory" {
		store := memory.NewStore()
		return &storage{
			wards:    store.Wards(),
			beds:     store.Beds(),
			invoices: store.Invoices(),
			outbox:   store.Outbox(),
			checks:   map[string]health.Check{},
			close:    func() error { return nil },
		}, nil
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	base := postgres.NewBaseRepository(db)
	return &storage{
		wards:    postgres.NewWardRepository(base),
		beds:     postgres.NewBedRepository(base),
		invoices: postgres.NewInvoiceRepository(base),
		outbox:   postgres.NewOutboxRepository(base),
		checks:   map[string]health.Check{"database": db.PingContext},
		close:    db.Close,
	}, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Setup(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	store, err := openStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer store.close()

	m := metrics.New("hms", prometheus.DefaultRegisterer)
	rp := retry.Policy{
		Attempts:     cfg.Retry.Attempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}

	wardSvc := wardService.NewService(store.wards, cfg.Cache.WardTTL, cfg.Cache.CleanupInterval, m, rp)
	bedSvc := bedService.NewService(store.beds, wardSvc, m, rp)
	billingSvc := billingService.NewService(store.invoices, bedSvc, m, rp, billingService.Config{
		DefaultDueDays: cfg.Billing.DefaultDueDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With the memory driver the outbox lives in this process, so it is
	// drained here instead of by cmd/worker.
	if cfg.Storage.Driver == "memory" {
		startInProcessOutbox(ctx, cfg, store, m)
	}

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	}

	verifier := auth.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	r := router.NewRouter(
		middleware.NewAuthMiddleware(verifier),
		health.NewHandler(store.checks),
		m,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       corsConfig,
			Timeout:          time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		},
		wardHandler.NewHandler(wardSvc),
		bedHandler.NewHandler(bedSvc),
		billingHandler.NewHandler(billingSvc),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("storage", cfg.Storage.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

func startInProcessOutbox(ctx context.Context, cfg *config.Config, store *storage, m *metrics.Metrics) {
	l := logger.Component("outbox")

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:           cfg.Redis.URL,
		MaxRetries:    cfg.Redis.MaxRetries,
		RetryBackoff:  cfg.Redis.RetryBackoff,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		ChannelPrefix: cfg.Redis.ChannelPrefix,
	}, l)
	if err != nil {
		l.Warn().Err(err).Msg("redis unavailable, domain events stay in the outbox")
		return
	}

	processor, err := worker.NewOutboxProcessor(store.outbox, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
	}, l, m)
	if err != nil {
		broker.Close()
		l.Error().Err(err).Msg("outbox processor not started")
		return
	}

	cleanup := worker.NewOutboxCleanupWorker(store.outbox, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, l, m)

	go func() {
		defer broker.Close()
		go cleanup.Start(ctx)
		processor.Start(ctx)
	}()
}
