package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calebmorten/anchorline/internal/address"
	"github.com/calebmorten/anchorline/internal/chain"
	"github.com/calebmorten/anchorline/internal/cron"
	"github.com/calebmorten/anchorline/internal/dispatch"
	"github.com/calebmorten/anchorline/pkg/config"
	"github.com/calebmorten/anchorline/pkg/db"
	"github.com/calebmorten/anchorline/pkg/logger"
	"github.com/calebmorten/anchorline/pkg/metrics"
	"github.com/calebmorten/anchorline/pkg/migrate"
	"github.com/calebmorten/anchorline/pkg/outbox"
	"github.com/calebmorten/anchorline/pkg/outbox/idempotency"
	"github.com/calebmorten/anchorline/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: consumerName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = consumerName

	logg = logger.New(logger.Options{
		ServiceName: consumerName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	var guard idempotencyGuard
	var schedulerLock cron.Lock = cron.NoopLock{}
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis client", err)
			}
		}()

		manager, err := idempotency.NewManager(redisClient, cfg.Redis.IdempotencyTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to build idempotency manager", err)
			os.Exit(1)
		}
		guard = manager

		lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("outbox-retention"), 0)
		if err != nil {
			logg.Error(context.Background(), "failed to build scheduler lock", err)
			os.Exit(1)
		}
		schedulerLock = lock
	} else {
		logg.Info(context.Background(), "redis not configured, duplicate-delivery guard disabled")
	}

	addrInfo := address.EVMInfo(cfg.Provider.AnchorFrom, false)
	if addrInfo.Normalized == "" {
		meta, metaErr := address.MetadataFor(cfg.Provider.Network)
		if metaErr == nil {
			logg.Warn(logg.WithField(context.Background(), "expected_format", meta.Format), "anchor sender does not match the network address format")
		}
		logg.Error(context.Background(), "invalid anchor sender address", fmt.Errorf("%s", addrInfo.ValidationReason))
		os.Exit(1)
	}
	anchorFrom := addrInfo.Normalized

	factory := chain.NewFactory(cfg.Provider.RequestTimeout, logg)
	provider, err := factory.Provider(cfg.Provider)
	if err != nil {
		logg.Error(context.Background(), "failed to build chain provider", err)
		os.Exit(1)
	}

	anchorer, err := chain.NewDigestAnchorer(provider, anchorFrom, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build anchorer", err)
		os.Exit(1)
	}

	handler, err := dispatch.NewHandler(dispatch.HandlerParams{
		Provider: provider,
		Anchorer: anchorer,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build dispatch handler", err)
		os.Exit(1)
	}

	repo, err := outbox.NewRepository(dbClient.DB(), nil)
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox repository", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	processor, err := outbox.NewProcessor(outbox.ProcessorParams{
		Store:       repo,
		Logger:      logg,
		Metrics:     metrics.NewOutboxMetrics(registry),
		BatchLimit:  cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		BaseDelay:   cfg.Outbox.BaseDelay,
		MaxDelay:    cfg.Outbox.MaxDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox processor", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisPinger(redisClient),
		Processor: processor,
		Handler:   handler,
		Guard:     guard,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox worker", err)
		os.Exit(1)
	}

	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Store:         repo,
		RetentionDays: cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build retention job", err)
		os.Exit(1)
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(retention),
		Lock:     schedulerLock,
		Metrics:  metrics.NewSchedulerMetrics(registry),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": consumerName,
		"ops":         dispatch.SupportedOps(),
	})

	go serveOps(ctx, cfg, logg, dbClient, registry)
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "scheduler stopped unexpectedly", err)
		}
	}()

	logg.Info(ctx, "starting outbox worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox worker shutting down gracefully")
}

// redisPinger converts the optional client into the pinger interface without
// smuggling a typed nil behind a non-nil interface value.
func redisPinger(client *redis.Client) pinger {
	if client == nil {
		return nil
	}
	return client
}

// serveOps exposes liveness and Prometheus metrics for the worker.
func serveOps(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, registry *prometheus.Registry) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := dbClient.Ping(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "ops server stopped unexpectedly", err)
	}
}
