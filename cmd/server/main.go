package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"osint/internal/lookup"
	"osint/internal/lookup/cache"
	"osint/internal/lookup/events"
	"osint/internal/lookup/fanout"
	"osint/internal/lookup/handler"
	"osint/internal/lookup/metrics"
	"osint/internal/lookup/providers"
	"osint/internal/lookup/tasks"
	"osint/internal/platform/config"
	"osint/internal/platform/httpserver"
	"osint/internal/platform/logger"
	platformmetrics "osint/internal/platform/metrics"
	"osint/internal/platform/postgres"
	platformredis "osint/internal/platform/redis"
)

const shutdownTimeout = 15 * time.Second

// main wires dependencies and owns the process lifecycle. Lookup logic lives
// in internal/lookup.
func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	lookupMetrics := metrics.NewWithRegisterer(reg)
	readiness := map[string]func(context.Context) error{}

	var (
		l1          cache.Store
		janitorOpts []tasks.JanitorOption
	)
	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		l1 = cache.NewRedisStore(rdb.Client)
		readiness["redis"] = rdb.Health
		log.Info("l1 cache using redis")
	} else {
		mem := cache.NewMemoryStore()
		l1 = mem
		janitorOpts = append(janitorOpts, tasks.WithPurger(mem))
		log.Warn("REDIS_URL not set; l1 cache is in-process")
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(log),
		cache.WithMetrics(lookupMetrics),
		cache.WithTTLs(cache.TTLs{Phone: cfg.Engine.PhoneTTL, Email: cfg.Engine.EmailTTL}),
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		l2 := cache.NewPostgresStore(pool)
		if err := l2.EnsureSchema(ctx); err != nil {
			return err
		}
		cacheOpts = append(cacheOpts, cache.WithL2(l2))
		janitorOpts = append(janitorOpts, tasks.WithPurger(l2))
		readiness["postgres"] = pool.Ping
		log.Info("l2 cache using postgres")
	} else {
		log.Warn("DATABASE_URL not set; l2 cache disabled")
	}
	tiered, err := cache.NewTiered(l1, cacheOpts...)
	if err != nil {
		return err
	}

	registry := providers.NewRegistry()
	if cfg.Engine.ProvidersFile != "" {
		catalog, err := providers.LoadCatalog(cfg.Engine.ProvidersFile)
		if err != nil {
			return err
		}
		registry, err = providers.BuildRegistry(catalog, fanout.NewHTTPClient(fanout.DefaultTransportConfig()))
		if err != nil {
			return err
		}
		log.Info("provider catalog loaded", "providers", len(registry.All()))
	} else {
		log.Warn("LOOKUP_PROVIDERS_FILE not set; no adapters registered")
	}

	coordinator, err := fanout.New(cfg.Engine.PerAdapterTimeout,
		fanout.WithLogger(log),
		fanout.WithMetrics(lookupMetrics),
		fanout.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
	)
	if err != nil {
		return err
	}

	var (
		publisher events.Publisher = events.NewLogPublisher(log)
		kafka     *events.KafkaPublisher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, events.WithLogger(log))
		if err != nil {
			return err
		}
		publisher = kafka
		log.Info("task events published to kafka", "topic", cfg.Kafka.Topic)
	}

	engine, err := lookup.New(registry, coordinator, tiered,
		lookup.WithLogger(log),
		lookup.WithMetrics(lookupMetrics),
		lookup.WithOuterTimeout(cfg.Engine.OuterTimeout),
		lookup.WithPublisher(publisher),
		lookup.WithTaskConfig(tasks.Config{
			Workers:     cfg.Engine.Workers,
			QueueSize:   cfg.Engine.QueueSize,
			MaxAttempts: cfg.Engine.MaxAttempts,
			BackoffBase: cfg.Engine.BackoffBase,
			BackoffMax:  cfg.Engine.BackoffMax,
			Retention:   cfg.Engine.TaskRetention,
		}),
	)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}

	janitor, err := tasks.NewJanitor(cfg.Engine.CleanupSchedule, engine.Tasks(),
		append(janitorOpts, tasks.WithJanitorLogger(log))...)
	if err != nil {
		return err
	}
	janitor.Start()

	router := handler.NewRouter(
		handler.New(engine, log, cfg.Server.AdminToken),
		handler.WithHTTPMetrics(platformmetrics.New(reg), reg),
		handler.WithReadiness(readiness),
	)
	srv := httpserver.New(cfg.Server.Addr, router, httpserver.WriteTimeoutFor(cfg.Engine.PerAdapterTimeout, cfg.Engine.OuterTimeout))

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting osint lookup service", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs := []error{
		srv.Shutdown(shutdownCtx),
		janitor.Stop(shutdownCtx),
		engine.Stop(shutdownCtx),
	}
	if kafka != nil {
		errs = append(errs, kafka.Close(shutdownCtx))
	}
	return errors.Join(errs...)
}
