package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	config "github.com/meetloop/backend/config/meeting"
	"github.com/meetloop/backend/gateways/meet"
	"github.com/meetloop/backend/pkg/logger"
	"github.com/meetloop/backend/pkg/metrics"
	"github.com/meetloop/backend/services/meeting/clients/summarizer"
	"github.com/meetloop/backend/services/meeting/dispatch"
	"github.com/meetloop/backend/services/meeting/realtime"
	"github.com/meetloop/backend/services/meeting/reconciler"
	"github.com/meetloop/backend/services/meeting/storage"
	"github.com/meetloop/backend/services/meeting/storage/postgres"
	"github.com/meetloop/backend/services/meeting/usecase"
)

func main() {
	log := logger.New(logger.Config{
		Level:      slog.LevelDebug,
		Output:     os.Stderr,
		AddSource:  true,
		JSONFormat: false,
	})

	cfg := config.MustLoad()

	ctx := logger.WithContext(context.Background(), log)

	rootCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("failed to run()", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var stg storage.Storage
	if cfg.Database.InMemory {
		log.Warn("using in-memory storage, state is lost on restart")
		stg = storage.NewMemory()
	} else {
		pool, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info("connected to postgres",
			slog.String("host", cfg.Database.Host),
			slog.String("database", cfg.Database.Name))
		stg = postgres.New(pool)
	}

	sum := summarizer.New(&cfg.Summarizer, log)
	dispatcher := dispatch.New(sum, cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, log, m)
	defer dispatcher.Close()

	usc := usecase.New(stg, dispatcher, m, cfg.Reconciler.StaleAfter)

	var wg sync.WaitGroup

	rec := reconciler.New(usc, cfg.Reconciler.SweepInterval, cfg.Reconciler.SweepBudget, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec.Run(ctx)
	}()

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		consumer := realtime.New(client, usc, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error("realtime consumer failed", slog.String("error", err.Error()))
			}
		}()
	}

	srv := meet.New(cfg, usc, registry, log)
	err := srv.Start(ctx)

	wg.Wait()
	return err
}
