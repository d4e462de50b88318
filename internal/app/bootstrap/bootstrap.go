package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	experimentservice "vivarium/contexts/experimentation/experiment-service"
	postgresadapter "vivarium/contexts/experimentation/experiment-service/adapters/postgres"
	"vivarium/contexts/experimentation/experiment-service/application/workers"
	"vivarium/internal/platform/config"
	"vivarium/internal/platform/db"
	"vivarium/internal/platform/messaging"
	"vivarium/internal/platform/notify"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type WorkerApp struct {
	postgres     *db.Postgres
	closeBus     func() error
	step         workers.StepWorker
	workerCount  int
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")

	pg, err := db.Connect(db.Options{
		DSN:      cfg.DatabaseURL,
		PoolSize: cfg.DatabasePoolSize,
	})
	if err != nil {
		db.WriteRemediation(os.Stderr, err)
		return nil, err
	}

	if err := pg.CheckConnection(context.Background()); err != nil {
		db.WriteRemediation(os.Stderr, err)
		_ = pg.Close()
		return nil, err
	}

	if err := pg.InitSchema(logger); err != nil {
		_ = pg.Close()
		return nil, err
	}

	bus, closeBus, err := messaging.NewPublisher(cfg.BrokerURL, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	module := experimentservice.NewModule(experimentservice.Dependencies{
		Sessions:      db.NewSessions(pg, bus, logger),
		Store:         postgresadapter.NewRepository(logger),
		Notifier:      notify.NewAdminNotifier(cfg, logger),
		Clock:         postgresadapter.SystemClock{},
		IDGenerator:   postgresadapter.UUIDGenerator{},
		StepBatchSize: cfg.StepBatchSize,
		Logger:        logger,
	})

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	pollInterval := cfg.WorkerPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &WorkerApp{
		postgres:     pg,
		closeBus:     closeBus,
		step:         module.StepWorker,
		workerCount:  workerCount,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"worker_count", w.workerCount,
		"poll_interval", w.pollInterval.String(),
	)

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workerCount; i++ {
		group.Go(func() error {
			return w.runLoop(ctx)
		})
	}
	return group.Wait()
}

func (w *WorkerApp) runLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		// RunOnce logs its own failures; the worker keeps polling.
		_ = w.step.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	var firstErr error
	if w.closeBus != nil {
		if err := w.closeBus(); err != nil {
			firstErr = err
		}
	}
	if w.postgres != nil {
		if err := w.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
