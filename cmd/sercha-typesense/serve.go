package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-typesense/internal/adapters/driving/events"
	"github.com/custodia-labs/sercha-typesense/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-typesense/internal/worker"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the worker, or both",
		Long: `Run the service in the mode selected by --mode or RUN_MODE:

  all     HTTP API and worker in one process (default)
  api     HTTP API only
  worker  task worker, scheduler and change subscriber only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	cmd.Flags().String("mode", "all", "Run mode (all, api, worker)")
	cmd.Flags().Int("port", 8080, "HTTP port")
	_ = v.BindPFlag("run_mode", cmd.Flags().Lookup("mode"))
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(parent context.Context, v *viper.Viper) error {
	cfg, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sercha-typesense starting", "version", version, "mode", cfg.RunMode)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.waitForRemote(ctx); err != nil {
		return err
	}
	if err := a.search.ValidateSearchKey(ctx); err != nil {
		logger.Warn("search-only key is not usable, scoped keys will fail", "error", err)
	}

	checks := map[string]http.Pinger{
		"database":  a.db,
		"queue":     a.taskQueue,
		"typesense": http.PingerFunc(a.pingRemote),
	}

	var subscriber *events.Subscriber
	if cfg.RunsWorker() {
		w, err := a.startWorker(ctx)
		if err != nil {
			return err
		}
		defer w.Stop()

		if cfg.NATSURL != "" {
			subscriber = events.NewSubscriber(events.Config{
				URL:     cfg.NATSURL,
				Stream:  cfg.NATSStream,
				Subject: cfg.NATSSubject,
				Logger:  logger,
			}, a.changes)
			if err := subscriber.Connect(); err != nil {
				return err
			}
			defer func() {
				if err := subscriber.Close(); err != nil {
					logger.Warn("failed to close nats subscriber", "error", err)
				}
			}()
			if err := subscriber.Start(); err != nil {
				return err
			}
			checks["nats"] = subscriber
		}
	}

	if !cfg.RunsAPI() {
		logger.Info("worker running, waiting for shutdown signal")
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	}

	server := http.NewServer(http.Config{
		Host:    cfg.Host,
		Port:    cfg.Port,
		Version: version,
		Logger:  logger,
	}, http.Dependencies{
		Auth:        a.auth,
		Collections: a.collections,
		Sync:        a.runner,
		Changes:     a.changes,
		Search:      a.search,
		TaskQueue:   a.taskQueue,
		Checks:      checks,
		Metrics:     a.metrics,
	})
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startWorker registers the schedules and starts the task worker.
func (a *app) startWorker(ctx context.Context) (*worker.Worker, error) {
	wcfg := worker.WorkerConfig{
		TaskQueue:   a.taskQueue,
		Steps:       a.runner,
		Changes:     a.changes,
		Metrics:     a.metrics,
		Logger:      a.logger,
		Concurrency: a.cfg.WorkerConcurrency,
	}
	if a.cfg.SchedulerEnabled {
		scheduler, err := a.newScheduler(ctx)
		if err != nil {
			return nil, err
		}
		wcfg.Scheduler = scheduler
	} else {
		a.logger.Info("scheduler disabled via SCHEDULER_ENABLED=false")
	}

	w := worker.NewWorker(wcfg)
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return w, nil
}
