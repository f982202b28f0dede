package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"world-archivist/internal/backup"
	"world-archivist/internal/config"
	"world-archivist/internal/host"
	"world-archivist/internal/logging"
	"world-archivist/internal/scheduler"
)

// app wires the configured components together for one command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	host      *host.Host
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
	service   *backup.Service
}

func newApp(cfg *config.Config, logger *logging.Logger, fs afero.Fs, runner host.CommandRunner) *app {
	clk := clock.WallClock

	h := host.New(fs, cfg.HostSettings(), runner, logger)
	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.Backup.MaxConcurrent,
		Clock:         clk,
		Logger:        logger,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := backup.NewMetrics(registry)

	notifier := backup.MultiNotifier{backup.NewLogNotifier(logger), h}
	if wh := cfg.Webhook(); wh != nil {
		notifier = append(notifier, backup.NewWebhookNotifier(*wh))
	}

	svc := backup.NewService(backup.ServiceConfig{
		Fs:        fs,
		Worlds:    h,
		Scheduler: sched,
		OutputDir: cfg.Backup.Folder,
		TempRoot:  cfg.Backup.TempRoot,
		Options:   cfg.ArchiveOptions(),
		Notifier:  notifier,
		Clock:     clk,
		Logger:    logger,
		Metrics:   metrics,
		Settings:  cfg.Settings(),
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		host:      h,
		scheduler: sched,
		registry:  registry,
		service:   svc,
	}
}

// backUp starts a run and waits for it.
func (a *app) backUp(ctx context.Context, worlds ...string) ([]*backup.TaskResult, error) {
	run, err := a.service.BackUpWorlds(ctx, worlds...)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// serveMetrics exposes the registry on addr until the returned function is
// called.
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}
}

// close stops the scheduler, waits for in-flight tasks and flushes the log.
func (a *app) close() {
	a.scheduler.CancelAll()
	a.scheduler.Wait()
	a.logger.Close()
}
