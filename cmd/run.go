package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"world-archivist/internal/config"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var backupOnStart bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scheduled backups and cleanup until interrupted",
		Long: `Run backs up every selected world once per backup.interval and prunes
old archives once per retention.interval. Edits to the config file are
picked up without a restart for the world allowlist, retention age and
announcement messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts, backupOnStart)
		},
	}
	cmd.Flags().BoolVar(&backupOnStart, "backup-on-start", false, "back up immediately instead of waiting one interval")
	return cmd
}

func runDaemon(cmd *cobra.Command, opts *rootOptions, backupOnStart bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a := newApp(cfg, logger, afero.NewOsFs(), nil)
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		shutdown := a.serveMetrics(cfg.Metrics.Listen)
		defer shutdown()
	}

	if file := opts.v.ConfigFileUsed(); file != "" {
		config.Watch(opts.v, logger, func(next *config.Config) {
			a.service.Reconfigure(next.Settings())
		})
	}

	backupInterval := cfg.BackupInterval()
	delay := backupInterval
	if backupOnStart {
		delay = 0
	}
	a.scheduler.RepeatBackground(func(ctx context.Context) {
		if _, err := a.backUp(ctx); err != nil {
			logger.WithError(err).Error("Scheduled backup failed")
		}
	}, delay, backupInterval)

	retentionInterval := cfg.RetentionInterval()
	a.scheduler.RepeatBackground(func(ctx context.Context) {
		if _, err := a.service.CleanOldBackups(ctx, false); err != nil {
			logger.WithError(err).Error("Scheduled cleanup failed")
		}
	}, retentionInterval, retentionInterval)

	logger.WithFields(map[string]interface{}{
		"folder":             cfg.Backup.Folder,
		"backup_interval":    backupInterval.String(),
		"retention_interval": retentionInterval.String(),
		"max_age":            cfg.Settings().MaxAge.String(),
	}).Info("Archivist started")

	<-ctx.Done()
	logger.Info("Shutting down, waiting for running backups")
	return nil
}
