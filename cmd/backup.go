package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newBackupCommand(opts *rootOptions) *cobra.Command {
	var (
		format  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "backup [world...]",
		Short: "Back up worlds now",
		Long: `Back up the named worlds, or every world selected by the configured
allowlist when none are named, and wait for all of them to finish.

Examples:
  # Back up every configured world
  archivist backup

  # Back up one world and print the result as JSON
  archivist backup world --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			renderer, err := opts.renderer(cmd, format)
			if err != nil {
				return err
			}

			a := newApp(cfg, logger, afero.NewOsFs(), nil)
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			results, err := a.backUp(ctx, args...)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			if err := renderer.TaskResults(results); err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if !r.Succeeded() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d world backups failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	return cmd
}
