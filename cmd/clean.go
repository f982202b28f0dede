package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newCleanCommand(opts *rootOptions) *cobra.Command {
	var (
		format string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete backups older than retention.max_age",
		Args:  cobra.NoArgs,
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

			result, err := a.service.CleanOldBackups(cmd.Context(), dryRun)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			return renderer.Retention(result)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}
