package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		format string
		world  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archives in the backup folder, newest first",
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

			archives, err := a.service.ListBackups(world)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}
			return renderer.Archives(archives)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	cmd.Flags().StringVar(&world, "world", "", "only list archives of this world")
	return cmd
}
