package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"world-archivist/internal/backup"
)

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "verify <archive>...",
		Short: "Check that archives are readable and every entry matches its CRC",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := opts.renderer(cmd, format)
			if err != nil {
				return err
			}

			fs := afero.NewOsFs()
			var errs error
			for _, path := range args {
				result, err := backup.VerifyArchive(fs, path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAILED %s: %v\n", path, err)
					errs = multierr.Append(errs, err)
					continue
				}
				if err := renderer.Verify(result); err != nil {
					return err
				}
			}
			if errs != nil {
				return fmt.Errorf("%d of %d archives failed verification", len(multierr.Errors(errs)), len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format (table, json, yaml)")
	return cmd
}
