package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"world-archivist/internal/config"
	"world-archivist/internal/display"
	"world-archivist/internal/logging"
)

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	noColor    bool
	theme      string
	border     string

	v *viper.Viper
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand returns the archivist command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "archivist",
		Short: "Back up live worlds into timestamped ZIP archives",
		Long: `Archivist copies live world directories into scratch space while the
host's periodic writes are paused, archives the copy into a timestamped ZIP
file and prunes archives older than the configured maximum age.

Examples:
  # Run scheduled backups and cleanup until interrupted
  archivist run --config /etc/archivist/archivist.yaml

  # Back up two worlds right now
  archivist backup world world_nether

  # Show what a cleanup pass would delete
  archivist clean --dry-run

  # List archives of one world as JSON
  archivist list --world world --format json`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ReadFile(opts.v, opts.configFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default is ./archivist.yaml or $HOME/.config/archivist/archivist.yaml)")
	flags.String("log-level", "", "log level (quiet, normal, verbose, debug)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("log-file", "", "also write logs to this file, rotated by size")
	flags.String("folder", "", "backup folder override")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.StringVar(&opts.theme, "theme", "dark", "color theme (dark, light, plain)")
	flags.StringVar(&opts.border, "border", "ascii", "table border style (ascii, rounded)")

	opts.v.BindPFlag("log.level", flags.Lookup("log-level"))
	opts.v.BindPFlag("log.format", flags.Lookup("log-format"))
	opts.v.BindPFlag("log.file", flags.Lookup("log-file"))
	opts.v.BindPFlag("backup.folder", flags.Lookup("folder"))

	rootCmd.AddCommand(
		newRunCommand(opts),
		newBackupCommand(opts),
		newCleanCommand(opts),
		newListCommand(opts),
		newVerifyCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// loadConfig decodes and validates the effective configuration.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.v)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// newLogger creates the logger for one command. Logs go to w so that
// rendered results on stdout stay machine readable.
func (o *rootOptions) newLogger(cfg *config.Config, w io.Writer) (*logging.Logger, error) {
	lc := cfg.LoggingConfig()
	lc.Output = w
	logger, err := logging.NewLogger(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func (o *rootOptions) renderer(cmd *cobra.Command, format string) (*display.Renderer, error) {
	f, err := display.ParseOutputFormat(format)
	if err != nil {
		return nil, err
	}
	border, err := display.GetBorderStyleByName(o.border)
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	colors := display.NewColorSystem(out, display.GetThemeByName(o.theme), !o.noColor)
	r := display.NewRenderer(out, f, colors)
	r.SetBorder(border)
	return r, nil
}

// newVersionCommand creates the version subcommand
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "archivist version %s\n", version)
			fmt.Fprintf(out, "Build time: %s\n", buildTime)
			fmt.Fprintf(out, "Git commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
