// Package host adapts a directory of world folders and a set of host
// commands to the capabilities the backup pipeline needs.
package host

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/afero"

	"world-archivist/internal/backup"
	"world-archivist/internal/logging"
)

// Placeholders substituted in command templates.
const (
	WorldPlaceholder   = "{world}"
	MessagePlaceholder = "{message}"
)

// Config describes where worlds live and how to talk to the host.
type Config struct {
	Root            string        `mapstructure:"root" yaml:"root"`
	WorldMarker     string        `mapstructure:"world_marker" yaml:"world_marker"`
	SaveOffCommand  string        `mapstructure:"save_off_command" yaml:"save_off_command"`
	SaveOnCommand   string        `mapstructure:"save_on_command" yaml:"save_on_command"`
	SaveAllCommand  string        `mapstructure:"save_all_command" yaml:"save_all_command"`
	AnnounceCommand string        `mapstructure:"announce_command" yaml:"announce_command"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// CommandRunner executes one host command.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run implements CommandRunner
func (ExecRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
}

// Host discovers worlds under a root directory and runs host commands on
// their behalf.
type Host struct {
	fs     afero.Fs
	config Config
	runner CommandRunner
	logger *logging.Logger
}

// New creates a host adapter. A nil runner means ExecRunner.
func New(fs afero.Fs, config Config, runner CommandRunner, logger *logging.Logger) *Host {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if config.WorldMarker == "" {
		config.WorldMarker = "level.dat"
	}
	return &Host{fs: fs, config: config, runner: runner, logger: logger}
}

// Worlds returns every direct subdirectory of the root that holds the world
// marker file, sorted by name. A non-empty allowlist restricts the result;
// allowlisted names that match no world are logged.
func (h *Host) Worlds(ctx context.Context, allowlist []string) ([]backup.World, error) {
	entries, err := afero.ReadDir(h.fs, h.config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list worlds in %s: %w", h.config.Root, err)
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = false
	}

	var worlds []backup.World
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(allowlist) > 0 {
			if _, ok := allowed[name]; !ok {
				continue
			}
		}

		root := filepath.Join(h.config.Root, name)
		ok, err := afero.Exists(h.fs, filepath.Join(root, h.config.WorldMarker))
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", root, err)
		}
		if !ok {
			continue
		}

		allowed[name] = true
		worlds = append(worlds, &CommandWorld{host: h, name: name, root: root})
	}

	var missing []string
	for name, found := range allowed {
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		h.logger.WithField("worlds", missing).Warn("Allowlisted worlds not found")
	}

	sort.Slice(worlds, func(i, j int) bool { return worlds[i].Name() < worlds[j].Name() })
	return worlds, nil
}

// Notify broadcasts message through the announce command. It does nothing
// when no announce command is configured.
func (h *Host) Notify(ctx context.Context, message string) error {
	return h.run(ctx, h.config.AnnounceCommand, map[string]string{MessagePlaceholder: message})
}

func (h *Host) run(ctx context.Context, template string, values map[string]string) error {
	if strings.TrimSpace(template) == "" {
		return nil
	}

	argv, err := expand(template, values)
	if err != nil {
		return err
	}

	if h.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.CommandTimeout)
		defer cancel()
	}

	h.logger.WithField("command", shellquote.Join(argv...)).Debug("Running host command")
	out, err := h.runner.Run(ctx, argv)
	if err != nil {
		return fmt.Errorf("host command %q failed: %w (output: %s)", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// expand splits template into words and substitutes placeholders inside each
// word, so substituted values never change the word boundaries.
func expand(template string, values map[string]string) ([]string, error) {
	words, err := shellquote.Split(template)
	if err != nil {
		return nil, fmt.Errorf("invalid command template %q: %w", template, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("invalid command template %q: no program", template)
	}

	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	replacer := strings.NewReplacer(pairs...)
	for i, w := range words {
		words[i] = replacer.Replace(w)
	}
	return words, nil
}

// CommandWorld is a world directory whose persistence is controlled by host
// commands.
type CommandWorld struct {
	host *Host
	name string
	root string
}

// Name implements backup.World
func (w *CommandWorld) Name() string { return w.name }

// Root implements backup.World
func (w *CommandWorld) Root() string { return w.root }

// DisableAutoPersist implements backup.World
func (w *CommandWorld) DisableAutoPersist(ctx context.Context) error {
	return w.host.run(ctx, w.host.config.SaveOffCommand, w.values())
}

// EnableAutoPersist implements backup.World
func (w *CommandWorld) EnableAutoPersist(ctx context.Context) error {
	return w.host.run(ctx, w.host.config.SaveOnCommand, w.values())
}

// PersistNow implements backup.World
func (w *CommandWorld) PersistNow(ctx context.Context) error {
	return w.host.run(ctx, w.host.config.SaveAllCommand, w.values())
}

func (w *CommandWorld) values() map[string]string {
	return map[string]string{WorldPlaceholder: w.name}
}

