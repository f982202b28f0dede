package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"world-archivist/internal/backup"
	"world-archivist/internal/logging"
)

// NewViper returns a viper instance with archivist defaults registered and
// ARCHIVIST_* environment overrides enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	RegisterDefaults(v)
	return v
}

// RegisterDefaults registers every default on v. retention.interval
// defaults to empty so that it follows backup.interval.
func RegisterDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("backup.folder", d.Backup.Folder)
	v.SetDefault("backup.temp_root", d.Backup.TempRoot)
	v.SetDefault("backup.interval", d.Backup.Interval)
	v.SetDefault("backup.compression_level", d.Backup.CompressionLevel)
	v.SetDefault("backup.compression_method", d.Backup.CompressionMethod)
	v.SetDefault("backup.checksum", d.Backup.Checksum)
	v.SetDefault("backup.buffer_size", d.Backup.BufferSize)
	v.SetDefault("backup.max_concurrent", d.Backup.MaxConcurrent)

	v.SetDefault("retention.max_age", d.Retention.MaxAge)
	v.SetDefault("retention.interval", "")

	v.SetDefault("worlds", []string{})

	v.SetDefault("host.root", d.Host.Root)
	v.SetDefault("host.world_marker", d.Host.WorldMarker)
	v.SetDefault("host.save_off_command", "")
	v.SetDefault("host.save_on_command", "")
	v.SetDefault("host.save_all_command", "")
	v.SetDefault("host.announce_command", "")
	v.SetDefault("host.command_timeout", d.Host.CommandTimeout)

	v.SetDefault("messages.backup_started", d.Messages.BackupStarted)
	v.SetDefault("messages.backup_ended", d.Messages.BackupEnded)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_timeout", d.Notify.WebhookTimeout)

	v.SetDefault("metrics.listen", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
}

// ReadFile reads the config file at path into v. With an empty path,
// archivist.yaml is looked up in the working directory and then in
// $HOME/.config/archivist; not finding one is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "archivist"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return backup.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	return nil
}

// Load decodes v into a Config, fills remaining defaults and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, backup.NewConfigurationError("failed to decode configuration", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return data, nil
}

// WriteFile writes cfg to path as YAML. An existing file is only replaced
// when force is set.
func WriteFile(fs afero.Fs, path string, cfg *Config, force bool) error {
	if !force {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return afero.WriteFile(fs, path, data, 0644)
}

// Watch reloads the config file whenever it is written and hands every
// valid result to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *logging.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}

		cfg, err := Load(v)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"file":  event.Name,
				"error": err.Error(),
			}).Warn("Ignoring invalid configuration change")
			return
		}

		logger.WithField("file", event.Name).Info("Configuration reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
}
