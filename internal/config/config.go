package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"world-archivist/internal/backup"
	"world-archivist/internal/host"
	"world-archivist/internal/logging"
)

const (
	// FileName is the config file name looked up when --config is not given.
	FileName = "archivist.yaml"
	// EnvPrefix prefixes environment overrides, e.g. ARCHIVIST_BACKUP_FOLDER.
	EnvPrefix = "ARCHIVIST"

	minBackupInterval = time.Second
	minMaxAge         = time.Millisecond
)

// Config is the complete archivist configuration
type Config struct {
	Backup    BackupConfig    `mapstructure:"backup" yaml:"backup"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Worlds    []string        `mapstructure:"worlds" yaml:"worlds"`
	Host      HostConfig      `mapstructure:"host" yaml:"host"`
	Messages  MessagesConfig  `mapstructure:"messages" yaml:"messages"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// BackupConfig controls where and how archives are written
type BackupConfig struct {
	Folder            string `mapstructure:"folder" yaml:"folder"`
	TempRoot          string `mapstructure:"temp_root" yaml:"temp_root"`
	Interval          string `mapstructure:"interval" yaml:"interval"`
	CompressionLevel  string `mapstructure:"compression_level" yaml:"compression_level"`
	CompressionMethod string `mapstructure:"compression_method" yaml:"compression_method"`
	Checksum          string `mapstructure:"checksum" yaml:"checksum"`
	BufferSize        int    `mapstructure:"buffer_size" yaml:"buffer_size"`
	MaxConcurrent     int    `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// RetentionConfig defines how long archives are kept
type RetentionConfig struct {
	MaxAge   string `mapstructure:"max_age" yaml:"max_age"`
	Interval string `mapstructure:"interval" yaml:"interval"`
}

// HostConfig describes the world host
type HostConfig struct {
	Root            string `mapstructure:"root" yaml:"root"`
	WorldMarker     string `mapstructure:"world_marker" yaml:"world_marker"`
	SaveOffCommand  string `mapstructure:"save_off_command" yaml:"save_off_command"`
	SaveOnCommand   string `mapstructure:"save_on_command" yaml:"save_on_command"`
	SaveAllCommand  string `mapstructure:"save_all_command" yaml:"save_all_command"`
	AnnounceCommand string `mapstructure:"announce_command" yaml:"announce_command"`
	CommandTimeout  string `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// MessagesConfig holds the announcements sent around a backup run. An empty
// message is not sent.
type MessagesConfig struct {
	BackupStarted string `mapstructure:"backup_started" yaml:"backup_started"`
	BackupEnded   string `mapstructure:"backup_ended" yaml:"backup_ended"`
}

// NotifyConfig configures the optional webhook
type NotifyConfig struct {
	WebhookURL     string            `mapstructure:"webhook_url" yaml:"webhook_url"`
	WebhookTimeout string            `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
	WebhookHeaders map[string]string `mapstructure:"webhook_headers" yaml:"webhook_headers,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{Messages: DefaultMessages()}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every empty field with its default value
func (c *Config) SetDefaults() {
	if c.Backup.Folder == "" {
		c.Backup.Folder = "archives"
	}
	if c.Backup.TempRoot == "" {
		c.Backup.TempRoot = os.TempDir()
	}
	if c.Backup.Interval == "" {
		c.Backup.Interval = "1h"
	}
	if c.Backup.CompressionLevel == "" {
		c.Backup.CompressionLevel = "default"
	}
	if c.Backup.CompressionMethod == "" {
		c.Backup.CompressionMethod = string(backup.CompressionMethodDeflate)
	}
	if c.Backup.Checksum == "" {
		c.Backup.Checksum = string(backup.ChecksumAdler32)
	}
	if c.Backup.BufferSize == 0 {
		c.Backup.BufferSize = 4096
	}
	if c.Backup.MaxConcurrent == 0 {
		c.Backup.MaxConcurrent = 1
	}

	if c.Retention.MaxAge == "" {
		c.Retention.MaxAge = "120h"
	}
	if c.Retention.Interval == "" {
		if interval, err := parseDuration(c.Backup.Interval); err == nil {
			c.Retention.Interval = (2 * interval).String()
		} else {
			c.Retention.Interval = "2h"
		}
	}

	if c.Host.Root == "" {
		c.Host.Root = "."
	}
	if c.Host.WorldMarker == "" {
		c.Host.WorldMarker = "level.dat"
	}
	if c.Host.CommandTimeout == "" {
		c.Host.CommandTimeout = "2m"
	}

	if c.Notify.WebhookTimeout == "" {
		c.Notify.WebhookTimeout = "30s"
	}

	if c.Log.Level == "" {
		c.Log.Level = string(logging.LogLevelNormal)
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// DefaultMessages returns the default announcements. They are kept out of
// SetDefaults so that an explicitly empty message stays empty.
func DefaultMessages() MessagesConfig {
	return MessagesConfig{
		BackupStarted: "[Archivist] Backup started.",
		BackupEnded:   "[Archivist] Backup ended.",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs backup.ValidationErrors

	if strings.TrimSpace(c.Backup.Folder) == "" {
		errs.Add("backup.folder", "backup folder is required", c.Backup.Folder)
	}
	if interval, err := parseDuration(c.Backup.Interval); err != nil {
		errs.Add("backup.interval", err.Error(), c.Backup.Interval)
	} else if interval < minBackupInterval {
		errs.Add("backup.interval", fmt.Sprintf("must be at least %s", minBackupInterval), c.Backup.Interval)
	}
	if _, err := backup.ParseCompressionLevel(c.Backup.CompressionLevel); err != nil {
		errs.Add("backup.compression_level", err.Error(), c.Backup.CompressionLevel)
	}
	if _, err := backup.ParseCompressionMethod(c.Backup.CompressionMethod); err != nil {
		errs.Add("backup.compression_method", err.Error(), c.Backup.CompressionMethod)
	}
	if _, err := backup.ParseChecksumAlgorithm(c.Backup.Checksum); err != nil {
		errs.Add("backup.checksum", err.Error(), c.Backup.Checksum)
	}
	if c.Backup.BufferSize < 512 {
		errs.Add("backup.buffer_size", "must be at least 512 bytes", c.Backup.BufferSize)
	}
	if c.Backup.MaxConcurrent < 1 {
		errs.Add("backup.max_concurrent", "must be at least 1", c.Backup.MaxConcurrent)
	}

	if maxAge, err := parseDuration(c.Retention.MaxAge); err != nil {
		errs.Add("retention.max_age", err.Error(), c.Retention.MaxAge)
	} else if maxAge < minMaxAge {
		errs.Add("retention.max_age", fmt.Sprintf("must be at least %s", minMaxAge), c.Retention.MaxAge)
	}
	if interval, err := parseDuration(c.Retention.Interval); err != nil {
		errs.Add("retention.interval", err.Error(), c.Retention.Interval)
	} else if interval < minBackupInterval {
		errs.Add("retention.interval", fmt.Sprintf("must be at least %s", minBackupInterval), c.Retention.Interval)
	}

	for _, name := range c.Worlds {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
			errs.Add("worlds", "world names must be plain directory names", name)
		}
	}

	if c.Host.WorldMarker == "" {
		errs.Add("host.world_marker", "world marker file name is required", c.Host.WorldMarker)
	}
	if _, err := parseDuration(c.Host.CommandTimeout); err != nil {
		errs.Add("host.command_timeout", err.Error(), c.Host.CommandTimeout)
	}

	if c.Notify.WebhookURL != "" {
		if !strings.HasPrefix(c.Notify.WebhookURL, "http://") && !strings.HasPrefix(c.Notify.WebhookURL, "https://") {
			errs.Add("notify.webhook_url", "must be an http or https URL", c.Notify.WebhookURL)
		}
		if _, err := parseDuration(c.Notify.WebhookTimeout); err != nil {
			errs.Add("notify.webhook_timeout", err.Error(), c.Notify.WebhookTimeout)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs.Add("log.level", err.Error(), c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs.Add("log.format", "must be text or json", c.Log.Format)
	}

	if errs.HasErrors() {
		return backup.NewConfigurationError("invalid configuration", errs)
	}
	return nil
}

// BackupInterval returns the parsed backup interval.
func (c *Config) BackupInterval() time.Duration {
	d, _ := parseDuration(c.Backup.Interval)
	return d
}

// RetentionInterval returns the parsed retention interval.
func (c *Config) RetentionInterval() time.Duration {
	d, _ := parseDuration(c.Retention.Interval)
	return d
}

// ArchiveOptions converts the backup section. Call Validate first.
func (c *Config) ArchiveOptions() backup.ArchiveOptions {
	level, _ := backup.ParseCompressionLevel(c.Backup.CompressionLevel)
	method, _ := backup.ParseCompressionMethod(c.Backup.CompressionMethod)
	checksum, _ := backup.ParseChecksumAlgorithm(c.Backup.Checksum)
	return backup.ArchiveOptions{
		Level:      level,
		Method:     method,
		Checksum:   checksum,
		BufferSize: c.Backup.BufferSize,
	}
}

// Settings returns the values the backup service can change at runtime.
func (c *Config) Settings() backup.Settings {
	maxAge, _ := parseDuration(c.Retention.MaxAge)
	return backup.Settings{
		MaxAge:       maxAge,
		Allowlist:    append([]string(nil), c.Worlds...),
		StartMessage: c.Messages.BackupStarted,
		EndMessage:   c.Messages.BackupEnded,
	}
}

// HostSettings converts the host section.
func (c *Config) HostSettings() host.Config {
	timeout, _ := parseDuration(c.Host.CommandTimeout)
	return host.Config{
		Root:            c.Host.Root,
		WorldMarker:     c.Host.WorldMarker,
		SaveOffCommand:  c.Host.SaveOffCommand,
		SaveOnCommand:   c.Host.SaveOnCommand,
		SaveAllCommand:  c.Host.SaveAllCommand,
		AnnounceCommand: c.Host.AnnounceCommand,
		CommandTimeout:  timeout,
	}
}

// Webhook returns the webhook settings, or nil when no URL is configured.
func (c *Config) Webhook() *backup.WebhookConfig {
	if c.Notify.WebhookURL == "" {
		return nil
	}
	timeout, _ := parseDuration(c.Notify.WebhookTimeout)
	return &backup.WebhookConfig{
		URL:     c.Notify.WebhookURL,
		Headers: c.Notify.WebhookHeaders,
		Timeout: timeout,
	}
}

// LoggingConfig converts the log section.
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:   level,
		Format:  c.Log.Format,
		LogFile: c.Log.File,
	}
}

func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("duration is required")
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
