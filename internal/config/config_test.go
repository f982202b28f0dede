package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"world-archivist/internal/backup"
	"world-archivist/internal/logging"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "archives", cfg.Backup.Folder)
	assert.Equal(t, time.Hour, cfg.BackupInterval())
	assert.Equal(t, 2*time.Hour, cfg.RetentionInterval())
	assert.Equal(t, "[Archivist] Backup started.", cfg.Messages.BackupStarted)
	assert.Equal(t, "[Archivist] Backup ended.", cfg.Messages.BackupEnded)

	settings := cfg.Settings()
	assert.Equal(t, 120*time.Hour, settings.MaxAge)
	assert.Empty(t, settings.Allowlist)

	opts := cfg.ArchiveOptions()
	assert.Equal(t, backup.CompressionLevelDefault, opts.Level)
	assert.Equal(t, backup.CompressionMethodDeflate, opts.Method)
	assert.Equal(t, backup.ChecksumAdler32, opts.Checksum)
	assert.Equal(t, 4096, opts.BufferSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		field   string
		wantErr bool
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "interval below minimum",
			modify:  func(c *Config) { c.Backup.Interval = "500ms" },
			field:   "backup.interval",
			wantErr: true,
		},
		{
			name:    "unparseable interval",
			modify:  func(c *Config) { c.Backup.Interval = "hourly" },
			field:   "backup.interval",
			wantErr: true,
		},
		{
			name:    "unknown compression level",
			modify:  func(c *Config) { c.Backup.CompressionLevel = "ultra" },
			field:   "backup.compression_level",
			wantErr: true,
		},
		{
			name:    "unknown compression method",
			modify:  func(c *Config) { c.Backup.CompressionMethod = "lzma" },
			field:   "backup.compression_method",
			wantErr: true,
		},
		{
			name:    "unknown checksum",
			modify:  func(c *Config) { c.Backup.Checksum = "md5" },
			field:   "backup.checksum",
			wantErr: true,
		},
		{
			name:    "zero max age",
			modify:  func(c *Config) { c.Retention.MaxAge = "0s" },
			field:   "retention.max_age",
			wantErr: true,
		},
		{
			name:    "world name with separator",
			modify:  func(c *Config) { c.Worlds = []string{"world", "../etc"} },
			field:   "worlds",
			wantErr: true,
		},
		{
			name:    "webhook without scheme",
			modify:  func(c *Config) { c.Notify.WebhookURL = "hooks.example.com/x" },
			field:   "notify.webhook_url",
			wantErr: true,
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			field:   "log.level",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, backup.KindConfiguration, backup.KindOf(err))

			var verrs backup.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archivist.yaml")
	content := `
backup:
  folder: /var/backups/worlds
  interval: 30m
  compression_level: best_speed
  compression_method: zstd
worlds:
  - world
  - world_nether
retention:
  max_age: 48h
messages:
  backup_started: ""
host:
  root: /srv/minecraft
  save_all_command: rcon-cli save-all flush
  command_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/var/backups/worlds", cfg.Backup.Folder)
	assert.Equal(t, 30*time.Minute, cfg.BackupInterval())
	assert.Equal(t, time.Hour, cfg.RetentionInterval(), "retention interval follows backup interval")
	assert.Equal(t, []string{"world", "world_nether"}, cfg.Worlds)

	settings := cfg.Settings()
	assert.Equal(t, 48*time.Hour, settings.MaxAge)
	assert.Empty(t, settings.StartMessage, "explicitly empty message stays empty")
	assert.Equal(t, "[Archivist] Backup ended.", settings.EndMessage)

	opts := cfg.ArchiveOptions()
	assert.Equal(t, backup.CompressionLevelBestSpeed, opts.Level)
	assert.Equal(t, backup.CompressionMethodZstd, opts.Method)

	hostCfg := cfg.HostSettings()
	assert.Equal(t, "/srv/minecraft", hostCfg.Root)
	assert.Equal(t, "level.dat", hostCfg.WorldMarker)
	assert.Equal(t, 45*time.Second, hostCfg.CommandTimeout)
	assert.Equal(t, "rcon-cli save-all flush", hostCfg.SaveAllCommand)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("ARCHIVIST_BACKUP_FOLDER", "/mnt/backups")
	t.Setenv("ARCHIVIST_RETENTION_MAX_AGE", "24h")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "/mnt/backups", cfg.Backup.Folder)
	assert.Equal(t, 24*time.Hour, cfg.Settings().MaxAge)
}

func TestReadFileMissingExplicitPath(t *testing.T) {
	v := NewViper()
	err := ReadFile(v, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, backup.KindConfiguration, backup.KindOf(err))
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backup:\n  compression_level: extreme\n"), 0644))

	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	_, err := Load(v)
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()
	cfg.Worlds = []string{"creative"}

	require.NoError(t, WriteFile(fs, "/etc/archivist/archivist.yaml", cfg, false))

	data, err := afero.ReadFile(fs, "/etc/archivist/archivist.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "folder: archives")
	assert.Contains(t, string(data), "- creative")
	assert.Contains(t, string(data), "[Archivist] Backup started.")

	err = WriteFile(fs, "/etc/archivist/archivist.yaml", cfg, false)
	assert.Error(t, err, "existing file is not overwritten without force")

	assert.NoError(t, WriteFile(fs, "/etc/archivist/archivist.yaml", cfg, true))
}

func TestLoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	cfg.Log.File = "/var/log/archivist.log"

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LogLevelDebug, lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "/var/log/archivist.log", lc.LogFile)
}

func TestWebhook(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Webhook())

	cfg.Notify.WebhookURL = "https://hooks.example.com/archivist"
	cfg.Notify.WebhookTimeout = "5s"
	wh := cfg.Webhook()
	require.NotNil(t, wh)
	assert.Equal(t, "https://hooks.example.com/archivist", wh.URL)
	assert.Equal(t, 5*time.Second, wh.Timeout)
}
