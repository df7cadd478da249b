package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10*time.Millisecond, cfg.Driver.BackoffStep)
	assert.Equal(t, 100*time.Millisecond, cfg.Driver.DrainPollInterval)
	assert.Equal(t, "/submit_task_results", cfg.Report.SubmitPath)
	assert.Equal(t, "/tellMeToQuit", cfg.Report.QuitPath)
	assert.Zero(t, cfg.Report.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Collector.Database.Driver)
	assert.NoError(t, cfg.ValidateCollector())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "render-driver.yaml")
	yamlData := `
driver:
  browser: firefox
  manifest: test_manifest.json
  backoff_step: 25ms
report:
  max_attempts: 7
collector:
  port: 9000
  database:
    driver: postgres
    postgres_dsn: postgres://u:p@localhost/results
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	t.Setenv("RENDER_DRIVER_APP_PATH", "/usr/bin/firefox")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "firefox", cfg.Driver.Browser)
	assert.Equal(t, "test_manifest.json", cfg.Driver.Manifest)
	assert.Equal(t, "/usr/bin/firefox", cfg.Driver.AppPath)
	assert.Equal(t, 25*time.Millisecond, cfg.Driver.BackoffStep)
	assert.Equal(t, 100*time.Millisecond, cfg.Driver.DrainPollInterval, "unset keys keep defaults")
	assert.Equal(t, 7, cfg.Report.MaxAttempts)
	assert.Equal(t, 9000, cfg.Collector.Port)
	assert.Equal(t, "postgres://u:p@localhost/results", cfg.DatabaseDSN())
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.NoError(t, cfg.ValidateDriver())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_DatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:/tmp/other.db")
	t.Setenv("REDIS_URL", "redis://localhost:6390")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Collector.Database.Driver)
	assert.Equal(t, "/tmp/other.db", cfg.DatabaseDSN())
	assert.Equal(t, "localhost:6390", cfg.Collector.Redis.Addr)
}

func TestValidateDriver(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "complete", mutate: func(c *Config) {}},
		{name: "missing browser", mutate: func(c *Config) { c.Driver.Browser = "" }, wantErr: true},
		{name: "missing manifest", mutate: func(c *Config) { c.Driver.Manifest = "" }, wantErr: true},
		{name: "zero poll interval", mutate: func(c *Config) { c.Driver.DrainPollInterval = 0 }, wantErr: true},
		{name: "negative attempts", mutate: func(c *Config) { c.Report.MaxAttempts = -1 }, wantErr: true},
		{name: "cap below initial", mutate: func(c *Config) { c.Report.MaxBackoff = time.Millisecond }, wantErr: true},
		{name: "zero backoff", mutate: func(c *Config) { c.Report.InitialBackoff = 0; c.Report.MaxBackoff = 0 }, wantErr: true},
		{name: "negative backoff", mutate: func(c *Config) { c.Report.InitialBackoff = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Driver.Browser = "chrome"
			cfg.Driver.Manifest = "manifest.json"
			tt.mutate(cfg)

			err := cfg.ValidateDriver()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCollector_BadDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Collector.Database.Driver = "mysql"
	assert.Error(t, cfg.ValidateCollector())
}
