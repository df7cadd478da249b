// Package config provides unified configuration loading for the render driver
// and the collection server. Supports YAML files, environment variables, and
// flag overrides applied by the commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a run.
type Config struct {
	Driver        DriverConfig        `yaml:"driver"`
	Report        ReportConfig        `yaml:"report"`
	Collector     CollectorConfig     `yaml:"collector"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DriverConfig holds the parameters of one driver run. Browser, Manifest and
// AppPath are the three values the hosting page passes as query parameters.
type DriverConfig struct {
	Browser           string        `yaml:"browser"`
	Manifest          string        `yaml:"manifest"`
	AppPath           string        `yaml:"app_path"`
	Server            string        `yaml:"server"`
	BackoffStep       time.Duration `yaml:"backoff_step"`
	DrainPollInterval time.Duration `yaml:"drain_poll_interval"`
	QuitDelay         time.Duration `yaml:"quit_delay"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// ReportConfig holds result submission settings.
type ReportConfig struct {
	SubmitPath     string        `yaml:"submit_path"`
	QuitPath       string        `yaml:"quit_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxAttempts    int           `yaml:"max_attempts"` // 0 retries forever
}

// CollectorConfig holds the collection server settings.
type CollectorConfig struct {
	Host            string         `yaml:"host"`
	Port            int            `yaml:"port"`
	RootDir         string         `yaml:"root_dir"`
	SnapshotDir     string         `yaml:"snapshot_dir"`
	RefsDir         string         `yaml:"refs_dir"`
	ExitOnQuit      bool           `yaml:"exit_on_quit"`
	MaxBodyBytes    int64          `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration  `yaml:"read_timeout"`
	WriteTimeout    time.Duration  `yaml:"write_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Database        DatabaseConfig `yaml:"database"`
	Redis           RedisConfig    `yaml:"redis"`
}

// DatabaseConfig holds result store connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or postgres
	SQLite   string `yaml:"sqlite_path"`
	Postgres string `yaml:"postgres_dsn"`
}

// RedisConfig holds settings for the live result channel. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadDotEnv loads .env from the working directory and its parents. Missing
// files are ignored.
func LoadDotEnv() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		_ = godotenv.Load(p)
	}
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Driver: DriverConfig{
			Server:            "http://localhost:8080",
			BackoffStep:       10 * time.Millisecond,
			DrainPollInterval: 100 * time.Millisecond,
			QuitDelay:         100 * time.Millisecond,
			EventBuffer:       256,
		},
		Report: ReportConfig{
			SubmitPath:     "/submit_task_results",
			QuitPath:       "/tellMeToQuit",
			RequestTimeout: 30 * time.Second,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Collector: CollectorConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			RootDir:         ".",
			SnapshotDir:     "snapshots",
			ExitOnQuit:      false,
			MaxBodyBytes:    64 << 20,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Database: DatabaseConfig{
				Driver: "sqlite",
				SQLite: "results.db",
			},
			Redis: RedisConfig{
				Channel: "render-driver:results",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			ServiceName: "render-driver",
		},
	}
}

// ValidateDriver checks the settings a driver run needs.
func (c *Config) ValidateDriver() error {
	if c.Driver.Browser == "" {
		return fmt.Errorf("browser identifier is required")
	}
	if c.Driver.Manifest == "" {
		return fmt.Errorf("manifest location is required")
	}
	if c.Driver.Server == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.Driver.BackoffStep < 0 || c.Driver.DrainPollInterval <= 0 || c.Driver.QuitDelay < 0 {
		return fmt.Errorf("driver delays must not be negative and drain_poll_interval must be positive")
	}
	if c.Report.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	if c.Report.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.Report.MaxBackoff < c.Report.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) is below initial_backoff (%v)", c.Report.MaxBackoff, c.Report.InitialBackoff)
	}
	return nil
}

// ValidateCollector checks the settings the collection server needs.
func (c *Config) ValidateCollector() error {
	if c.Collector.Port < 0 || c.Collector.Port > 65535 {
		return fmt.Errorf("invalid collector port: %d", c.Collector.Port)
	}

	switch c.Collector.Database.Driver {
	case "sqlite":
		if c.Collector.Database.SQLite == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Collector.Database.Postgres == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.Collector.Database.Driver)
	}

	if c.Collector.SnapshotDir == "" {
		return fmt.Errorf("snapshot_dir is required")
	}
	return nil
}

// CollectorAddr returns the listen address of the collection server.
func (c *Config) CollectorAddr() string {
	return fmt.Sprintf("%s:%d", c.Collector.Host, c.Collector.Port)
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.Collector.Database.Driver == "sqlite" {
		return c.Collector.Database.SQLite
	}
	return c.Collector.Database.Postgres
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RENDER_DRIVER_BROWSER"); v != "" {
		cfg.Driver.Browser = v
	}

	if v := os.Getenv("RENDER_DRIVER_MANIFEST"); v != "" {
		cfg.Driver.Manifest = v
	}

	if v := os.Getenv("RENDER_DRIVER_APP_PATH"); v != "" {
		cfg.Driver.AppPath = v
	}

	if v := os.Getenv("RENDER_DRIVER_SERVER"); v != "" {
		cfg.Driver.Server = v
	}

	if v := os.Getenv("RENDER_DRIVER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Report.MaxAttempts = n
		}
	}

	if v := os.Getenv("COLLECTOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Collector.Port = port
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Collector.Database.Driver = "sqlite"
			cfg.Collector.Database.SQLite = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Collector.Database.Driver = "postgres"
			cfg.Collector.Database.Postgres = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Collector.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
