// Package config loads and validates the service configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tradeforge/tradeforge/internal/core"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Data      DataConfig      `mapstructure:"data"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Live      LiveConfig      `mapstructure:"live"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	LogDev    bool            `mapstructure:"log_dev"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DataConfig selects the market data provider.
type DataConfig struct {
	Provider string        `mapstructure:"provider"` // "kline" or "csv"
	CSVDir   string        `mapstructure:"csv_dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SchedulerConfig struct {
	Workers                int `mapstructure:"workers"`
	QueueSize              int `mapstructure:"queue_size"`
	DefaultTrials          int `mapstructure:"default_trials"`
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
}

type LiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Broker  string `mapstructure:"broker"` // only "mock" is built in
}

type ArchiveConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"`
	S3   S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from path, applying defaults first.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("reading config: %w", err))
	}

	// Expand ${ENV_VAR} values so secrets stay out of the file.
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("data.provider", d.Data.Provider)
	v.SetDefault("data.cache_ttl", d.Data.CacheTTL)
	v.SetDefault("scheduler.workers", d.Scheduler.Workers)
	v.SetDefault("scheduler.queue_size", d.Scheduler.QueueSize)
	v.SetDefault("scheduler.default_trials", d.Scheduler.DefaultTrials)
	v.SetDefault("scheduler.max_consecutive_failures", d.Scheduler.MaxConsecutiveFailures)
	v.SetDefault("live.broker", d.Live.Broker)
	v.SetDefault("archive.type", d.Archive.Type)
	v.SetDefault("archive.path", d.Archive.Path)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Path: "tradeforge.db"},
		Data: DataConfig{
			Provider: "kline",
			CacheTTL: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Workers:                2,
			QueueSize:              32,
			DefaultTrials:          50,
			MaxConsecutiveFailures: 5,
		},
		Live:    LiveConfig{Broker: "mock"},
		Archive: ArchiveConfig{Type: "localfs", Path: "archive"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("database path is required"))
	}
	switch c.Data.Provider {
	case "kline":
	case "csv":
		if c.Data.CSVDir == "" {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("csv provider needs data.csv_dir"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown data provider %q", c.Data.Provider))
	}
	if c.Scheduler.Workers < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("scheduler workers must be positive, got %d", c.Scheduler.Workers))
	}
	switch c.Archive.Type {
	case "localfs":
		if c.Archive.Path == "" {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("localfs archive needs a path"))
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("s3 archive needs a bucket"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive type %q", c.Archive.Type))
	}
	return nil
}
