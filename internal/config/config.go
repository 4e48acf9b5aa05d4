package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`
	Channels ChannelsConfig `yaml:"channels" mapstructure:"channels"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RegistryConfig locates the static field catalog.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig configures promotion behavior.
type PipelineConfig struct {
	PrimaryTierMultiplier   float64 `yaml:"primary_tier_multiplier" mapstructure:"primary_tier_multiplier"`
	SecondaryTierMultiplier float64 `yaml:"secondary_tier_multiplier" mapstructure:"secondary_tier_multiplier"`
	MaxConcurrentEntities   int     `yaml:"max_concurrent_entities" mapstructure:"max_concurrent_entities"`
}

// DispatchConfig configures alert dispatch retry and pacing.
type DispatchConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	ChannelTimeoutSecs int     `yaml:"channel_timeout_secs" mapstructure:"channel_timeout_secs"`
	RatePerSec         float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ChannelsConfig configures the available notification channels.
type ChannelsConfig struct {
	Webhook WebhookConfig `yaml:"webhook" mapstructure:"webhook"`
	Slack   SlackConfig   `yaml:"slack" mapstructure:"slack"`
}

// WebhookConfig holds the generic JSON webhook sink settings.
type WebhookConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMPINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "compintel.db")
	v.SetDefault("registry.path", "fields.yaml")
	v.SetDefault("pipeline.primary_tier_multiplier", 1.0)
	v.SetDefault("pipeline.secondary_tier_multiplier", 0.7)
	v.SetDefault("pipeline.max_concurrent_entities", 5)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.initial_backoff_ms", 500)
	v.SetDefault("dispatch.channel_timeout_secs", 10)
	v.SetDefault("dispatch.rate_per_sec", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
