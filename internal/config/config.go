// Package config loads the bridge configuration from the environment, an
// optional .env file and an optional config.yaml, applies defaults and
// validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration marks every configuration failure.
var ErrConfiguration = errors.New("configuration error")

// Config is the complete bridge configuration. Keys match the environment
// variable names in lower case.
type Config struct {
	Server   string `mapstructure:"server"   validate:"required,url"`
	Platform string `mapstructure:"platform" validate:"required,oneof=telegram whatsapp"`

	// BotConfig is the raw CONFIG JSON object forwarded to the backend.
	BotConfig     string `mapstructure:"config"         validate:"required,json"`
	TelegramToken string `mapstructure:"telegram_token" validate:"required_if=Platform telegram"`

	// WhatsAppSession is the SQLite file holding the linked device keys.
	WhatsAppSession string `mapstructure:"whatsapp_session" validate:"required_if=Platform whatsapp"`

	LogLevel  string `mapstructure:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`
	LogFile   string `mapstructure:"log_file"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"  validate:"min=1s"`
	DialRetryInterval time.Duration `mapstructure:"dial_retry_interval" validate:"min=100ms"`

	MediaDir           string        `mapstructure:"media_dir"`
	HistoryPath        string        `mapstructure:"history_path"`
	HistoryRetention   time.Duration `mapstructure:"history_retention"   validate:"min=1h"`
	HistoryMaintenance string        `mapstructure:"history_maintenance" validate:"required"`
	ReplyMaxDepth      int           `mapstructure:"reply_max_depth"     validate:"min=1,max=64"`

	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// Prefix is the command prefix read from the "prefix" key of BotConfig.
	Prefix string `mapstructure:"-"`
}

// Load reads the configuration. Variables from envFiles (".env" when none are
// given) are added to the environment without overriding it; missing files are
// skipped. configFile names a YAML file that must exist; when empty, config.yaml
// is read from the working directory if present.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to load %s: %v", ErrConfiguration, f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
		slog.Debug("Configuration file not found, using environment and defaults")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}
	cfg.Platform = strings.ToLower(strings.TrimSpace(cfg.Platform))
	cfg.BotConfig = strings.TrimSpace(cfg.BotConfig)
	cfg.WhatsAppSession = strings.TrimSpace(cfg.WhatsAppSession)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prefix, err := commandPrefix(cfg.BotConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg.Prefix = prefix

	slog.Debug("Configuration loaded",
		"platform", cfg.Platform,
		"log_level", cfg.LogLevel,
		"history_path", cfg.HistoryPath,
		"reply_max_depth", cfg.ReplyMaxDepth)
	return cfg, nil
}

// RawBotConfig returns the CONFIG blob as raw JSON.
func (c *Config) RawBotConfig() json.RawMessage {
	return json.RawMessage(c.BotConfig)
}

// JSONLogs reports whether log records are written as JSON.
func (c *Config) JSONLogs() bool {
	return c.LogFormat == "json"
}

// commandPrefix reads the optional "prefix" key of the CONFIG object.
func commandPrefix(raw string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return "", fmt.Errorf("CONFIG must be a JSON object")
	}
	p, ok := obj["prefix"]
	if !ok {
		return DefaultPrefix, nil
	}
	var prefix string
	if err := json.Unmarshal(p, &prefix); err != nil {
		return "", fmt.Errorf("CONFIG prefix must be a string: %w", err)
	}
	return prefix, nil
}
