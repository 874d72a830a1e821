package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultPlatform  = "telegram"
	DefaultBotConfig = "{}"
	DefaultPrefix    = "/"

	DefaultWhatsAppSession = "whatsapp.db"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDialRetryInterval = 5 * time.Second

	DefaultHistoryRetention   = 30 * 24 * time.Hour
	DefaultHistoryMaintenance = "0 4 * * *"
	DefaultReplyMaxDepth      = 8
)

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server", "")
	v.SetDefault("platform", DefaultPlatform)
	v.SetDefault("config", DefaultBotConfig)
	v.SetDefault("telegram_token", "")
	v.SetDefault("whatsapp_session", DefaultWhatsAppSession)

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("log_file", "")

	v.SetDefault("heartbeat_interval", DefaultHeartbeatInterval)
	v.SetDefault("dial_retry_interval", DefaultDialRetryInterval)

	v.SetDefault("media_dir", "")
	v.SetDefault("history_path", "")
	v.SetDefault("history_retention", DefaultHistoryRetention)
	v.SetDefault("history_maintenance", DefaultHistoryMaintenance)
	v.SetDefault("reply_max_depth", DefaultReplyMaxDepth)

	v.SetDefault("metrics_addr", "")
}
