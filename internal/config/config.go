package config

import "time"

// Config holds client configuration values.
type Config struct {
	BackendURL       string        `mapstructure:"backend_url" yaml:"backend_url"`
	DatabasePath     string        `mapstructure:"database_path" yaml:"database_path"`
	ConversationID   string        `mapstructure:"conversation_id" yaml:"conversation_id"`
	Token            string        `mapstructure:"token" yaml:"token"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level"`
	SampleInterval   time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	OfflineThreshold time.Duration `mapstructure:"offline_threshold" yaml:"offline_threshold"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// defaultConversationID pins the two-party conversation every fresh install
// joins, matching the backend's seeded conversation row.
const defaultConversationID = "00000000-0000-0000-0000-000000000001"

// Default returns configuration with reasonable starter defaults. The
// presence timings mirror the documented activity model: sample every 30s,
// flip offline after 120s without activity.
func Default() Config {
	return Config{
		DatabasePath:     "wirechat.db",
		ConversationID:   defaultConversationID,
		LogLevel:         "info",
		SampleInterval:   30 * time.Second,
		OfflineThreshold: 120 * time.Second,
		ReconnectDelay:   2 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.BackendURL != "" {
		c.BackendURL = other.BackendURL
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.ConversationID != "" {
		c.ConversationID = other.ConversationID
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.SampleInterval != 0 {
		c.SampleInterval = other.SampleInterval
	}
	if other.OfflineThreshold != 0 {
		c.OfflineThreshold = other.OfflineThreshold
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
