package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// MediaDir is where uploaded profile images are kept.
	MediaDir     string `mapstructure:"media_dir" yaml:"media_dir"`
	MediaBaseURL string `mapstructure:"media_base_url" yaml:"media_base_url"`

	ICEServers       []string `mapstructure:"ice_servers" yaml:"ice_servers"`
	SignalingRetries int      `mapstructure:"signaling_retries" yaml:"signaling_retries"`

	OpenAIAPIKey  string `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url"`
	OpenAIModel   string `mapstructure:"openai_model" yaml:"openai_model"`

	ReminderWindow time.Duration `mapstructure:"reminder_window" yaml:"reminder_window"`

	// ChatRateLimit bounds messages per minute on one chat stream; 0 disables it.
	ChatRateLimit int `mapstructure:"chat_rate_limit" yaml:"chat_rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "mindconnect.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "mindconnect",
		JWTAudience:       "mindconnect",
		MediaDir:          "media",
		MediaBaseURL:      "/media",
		ICEServers:        []string{"stun:stun.l.google.com:19302"},
		SignalingRetries:  3,
		OpenAIModel:       "gpt-3.5-turbo",
		ReminderWindow:    30 * time.Minute,
		ChatRateLimit:     60,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.MediaDir != "" {
		c.MediaDir = other.MediaDir
	}
	if len(other.ICEServers) > 0 {
		c.ICEServers = other.ICEServers
	}
	if other.SignalingRetries != 0 {
		c.SignalingRetries = other.SignalingRetries
	}
	if other.OpenAIAPIKey != "" {
		c.OpenAIAPIKey = other.OpenAIAPIKey
	}
	if other.ReminderWindow != 0 {
		c.ReminderWindow = other.ReminderWindow
	}
	if other.ChatRateLimit != 0 {
		c.ChatRateLimit = other.ChatRateLimit
	}
}
