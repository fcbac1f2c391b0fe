package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	API           APIConfig           `mapstructure:"api"`
	UI            UIConfig            `mapstructure:"ui"`
	Account       AccountConfig       `mapstructure:"account"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// APIConfig holds upstream API endpoints and HTTP client tuning
type APIConfig struct {
	GammaAPIURL         string        `mapstructure:"gamma_api_url"`
	ClobAPIURL          string        `mapstructure:"clob_api_url"`
	DataAPIURL          string        `mapstructure:"data_api_url"`
	StreamURL           string        `mapstructure:"stream_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// UIConfig holds event loop timing and list sizing
type UIConfig struct {
	InputPollTimeout time.Duration `mapstructure:"input_poll_timeout"`
	SearchDebounce   time.Duration `mapstructure:"search_debounce"`
	BookRefresh      time.Duration `mapstructure:"book_refresh"`
	HealthPoll       time.Duration `mapstructure:"health_poll"`
	PageSize         int           `mapstructure:"page_size"`
	BookDepth        int           `mapstructure:"book_depth"`
}

// AccountConfig holds the user's wallet address and session credential.
// An empty session token means read-only mode: favorites actions are
// refused with an inline message instead of an API call.
type AccountConfig struct {
	Address      string `mapstructure:"address"`
	SessionToken string `mapstructure:"session_token"`
}

// NotificationsConfig holds Telegram large-trade alert configuration
type NotificationsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MinTradeValue  float64       `mapstructure:"min_trade_value"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds local persistence configuration
type StorageConfig struct {
	DBPath            string `mapstructure:"db_path"`
	MaxTradesPerEvent int    `mapstructure:"max_trades_per_event"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// HasAuth reports whether a session credential is configured.
func (c *AccountConfig) HasAuth() bool {
	return c.Address != "" && c.SessionToken != ""
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("POLYTERM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.clob_api_url", "https://clob.polymarket.com")
	v.SetDefault("api.data_api_url", "https://data-api.polymarket.com")
	v.SetDefault("api.stream_url", "wss://ws-live-data.polymarket.com")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.retry_delay_base", "1s")
	v.SetDefault("api.max_idle_conns", 16)
	v.SetDefault("api.max_idle_conns_per_host", 8)
	v.SetDefault("api.idle_conn_timeout", "90s")

	// UI defaults
	v.SetDefault("ui.input_poll_timeout", "100ms")
	v.SetDefault("ui.search_debounce", "500ms")
	v.SetDefault("ui.book_refresh", "5s")
	v.SetDefault("ui.health_poll", "30s")
	v.SetDefault("ui.page_size", 50)
	v.SetDefault("ui.book_depth", 10)

	// Notification defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.min_trade_value", 1000.0)
	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_trades_per_event", 500)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "./polyterm.log")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate API config
	if c.API.GammaAPIURL == "" {
		return fmt.Errorf("api.gamma_api_url is required")
	}
	if c.API.ClobAPIURL == "" {
		return fmt.Errorf("api.clob_api_url is required")
	}
	if c.API.DataAPIURL == "" {
		return fmt.Errorf("api.data_api_url is required")
	}
	if c.API.StreamURL == "" {
		return fmt.Errorf("api.stream_url is required")
	}
	if c.API.Timeout < time.Second {
		return fmt.Errorf("api.timeout must be at least 1 second")
	}
	if c.API.MaxRetries < 1 {
		return fmt.Errorf("api.max_retries must be at least 1")
	}

	// Validate UI config
	if c.UI.InputPollTimeout < 10*time.Millisecond || c.UI.InputPollTimeout > time.Second {
		return fmt.Errorf("ui.input_poll_timeout must be between 10ms and 1s")
	}
	if c.UI.SearchDebounce < 100*time.Millisecond {
		return fmt.Errorf("ui.search_debounce must be at least 100ms")
	}
	if c.UI.BookRefresh < time.Second {
		return fmt.Errorf("ui.book_refresh must be at least 1 second")
	}
	if c.UI.HealthPoll < 5*time.Second {
		return fmt.Errorf("ui.health_poll must be at least 5 seconds")
	}
	if c.UI.PageSize < 1 || c.UI.PageSize > 500 {
		return fmt.Errorf("ui.page_size must be between 1 and 500")
	}
	if c.UI.BookDepth < 1 || c.UI.BookDepth > 100 {
		return fmt.Errorf("ui.book_depth must be between 1 and 100")
	}

	// Validate Notifications config
	if c.Notifications.Enabled {
		if c.Notifications.BotToken == "" {
			return fmt.Errorf("notifications.bot_token is required when notifications are enabled")
		}
		if c.Notifications.ChatID == "" {
			return fmt.Errorf("notifications.chat_id is required when notifications are enabled")
		}
		if c.Notifications.MinTradeValue < 0 {
			return fmt.Errorf("notifications.min_trade_value must not be negative")
		}
	}

	// Validate Storage config
	if c.Storage.MaxTradesPerEvent < 10 {
		return fmt.Errorf("storage.max_trades_per_event must be at least 10")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return nil
}
