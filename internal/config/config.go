// Package config handles application configuration from a JSON file,
// a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	DiscordToken     string `mapstructure:"discord_token"`
	DiscordPrefix    string `mapstructure:"discord_prefix" validate:"required"`

	OXRAppID        string        `mapstructure:"oxr_app_id" validate:"required"`
	RatesURL        string        `mapstructure:"rates_url" validate:"required|fullUrl"`
	RatesCachePath  string        `mapstructure:"rates_cache_path" validate:"required"`
	RatesTTL        time.Duration `mapstructure:"rates_ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	DatabasePath string `mapstructure:"database_path" validate:"required"`
	SymbolsPath  string `mapstructure:"symbols_path"`
	FlagsPath    string `mapstructure:"flags_path"`

	LogLevel    string `mapstructure:"log_level" validate:"required|in:debug,info,warn,error"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	IgnoredCurrencies  []string `mapstructure:"ignored_currencies"`
	SelectedCurrencies []string `mapstructure:"selected_currencies" validate:"required"`
	AllowedUsers       []string `mapstructure:"allowed_users"`

	EditWindow    time.Duration `mapstructure:"edit_window"`
	HistorySize   int           `mapstructure:"history_size" validate:"required|min:1"`
	SourceCacheMB int           `mapstructure:"source_cache_mb" validate:"required|min:1"`
	Workers       int           `mapstructure:"workers" validate:"required|min:1"`
}

// DefaultSelected is the target set used when none is configured.
var DefaultSelected = []string{"GBP", "EUR", "USD", "AUD", "CAD", "RON", "CHF"}

var defaults = map[string]any{
	"discord_prefix":      "!",
	"rates_url":           "https://openexchangerates.org/api/latest.json",
	"rates_cache_path":    "rates.json",
	"rates_ttl":           "12h",
	"refresh_interval":    "1h",
	"database_path":       "./data/bot.db",
	"log_level":           "info",
	"selected_currencies": DefaultSelected,
	"edit_window":         "20m",
	"history_size":        256,
	"source_cache_mb":     8,
	"workers":             4,
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present. path names an optional JSON config file; environment
// variables override its values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	for _, key := range keys() {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field rules and the constraints that span fields.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" && c.DiscordToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN or DISCORD_TOKEN is required")
	}
	if c.RatesTTL <= 0 || c.RefreshInterval <= 0 || c.EditWindow <= 0 {
		return errors.New("rates_ttl, refresh_interval and edit_window must be positive")
	}

	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %w", v.Errors)
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

func (c *Config) normalize() {
	upper := func(codes []string) []string {
		out := lo.FilterMap(codes, func(s string, _ int) (string, bool) {
			s = strings.ToUpper(strings.TrimSpace(s))
			return s, s != ""
		})
		return lo.Uniq(out)
	}
	c.IgnoredCurrencies = upper(c.IgnoredCurrencies)
	c.SelectedCurrencies = upper(c.SelectedCurrencies)
	c.AllowedUsers = lo.Compact(lo.Map(c.AllowedUsers, func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	c.LogLevel = strings.ToLower(c.LogLevel)
}

func keys() []string {
	return []string{
		"telegram_bot_token", "discord_token", "discord_prefix",
		"oxr_app_id", "rates_url", "rates_cache_path", "rates_ttl", "refresh_interval",
		"database_path", "symbols_path", "flags_path",
		"log_level", "metrics_addr",
		"ignored_currencies", "selected_currencies", "allowed_users",
		"edit_window", "history_size", "source_cache_mb", "workers",
	}
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}
