// Package config provides centralized configuration loaded from environment
// variables. Used by every cmd/relay subcommand.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultYouTubeChannelID is SportyTV Africa.
const DefaultYouTubeChannelID = "UCakjz6EexQFvM7PZtUXy9GQ"

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Telegram
	TelegramToken string

	// YouTube
	YouTubeAPIKey    string
	YouTubeChannelID string
	YouTubeRPM       int

	// API-Football
	APIFootballKey     string
	APIFootballBaseURL string
	APIFootballRPM     int

	// Poll engine
	PollInterval time.Duration
	PollTimezone *time.Location

	// Dedup maintenance
	DedupRetention     time.Duration // 0 disables pruning
	DedupPruneSchedule string
	WatchCacheTTL      time.Duration

	// Status API
	APIHost     string
	APIPort     int
	Environment string // development, staging, production

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string // text, json
	LogFile   string
}

// Load reads configuration from environment variables with sensible defaults.
// It fails only on values that cannot be parsed; call Validate for the rest.
func Load() (*Config, error) {
	tzName := envOr("POLL_TIMEZONE", "")
	loc := time.Local
	if tzName != "" {
		l, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("POLL_TIMEZONE: %w", err)
		}
		loc = l
	}

	return &Config{
		TelegramToken: envOr("TELEGRAM_TOKEN", envOr("TELEGRAM_BOT_TOKEN", "")),

		YouTubeAPIKey:    envOr("YOUTUBE_API_KEY", ""),
		YouTubeChannelID: envOr("YOUTUBE_CHANNEL_ID", DefaultYouTubeChannelID),
		YouTubeRPM:       envInt("YOUTUBE_RPM", 30),

		APIFootballKey:     envOr("API_FOOTBALL_KEY", ""),
		APIFootballBaseURL: envOr("API_FOOTBALL_BASE_URL", "https://v3.football.api-sports.io"),
		APIFootballRPM:     envInt("API_FOOTBALL_RPM", 30),

		PollInterval: envDuration("POLL_INTERVAL_SECONDS", 180, time.Second),
		PollTimezone: loc,

		DedupRetention:     envDuration("DEDUP_RETENTION_HOURS", 48, time.Hour),
		DedupPruneSchedule: envOr("DEDUP_PRUNE_SCHEDULE", "@hourly"),
		WatchCacheTTL:      envDuration("WATCH_CACHE_SECONDS", 60, time.Second),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{"*"}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", 60, time.Second),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "text"),
		LogFile:   envOr("LOG_FILE", ""),
	}, nil
}

// Validate reports every problem at once. requireTelegram is false for
// commands that never talk to Telegram.
func (c *Config) Validate(requireTelegram bool) error {
	var errs []error
	if requireTelegram && c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_TOKEN must be set"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_SECONDS must be positive"))
	}
	if c.DedupRetention < 0 {
		errs = append(errs, errors.New("DEDUP_RETENTION_HOURS must not be negative"))
	}
	if c.DedupRetention > 0 {
		if _, err := cron.ParseStandard(c.DedupPruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("DEDUP_PRUNE_SCHEDULE: %w", err))
		}
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("API_PORT out of range: %d", c.APIPort))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// YouTubeEnabled reports whether live stream polling is configured.
func (c *Config) YouTubeEnabled() bool {
	return c.YouTubeAPIKey != "" && c.YouTubeChannelID != ""
}

// FootballEnabled reports whether fixture polling is configured.
func (c *Config) FootballEnabled() bool {
	return c.APIFootballKey != ""
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration reads an integer count of unit.
func envDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(envInt(key, fallback)) * unit
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
