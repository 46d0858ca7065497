package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrMissingDatabaseURL is returned when no DATABASE_URL is configured and
// the in-memory store was not requested.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Defaults.
const (
	DefaultPort                 = "8787"
	DefaultUserAgent            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultTimeout              = 30 * time.Second
	DefaultScheduleInterval     = 4 * time.Hour
	DefaultTokenRefreshInterval = 30 * time.Minute
	DefaultMigrationsPath       = "migrations"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL          string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL             string        `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort           string        `yaml:"server_port" env:"PORT"`
	UserAgent            string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout              time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT"`
	ScheduleInterval     time.Duration `yaml:"schedule_interval" env:"SCHEDULE_INTERVAL"`
	TokenRefreshInterval time.Duration `yaml:"token_refresh_interval" env:"TOKEN_REFRESH_INTERVAL"`
	LogLevel             string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat            string        `yaml:"log_format" env:"LOG_FORMAT"`
	GuideTimezone        string        `yaml:"guide_timezone" env:"GUIDE_TIMEZONE"`
	LockFile             string        `yaml:"lock_file" env:"LOCK_FILE"`
	MigrationsPath       string        `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
}

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries .env.local and .env first.
// DATABASE_URL is required unless requireDatabase is false.
func Load(requireDatabase bool) (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ServerPort:     os.Getenv("PORT"),
		UserAgent:      os.Getenv("FETCHER_USER_AGENT"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		LogFormat:      os.Getenv("LOG_FORMAT"),
		GuideTimezone:  os.Getenv("GUIDE_TIMEZONE"),
		LockFile:       os.Getenv("LOCK_FILE"),
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
	}
	c.Timeout = durationEnv("FETCHER_TIMEOUT")
	c.ScheduleInterval = durationEnv("SCHEDULE_INTERVAL")
	c.TokenRefreshInterval = durationEnv("TOKEN_REFRESH_INTERVAL")
	c.applyDefaults()
	if requireDatabase && c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}

// Location resolves GuideTimezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.GuideTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.GuideTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) applyDefaults() {
	if _, err := strconv.Atoi(c.ServerPort); err != nil {
		c.ServerPort = DefaultPort
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = DefaultScheduleInterval
	}
	if c.TokenRefreshInterval <= 0 {
		c.TokenRefreshInterval = DefaultTokenRefreshInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.LockFile == "" {
		c.LockFile = filepath.Join(os.TempDir(), "ccepg.lock")
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = DefaultMigrationsPath
	}
}

func durationEnv(key string) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
