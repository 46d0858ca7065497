package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL          string `yaml:"database_url"`
	RedisURL             string `yaml:"redis_url"`
	ServerPort           string `yaml:"server_port"`
	UserAgent            string `yaml:"user_agent"`
	Timeout              string `yaml:"timeout"`
	ScheduleInterval     string `yaml:"schedule_interval"`
	TokenRefreshInterval string `yaml:"token_refresh_interval"`
	LogLevel             string `yaml:"log_level"`
	LogFormat            string `yaml:"log_format"`
	GuideTimezone        string `yaml:"guide_timezone"`
	LockFile             string `yaml:"lock_file"`
	MigrationsPath       string `yaml:"migrations_path"`
}

// LoadFromFile loads config from a YAML file. database_url is required
// unless requireDatabase is false.
func LoadFromFile(path string, requireDatabase bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if requireDatabase && f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := &Config{
		DatabaseURL:          f.DatabaseURL,
		RedisURL:             f.RedisURL,
		ServerPort:           f.ServerPort,
		UserAgent:            f.UserAgent,
		Timeout:              parseDuration(f.Timeout),
		ScheduleInterval:     parseDuration(f.ScheduleInterval),
		TokenRefreshInterval: parseDuration(f.TokenRefreshInterval),
		LogLevel:             f.LogLevel,
		LogFormat:            f.LogFormat,
		GuideTimezone:        f.GuideTimezone,
		LockFile:             f.LockFile,
		MigrationsPath:       f.MigrationsPath,
	}
	c.applyDefaults()
	return c, nil
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
