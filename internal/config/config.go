package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the PlanVista job service.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Reaper   ReaperConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type WorkerConfig struct {
	Count        int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

type ReaperConfig struct {
	Interval time.Duration
	// A job running longer than this is considered abandoned and failed.
	RunningDeadline time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PLANVISTA_PORT", 8080),
			Env:             envString("PLANVISTA_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Worker: WorkerConfig{
			Count:        envInt("WORKER_COUNT", 4),
			PollInterval: envDuration("WORKER_POLL_INTERVAL", time.Second),
			JobTimeout:   envDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),
		},
		Reaper: ReaperConfig{
			Interval:        envDuration("REAPER_INTERVAL", time.Minute),
			RunningDeadline: envDuration("REAPER_RUNNING_DEADLINE", 10*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Worker.Count <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.Worker.Count)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive, got %v", c.Worker.PollInterval)
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("WORKER_JOB_TIMEOUT must be positive, got %v", c.Worker.JobTimeout)
	}

	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive, got %v", c.Reaper.Interval)
	}
	if c.Reaper.RunningDeadline <= c.Worker.JobTimeout {
		return fmt.Errorf("REAPER_RUNNING_DEADLINE (%v) must exceed WORKER_JOB_TIMEOUT (%v)",
			c.Reaper.RunningDeadline, c.Worker.JobTimeout)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
