package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the assetflow server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Tasks    TaskConfig
	Callback CallbackConfig
	Broker   BrokerConfig
}

type ServerConfig struct {
	Port                     int
	Env                      string
	LogLevel                 slog.Level
	RateLimitPerMinute       int
	WorkerRateLimitPerMinute int
}

type DatabaseConfig struct {
	URL               string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnectAttempts   int
	ConnectRetryDelay time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	Backend string
}

// TaskConfig carries per-task-type retry limits. A type without an entry is
// never retried.
type TaskConfig struct {
	RetryLimits map[string]int
}

type CallbackConfig struct {
	Workers int
	Buffer  int
}

type BrokerConfig struct {
	MaxTasksPerPoll int
}

// Queue backends.
const (
	QueueBackendRedis    = "redis"
	QueueBackendPostgres = "postgres"
	QueueBackendMemory   = "memory"
)

var validBackends = map[string]bool{
	QueueBackendRedis:    true,
	QueueBackendPostgres: true,
	QueueBackendMemory:   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	level, err := parseLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	limits, err := ParseRetryLimits(os.Getenv("TASK_RETRY_LIMITS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:                     envInt("ASSETFLOW_PORT", 8080),
			Env:                      envString("ASSETFLOW_ENV", "development"),
			LogLevel:                 level,
			RateLimitPerMinute:       envInt("RATE_LIMIT_PER_MINUTE", 600),
			WorkerRateLimitPerMinute: envInt("WORKER_RATE_LIMIT_PER_MINUTE", 6000),
		},
		Database: DatabaseConfig{
			URL:               os.Getenv("DATABASE_URL"),
			MaxOpenConns:      envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:      envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:   envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectAttempts:   envInt("DATABASE_CONNECT_ATTEMPTS", 5),
			ConnectRetryDelay: envDuration("DATABASE_CONNECT_RETRY_DELAY", 500*time.Millisecond),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Backend: strings.ToLower(envString("QUEUE_BACKEND", QueueBackendRedis)),
		},
		Tasks: TaskConfig{
			RetryLimits: limits,
		},
		Callback: CallbackConfig{
			Workers: envInt("CALLBACK_WORKERS", 4),
			Buffer:  envInt("CALLBACK_BUFFER", 256),
		},
		Broker: BrokerConfig{
			MaxTasksPerPoll: envInt("BROKER_MAX_TASKS_PER_POLL", 100),
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
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, postgres, memory; got %q", c.Queue.Backend)
	}

	if c.Callback.Workers < 1 {
		return fmt.Errorf("CALLBACK_WORKERS must be at least 1, got %d", c.Callback.Workers)
	}
	if c.Callback.Buffer < 1 {
		return fmt.Errorf("CALLBACK_BUFFER must be at least 1, got %d", c.Callback.Buffer)
	}
	if c.Broker.MaxTasksPerPoll < 1 {
		return fmt.Errorf("BROKER_MAX_TASKS_PER_POLL must be at least 1, got %d", c.Broker.MaxTasksPerPoll)
	}

	return nil
}

// ParseRetryLimits parses "TYPE=N,TYPE=N" into a per-type retry limit map.
func ParseRetryLimits(raw string) (map[string]int, error) {
	limits := make(map[string]int)
	if strings.TrimSpace(raw) == "" {
		return limits, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("TASK_RETRY_LIMITS entry %q must look like TYPE=N", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("TASK_RETRY_LIMITS entry %q must have a non-negative integer limit", pair)
		}
		limits[name] = n
	}
	return limits, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
	}
	return level, nil
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
