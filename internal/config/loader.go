package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tutorcore.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TUTORCORE_PORT")
	setString(&cfg.Server.CORSOrigin, "TUTORCORE_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TUTORCORE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TUTORCORE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TUTORCORE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TUTORCORE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TUTORCORE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.CacheBucket, "TUTORCORE_CACHE_BUCKET")

	setString(&cfg.Gateway.URL, "TUTORCORE_GATEWAY_URL")
	setString(&cfg.Gateway.APIKey, "TUTORCORE_GATEWAY_API_KEY")
	setString(&cfg.Gateway.Model, "TUTORCORE_GATEWAY_MODEL")
	setDuration(&cfg.Gateway.Timeout, "TUTORCORE_GATEWAY_TIMEOUT")

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.Model, "TUTORCORE_OPENAI_MODEL")

	setString(&cfg.Chat.Backend, "TUTORCORE_BACKEND")
	setDuration(&cfg.Chat.GenerateWait, "TUTORCORE_GENERATE_WAIT")
	setInt(&cfg.Chat.TimeoutRetries, "TUTORCORE_TIMEOUT_RETRIES")
	setInt(&cfg.Chat.ArchiveWorkers, "TUTORCORE_ARCHIVE_WORKERS")

	setString(&cfg.Logging.Level, "TUTORCORE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TUTORCORE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TUTORCORE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "TUTORCORE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TUTORCORE_BREAKER_TIMEOUT")

	setInt64(&cfg.Cache.L1MaxSizeMB, "TUTORCORE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "TUTORCORE_CACHE_L1_TTL")
	setDuration(&cfg.Cache.L2TTL, "TUTORCORE_CACHE_L2_TTL")

	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setDuration(&cfg.Otel.Interval, "TUTORCORE_OTEL_INTERVAL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Chat.Backend == "" {
		return errors.New("chat.backend is required")
	}
	if cfg.Chat.GenerateWait <= 0 {
		return errors.New("chat.generate_wait must be positive")
	}
	if cfg.Chat.TimeoutRetries < 0 {
		return errors.New("chat.timeout_retries must be >= 0")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
