// Package config loads flight radar settings from defaults, an optional YAML
// file, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"flight_radar/internal/storage"
)

// PathEnv names the environment variable holding the YAML config path.
const PathEnv = "FLIGHTRADAR_CONFIG"

// Config holds every setting required across the application.
type Config struct {
	Postgres   storage.PostgresConfig   `yaml:"postgres"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
	JobStore   JobStoreConfig           `yaml:"job_store"`
	Upstream   UpstreamConfig           `yaml:"upstream"`
	Schedule   ScheduleConfig           `yaml:"schedule"`
	Indicators IndicatorConfig          `yaml:"indicators"`
	API        APIConfig                `yaml:"api"`
	NATS       NATSConfig               `yaml:"nats"`
	Statsd     StatsdConfig             `yaml:"statsd"`
	Logging    LoggingConfig            `yaml:"logging"`
	Retention  RetentionConfig          `yaml:"retention"`
}

// JobStoreConfig locates the SQLite file holding scheduled jobs.
type JobStoreConfig struct {
	Path string `yaml:"path"`
}

// UpstreamConfig describes how to reach the flight-tracking feed.
type UpstreamConfig struct {
	FeedURL    string        `yaml:"feed_url"`
	DetailsURL string        `yaml:"details_url"`
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	Workers    int           `yaml:"workers"`
	Bounds     string        `yaml:"bounds"`
}

// ScheduleConfig holds the default job timings used by POST /start.
type ScheduleConfig struct {
	StartDelay           time.Duration `yaml:"start_delay"`
	IndicatorOffset      time.Duration `yaml:"indicator_offset"`
	UploadFrequency      time.Duration `yaml:"upload_frequency"`
	ComputationFrequency time.Duration `yaml:"computation_frequency"`
}

// IndicatorConfig tunes indicator computation and reads.
type IndicatorConfig struct {
	TopModels int           `yaml:"top_models"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port        int      `yaml:"port"`
	AuthEnabled bool     `yaml:"auth_enabled"`
	APIKeys     []string `yaml:"api_keys"`
}

// NATSConfig enables cycle event publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// StatsdConfig enables metrics when Address is set.
type StatsdConfig struct {
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RetentionConfig controls the optional archive job. Disabled by default.
type RetentionConfig struct {
	Enabled   bool          `yaml:"enabled"`
	MaxAge    time.Duration `yaml:"max_age"`
	Frequency time.Duration `yaml:"frequency"`
	BatchSize int           `yaml:"batch_size"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Postgres: storage.PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "flight_radar",
			User:     "flight_radar",
			Password: "flight_radar",
		},
		ClickHouse: storage.ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "flight_radar",
			User:     "default",
		},
		JobStore: JobStoreConfig{Path: "jobs.sqlite"},
		Upstream: UpstreamConfig{
			FeedURL:    "https://data-cloud.flightradar24.com/zones/fcgi/feed.js",
			DetailsURL: "https://data-live.flightradar24.com/clickhandler/",
			UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			Timeout:    15 * time.Second,
			Workers:    4,
		},
		Schedule: ScheduleConfig{
			StartDelay:           2 * time.Minute,
			IndicatorOffset:      5 * time.Minute,
			UploadFrequency:      30 * time.Minute,
			ComputationFrequency: 30 * time.Minute,
		},
		Indicators: IndicatorConfig{
			TopModels: 3,
			CacheTTL:  30 * time.Second,
		},
		API: APIConfig{Port: 8080},
		NATS: NATSConfig{
			SubjectPrefix: "flightradar.cycle",
		},
		Statsd: StatsdConfig{Prefix: "flightradar"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Retention: RetentionConfig{
			MaxAge:    7 * 24 * time.Hour,
			Frequency: 24 * time.Hour,
			BatchSize: 5000,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or the file named
// by FLIGHTRADAR_CONFIG when path is empty), and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		// Fields absent from the file keep their defaults.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = i
		return nil
	}

	setString("POSTGRES_HOST", &c.Postgres.Host)
	setString("POSTGRES_USER", &c.Postgres.User)
	setString("POSTGRES_PASSWORD", &c.Postgres.Password)
	setString("POSTGRES_DATABASE", &c.Postgres.Database)
	setString("POSTGRES_SCHEMA", &c.Postgres.Schema)
	setString("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	setString("CLICKHOUSE_USER", &c.ClickHouse.User)
	setString("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	setString("CLICKHOUSE_DATABASE", &c.ClickHouse.Database)
	setString("JOB_STORE_PATH", &c.JobStore.Path)
	setString("NATS_URL", &c.NATS.URL)
	setString("STATSD_ADDRESS", &c.Statsd.Address)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)

	for key, dst := range map[string]*int{
		"POSTGRES_PORT":   &c.Postgres.Port,
		"CLICKHOUSE_PORT": &c.ClickHouse.Port,
		"API_PORT":        &c.API.Port,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("CLICKHOUSE_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env CLICKHOUSE_ENABLED: %w", err)
		}
		c.ClickHouse.Enabled = enabled
	}

	if v := os.Getenv("API_KEYS"); v != "" {
		c.API.APIKeys = SplitList(v)
		c.API.AuthEnabled = true
	}
	return nil
}

// Validate reports settings that would make the scheduler or API misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.Schedule.UploadFrequency <= 0 {
		errs = append(errs, errors.New("schedule.upload_frequency must be positive"))
	}
	if c.Schedule.ComputationFrequency <= 0 {
		errs = append(errs, errors.New("schedule.computation_frequency must be positive"))
	}
	if c.Indicators.TopModels < 1 {
		errs = append(errs, errors.New("indicators.top_models must be at least 1"))
	}
	if c.Upstream.Workers < 1 {
		errs = append(errs, errors.New("upstream.workers must be at least 1"))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.max_age must be positive when retention is enabled"))
	}
	return errors.Join(errs...)
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
