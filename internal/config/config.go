package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/UKPLab/CARE-broker/internal/quota"
	"github.com/UKPLab/CARE-broker/internal/roles"
)

// Config contains all runtime settings of the broker.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`

	// Secret keys auth challenge derivation.
	Secret string `yaml:"secret"`
	// SystemKey is a hex public key seeded as an admin user at startup.
	SystemKey string `yaml:"system_key"`

	QuotaInterval time.Duration           `yaml:"quota_interval"`
	Quota         map[string]quota.Limits `yaml:"quota"`

	Scrub      ScrubConfig  `yaml:"scrub"`
	TaskKiller KillerConfig `yaml:"task_killer"`
	Store      StoreConfig  `yaml:"store"`
	Log        LogConfig    `yaml:"log"`

	ConnectRate   float64 `yaml:"connect_rate"`
	ConnectBurst  int     `yaml:"connect_burst"`
	CleanOnStart  bool    `yaml:"clean_on_start"`
	OutboundQueue int     `yaml:"outbound_queue"`
}

type ScrubConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type KillerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

type StoreConfig struct {
	// Driver is one of memory, postgres or redis.
	Driver        string `yaml:"driver"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		BindAddr:         ":4852",
		ShutdownTimeout:  15 * time.Second,
		MetricsNamespace: "care_broker",
		Secret:           "astringency",
		QuotaInterval:    time.Second,
		Quota: map[string]quota.Limits{
			roles.Guest: {Requests: 100, Results: 100, Jobs: 5},
			roles.User:  {Requests: 500, Results: 500, Jobs: 20},
			roles.Admin: {},
		},
		Scrub: ScrubConfig{
			Enabled:  true,
			Interval: time.Hour,
			MaxAge:   30 * 24 * time.Hour,
		},
		TaskKiller: KillerConfig{
			Interval:    time.Minute,
			MaxDuration: time.Hour,
		},
		Store: StoreConfig{
			Driver:      "memory",
			RedisPrefix: "broker:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		ConnectRate:   20,
		ConnectBurst:  40,
		CleanOnStart:  true,
		OutboundQueue: 256,
	}
}

// Load applies defaults, then the YAML file at path (or $BROKER_CONFIG when
// path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = stringsTrimSpace("BROKER_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	// Quota entries in the file replace defaults per role, not per field.
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.BindAddr = envOrDefault("BROKER_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("BROKER_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.Secret = envOrDefault("BROKER_SECRET", cfg.Secret)
	cfg.SystemKey = envOrDefault("BROKER_SYSTEM_KEY", cfg.SystemKey)
	cfg.Store.Driver = envOrDefault("BROKER_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DatabaseURL = envOrDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.RedisAddr = envOrDefault("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisPrefix = envOrDefault("BROKER_REDIS_PREFIX", cfg.Store.RedisPrefix)
	cfg.Log.Level = envOrDefault("BROKER_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("BROKER_LOG_FORMAT", cfg.Log.Format)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BROKER_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"BROKER_QUOTA_INTERVAL", &cfg.QuotaInterval},
		{"BROKER_SCRUB_INTERVAL", &cfg.Scrub.Interval},
		{"BROKER_SCRUB_MAX_AGE", &cfg.Scrub.MaxAge},
		{"BROKER_TASK_KILLER_INTERVAL", &cfg.TaskKiller.Interval},
		{"BROKER_TASK_KILLER_MAX_DURATION", &cfg.TaskKiller.MaxDuration},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"BROKER_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
		{"BROKER_SCRUB_ENABLED", &cfg.Scrub.Enabled},
		{"BROKER_TASK_KILLER_ENABLED", &cfg.TaskKiller.Enabled},
		{"BROKER_CLEAN_ON_START", &cfg.CleanOnStart},
	}
	for _, b := range bools {
		if *b.dst, err = boolFromEnv(b.key, *b.dst); err != nil {
			return err
		}
	}

	if cfg.Store.RedisDB, err = intFromEnv("REDIS_DB", cfg.Store.RedisDB); err != nil {
		return err
	}
	if cfg.ConnectBurst, err = intFromEnv("BROKER_CONNECT_BURST", cfg.ConnectBurst); err != nil {
		return err
	}
	if cfg.OutboundQueue, err = intFromEnv("BROKER_OUTBOUND_QUEUE", cfg.OutboundQueue); err != nil {
		return err
	}
	if cfg.ConnectRate, err = floatFromEnv("BROKER_CONNECT_RATE", cfg.ConnectRate); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the broker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BindAddr) == "" {
		errs = append(errs, errors.New("bind_addr must be set"))
	}
	if c.QuotaInterval <= 0 {
		errs = append(errs, errors.New("quota_interval must be positive"))
	}
	for name, l := range c.Quota {
		if !roles.Valid(name) {
			errs = append(errs, fmt.Errorf("quota: unknown role %q", name))
		}
		if l.Requests < 0 || l.Results < 0 || l.Jobs < 0 {
			errs = append(errs, fmt.Errorf("quota.%s: limits must be >= 0", name))
		}
	}
	if c.Scrub.Enabled && (c.Scrub.Interval <= 0 || c.Scrub.MaxAge <= 0) {
		errs = append(errs, errors.New("scrub.interval and scrub.max_age must be positive"))
	}
	if c.TaskKiller.Enabled && (c.TaskKiller.Interval <= 0 || c.TaskKiller.MaxDuration <= 0) {
		errs = append(errs, errors.New("task_killer.interval and task_killer.max_duration must be positive"))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for postgres"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory, postgres or redis", c.Store.Driver))
	}
	if c.ConnectRate < 0 || c.ConnectBurst < 0 {
		errs = append(errs, errors.New("connect_rate and connect_burst must be >= 0"))
	}
	if c.OutboundQueue <= 0 {
		errs = append(errs, errors.New("outbound_queue must be positive"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
