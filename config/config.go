// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backend defaults shared by every provider unless overridden.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
	DefaultMaxConns       = 10
	DefaultMaxIdleConns   = 5

	DefaultServiceName     = "llmgate"
	DefaultMetricsPort     = 9518
	DefaultMetricsInterval = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config holds the application configuration
type Config struct {
	Service   ServiceConfig                `mapstructure:"service"`
	Metrics   MetricsConfig                `mapstructure:"metrics"`
	Logging   LoggingConfig                `mapstructure:"logging"`
	Backend   BackendConfig                `mapstructure:"backend"`
	Providers map[string]RawProviderConfig `mapstructure:"providers"`
}

// ServiceConfig identifies the process and bounds its shutdown
type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig holds exporter and sampler configuration
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Port     int           `mapstructure:"port"`
	Endpoint string        `mapstructure:"endpoint"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig holds log output configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // pretty or json
	// Dir enables the rotating log file when non-empty
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// BackendConfig is the connection policy for a provider backend
type BackendConfig struct {
	// Timeout bounds the whole request
	Timeout time.Duration `mapstructure:"timeout"`
	// ConnectTimeout bounds dialing only
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MaxRetries is the number of automatic retries after the first attempt
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxConns       int           `mapstructure:"max_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
}

// RawProviderConfig is a provider entry as read from config.yaml, before env
// overrides and defaults are applied. Nil pointers mean "inherit".
type RawProviderConfig struct {
	Type           string         `mapstructure:"type"`
	APIKey         string         `mapstructure:"api_key"`
	BaseURL        string         `mapstructure:"base_url"`
	Model          string         `mapstructure:"model"`
	AgentRole      string         `mapstructure:"agent_role"`
	Timeout        *time.Duration `mapstructure:"timeout"`
	ConnectTimeout *time.Duration `mapstructure:"connect_timeout"`
	MaxRetries     *int           `mapstructure:"max_retries"`
}

// DefaultBackendConfig returns the backend defaults
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		MaxConns:       DefaultMaxConns,
		MaxIdleConns:   DefaultMaxIdleConns,
	}
}

// Load reads configuration from an optional .env file, an optional
// config.yaml, and the environment. Environment variables win.
func Load() (*Config, error) {
	if path, ok := FindDotenv("."); ok {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setDefaults(v)
	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]RawProviderConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	b := DefaultBackendConfig()
	v.SetDefault("service.name", DefaultServiceName)
	v.SetDefault("service.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", DefaultMetricsPort)
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.interval", DefaultMetricsInterval)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "pretty")
	v.SetDefault("logging.max_size_mb", 1)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age_days", 0)
	v.SetDefault("backend.timeout", b.Timeout)
	v.SetDefault("backend.connect_timeout", b.ConnectTimeout)
	v.SetDefault("backend.max_retries", b.MaxRetries)
	v.SetDefault("backend.initial_backoff", b.InitialBackoff)
	v.SetDefault("backend.max_backoff", b.MaxBackoff)
	v.SetDefault("backend.max_conns", b.MaxConns)
	v.SetDefault("backend.max_idle_conns", b.MaxIdleConns)
}

// bindEnv maps flat environment variable names onto nested keys. Duration
// values go through the same integer-seconds rule as ParseDuration.
func bindEnv(v *viper.Viper) {
	strs := map[string]string{
		"service.name":     "SERVICE_NAME",
		"metrics.endpoint": "METRICS_ENDPOINT",
		"logging.level":    "LOG_LEVEL",
		"logging.format":   "LOG_FORMAT",
		"logging.dir":      "LOG_DIR",
	}
	for key, env := range strs {
		if val, ok := os.LookupEnv(env); ok {
			v.Set(key, val)
		}
	}

	ints := map[string]string{
		"metrics.port":         "METRICS_PORT",
		"logging.max_size_mb":  "LOG_MAX_SIZE_MB",
		"logging.max_backups":  "LOG_MAX_BACKUPS",
		"logging.max_age_days": "LOG_MAX_AGE_DAYS",
		"backend.max_retries":  "MAX_RETRIES",
	}
	for key, env := range ints {
		if n, err := strconv.Atoi(os.Getenv(env)); err == nil {
			v.Set(key, n)
		}
	}

	if b, err := strconv.ParseBool(os.Getenv("METRICS_ENABLED")); err == nil {
		v.Set("metrics.enabled", b)
	}

	durations := map[string]string{
		"service.shutdown_timeout": "SHUTDOWN_TIMEOUT",
		"metrics.interval":         "METRICS_INTERVAL",
		"backend.timeout":          "HTTP_TIMEOUT",
		"backend.connect_timeout":  "HTTP_CONNECT_TIMEOUT",
	}
	for key, env := range durations {
		if d, ok := ParseDuration(os.Getenv(env)); ok {
			v.Set(key, d)
		}
	}
}

// Validate checks value ranges that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative: %d", c.Backend.MaxRetries)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive: %s", c.Backend.Timeout)
	}
	return nil
}

// ParseDuration accepts either plain integers (interpreted as seconds) or Go
// duration strings (e.g., "10m", "1h30m"). ok is false for empty or invalid input.
func ParseDuration(val string) (time.Duration, bool) {
	if val == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d, true
	}
	return 0, false
}

// decodeHook applies the ParseDuration rule to config.yaml values, so that
// `timeout: 10` means ten seconds rather than ten nanoseconds.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var durationType = reflect.TypeOf(time.Duration(0))

func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		v := reflect.ValueOf(data)
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(v.Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(v.Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(v.Float() * float64(time.Second)), nil
		case reflect.String:
			if d, ok := ParseDuration(strings.TrimSpace(v.String())); ok {
				return d, nil
			}
		}
		return data, nil
	}
}

// FindDotenv looks for a .env file in dir and its parents.
func FindDotenv(dir string) (string, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(abs, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", false
		}
		abs = parent
	}
}
