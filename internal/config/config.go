// Package config loads process configuration from an optional YAML file and
// the environment. Environment variables win over the file; flags applied by
// the caller win over both.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the evstate process configuration.
type Config struct {
	Environment      string        `yaml:"environment"`
	LogLevel         string        `yaml:"log_level"`
	ServiceName      string        `yaml:"service_name"`
	DatabaseURL      string        `yaml:"database_url"`
	SnapshotInterval int64         `yaml:"snapshot_interval"`
	FlushDelay       time.Duration `yaml:"flush_delay"`
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
	HTTPAddr         string        `yaml:"http_addr"`
	TraceStdout      bool          `yaml:"trace_stdout"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Environment:      "development",
		LogLevel:         "info",
		ServiceName:      "evstate",
		DatabaseURL:      "memory:",
		SnapshotInterval: 100,
		FlushDelay:       50 * time.Millisecond,
		FlushTimeout:     10 * time.Second,
		HTTPAddr:         ":8080",
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("EVSTATE_ENV", &c.Environment)
	str("EVSTATE_LOG_LEVEL", &c.LogLevel)
	str("EVSTATE_SERVICE_NAME", &c.ServiceName)
	str("DATABASE_URL", &c.DatabaseURL)
	str("EVSTATE_DATABASE_URL", &c.DatabaseURL)
	str("EVSTATE_HTTP_ADDR", &c.HTTPAddr)

	var errs []error
	if v, ok := lookup("EVSTATE_SNAPSHOT_INTERVAL"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("EVSTATE_SNAPSHOT_INTERVAL: %w", err))
		} else {
			c.SnapshotInterval = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	dur("EVSTATE_FLUSH_DELAY", &c.FlushDelay)
	dur("EVSTATE_FLUSH_TIMEOUT", &c.FlushTimeout)
	if v, ok := lookup("EVSTATE_TRACE_STDOUT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("EVSTATE_TRACE_STDOUT: %w", err))
		} else {
			c.TraceStdout = b
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if c.FlushDelay < 0 {
		errs = append(errs, errors.New("flush_delay must not be negative"))
	}
	if c.FlushTimeout <= 0 {
		errs = append(errs, errors.New("flush_timeout must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch strings.ToLower(c.Environment) {
	case "development", "production", "test":
	default:
		errs = append(errs, fmt.Errorf("environment %q is not one of development, production, test", c.Environment))
	}
	return errors.Join(errs...)
}
