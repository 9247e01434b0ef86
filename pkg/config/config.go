// Package config loads the server configuration from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dd0wney/roadnet/pkg/geometry"
	"github.com/dd0wney/roadnet/pkg/validation"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Matching MatchingConfig `yaml:"matching"`
	Auth     AuthConfig     `yaml:"auth"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Events   EventsConfig   `yaml:"events"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds storage configuration
type DatabaseConfig struct {
	Driver      string        `yaml:"driver"` // memory, postgres
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// MatchingConfig selects the geometry equality policy
type MatchingConfig struct {
	Policy  string  `yaml:"policy"` // exact, tolerance
	Epsilon float64 `yaml:"epsilon"`
}

// AuthConfig holds API key settings
type AuthConfig struct {
	KeyCacheSize int `yaml:"key_cache_size"`
}

// ArchiveConfig holds snapshot archive settings
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// LimitsConfig bounds the size of one upload
type LimitsConfig struct {
	MaxCandidates       int `yaml:"max_candidates"`
	MaxProperties       int `yaml:"max_properties"`
	MaxPropertyKeyBytes int `yaml:"max_property_key_bytes"`
	MaxVerticesPerEdge  int `yaml:"max_vertices_per_edge"`
}

// EventsConfig holds version event publishing settings
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  256 << 20,
		},
		Database: DatabaseConfig{
			Driver:      DriverMemory,
			MaxConns:    25,
			MinConns:    5,
			LockTimeout: 5 * time.Second,
			AutoMigrate: true,
		},
		Log:      LogConfig{Level: "info"},
		Matching: MatchingConfig{Policy: "exact"},
		Auth:     AuthConfig{KeyCacheSize: 1024},
		Archive:  ArchiveConfig{Prefix: "snapshots"},
		Events:   EventsConfig{Listen: "tcp://*:9400"},
		Limits: LimitsConfig{
			MaxCandidates:       1_000_000,
			MaxProperties:       1000,
			MaxPropertyKeyBytes: 1024,
			MaxVerticesPerEdge:  100_000,
		},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document leaves the defaults in place.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from ROADNET_* variables, DATABASE_URL, PORT and
// LOG_LEVEL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	integer(&c.Server.Port, "PORT")
	integer(&c.Server.Port, "ROADNET_PORT")
	str(&c.Database.URL, "ROADNET_DATABASE_URL", "DATABASE_URL")
	str(&c.Database.Driver, "ROADNET_DATABASE_DRIVER")
	integer(&c.Database.MaxConns, "ROADNET_DATABASE_MAX_CONNS")
	integer(&c.Database.MinConns, "ROADNET_DATABASE_MIN_CONNS")
	duration(&c.Database.LockTimeout, "ROADNET_LOCK_TIMEOUT")
	str(&c.Log.Level, "ROADNET_LOG_LEVEL", "LOG_LEVEL")
	str(&c.Matching.Policy, "ROADNET_MATCHING_POLICY")
	if v, ok := lookup("ROADNET_MATCHING_EPSILON"); ok && v != "" {
		eps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("ROADNET_MATCHING_EPSILON: %w", err))
		} else {
			c.Matching.Epsilon = eps
		}
	}
	boolean(&c.Archive.Enabled, "ROADNET_ARCHIVE_ENABLED")
	str(&c.Archive.Bucket, "ROADNET_ARCHIVE_BUCKET")
	str(&c.Archive.Region, "ROADNET_ARCHIVE_REGION", "AWS_REGION")
	boolean(&c.Events.Enabled, "ROADNET_EVENTS_ENABLED")
	str(&c.Events.Listen, "ROADNET_EVENTS_LISTEN")
	integer(&c.Limits.MaxCandidates, "ROADNET_MAX_CANDIDATES")
	integer(&c.Limits.MaxProperties, "ROADNET_MAX_PROPERTIES")

	// A database URL alone selects PostgreSQL.
	if _, set := lookup("ROADNET_DATABASE_DRIVER"); !set && c.Database.URL != "" && c.Database.Driver == DriverMemory {
		c.Database.Driver = DriverPostgres
	}
	return errors.Join(errs...)
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	server := validation.NewConfigValidator("server")
	server.RangeInt("port", c.Server.Port, 1, 65535).
		MinDuration("read_timeout", c.Server.ReadTimeout, time.Second).
		MinDuration("write_timeout", c.Server.WriteTimeout, time.Second).
		MinDuration("shutdown_timeout", c.Server.ShutdownTimeout, time.Second).
		Custom("max_upload_bytes", func() error {
			if c.Server.MaxUploadBytes <= 0 {
				return fmt.Errorf("must be positive, got %d", c.Server.MaxUploadBytes)
			}
			return nil
		})

	db := validation.NewConfigValidator("database")
	db.OneOf("driver", c.Database.Driver, []string{DriverMemory, DriverPostgres}).
		MinDuration("lock_timeout", c.Database.LockTimeout, time.Millisecond).
		When(c.Database.Driver == DriverPostgres, func(cv *validation.ConfigValidator) {
			cv.Required("url", c.Database.URL).
				URL("url", c.Database.URL, "postgres", "postgresql").
				Positive("max_conns", c.Database.MaxConns).
				RangeInt("min_conns", c.Database.MinConns, 0, c.Database.MaxConns)
		})

	logCfg := validation.NewConfigValidator("log")
	logCfg.OneOf("level", strings.ToLower(c.Log.Level), []string{"debug", "info", "warn", "error"})

	matching := validation.NewConfigValidator("matching")
	matching.Custom("policy", func() error {
		_, err := geometry.NewPolicy(c.Matching.Policy, c.Matching.Epsilon)
		return err
	})

	auth := validation.NewConfigValidator("auth")
	auth.Positive("key_cache_size", c.Auth.KeyCacheSize)

	archive := validation.NewConfigValidator("archive")
	archive.When(c.Archive.Enabled, func(cv *validation.ConfigValidator) {
		cv.Required("bucket", c.Archive.Bucket)
	})

	events := validation.NewConfigValidator("events")
	events.When(c.Events.Enabled, func(cv *validation.ConfigValidator) {
		cv.Required("listen", c.Events.Listen)
	})

	limits := validation.NewConfigValidator("limits")
	limits.Positive("max_candidates", c.Limits.MaxCandidates).
		Positive("max_properties", c.Limits.MaxProperties).
		Positive("max_property_key_bytes", c.Limits.MaxPropertyKeyBytes).
		Positive("max_vertices_per_edge", c.Limits.MaxVerticesPerEdge)

	return errors.Join(
		server.Validate(),
		db.Validate(),
		logCfg.Validate(),
		matching.Validate(),
		auth.Validate(),
		archive.Validate(),
		events.Validate(),
		limits.Validate(),
	)
}

// ValidationLimits converts the limits section for validation.SetLimits.
func (c *Config) ValidationLimits() validation.Limits {
	return validation.Limits{
		MaxCandidates:       c.Limits.MaxCandidates,
		MaxProperties:       c.Limits.MaxProperties,
		MaxPropertyKeyBytes: c.Limits.MaxPropertyKeyBytes,
		MaxVerticesPerRow:   c.Limits.MaxVerticesPerEdge,
	}
}

// Policy builds the configured geometry equality policy.
func (c *Config) Policy() (geometry.Policy, error) {
	return geometry.NewPolicy(c.Matching.Policy, c.Matching.Epsilon)
}
