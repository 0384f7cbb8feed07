package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Compliance ComplianceConfig `koanf:"compliance"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	Enabled       bool          `koanf:"enabled"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

type ComplianceConfig struct {
	// ValidationTimeout bounds one validation request end to end. The engine
	// itself enforces no deadline; the API layer applies this one.
	ValidationTimeout time.Duration `koanf:"validation_timeout"`

	// LicenceCacheTTL bounds staleness of cached licence coverage lookups.
	LicenceCacheTTL time.Duration `koanf:"licence_cache_ttl"`

	// PermittedCorridors supplements repository permit data with statically
	// configured origin->destination pairs (e.g. "NL-DE").
	PermittedCorridors []string `koanf:"permitted_corridors"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:          0,
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "localhost:4317",
			Enabled:       false,
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		Compliance: ComplianceConfig{
			ValidationTimeout: 3 * time.Second,
			LicenceCacheTTL:   5 * time.Minute,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional; defaults plus environment cover deployments
	// without one.
	if path == "" {
		path = "configs/config.yaml"
	}
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("COMPLIANCE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "COMPLIANCE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Compliance.ValidationTimeout <= 0 {
		return fmt.Errorf("validation timeout must be positive")
	}
	for _, corridor := range c.Compliance.PermittedCorridors {
		if len(strings.Split(corridor, "-")) != 2 {
			return fmt.Errorf("malformed corridor %q, want ORIGIN-DESTINATION", corridor)
		}
	}
	return nil
}
