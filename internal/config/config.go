package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/operation"
	"github.com/oriys/pulsar/internal/ratelimit"
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	HTTPAddr        string        `json:"http_addr" yaml:"http_addr"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// CacheConfig holds cache backend selection and TTL policy
type CacheConfig struct {
	// Backend is "redis", "memory" or "tiered" (in-process L1 over Redis L2).
	Backend string          `json:"backend" yaml:"backend"`
	TTL     cache.TTLPolicy `json:"ttl" yaml:"ttl"`
}

// AuthConfig holds identity verification settings
type AuthConfig struct {
	IdentityURL string        `json:"identity_url" yaml:"identity_url"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	PublicPaths []string      `json:"public_paths" yaml:"public_paths"`
}

// UpstreamConfig holds the tenant authority and workflow engine endpoints
type UpstreamConfig struct {
	TenantAuthorityURL string        `json:"tenant_authority_url" yaml:"tenant_authority_url"`
	EngineURL          string        `json:"engine_url" yaml:"engine_url"`
	Timeout            time.Duration `json:"timeout" yaml:"timeout"`
}

// ObservabilityConfig holds logging and tracing settings
type ObservabilityConfig struct {
	LogLevel         string `json:"log_level" yaml:"log_level"`
	LogFormat        string `json:"log_format" yaml:"log_format"` // "text" or "json"
	AuditLogPath     string `json:"audit_log_path" yaml:"audit_log_path"`
	TelemetryEnabled bool   `json:"telemetry_enabled" yaml:"telemetry_enabled"`
	OTLPEndpoint     string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	Cache         CacheConfig         `json:"cache" yaml:"cache"`
	RateLimit     ratelimit.Config    `json:"rate_limit" yaml:"rate_limit"`
	Auth          AuthConfig          `json:"auth" yaml:"auth"`
	Upstreams     UpstreamConfig      `json:"upstreams" yaml:"upstreams"`
	Operations    operation.Config    `json:"operations" yaml:"operations"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming endpoints keep connections open
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		},
		Cache: CacheConfig{
			Backend: "tiered",
			TTL:     cache.DefaultTTLPolicy(),
		},
		RateLimit: ratelimit.DefaultConfig(),
		Auth: AuthConfig{
			IdentityURL: "http://localhost:8180",
			Timeout:     10 * time.Second,
			PublicPaths: []string{"/health", "/health/ready", "/metrics"},
		},
		Upstreams: UpstreamConfig{
			TenantAuthorityURL: "http://localhost:8181",
			EngineURL:          "http://localhost:8182",
			Timeout:            10 * time.Second,
		},
		Operations: operation.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Values absent from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PULSAR_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("PULSAR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PULSAR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PULSAR_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("PULSAR_IDENTITY_URL"); v != "" {
		cfg.Auth.IdentityURL = v
	}
	if v := os.Getenv("PULSAR_TENANT_AUTHORITY_URL"); v != "" {
		cfg.Upstreams.TenantAuthorityURL = v
	}
	if v := os.Getenv("PULSAR_ENGINE_URL"); v != "" {
		cfg.Upstreams.EngineURL = v
	}
	if v := os.Getenv("PULSAR_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("PULSAR_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("PULSAR_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
		cfg.Observability.TelemetryEnabled = true
	}
}
