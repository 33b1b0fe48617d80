// Package config loads daemon configuration from the environment, with
// an optional YAML file as a base layer. Environment variables always
// win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/relay/internal/policy"
)

// Config holds all configuration for the relay daemon.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Version  string `yaml:"-"`
	DataDir  string `yaml:"data_dir"`
	APIToken string `yaml:"api_token"`

	Limits    policy.Limits   `yaml:"limits"`
	Invoke    InvokeConfig    `yaml:"invoke"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type InvokeConfig struct {
	CacheSize      int `yaml:"cache_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads configuration. If RELAY_CONFIG names a YAML file it is
// read first; environment variables then override field by field.
func Load() (*Config, error) {
	cfg := &Config{
		Host:    "127.0.0.1",
		Port:    8787,
		Version: "1.0.0",
		Invoke: InvokeConfig{
			CacheSize:      1024,
			TimeoutSeconds: 30,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "relay",
		},
		Limits: policy.Default(),
	}

	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Host = envStr("RELAY_HOST", cfg.Host)
	cfg.Port = envInt("RELAY_PORT", cfg.Port)
	cfg.DataDir = envStr("RELAY_DATA_DIR", cfg.DataDir)
	cfg.APIToken = envStr("RELAY_API_TOKEN", cfg.APIToken)
	cfg.Limits.MaxHops = envInt("RELAY_MAX_HOPS", cfg.Limits.MaxHops)
	cfg.Limits.MaxPayloadBytes = envInt("RELAY_MAX_PAYLOAD_BYTES", cfg.Limits.MaxPayloadBytes)
	cfg.Invoke.CacheSize = envInt("RELAY_CACHE_SIZE", cfg.Invoke.CacheSize)
	cfg.Invoke.TimeoutSeconds = envInt("RELAY_INVOKE_TIMEOUT", cfg.Invoke.TimeoutSeconds)
	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)

	if cfg.APIToken != "" {
		if err := policy.ValidateAPIToken(cfg.APIToken); err != nil {
			return nil, fmt.Errorf("RELAY_API_TOKEN: %w", err)
		}
	}
	cfg.Limits = cfg.Limits.Normalize()
	return cfg, nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
