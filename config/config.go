// Package config loads and validates the bridge configuration from a JSON
// file with ${VAR} environment expansion and direct environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/LeDonChung/asset-management-iuh-sckt/alertservice"
	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
	gwhttp "github.com/LeDonChung/asset-management-iuh-sckt/gateway/http"
	"github.com/LeDonChung/asset-management-iuh-sckt/mirror"
	"github.com/LeDonChung/asset-management-iuh-sckt/transport"
)

// Environment override names. These match the deployment environment the
// bridge is operated in, so a config file is optional for simple setups.
const (
	EnvPort            = "PORT"
	EnvAlertServiceURL = "API_BACKEND_NEXTJS_URL"
	EnvPingInterval    = "PING_INTERVAL"
	EnvPingTimeout     = "PING_TIMEOUT"
	EnvEnvironment     = "BRIDGE_ENV"
	EnvNATSURL         = "NATS_URL"
)

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Validate checks the metrics configuration for errors.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "MetricsConfig", "Validate",
			fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port))
	}
	return nil
}

// Config is the complete bridge configuration.
type Config struct {
	Environment  string              `json:"environment"`
	API          gwhttp.Config       `json:"api"`
	Transport    transport.Config    `json:"transport"`
	AlertService alertservice.Config `json:"alert_service"`
	Mirror       mirror.Config       `json:"mirror"`
	Metrics      MetricsConfig       `json:"metrics"`
}

// Default returns the default configuration. The alert service URL has no
// sensible default and must come from the file or environment.
func Default() *Config {
	return &Config{
		Environment: "development",
		API:         gwhttp.DefaultConfig(),
		Transport:   transport.DefaultConfig(),
		Mirror:      mirror.Config{SubjectPrefix: "iotbridge.events"},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.AlertService.Validate(); err != nil {
		return err
	}
	if err := c.Mirror.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if c.API.Port == c.Metrics.Port && c.Metrics.Enabled {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"api and metrics ports must differ")
	}
	return nil
}

// Load reads a configuration file, expands ${VAR} references from the
// environment, applies direct environment overrides and validates the
// result. An empty path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		expanded := os.Expand(string(data), func(name string) string {
			return os.Getenv(name)
		})
		if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies direct environment variable overrides on top of
// the file values.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPort); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.API.Port = port
		}
	}
	if val := os.Getenv(EnvAlertServiceURL); val != "" {
		cfg.AlertService.BaseURL = val
	}
	if val := os.Getenv(EnvPingInterval); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.Transport.PingIntervalMS = ms
		}
	}
	if val := os.Getenv(EnvPingTimeout); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.Transport.PingTimeoutMS = ms
		}
	}
	if val := os.Getenv(EnvEnvironment); val != "" {
		cfg.Environment = val
	}
	if val := os.Getenv(EnvNATSURL); val != "" {
		cfg.Mirror.URL = val
	}
}
