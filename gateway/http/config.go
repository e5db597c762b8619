package http

import (
	"fmt"

	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
)

// Config holds control API configuration.
type Config struct {
	Port           int      `json:"port"`
	EnableCORS     bool     `json:"enable_cors"`
	CORSOrigins    []string `json:"cors_origins"`
	MaxRequestSize int64    `json:"max_request_size"`
}

// DefaultConfig returns the default control API configuration.
func DefaultConfig() Config {
	return Config{
		Port:           3001,
		EnableCORS:     true,
		CORSOrigins:    []string{"*"},
		MaxRequestSize: 1 << 20,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.MaxRequestSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size must be positive")
	}
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"cors_origins must not be empty when CORS is enabled")
	}
	return nil
}
