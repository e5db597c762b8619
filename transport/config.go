package transport

import (
	"strings"

	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
)

// Config holds configuration for the websocket hub
type Config struct {
	Path            string   `json:"path"`
	PingIntervalMS  int      `json:"ping_interval_ms"`
	PingTimeoutMS   int      `json:"ping_timeout_ms"`
	ReadBufferSize  int      `json:"read_buffer_size"`
	WriteBufferSize int      `json:"write_buffer_size"`
	MaxMessageSize  int64    `json:"max_message_size"`
	AllowedOrigins  []string `json:"allowed_origins"`
}

// DefaultConfig returns default hub configuration. MaxMessageSize leaves
// room for base64-encoded camera captures.
func DefaultConfig() Config {
	return Config{
		Path:            "/socket",
		PingIntervalMS:  10000,
		PingTimeoutMS:   5000,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  10 << 20,
		AllowedOrigins:  []string{"*"},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"path must start with /")
	}
	if c.PingIntervalMS <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"ping_interval_ms must be positive")
	}
	if c.PingTimeoutMS <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"ping_timeout_ms must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_message_size must be positive")
	}
	return nil
}

// allowsOrigin reports whether the configured origin list permits origin.
func (c *Config) allowsOrigin(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
