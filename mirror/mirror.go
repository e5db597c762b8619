// Package mirror publishes a copy of every inbound broker event to NATS
// subjects so downstream integrations can consume the device/frontend
// traffic without attaching to the websocket hub. Mirroring is best-effort
// and optional; the broker runs unchanged with the no-op publisher.
package mirror

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/LeDonChung/asset-management-iuh-sckt/errors"
)

// Publisher mirrors one inbound event. Implementations must never block the
// caller on broker delivery paths.
type Publisher interface {
	Publish(event string, payload []byte)
	Close()
}

// Config holds event mirror configuration.
type Config struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"url is required when mirror is enabled")
	}
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"subject_prefix is required when mirror is enabled")
	}
	return nil
}

// Nop is the disabled mirror.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(string, []byte) {}

// Close is a no-op.
func (Nop) Close() {}

// NATS mirrors events onto NATS core subjects.
type NATS struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect establishes the NATS connection for mirroring. When cfg.Enabled is
// false the no-op publisher is returned and no connection is made.
func Connect(cfg Config, logger *slog.Logger) (Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("iot-bridge-mirror"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATS", "Connect", "connect to NATS")
	}

	return &NATS{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		logger: logger.With("component", "mirror"),
	}, nil
}

// Publish mirrors one event. Failures are logged and dropped; mirroring
// never fails broker delivery.
func (n *NATS) Publish(event string, payload []byte) {
	subject := fmt.Sprintf("%s.%s", n.prefix, event)
	if err := n.conn.Publish(subject, payload); err != nil {
		n.logger.Warn("event mirror publish failed", "subject", subject, "error", err)
	}
}

// Close drains the connection.
func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn("event mirror drain failed", "error", err)
	}
}
