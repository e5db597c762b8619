package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/LeDonChung/asset-management-iuh-sckt/config"
)

// setupLogger builds the root logger. Every record carries the service
// identity so bridge output stays distinguishable from the alert backend's
// in aggregated logs.
func setupLogger(level, format string) *slog.Logger {
	logLevel := parseLogLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)

	// The logger exists before the config file is loaded, so the deployment
	// environment root field comes straight from the process environment
	if env := os.Getenv(config.EnvEnvironment); env != "" {
		logger = logger.With("env", env)
	}
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
