// Package main implements the entry point for the IoT bridge: a websocket
// broker between physical devices and frontend sessions, with a synchronous
// control API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/LeDonChung/asset-management-iuh-sckt/alertservice"
	"github.com/LeDonChung/asset-management-iuh-sckt/broker"
	"github.com/LeDonChung/asset-management-iuh-sckt/config"
	gwhttp "github.com/LeDonChung/asset-management-iuh-sckt/gateway/http"
	"github.com/LeDonChung/asset-management-iuh-sckt/metric"
	"github.com/LeDonChung/asset-management-iuh-sckt/mirror"
	"github.com/LeDonChung/asset-management-iuh-sckt/registry"
	"github.com/LeDonChung/asset-management-iuh-sckt/router"
	"github.com/LeDonChung/asset-management-iuh-sckt/transport"
)

// Build information constants
const (
	Version   = "2.0.0"
	BuildTime = "dev"
	appName   = "iot-bridge"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	metricsRegistry := metric.NewMetricsRegistry()
	metrics := metricsRegistry.CoreMetrics()

	// Alert backend client
	alerts, err := alertservice.NewClient(cfg.AlertService, logger, metrics)
	if err != nil {
		return fmt.Errorf("create alert service client: %w", err)
	}

	// Optional NATS event mirror
	pub, err := mirror.Connect(cfg.Mirror, logger)
	if err != nil {
		return fmt.Errorf("connect event mirror: %w", err)
	}
	defer pub.Close()

	// Identity tables, broker and transport
	devices := registry.NewTable("devices", logger, metrics)
	users := registry.NewTable("users", logger, metrics)

	hub, err := transport.NewHub(cfg.Transport, nil, logger, metrics)
	if err != nil {
		return fmt.Errorf("create websocket hub: %w", err)
	}
	if err := hub.RegisterMetrics(metricsRegistry); err != nil {
		return fmt.Errorf("register hub metrics: %w", err)
	}
	rt := router.New(hub, logger, metrics)
	b := broker.New(devices, users, rt, hub, alerts, pub, logger, metrics)
	hub.SetHandler(b)

	// Control API and websocket share one listener
	gw, err := gwhttp.NewGateway(cfg.API, b, gwhttp.RuntimeInfo{
		Version:         Version,
		Environment:     cfg.Environment,
		Port:            cfg.API.Port,
		PingIntervalMS:  cfg.Transport.PingIntervalMS,
		PingTimeoutMS:   cfg.Transport.PingTimeoutMS,
		AlertServiceURL: cfg.AlertService.BaseURL,
		WarningsURL:     cfg.AlertService.BaseURL + alertservice.WarningsPath,
	}, logger)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	mux := http.NewServeMux()
	gw.RegisterHTTPHandlers(mux)
	mux.HandleFunc(hub.Path(), hub.HandleUpgrade)

	apiServer := gwhttp.NewServer(cfg.API, mux, logger)

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
	}

	return serve(cliCfg, cfg, hub, b, apiServer, metricsServer)
}

// serve starts the hub and servers, then blocks until a shutdown signal.
func serve(
	cliCfg *CLIConfig,
	cfg *config.Config,
	hub *transport.Hub,
	b *broker.Broker,
	apiServer *gwhttp.Server,
	metricsServer *metric.Server,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := hub.Start(signalCtx); err != nil {
		return fmt.Errorf("start websocket hub: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- fmt.Errorf("control API: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	slog.Info("Bridge started",
		"api_port", cfg.API.Port,
		"socket_path", cfg.Transport.Path,
		"metrics_enabled", cfg.Metrics.Enabled,
		"mirror_enabled", cfg.Mirror.Enabled,
		"environment", cfg.Environment)

	var runErr error
	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case runErr = <-errCh:
		slog.Error("Server failed", "error", runErr)
	}

	shutdown(cliCfg.ShutdownTimeout, hub, b, apiServer, metricsServer)
	slog.Info("Bridge shutdown complete")
	return runErr
}

// shutdown stops the servers and transport, then waits for in-flight alert
// calls to finish within the remaining time.
func shutdown(
	timeout time.Duration,
	hub *transport.Hub,
	b *broker.Broker,
	apiServer *gwhttp.Server,
	metricsServer *metric.Server,
) {
	deadline := time.Now().Add(timeout)

	if err := apiServer.Stop(timeout); err != nil {
		slog.Error("Error stopping control API", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Error("Error stopping metrics server", "error", err)
		}
	}
	if err := hub.Stop(time.Until(deadline)); err != nil {
		slog.Error("Error stopping websocket hub", "error", err)
	}
	if remaining := time.Until(deadline); remaining > 0 {
		if !b.Wait(remaining) {
			slog.Warn("In-flight alert calls did not finish before deadline")
		}
	}
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting IoT bridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}
