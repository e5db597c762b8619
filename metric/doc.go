// Package metric provides Prometheus-based metrics collection and an HTTP
// server for broker monitoring and observability.
//
// The package offers a centralized metrics registry managing both core broker
// metrics (transport sessions, routed events, registered identities, alert
// service calls) and custom component-specific metrics. It includes an HTTP
// server exposing metrics in Prometheus format.
//
// Basic usage:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        log.Printf("metrics server error: %v", err)
//	    }
//	}()
//
//	core := registry.CoreMetrics()
//	core.RecordConnectionOpened()
//	core.RecordEventReceived("register")
//
// Components register their own metrics through the MetricsRegistrar
// interface, keyed by component and metric name with duplicate detection.
// All registration methods are safe for concurrent use.
package metric
