/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the backend
service, tracking HTTP requests, kernel sessions, code executions, forwarded
events, extracted artifacts, and system metrics.

# Features

- HTTP request metrics (latency, throughput, size)
- Kernel lifecycle metrics (active sessions, failures by stage)
- Execution metrics (status, duration)
- Event and artifact pipeline metrics
- Autocomplete deadline metrics
- WebSocket connection metrics
- Interpreter probe and terminal metrics
- System metrics (uptime)

All recording helpers tolerate a nil *Metrics receiver, so components and
their tests can run without a collector.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()
	defer metrics.Close()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record domain metrics
	metrics.KernelStarted()
	metrics.RecordExecution("ok", elapsed)

	// Time operations
	timer := monitoring.NewTimer(metrics, "history", "record")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
