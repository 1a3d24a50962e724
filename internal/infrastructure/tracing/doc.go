/*
Package tracing provides lightweight request tracing for debugging.

# Overview

This package implements minimal tracing to track requests from the GUI
through the backend and into kernel operations. It follows OpenTelemetry
concepts but with a small implementation tailored to a local backend.

# Features

- Trace context propagation via HTTP headers
- Span creation and management with parent-child relationships
- Automatic trace ID generation
- Gin middleware for automatic instrumentation
- Structured logging integration
- Low overhead with buffered span collection

# Usage

	// Create tracer
	tracer := tracing.New("rodeo", logger)
	defer tracer.Close()

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "kernel.execute")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("kernel_id", string(kid))
	span.Log("message", map[string]interface{}{"detail": "info"})

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

# Performance

The tracing system is designed for minimal overhead:
- Buffered span collection (1000 spans)
- Async span processing
- Structured logging integration
- No external dependencies
*/
package tracing
