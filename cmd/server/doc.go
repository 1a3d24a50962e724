// Package main is the entry point for the rodeo kernel session server.
//
// The server is the local backend of a data-science IDE. It launches and
// supervises interpreter kernels as subprocesses, transforms their output
// for display, and manages PTY terminals alongside them.
//
// Architecture:
//
//	GUI (webview) → REST + WebSocket → Kernel subprocesses (line JSON over pipes)
//	                                 → In-process JavaScript runtime
//
// The server provides:
//   - REST API for kernel sessions, completion, and inspection
//   - WebSocket streaming of per-session kernel events
//   - Artifact extraction for inline plots and tables
//   - Interpreter registry with hot reload and filesystem discovery
//   - PTY terminals, execution history, rate limiting
//
// Configuration:
//   - RODEO_* environment variables (12-factor)
//   - Optional TOML file (-config), values win over the environment
//   - CLI flags (override both)
//
// Usage:
//
//	# Default: loopback on port 8811
//	./server
//
//	# Explicit port and interpreter registry
//	RODEO_INTERPRETERS_REGISTRY=~/.config/rodeo/interpreters.yaml ./server -port 9001
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
