// Package middleware holds the gin middleware chain pieces: permissive
// CORS for the studio webview, per-IP rate limiting, and gzip response
// compression (klauspost/compress). Request metrics and tracing
// middleware live with their subsystems under infrastructure.
package middleware
