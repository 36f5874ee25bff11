// Package server implements the HTTP monitoring API of the streamer.
// It reports health, per-component statistics, the sanitized configuration
// and Prometheus metrics.
package server
