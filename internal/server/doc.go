// Package server provides the local status HTTP API: health, runtime
// statistics, sanitized configuration, and Prometheus metrics for the
// capture agent.
package server
