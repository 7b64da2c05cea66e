// Package metrics is the pipeline's observable surface: Prometheus
// counters/gauges/histograms for scraping, plus atomic mirrors exposed as a
// plain snapshot so UI-layer observers can poll live counts directly.
package metrics
