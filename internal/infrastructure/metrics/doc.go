// Package metrics exposes station counters in Prometheus format.
package metrics
