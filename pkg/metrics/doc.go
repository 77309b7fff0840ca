// Package metrics exposes Prometheus instrumentation for scaling runs,
// safety evaluations, and dispatcher activity.
package metrics
