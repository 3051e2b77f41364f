// Package metrics provides Prometheus metrics and health/readiness HTTP
// handlers for the event bus: transition and rule fan-out counters,
// container manager operation latency, and the /health, /ready, and
// /live handlers served alongside the control plane API.
package metrics
