// Package api implements the control plane's HTTP surface: POST
// /transition (the critical path that drives the registry, container
// manager, and rules engine), and the GET /status, /nodes, /swarm,
// /health, /ready, and /metrics introspection endpoints. Handlers are
// plain http.HandlerFunc values registered on a standard
// http.ServeMux, matching the teacher's own un-framework-ed style in
// pkg/metrics/health.go rather than a routing library.
package api
