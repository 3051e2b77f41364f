// Package types defines the domain model shared by the registry, the
// rules engine, the container manager, and the control plane API:
// states, transitions, machines, rules, events, and the handles used to
// talk to a Cluster Driver.
package types
