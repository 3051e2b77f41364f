// Package cluster defines the Cluster Driver capability surface: a thin,
// mechanical abstraction over a container orchestrator that the
// container manager drives. See pkg/cluster/swarm for the Docker Swarm
// backend and pkg/cluster/sim for the in-process backend used in tests
// and in clusterless development.
package cluster

import (
	"context"

	"github.com/edgesurveillance/eventbus/pkg/types"
)

// Driver is the capability set a container orchestrator must expose for
// the control plane to bind machine states to running workloads. It is
// intentionally mechanical: it knows nothing about machines, states, or
// transitions.
type Driver interface {
	// CreateService creates a new service from req and returns its handle.
	CreateService(ctx context.Context, req types.CreateServiceRequest) (types.ServiceHandle, error)

	// DeleteService removes a service by id. A service that no longer
	// exists is treated as success.
	DeleteService(ctx context.Context, serviceID string) error

	// ListServicesByLabel returns every service whose labels match the
	// given selector (exact key=value match, ANDed).
	ListServicesByLabel(ctx context.Context, labelSelector map[string]string) ([]types.ServiceHandle, error)

	// ListTasks returns the tasks belonging to a service.
	ListTasks(ctx context.Context, serviceID string) ([]types.TaskInfo, error)

	// ScaleService sets a service's replica count.
	ScaleService(ctx context.Context, serviceID string, replicas int) error

	// ListNodes returns cluster nodes, optionally narrowed by a label
	// selector (exact key=value match, ANDed). A nil/empty selector
	// returns all nodes.
	ListNodes(ctx context.Context, labelSelector map[string]string) ([]types.NodeInfo, error)

	// ClusterInfo returns cluster membership/control-plane information.
	ClusterInfo(ctx context.Context) (types.ClusterInfo, error)

	// GetNodeName resolves a node id to its hostname, or a truncated id
	// if the node cannot be resolved. Never fails.
	GetNodeName(ctx context.Context, nodeID string) string
}
