// Package sim implements an in-process cluster.Driver over a fake set of
// nodes, services, and tasks. It is used by the control plane's own test
// suite and by `eventbus serve --cluster-driver=sim` to run the control
// plane without a real Docker Swarm cluster.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/edgesurveillance/eventbus/pkg/types"
)

// Driver is an in-memory cluster.Driver. It is safe for concurrent use.
type Driver struct {
	mu       sync.Mutex
	nodes    []types.NodeInfo
	services map[string]*service
}

type service struct {
	handle types.ServiceHandle
	labels map[string]string
	tasks  []types.TaskInfo
}

// New creates a simulation driver seeded with the given edge nodes. If no
// nodes are given, a single edge node "edge-sim-0" is created so that
// placement constraints on role=edge are always satisfiable.
func New(nodes ...types.NodeInfo) *Driver {
	if len(nodes) == 0 {
		nodes = []types.NodeInfo{
			{
				NodeID:       "sim-node-0",
				Hostname:     "edge-sim-0",
				State:        types.NodeStateReady,
				Availability: types.NodeAvailabilityActive,
				NanoCPUs:     2_000_000_000,
				MemoryBytes:  4 * 1024 * 1024 * 1024,
				Labels:       map[string]string{types.LabelRole: types.EdgeRoleValue},
			},
		}
	}
	return &Driver{
		nodes:    nodes,
		services: make(map[string]*service),
	}
}

// CreateService implements cluster.Driver.
func (d *Driver) CreateService(_ context.Context, req types.CreateServiceRequest) (types.ServiceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	node := d.selectNode(req.PlacementConstraints)
	if node == nil {
		return types.ServiceHandle{}, fmt.Errorf("%w: no node satisfies placement constraints %v", types.ErrClusterOperation, req.PlacementConstraints)
	}

	id := uuid.New().String()
	handle := types.ServiceHandle{ID: id, Name: req.Name}
	d.services[id] = &service{
		handle: handle,
		labels: req.Labels,
		tasks: []types.TaskInfo{
			{
				ID:           uuid.New().String()[:12],
				State:        types.TaskStateRunning,
				DesiredState: types.TaskStateRunning,
				NodeID:       node.NodeID,
			},
		},
	}
	return handle, nil
}

// DeleteService implements cluster.Driver. Deleting an unknown id is a
// no-op success, matching the orchestrator's own "not_found is success"
// convention.
func (d *Driver) DeleteService(_ context.Context, serviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.services, serviceID)
	return nil
}

// ScaleService implements cluster.Driver by growing or shrinking the
// task list, placing new tasks with the same selection strategy
// CreateService uses (no placement constraints recorded per-service, so
// new tasks simply land on the least-loaded known node).
func (d *Driver) ScaleService(_ context.Context, serviceID string, replicas int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	svc, ok := d.services[serviceID]
	if !ok {
		return fmt.Errorf("%w: service %s", types.ErrNotFound, serviceID)
	}

	switch {
	case replicas < len(svc.tasks):
		svc.tasks = svc.tasks[:replicas]
	case replicas > len(svc.tasks):
		node := d.selectNode(nil)
		for len(svc.tasks) < replicas {
			nodeID := ""
			if node != nil {
				nodeID = node.NodeID
			}
			svc.tasks = append(svc.tasks, types.TaskInfo{
				ID:           uuid.New().String()[:12],
				State:        types.TaskStateRunning,
				DesiredState: types.TaskStateRunning,
				NodeID:       nodeID,
			})
		}
	}
	return nil
}

// ListServicesByLabel implements cluster.Driver.
func (d *Driver) ListServicesByLabel(_ context.Context, labelSelector map[string]string) ([]types.ServiceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []types.ServiceHandle
	for _, svc := range d.services {
		if labelsMatch(svc.labels, labelSelector) {
			out = append(out, svc.handle)
		}
	}
	return out, nil
}

// ListTasks implements cluster.Driver.
func (d *Driver) ListTasks(_ context.Context, serviceID string) ([]types.TaskInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	svc, ok := d.services[serviceID]
	if !ok {
		return nil, nil
	}
	out := make([]types.TaskInfo, len(svc.tasks))
	copy(out, svc.tasks)
	return out, nil
}

// ListNodes implements cluster.Driver.
func (d *Driver) ListNodes(_ context.Context, labelSelector map[string]string) ([]types.NodeInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []types.NodeInfo
	for _, n := range d.nodes {
		if labelsMatch(n.Labels, labelSelector) {
			n.RunningTasks = d.runningTasksOnNode(n.NodeID)
			out = append(out, n)
		}
	}
	return out, nil
}

// ClusterInfo implements cluster.Driver.
func (d *Driver) ClusterInfo(_ context.Context) (types.ClusterInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return types.ClusterInfo{
		LocalNodeID:      "sim-local",
		LocalNodeAddr:    "127.0.0.1",
		LocalNodeState:   "active",
		Managers:         1,
		Nodes:            len(d.nodes),
		ControlAvailable: true,
	}, nil
}

// GetNodeName implements cluster.Driver.
func (d *Driver) GetNodeName(_ context.Context, nodeID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, n := range d.nodes {
		if n.NodeID == nodeID {
			return n.Hostname
		}
	}
	if len(nodeID) > 12 {
		return nodeID[:12]
	}
	return nodeID
}

func (d *Driver) runningTasksOnNode(nodeID string) int {
	count := 0
	for _, svc := range d.services {
		for _, t := range svc.tasks {
			if t.NodeID == nodeID && t.State == types.TaskStateRunning {
				count++
			}
		}
	}
	return count
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
