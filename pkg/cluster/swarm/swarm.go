// Package swarm implements cluster.Driver against a real Docker Swarm
// manager, using the official Docker Engine API client. It is the
// production backend: every service the control plane creates is a
// Swarm service with RestartPolicy "none" (state workers are short-lived
// by design; the control plane, not the orchestrator, decides what
// should be running).
package swarm

import (
	"context"
	"fmt"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	dockerswarm "github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/edgesurveillance/eventbus/pkg/log"
	"github.com/edgesurveillance/eventbus/pkg/types"
)

// Driver drives a Docker Swarm cluster over the Docker Engine API.
type Driver struct {
	client *client.Client
	logger zerolog.Logger
}

// New connects to the local Docker daemon and verifies it is running in
// Swarm mode, matching the original implementation's startup check
// ("Docker is not in Swarm mode. Run 'docker swarm init' first.").
func New() (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	info, err := cli.Info(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	if info.Swarm.NodeID == "" {
		return nil, fmt.Errorf("docker is not in swarm mode, run 'docker swarm init' first")
	}

	return &Driver{
		client: cli,
		logger: log.WithComponent("cluster.swarm"),
	}, nil
}

// CreateService implements cluster.Driver.
func (d *Driver) CreateService(ctx context.Context, req types.CreateServiceRequest) (types.ServiceHandle, error) {
	spec := dockerswarm.ServiceSpec{
		Annotations: dockerswarm.Annotations{
			Name:   req.Name,
			Labels: req.Labels,
		},
		TaskTemplate: dockerswarm.TaskSpec{
			ContainerSpec: &dockerswarm.ContainerSpec{
				Image: req.Image,
				Env:   envSlice(req.Env),
			},
			RestartPolicy: &dockerswarm.RestartPolicy{
				Condition: dockerswarm.RestartPolicyConditionNone,
			},
			Placement: &dockerswarm.Placement{
				Constraints: req.PlacementConstraints,
			},
			Resources: &dockerswarm.ResourceRequirements{
				Limits: &dockerswarm.Limit{
					NanoCPUs:    req.Resources.CPULimit,
					MemoryBytes: req.Resources.MemoryLimit,
				},
				Reservations: &dockerswarm.Resources{
					NanoCPUs:    req.Resources.CPUReservation,
					MemoryBytes: req.Resources.MemoryReservation,
				},
			},
			Networks: networkAttachments(req.Network),
		},
		EndpointSpec: &dockerswarm.EndpointSpec{
			Mode: dockerswarm.ResolutionModeVIP,
		},
	}

	resp, err := d.client.ServiceCreate(ctx, spec, dockertypes.ServiceCreateOptions{})
	if err != nil {
		return types.ServiceHandle{}, fmt.Errorf("%w: create service %s: %v", types.ErrClusterOperation, req.Name, err)
	}

	d.logger.Info().Str("service_id", resp.ID).Str("service_name", req.Name).Msg("created swarm service")
	return types.ServiceHandle{ID: resp.ID, Name: req.Name}, nil
}

// DeleteService implements cluster.Driver. A service that no longer
// exists is treated as success, matching the original's
// docker.errors.NotFound handling.
func (d *Driver) DeleteService(ctx context.Context, serviceID string) error {
	if err := d.client.ServiceRemove(ctx, serviceID); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: delete service %s: %v", types.ErrClusterOperation, serviceID, err)
	}
	return nil
}

// ScaleService implements cluster.Driver by updating the service's
// replicated mode count.
func (d *Driver) ScaleService(ctx context.Context, serviceID string, replicas int) error {
	svc, _, err := d.client.ServiceInspectWithRaw(ctx, serviceID, dockertypes.ServiceInspectOptions{})
	if err != nil {
		return fmt.Errorf("%w: inspect service %s: %v", types.ErrClusterOperation, serviceID, err)
	}

	spec := svc.Spec
	n := uint64(replicas)
	if spec.Mode.Replicated == nil {
		spec.Mode.Replicated = &dockerswarm.ReplicatedService{}
	}
	spec.Mode.Replicated.Replicas = &n

	_, err = d.client.ServiceUpdate(ctx, serviceID, svc.Version, spec, dockertypes.ServiceUpdateOptions{})
	if err != nil {
		return fmt.Errorf("%w: scale service %s: %v", types.ErrClusterOperation, serviceID, err)
	}
	return nil
}

// ListServicesByLabel implements cluster.Driver.
func (d *Driver) ListServicesByLabel(ctx context.Context, labelSelector map[string]string) ([]types.ServiceHandle, error) {
	services, err := d.client.ServiceList(ctx, dockertypes.ServiceListOptions{
		Filters: labelFilters(labelSelector),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list services: %v", types.ErrClusterOperation, err)
	}

	out := make([]types.ServiceHandle, 0, len(services))
	for _, s := range services {
		out = append(out, types.ServiceHandle{ID: s.ID, Name: s.Spec.Name})
	}
	return out, nil
}

// ListTasks implements cluster.Driver.
func (d *Driver) ListTasks(ctx context.Context, serviceID string) ([]types.TaskInfo, error) {
	tasks, err := d.client.TaskList(ctx, dockertypes.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", serviceID)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks for %s: %v", types.ErrClusterOperation, serviceID, err)
	}

	out := make([]types.TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, types.TaskInfo{
			ID:           t.ID,
			State:        types.TaskState(t.Status.State),
			DesiredState: types.TaskState(t.DesiredState),
			NodeID:       t.NodeID,
		})
	}
	return out, nil
}

// ListNodes implements cluster.Driver.
func (d *Driver) ListNodes(ctx context.Context, labelSelector map[string]string) ([]types.NodeInfo, error) {
	nodes, err := d.client.NodeList(ctx, dockertypes.NodeListOptions{
		Filters: labelFilters(labelSelector),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list nodes: %v", types.ErrClusterOperation, err)
	}

	out := make([]types.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		running, err := d.client.TaskList(ctx, dockertypes.TaskListOptions{
			Filters: filters.NewArgs(
				filters.Arg("node", n.ID),
				filters.Arg("desired-state", "running"),
			),
		})
		if err != nil {
			d.logger.Warn().Err(err).Str("node_id", n.ID).Msg("failed to list tasks for node")
		}

		out = append(out, types.NodeInfo{
			NodeID:       n.ID,
			Hostname:     n.Description.Hostname,
			State:        types.NodeState(n.Status.State),
			Availability: types.NodeAvailability(n.Spec.Availability),
			NanoCPUs:     n.Description.Resources.NanoCPUs,
			MemoryBytes:  n.Description.Resources.MemoryBytes,
			RunningTasks: len(running),
			Labels:       n.Spec.Labels,
		})
	}
	return out, nil
}

// ClusterInfo implements cluster.Driver.
func (d *Driver) ClusterInfo(ctx context.Context) (types.ClusterInfo, error) {
	info, err := d.client.Info(ctx)
	if err != nil {
		return types.ClusterInfo{}, fmt.Errorf("%w: cluster info: %v", types.ErrClusterOperation, err)
	}

	return types.ClusterInfo{
		LocalNodeID:      info.Swarm.NodeID,
		LocalNodeAddr:    info.Swarm.NodeAddr,
		LocalNodeState:   string(info.Swarm.LocalNodeState),
		Managers:         info.Swarm.Managers,
		Nodes:            info.Swarm.Nodes,
		ControlAvailable: info.Swarm.ControlAvailable,
	}, nil
}

// GetNodeName implements cluster.Driver. Never fails: a resolution error
// falls back to a truncated node id, matching the original's
// except-and-truncate behavior.
func (d *Driver) GetNodeName(ctx context.Context, nodeID string) string {
	node, _, err := d.client.NodeInspectWithRaw(ctx, nodeID)
	if err != nil {
		if len(nodeID) > 12 {
			return nodeID[:12]
		}
		return nodeID
	}
	return node.Description.Hostname
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func networkAttachments(network string) []dockerswarm.NetworkAttachmentConfig {
	if network == "" {
		return nil
	}
	return []dockerswarm.NetworkAttachmentConfig{{Target: network}}
}

func labelFilters(labelSelector map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range labelSelector {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}
	return args
}
