// Package containermanager implements the per-machine container lifecycle
// described in spec section 4.2: at any instant each machine owns at most
// one active service on the cluster, and transitions atomically replace
// it.
package containermanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgesurveillance/eventbus/pkg/cluster"
	"github.com/edgesurveillance/eventbus/pkg/log"
	"github.com/edgesurveillance/eventbus/pkg/types"
)

// ResourceDefaults are the CPU/memory shape given to every state service
// unless Config overrides them. These mirror the original implementation's
// _create_service: half a core limit, 512MiB memory limit, reservations
// at roughly 20% of the limit.
var ResourceDefaults = types.ResourceLimits{
	CPULimit:          500_000_000, // 0.5 CPU, nano-cpu units
	CPUReservation:    100_000_000, // 0.1 CPU
	MemoryLimit:       512 * 1024 * 1024,
	MemoryReservation: 128 * 1024 * 1024,
}

const (
	// defaultReadinessPollInterval is the cadence for polling task state
	// while waiting for a new service to become ready.
	defaultReadinessPollInterval = 2 * time.Second

	// defaultReadinessTimeout bounds how long Start waits for a running
	// task before giving up (and still returning success, per spec).
	defaultReadinessTimeout = 60 * time.Second

	// settleDelay is the brief pause between force-stopping the old
	// service and starting the new one, letting cluster bookkeeping
	// converge (the same role time.Sleep(1) plays in the original).
	settleDelay = 1 * time.Second

	eventBusURL = "http://event-bus:5000"
)

// Config tunes the container manager's behavior. The zero value uses the
// documented defaults.
type Config struct {
	Resources             types.ResourceLimits
	ReadinessPollInterval time.Duration
	ReadinessTimeout      time.Duration
	SettleDelay           time.Duration
	EventBusURL           string
}

func (c Config) withDefaults() Config {
	if c.Resources == (types.ResourceLimits{}) {
		c.Resources = ResourceDefaults
	}
	if c.ReadinessPollInterval == 0 {
		c.ReadinessPollInterval = defaultReadinessPollInterval
	}
	if c.ReadinessTimeout == 0 {
		c.ReadinessTimeout = defaultReadinessTimeout
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = settleDelay
	}
	if c.EventBusURL == "" {
		c.EventBusURL = eventBusURL
	}
	return c
}

// Status is the response shape for Status.
type Status struct {
	Status          string       `json:"status"`
	ServiceName     string       `json:"service_name,omitempty"`
	ServiceID       string       `json:"service_id,omitempty"`
	Replicas        int          `json:"replicas,omitempty"`
	RunningReplicas int          `json:"running_replicas,omitempty"`
	Tasks           []TaskStatus `json:"tasks,omitempty"`
}

// TaskStatus is one task's projection inside Status.
type TaskStatus struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Node         string `json:"node"`
	DesiredState string `json:"desired_state"`
}

// NodeResources is the response shape for NodeResources.
type NodeResources struct {
	NodeID       string            `json:"node_id"`
	Status       string            `json:"status"`
	Availability string            `json:"availability"`
	NanoCPUs     int64             `json:"nano_cpus"`
	MemoryBytes  int64             `json:"memory_bytes"`
	RunningTasks int               `json:"running_tasks"`
	Labels       map[string]string `json:"labels"`
}


// Manager owns the active_services record (spec section 3) and drives a
// cluster.Driver to keep it true.
type Manager struct {
	driver cluster.Driver
	cfg    Config
	logger zerolog.Logger

	mu             sync.Mutex
	activeServices map[string]types.ServiceHandle // machine_id -> handle
}

// New creates a container manager over the given cluster driver.
func New(driver cluster.Driver, cfg Config) *Manager {
	return &Manager{
		driver:         driver,
		cfg:            cfg.withDefaults(),
		logger:         log.WithComponent("containermanager"),
		activeServices: make(map[string]types.ServiceHandle),
	}
}

// Start ensures machineID has exactly one live service named
// "<machine_id>-<state_name>", force-removing any service previously
// tracked for the machine or bearing its label first.
func (m *Manager) Start(ctx context.Context, machineID, stateName, image string) error {
	m.forceStopExisting(ctx, machineID)

	serviceName := fmt.Sprintf("%s-%s", machineID, stateName)
	handle, err := m.driver.CreateService(ctx, types.CreateServiceRequest{
		Name:  serviceName,
		Image: image,
		Env: map[string]string{
			types.EnvMachineID:   machineID,
			types.EnvStateName:   stateName,
			types.EnvEventBusURL: m.cfg.EventBusURL,
		},
		Labels: map[string]string{
			types.LabelMachineID: machineID,
			types.LabelState:     stateName,
			types.LabelApp:       types.ApplicationTag,
		},
		Resources:            m.cfg.Resources,
		PlacementConstraints: []string{fmt.Sprintf("node.labels.%s==%s", types.LabelRole, types.EdgeRoleValue)},
	})
	if err != nil {
		return fmt.Errorf("failed to create service for %s: %w", serviceName, err)
	}

	m.mu.Lock()
	m.activeServices[machineID] = handle
	m.mu.Unlock()

	m.logger.Info().
		Str("machine_id", machineID).
		Str("service_name", serviceName).
		Str("service_id", handle.ID).
		Msg("created service")

	if !m.waitForReady(ctx, handle.ID, serviceName) {
		m.logger.Warn().Str("service_name", serviceName).Msg("service not ready within timeout")
	}
	return nil
}

// Transition force-stops the current service and starts a new one for
// newState, after a brief settle delay.
func (m *Manager) Transition(ctx context.Context, machineID string, oldState, newState types.State) error {
	m.forceStopExisting(ctx, machineID)

	select {
	case <-time.After(m.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := m.Start(ctx, machineID, newState.Name, newState.ContainerImage); err != nil {
		return fmt.Errorf("service transition failed for %s: %w", machineID, err)
	}

	m.logger.Info().
		Str("machine_id", machineID).
		Str("old_state", oldState.Name).
		Str("new_state", newState.Name).
		Msg("transitioned container")
	return nil
}

// Status returns the tracked service's current cluster status. If the
// tracked service no longer exists, the tracking entry is removed and
// not_found is returned.
func (m *Manager) Status(ctx context.Context, machineID string) Status {
	m.mu.Lock()
	handle, ok := m.activeServices[machineID]
	m.mu.Unlock()

	if !ok {
		return Status{Status: "not_running"}
	}

	tasks, err := m.driver.ListTasks(ctx, handle.ID)
	if err != nil {
		return Status{Status: "error"}
	}
	if len(tasks) == 0 {
		services, err := m.driver.ListServicesByLabel(ctx, map[string]string{types.LabelMachineID: machineID})
		if err != nil {
			return Status{Status: "error"}
		}
		stillExists := false
		for _, s := range services {
			if s.ID == handle.ID {
				stillExists = true
			}
		}
		if !stillExists {
			m.mu.Lock()
			delete(m.activeServices, machineID)
			m.mu.Unlock()
			return Status{Status: "not_found"}
		}
	}

	running := 0
	taskStatuses := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		if t.State == types.TaskStateRunning {
			running++
		}
		taskStatuses = append(taskStatuses, TaskStatus{
			ID:           t.ID,
			State:        string(t.State),
			Node:         m.driver.GetNodeName(ctx, t.NodeID),
			DesiredState: string(t.DesiredState),
		})
	}

	status := "pending"
	if running > 0 {
		status = "running"
	}

	return Status{
		Status:          status,
		ServiceName:     handle.Name,
		ServiceID:       handle.ID,
		Replicas:        len(tasks),
		RunningReplicas: running,
		Tasks:           taskStatuses,
	}
}

// NodeResources returns, for every node labeled role=edge, its capacity
// and current running-task count.
func (m *Manager) NodeResources(ctx context.Context) (map[string]NodeResources, error) {
	nodes, err := m.driver.ListNodes(ctx, map[string]string{types.LabelRole: types.EdgeRoleValue})
	if err != nil {
		return nil, fmt.Errorf("failed to get node resources: %w", err)
	}

	out := make(map[string]NodeResources, len(nodes))
	for _, n := range nodes {
		out[n.Hostname] = NodeResources{
			NodeID:       n.NodeID,
			Status:       string(n.State),
			Availability: string(n.Availability),
			NanoCPUs:     n.NanoCPUs,
			MemoryBytes:  n.MemoryBytes,
			RunningTasks: n.RunningTasks,
			Labels:       n.Labels,
		}
	}
	return out, nil
}

// Scale sets the active service's replica count.
func (m *Manager) Scale(ctx context.Context, machineID string, replicas int) error {
	m.mu.Lock()
	handle, ok := m.activeServices[machineID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active service for %s", machineID)
	}

	if err := m.driver.ScaleService(ctx, handle.ID, replicas); err != nil {
		return fmt.Errorf("failed to scale service %s: %w", handle.Name, err)
	}
	return nil
}

// Cleanup removes every service bearing the application label, optionally
// narrowed to a single machine.
func (m *Manager) Cleanup(ctx context.Context, machineID string) error {
	selector := map[string]string{types.LabelApp: types.ApplicationTag}
	if machineID != "" {
		selector[types.LabelMachineID] = machineID
	}

	services, err := m.driver.ListServicesByLabel(ctx, selector)
	if err != nil {
		return fmt.Errorf("cleanup: list services: %w", err)
	}
	for _, s := range services {
		m.logger.Info().Str("service_name", s.Name).Msg("cleaning up service")
		if err := m.driver.DeleteService(ctx, s.ID); err != nil {
			m.logger.Error().Err(err).Str("service_name", s.Name).Msg("cleanup failed for service")
		}
	}

	if machineID != "" {
		m.mu.Lock()
		delete(m.activeServices, machineID)
		m.mu.Unlock()
	}
	return nil
}

// forceStopExisting removes the tracked service for machineID (if any),
// then queries the cluster by machine label to catch untracked
// stragglers. Every failure is logged and swallowed: a missing service is
// success, and a stuck one must never block startup.
func (m *Manager) forceStopExisting(ctx context.Context, machineID string) {
	m.mu.Lock()
	handle, ok := m.activeServices[machineID]
	delete(m.activeServices, machineID)
	m.mu.Unlock()

	if ok {
		m.deleteByID(ctx, handle.ID)
	}

	services, err := m.driver.ListServicesByLabel(ctx, map[string]string{types.LabelMachineID: machineID})
	if err != nil {
		m.logger.Warn().Err(err).Str("machine_id", machineID).Msg("error during force stop")
		return
	}
	for _, s := range services {
		m.logger.Info().Str("service_name", s.Name).Msg("force stopping straggler service")
		m.deleteByID(ctx, s.ID)
	}
}

func (m *Manager) deleteByID(ctx context.Context, serviceID string) {
	if err := m.driver.DeleteService(ctx, serviceID); err != nil {
		m.logger.Warn().Err(err).Str("service_id", serviceID).Msg("failed to remove service")
	}
}

// waitForReady polls task state at cfg.ReadinessPollInterval until
// cfg.ReadinessTimeout, succeeding on the first running task.
func (m *Manager) waitForReady(ctx context.Context, serviceID, serviceName string) bool {
	deadline := time.Now().Add(m.cfg.ReadinessTimeout)
	ticker := time.NewTicker(m.cfg.ReadinessPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		tasks, err := m.driver.ListTasks(ctx, serviceID)
		if err == nil {
			for _, t := range tasks {
				if t.State == types.TaskStateRunning {
					m.logger.Info().Str("service_name", serviceName).Int("running_tasks", 1).Msg("service is ready")
					return true
				}
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
	return false
}
