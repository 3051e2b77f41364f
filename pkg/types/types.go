package types

import "time"

// State is a single node in a machine's finite state graph. It carries the
// container image that backs it while it is active.
type State struct {
	Name           string
	ContainerImage string
	Active         bool
	ActivatedAt    time.Time
}

// Activate marks the state as the machine's current state.
func (s *State) Activate() {
	s.Active = true
	s.ActivatedAt = time.Now()
}

// Deactivate clears the active flag.
func (s *State) Deactivate() {
	s.Active = false
}

// Transition is a directed, named edge between two states of one machine.
// TriggerEvent, when non-empty, is the external event name that selects
// this transition when delivered to the machine.
type Transition struct {
	Name         string
	FromState    string
	ToState      string
	TriggerEvent string
}

// AvailableTransition is the introspection-facing projection of a
// Transition, as returned by the registry and the control plane API.
type AvailableTransition struct {
	Name         string `json:"name"`
	ToState      string `json:"to_state"`
	TriggerEvent string `json:"trigger_event,omitempty"`
}

// Event is a named signal with a payload, produced by the rules engine and
// consumed by a target machine to select a transition via TriggerEvent.
type Event struct {
	Name             string                 `json:"name"`
	Data             map[string]interface{} `json:"data"`
	Timestamp        time.Time              `json:"timestamp"`
	SourceMachine    string                 `json:"source_machine"`
	SourceTransition string                 `json:"source_transition"`
}

// Rule declaratively maps one machine's transition to another machine's
// event, optionally gated by predicates evaluated against the event
// payload that accompanied the source transition.
type Rule struct {
	SourceMachine    string
	SourceTransition string
	TargetMachine    string
	TargetEvent      string
	Conditions       map[string]interface{}
}

// TriggeredEvent is one (target machine, event) pair produced by the rules
// engine for a given source transition.
type TriggeredEvent struct {
	TargetMachine string
	Event         Event
}

// ServiceHandle is the opaque cluster-level handle to a created service.
type ServiceHandle struct {
	ID   string
	Name string
}

// ResourceLimits expresses the CPU/memory shape a service is created with.
// CPU units follow the "nano CPU" convention (1e9 = one full core);
// memory is in bytes.
type ResourceLimits struct {
	CPULimit          int64
	CPUReservation    int64
	MemoryLimit       int64
	MemoryReservation int64
}

// CreateServiceRequest is the input to Driver.CreateService.
type CreateServiceRequest struct {
	Name                 string
	Image                string
	Env                  map[string]string
	Labels               map[string]string
	Resources            ResourceLimits
	PlacementConstraints []string
	Network              string
}

// TaskState mirrors the lifecycle states a cluster task passes through.
type TaskState string

const (
	TaskStateNew       TaskState = "new"
	TaskStatePending   TaskState = "pending"
	TaskStateAssigned  TaskState = "assigned"
	TaskStateAccepted  TaskState = "accepted"
	TaskStatePreparing TaskState = "preparing"
	TaskStateStarting  TaskState = "starting"
	TaskStateRunning   TaskState = "running"
	TaskStateComplete  TaskState = "complete"
	TaskStateFailed    TaskState = "failed"
	TaskStateShutdown  TaskState = "shutdown"
	TaskStateRejected  TaskState = "rejected"
	TaskStateOrphaned  TaskState = "orphaned"
)

// TaskInfo is one running (or scheduled) instance of a service.
type TaskInfo struct {
	ID           string
	State        TaskState
	DesiredState TaskState
	NodeID       string
}

// NodeAvailability mirrors the orchestrator's node availability field.
type NodeAvailability string

const (
	NodeAvailabilityActive NodeAvailability = "active"
	NodeAvailabilityPause  NodeAvailability = "pause"
	NodeAvailabilityDrain  NodeAvailability = "drain"
)

// NodeState is the orchestrator-reported readiness of a cluster node.
type NodeState string

const (
	NodeStateReady        NodeState = "ready"
	NodeStateDown         NodeState = "down"
	NodeStateDisconnected NodeState = "disconnected"
	NodeStateUnknown      NodeState = "unknown"
)

// NodeInfo describes one cluster node as reported by the Cluster Driver.
type NodeInfo struct {
	NodeID       string
	Hostname     string
	State        NodeState
	Availability NodeAvailability
	NanoCPUs     int64
	MemoryBytes  int64
	RunningTasks int
	Labels       map[string]string
}

// ClusterInfo summarizes cluster membership, as reported by the Cluster
// Driver's cluster_info operation.
type ClusterInfo struct {
	LocalNodeID      string
	LocalNodeAddr    string
	LocalNodeState   string
	Managers         int
	Nodes            int
	ControlAvailable bool
}

// Label and application tag conventions from spec.md section 6.
const (
	LabelMachineID = "machine-id"
	LabelState     = "state"
	LabelApp       = "app"

	LabelRole     = "role"
	EdgeRoleValue = "edge"

	ApplicationTag = "edge-surveillance"
)

// Environment variable names injected into every state-worker container.
const (
	EnvMachineID   = "MACHINE_ID"
	EnvStateName   = "STATE_NAME"
	EnvEventBusURL = "EVENT_BUS_URL"
)
