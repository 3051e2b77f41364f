// Package registry implements the state machine registry: a set of
// independently-configured finite state machines, each with a current
// state, guarded transitions, and event-driven introspection.
package registry

import (
	"fmt"
	"sync"

	"github.com/edgesurveillance/eventbus/pkg/types"
)

// Machine is one finite state machine: a named set of states and the
// transitions between them, with exactly one state active at a time.
type Machine struct {
	ID           string
	states       map[string]*types.State
	transitions  map[string]*types.Transition
	order        []string // transition names in configuration order
	currentState string
}

// CanTransition reports whether transitionName is both declared and
// enabled from the machine's current state.
func (m *Machine) CanTransition(transitionName string) bool {
	t, ok := m.transitions[transitionName]
	if !ok {
		return false
	}
	return t.FromState == m.currentState
}

// CurrentState returns a copy of the machine's active state.
func (m *Machine) CurrentState() types.State {
	return *m.states[m.currentState]
}

// AvailableTransitions lists every transition enabled from the current
// state, in configuration order.
func (m *Machine) AvailableTransitions() []types.AvailableTransition {
	var out []types.AvailableTransition
	for _, name := range m.order {
		t := m.transitions[name]
		if t.FromState == m.currentState {
			out = append(out, types.AvailableTransition{
				Name:         t.Name,
				ToState:      t.ToState,
				TriggerEvent: t.TriggerEvent,
			})
		}
	}
	return out
}

// CanHandleEvent reports whether some transition enabled from the
// current state is triggered by event.Name.
func (m *Machine) CanHandleEvent(event types.Event) bool {
	_, ok := m.transitionForEvent(event)
	return ok
}

// TransitionForEvent returns the name of the first enabled transition
// (in configuration order) triggered by event.Name.
func (m *Machine) TransitionForEvent(event types.Event) (string, bool) {
	t, ok := m.transitionForEvent(event)
	if !ok {
		return "", false
	}
	return t.Name, true
}

func (m *Machine) transitionForEvent(event types.Event) (*types.Transition, bool) {
	for _, name := range m.order {
		t := m.transitions[name]
		if t.FromState == m.currentState && t.TriggerEvent != "" && t.TriggerEvent == event.Name {
			return t, true
		}
	}
	return nil, false
}

// Registry holds every configured machine and serializes transitions
// per-machine (spec section 5): the caller acquires a machine's lock for
// the whole execute/container-swap/fan-out critical section by calling
// Lock before Execute and the returned unlock function afterwards.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	locks    map[string]*sync.Mutex
}

// New creates an empty registry. Populate it with AddMachine, using
// machines built by NewMachine or LoadMachineConfigFile.
func New() *Registry {
	return &Registry{
		machines: make(map[string]*Machine),
		locks:    make(map[string]*sync.Mutex),
	}
}

// AddMachine registers a fully-constructed machine, as produced by
// NewMachine or LoadMachineConfigFile. It is not safe to call concurrently with Lock/Execute
// on the same machine id; registration happens at startup, before the
// control plane begins serving.
func (r *Registry) AddMachine(m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[m.ID] = m
	r.locks[m.ID] = &sync.Mutex{}
}

// MachineIDs returns every registered machine id.
func (r *Registry) MachineIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.machines))
	for id := range r.machines {
		ids = append(ids, id)
	}
	return ids
}

// Lock acquires the logical per-machine lock named by machineID. It
// returns types.ErrUnknownMachine if no such machine is registered.
// Callers must call the returned unlock function exactly once.
func (r *Registry) Lock(machineID string) (unlock func(), err error) {
	r.mu.RLock()
	lock, ok := r.locks[machineID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownMachine, machineID)
	}
	lock.Lock()
	return lock.Unlock, nil
}

// machine looks up a machine by id under the registry's read lock.
func (r *Registry) machine(machineID string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[machineID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownMachine, machineID)
	}
	return m, nil
}

// Execute performs the guarded transition described in spec section 4.3:
// look up the machine and transition, check the guard, flip active
// state, and return the (old, new) state pair. Callers are expected to
// hold the machine's lock (via Lock) for the duration of the larger
// critical section this participates in.
func (r *Registry) Execute(machineID, transitionName string) (oldState, newState types.State, err error) {
	m, err := r.machine(machineID)
	if err != nil {
		return types.State{}, types.State{}, err
	}

	t, ok := m.transitions[transitionName]
	if !ok {
		return types.State{}, types.State{}, fmt.Errorf("%w: %s", types.ErrUnknownTransition, transitionName)
	}

	if m.currentState != t.FromState {
		return types.State{}, types.State{}, &types.InvalidTransitionError{
			MachineID:            machineID,
			TransitionName:       transitionName,
			CurrentState:         m.currentState,
			AvailableTransitions: transitionNames(m.AvailableTransitions()),
		}
	}

	old := m.states[m.currentState]
	old.Deactivate()

	next := m.states[t.ToState]
	next.Activate()

	m.currentState = t.ToState

	return *old, *next, nil
}

// CanTransition reports whether transitionName is declared and enabled
// on machineID's current state.
func (r *Registry) CanTransition(machineID, transitionName string) (bool, error) {
	m, err := r.machine(machineID)
	if err != nil {
		return false, err
	}
	return m.CanTransition(transitionName), nil
}

// CurrentState returns machineID's current state.
func (r *Registry) CurrentState(machineID string) (types.State, error) {
	m, err := r.machine(machineID)
	if err != nil {
		return types.State{}, err
	}
	return m.CurrentState(), nil
}

// AvailableTransitions lists the transitions enabled from machineID's
// current state.
func (r *Registry) AvailableTransitions(machineID string) ([]types.AvailableTransition, error) {
	m, err := r.machine(machineID)
	if err != nil {
		return nil, err
	}
	return m.AvailableTransitions(), nil
}

// CanHandleEvent reports whether machineID has an enabled transition
// triggered by event.Name.
func (r *Registry) CanHandleEvent(machineID string, event types.Event) (bool, error) {
	m, err := r.machine(machineID)
	if err != nil {
		return false, err
	}
	return m.CanHandleEvent(event), nil
}

// TransitionForEvent resolves the transition name machineID would run
// for event, if any.
func (r *Registry) TransitionForEvent(machineID string, event types.Event) (string, bool, error) {
	m, err := r.machine(machineID)
	if err != nil {
		return "", false, err
	}
	name, ok := m.TransitionForEvent(event)
	return name, ok, nil
}

func transitionNames(ts []types.AvailableTransition) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}
