// Package controlplane wires the registry, rules engine, and container
// manager together into the single critical operation the control plane
// API exposes: executing a transition, swapping the backing container,
// and fanning the transition out to other machines via the rules engine.
package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edgesurveillance/eventbus/pkg/containermanager"
	"github.com/edgesurveillance/eventbus/pkg/log"
	"github.com/edgesurveillance/eventbus/pkg/metrics"
	"github.com/edgesurveillance/eventbus/pkg/registry"
	"github.com/edgesurveillance/eventbus/pkg/rules"
	"github.com/edgesurveillance/eventbus/pkg/types"
)

// TransitionResult is the outcome of Orchestrator.ExecuteTransition: the
// state pair for the requested transition plus the number of additional
// transitions the rules engine fanned out to.
type TransitionResult struct {
	MachineID       string
	OldState        types.State
	NewState        types.State
	TriggeredEvents int
}

// workItem is one pending fan-out transition: a target machine and the
// transition name the rules engine resolved for it, carried on a plain
// worklist rather than the call stack so that a long or cyclic rule
// chain cannot grow an unbounded Go call stack or deadlock across
// machine locks (spec section 5).
type workItem struct {
	machineID      string
	transitionName string
	eventData      map[string]interface{}
}

// Orchestrator owns the registry, rules engine, and container manager and
// drives the per-machine critical section spec section 4.5 describes.
type Orchestrator struct {
	registry   *registry.Registry
	rules      *rules.Engine
	containers *containermanager.Manager
	broker     *Broker
	logger     zerolog.Logger
}

// New creates an orchestrator over already-constructed components.
func New(reg *registry.Registry, rulesEngine *rules.Engine, containers *containermanager.Manager, broker *Broker) *Orchestrator {
	return &Orchestrator{
		registry:   reg,
		rules:      rulesEngine,
		containers: containers,
		broker:     broker,
		logger:     log.WithComponent("controlplane"),
	}
}

// LaunchInitialContainers starts the backing service for every
// registered machine's initial state. Readiness (GET /ready) is defined
// against this having been attempted for every machine, per spec section
// 4.5's supplemental endpoint note; a failure to launch one machine is
// logged and does not prevent the others from starting.
func (o *Orchestrator) LaunchInitialContainers(ctx context.Context) {
	for _, machineID := range o.registry.MachineIDs() {
		current, err := o.registry.CurrentState(machineID)
		if err != nil {
			continue
		}
		if err := o.containers.Start(ctx, machineID, current.Name, current.ContainerImage); err != nil {
			o.logger.Error().Err(err).Str("machine_id", machineID).Msg("failed to launch initial container")
		}
	}
}

// ExecuteTransition implements spec section 4.5's /transition handler
// body: it resolves the machine, checks the guard up front so the API
// layer can return a structured 400 on failure, then runs the critical
// section and processes any rule fan-out.
func (o *Orchestrator) ExecuteTransition(ctx context.Context, machineID, transitionName string, eventData map[string]interface{}) (TransitionResult, error) {
	canTransition, err := o.registry.CanTransition(machineID, transitionName)
	if err != nil {
		return TransitionResult{}, err
	}
	if !canTransition {
		current, _ := o.registry.CurrentState(machineID)
		available, _ := o.registry.AvailableTransitions(machineID)
		names := make([]string, len(available))
		for i, a := range available {
			names[i] = a.Name
		}
		return TransitionResult{}, &types.InvalidTransitionError{
			MachineID:            machineID,
			TransitionName:       transitionName,
			CurrentState:         current.Name,
			AvailableTransitions: names,
		}
	}

	oldState, newState, firstWave, err := o.executeOne(ctx, machineID, transitionName, eventData)
	if err != nil {
		return TransitionResult{}, err
	}

	triggered := o.drainWorklist(ctx, firstWave)

	return TransitionResult{
		MachineID:       machineID,
		OldState:        oldState,
		NewState:        newState,
		TriggeredEvents: triggered,
	}, nil
}

// drainWorklist processes fan-out transitions breadth-first, with a
// visited set keyed by (machine, transition) to stop rule cycles from
// looping forever. Each item acquires its own machine's lock only after
// the previous one has released its own, per spec section 5's
// recommendation to release-then-acquire rather than hold nested locks.
func (o *Orchestrator) drainWorklist(ctx context.Context, initial []workItem) int {
	queue := initial
	visited := make(map[string]bool)
	count := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		key := item.machineID + ":" + item.transitionName
		if visited[key] {
			continue
		}
		visited[key] = true

		_, _, next, err := o.executeOne(ctx, item.machineID, item.transitionName, item.eventData)
		if err != nil {
			o.logger.Warn().
				Err(err).
				Str("machine_id", item.machineID).
				Str("transition", item.transitionName).
				Msg("fan-out transition failed")
			continue
		}
		count++
		queue = append(queue, next...)
	}

	return count
}

// executeOne performs steps 3-6 of spec section 4.5 for one machine
// under that machine's lock: execute the guarded registry transition,
// swap the backing container, and resolve which further machines the
// rules engine's fan-out enables. It does not perform the pre-flight
// can_transition check; callers that need the structured 400 diagnostic
// must check that themselves first (ExecuteTransition does, for the
// machine named in the original request).
func (o *Orchestrator) executeOne(ctx context.Context, machineID, transitionName string, eventData map[string]interface{}) (oldState, newState types.State, next []workItem, err error) {
	unlock, err := o.registry.Lock(machineID)
	if err != nil {
		return types.State{}, types.State{}, nil, err
	}
	defer unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TransitionDuration, machineID)

	oldState, newState, err = o.registry.Execute(machineID, transitionName)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(machineID, outcomeLabel(err)).Inc()
		return types.State{}, types.State{}, nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(machineID, "success").Inc()

	o.broker.Publish(&DomainEvent{
		Type:      EventTransitionExecuted,
		MachineID: machineID,
		Message:   fmt.Sprintf("%s -> %s via %s", oldState.Name, newState.Name, transitionName),
	})

	// A container failure here must not undo the logical transition the
	// registry already committed (spec section 4.5 step 4 / section 9):
	// log and continue rather than returning an error.
	if cmErr := o.containers.Transition(ctx, machineID, oldState, newState); cmErr != nil {
		o.logger.Error().Err(cmErr).Str("machine_id", machineID).Msg("container transition failed; machine state already advanced")
		metrics.ContainerOperationsTotal.WithLabelValues("transition", "failure").Inc()
		o.broker.Publish(&DomainEvent{
			Type:      EventContainerTransitionError,
			MachineID: machineID,
			Message:   cmErr.Error(),
		})
	} else {
		metrics.ContainerOperationsTotal.WithLabelValues("transition", "success").Inc()
	}

	triggeredEvents := o.rules.TriggeredEvents(machineID, transitionName, eventData)
	for _, te := range triggeredEvents {
		metrics.TriggeredEventsTotal.WithLabelValues(machineID, te.TargetMachine).Inc()

		canHandle, err := o.registry.CanHandleEvent(te.TargetMachine, te.Event)
		if err != nil {
			o.logger.Warn().Err(err).Str("target_machine", te.TargetMachine).Msg("rule targets unknown machine; skipping")
			continue
		}
		if !canHandle {
			o.logger.Info().
				Str("target_machine", te.TargetMachine).
				Str("event", te.Event.Name).
				Msg("target machine cannot handle triggered event; skipping")
			continue
		}

		targetTransition, ok, err := o.registry.TransitionForEvent(te.TargetMachine, te.Event)
		if err != nil || !ok {
			continue
		}

		next = append(next, workItem{
			machineID:      te.TargetMachine,
			transitionName: targetTransition,
			eventData:      te.Event.Data,
		})
	}

	return oldState, newState, next, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case isInvalidTransition(err):
		return "invalid"
	default:
		return "error"
	}
}

func isInvalidTransition(err error) bool {
	var invalidErr *types.InvalidTransitionError
	return errors.As(err, &invalidErr)
}
