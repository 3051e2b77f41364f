package controlplane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesurveillance/eventbus/pkg/cluster/sim"
	"github.com/edgesurveillance/eventbus/pkg/containermanager"
	"github.com/edgesurveillance/eventbus/pkg/registry"
	"github.com/edgesurveillance/eventbus/pkg/rules"
	"github.com/edgesurveillance/eventbus/pkg/types"
)

func detectorMachineConfig() registry.MachineConfig {
	return registry.MachineConfig{
		States: map[string]registry.StateConfig{
			"capturing":  {ContainerImage: "cap"},
			"processing": {ContainerImage: "proc"},
		},
		Transitions: []registry.TransitionConfig{
			{Name: "image_captured", FromState: "capturing", ToState: "processing"},
			{Name: "person_detected", FromState: "processing", ToState: "capturing"},
			{Name: "processing_complete", FromState: "processing", ToState: "capturing"},
		},
		InitialState: "capturing",
	}
}

func surveillanceMachineConfig() registry.MachineConfig {
	return registry.MachineConfig{
		States: map[string]registry.StateConfig{
			"disarmed":  {ContainerImage: "d"},
			"analyzing": {ContainerImage: "a"},
			"alarm":     {ContainerImage: "x"},
		},
		Transitions: []registry.TransitionConfig{
			{Name: "foundPersons", FromState: "disarmed", ToState: "analyzing", TriggerEvent: "foundPersons"},
			{Name: "threat_detected", FromState: "analyzing", ToState: "alarm"},
			{Name: "no_threat", FromState: "analyzing", ToState: "disarmed"},
			{Name: "disarm_alarm", FromState: "alarm", ToState: "disarmed"},
		},
		InitialState: "disarmed",
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	detector, err := registry.NewMachine("detector", detectorMachineConfig())
	require.NoError(t, err)
	surveillance, err := registry.NewMachine("surveillance", surveillanceMachineConfig())
	require.NoError(t, err)

	reg := registry.New()
	reg.AddMachine(detector)
	reg.AddMachine(surveillance)

	rulesEngine := rules.New([]types.Rule{
		{
			SourceMachine:    "detector",
			SourceTransition: "person_detected",
			TargetMachine:    "surveillance",
			TargetEvent:      "foundPersons",
		},
	})

	containers := containermanager.New(sim.New(), containermanager.Config{SettleDelay: 0})
	broker := NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(reg, rulesEngine, containers, broker)
}

func TestScenarioNoRuleFires(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	result, err := o.ExecuteTransition(ctx, "detector", "image_captured", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "processing", result.NewState.Name)
	assert.Equal(t, 0, result.TriggeredEvents)
}

func TestScenarioRuleFiresAcrossMachines(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.ExecuteTransition(ctx, "detector", "image_captured", map[string]interface{}{})
	require.NoError(t, err)

	result, err := o.ExecuteTransition(ctx, "detector", "person_detected", map[string]interface{}{"confidence": 0.9})
	require.NoError(t, err)
	assert.Equal(t, "capturing", result.NewState.Name)
	assert.Equal(t, 1, result.TriggeredEvents)

	surveillanceState, err := o.registry.CurrentState("surveillance")
	require.NoError(t, err)
	assert.Equal(t, "analyzing", surveillanceState.Name)
}

func TestScenarioDirectTransitionOnFannedOutMachine(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.ExecuteTransition(ctx, "detector", "image_captured", map[string]interface{}{})
	require.NoError(t, err)
	_, err = o.ExecuteTransition(ctx, "detector", "person_detected", map[string]interface{}{"confidence": 0.9})
	require.NoError(t, err)

	result, err := o.ExecuteTransition(ctx, "surveillance", "threat_detected", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "alarm", result.NewState.Name)
}

func TestScenarioInvalidTransitionReturns400Shape(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	// detector starts in "capturing"; person_detected requires "processing".
	_, err := o.ExecuteTransition(ctx, "detector", "person_detected", map[string]interface{}{})
	require.Error(t, err)

	var invalidErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, []string{"image_captured"}, invalidErr.AvailableTransitions)

	current, stateErr := o.registry.CurrentState("detector")
	require.NoError(t, stateErr)
	assert.Equal(t, "capturing", current.Name, "a rejected transition must not mutate state")
}

func TestScenarioStatusAfterFullSequence(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.ExecuteTransition(ctx, "detector", "image_captured", map[string]interface{}{})
	require.NoError(t, err)
	_, err = o.ExecuteTransition(ctx, "detector", "person_detected", map[string]interface{}{"confidence": 0.9})
	require.NoError(t, err)
	_, err = o.ExecuteTransition(ctx, "surveillance", "threat_detected", map[string]interface{}{})
	require.NoError(t, err)

	detectorState, err := o.registry.CurrentState("detector")
	require.NoError(t, err)
	assert.Equal(t, "capturing", detectorState.Name)

	surveillanceState, err := o.registry.CurrentState("surveillance")
	require.NoError(t, err)
	assert.Equal(t, "alarm", surveillanceState.Name)

	detectorAvailable, err := o.registry.AvailableTransitions("detector")
	require.NoError(t, err)
	assert.Len(t, detectorAvailable, 1)
	assert.Equal(t, "image_captured", detectorAvailable[0].Name)
}

func TestScenarioConditionBlocksFanOut(t *testing.T) {
	detector, err := registry.NewMachine("detector", detectorMachineConfig())
	require.NoError(t, err)
	surveillance, err := registry.NewMachine("surveillance", surveillanceMachineConfig())
	require.NoError(t, err)

	reg := registry.New()
	reg.AddMachine(detector)
	reg.AddMachine(surveillance)

	rulesEngine := rules.New([]types.Rule{
		{
			SourceMachine:    "detector",
			SourceTransition: "person_detected",
			TargetMachine:    "surveillance",
			TargetEvent:      "foundPersons",
			Conditions:       map[string]interface{}{"confidence": ">0.8"},
		},
	})

	containers := containermanager.New(sim.New(), containermanager.Config{SettleDelay: 0})
	broker := NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	o := New(reg, rulesEngine, containers, broker)
	ctx := context.Background()

	_, err = o.ExecuteTransition(ctx, "detector", "image_captured", map[string]interface{}{})
	require.NoError(t, err)

	result, err := o.ExecuteTransition(ctx, "detector", "person_detected", map[string]interface{}{"confidence": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TriggeredEvents)

	surveillanceState, err := o.registry.CurrentState("surveillance")
	require.NoError(t, err)
	assert.Equal(t, "disarmed", surveillanceState.Name)
}

func TestLaunchInitialContainersStartsEveryMachine(t *testing.T) {
	o := newTestOrchestrator(t)
	o.LaunchInitialContainers(context.Background())

	status := o.containers.Status(context.Background(), "detector")
	assert.Equal(t, "running", status.Status)

	status = o.containers.Status(context.Background(), "surveillance")
	assert.Equal(t, "running", status.Status)
}
