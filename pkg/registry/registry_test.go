package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesurveillance/eventbus/pkg/types"
)

func detectorConfig() MachineConfig {
	return MachineConfig{
		States: map[string]StateConfig{
			"idle":       {ContainerImage: "detector-idle:latest"},
			"capturing":  {ContainerImage: "detector-capture:latest"},
			"processing": {ContainerImage: "detector-process:latest"},
		},
		Transitions: []TransitionConfig{
			{Name: "start_capture", FromState: "idle", ToState: "capturing", TriggerEvent: "start"},
			{Name: "person_detected", FromState: "capturing", ToState: "processing", TriggerEvent: ""},
			{Name: "finish_processing", FromState: "processing", ToState: "idle", TriggerEvent: "done"},
		},
		InitialState: "idle",
	}
}

func TestNewMachineRejectsUndeclaredInitialState(t *testing.T) {
	cfg := detectorConfig()
	cfg.InitialState = "nonexistent"
	_, err := NewMachine("detector", cfg)
	assert.Error(t, err)
}

func TestNewMachineRejectsUndeclaredTransitionState(t *testing.T) {
	cfg := detectorConfig()
	cfg.Transitions = append(cfg.Transitions, TransitionConfig{Name: "bad", FromState: "idle", ToState: "ghost"})
	_, err := NewMachine("detector", cfg)
	assert.Error(t, err)
}

func TestExecuteHappyPath(t *testing.T) {
	m, err := NewMachine("detector", detectorConfig())
	require.NoError(t, err)

	r := New()
	r.AddMachine(m)

	old, next, err := r.Execute("detector", "start_capture")
	require.NoError(t, err)
	assert.Equal(t, "idle", old.Name)
	assert.False(t, old.Active)
	assert.Equal(t, "capturing", next.Name)
	assert.True(t, next.Active)

	current, err := r.CurrentState("detector")
	require.NoError(t, err)
	assert.Equal(t, "capturing", current.Name)
}

func TestExecuteUnknownMachine(t *testing.T) {
	r := New()
	_, _, err := r.Execute("ghost", "start_capture")
	assert.ErrorIs(t, err, types.ErrUnknownMachine)
}

func TestExecuteUnknownTransition(t *testing.T) {
	m, err := NewMachine("detector", detectorConfig())
	require.NoError(t, err)
	r := New()
	r.AddMachine(m)

	_, _, err = r.Execute("detector", "no_such_transition")
	assert.ErrorIs(t, err, types.ErrUnknownTransition)
}

func TestExecuteInvalidTransitionFromWrongState(t *testing.T) {
	m, err := NewMachine("detector", detectorConfig())
	require.NoError(t, err)
	r := New()
	r.AddMachine(m)

	// person_detected requires "capturing"; current state is "idle".
	_, _, err = r.Execute("detector", "person_detected")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	var invalidErr *types.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, "idle", invalidErr.CurrentState)
	assert.Contains(t, invalidErr.AvailableTransitions, "start_capture")
}

func TestAvailableTransitionsReflectsCurrentState(t *testing.T) {
	m, err := NewMachine("detector", detectorConfig())
	require.NoError(t, err)
	r := New()
	r.AddMachine(m)

	available, err := r.AvailableTransitions("detector")
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "start_capture", available[0].Name)
}

func TestCanHandleEventAndTransitionForEvent(t *testing.T) {
	m, err := NewMachine("detector", detectorConfig())
	require.NoError(t, err)
	r := New()
	r.AddMachine(m)

	ok, err := r.CanHandleEvent("detector", types.Event{Name: "start"})
	require.NoError(t, err)
	assert.True(t, ok)

	name, ok, err := r.TransitionForEvent("detector", types.Event{Name: "start"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "start_capture", name)

	ok, err = r.CanHandleEvent("detector", types.Event{Name: "no-such-event"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockSerializesPerMachine(t *testing.T) {
	m, err := NewMachine("detector", detectorConfig())
	require.NoError(t, err)
	r := New()
	r.AddMachine(m)

	unlock, err := r.Lock("detector")
	require.NoError(t, err)
	unlock()

	_, err = r.Lock("ghost")
	assert.ErrorIs(t, err, types.ErrUnknownMachine)
}
