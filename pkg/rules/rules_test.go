package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesurveillance/eventbus/pkg/types"
)

func TestTriggeredEventsUnconditionalRule(t *testing.T) {
	e := New([]types.Rule{
		{SourceMachine: "detector", SourceTransition: "person_detected", TargetMachine: "surveillance", TargetEvent: "foundPersons"},
	})

	events := e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"count": 2})
	require.Len(t, events, 1)
	assert.Equal(t, "surveillance", events[0].TargetMachine)
	assert.Equal(t, "foundPersons", events[0].Event.Name)
	assert.Equal(t, "detector", events[0].Event.SourceMachine)
	assert.Equal(t, "person_detected", events[0].Event.SourceTransition)
}

func TestTriggeredEventsNoMatchingSource(t *testing.T) {
	e := New([]types.Rule{
		{SourceMachine: "detector", SourceTransition: "person_detected", TargetMachine: "surveillance", TargetEvent: "foundPersons"},
	})

	events := e.TriggeredEvents("detector", "finish_processing", nil)
	assert.Empty(t, events)
}

func TestGreaterThanPredicate(t *testing.T) {
	e := New([]types.Rule{
		{
			SourceMachine: "detector", SourceTransition: "person_detected",
			TargetMachine: "surveillance", TargetEvent: "highConfidence",
			Conditions: map[string]interface{}{"confidence": ">0.8"},
		},
	})

	assert.Len(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"confidence": 0.95}), 1)
	assert.Empty(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"confidence": 0.5}))
	assert.Empty(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"confidence": "not-a-number"}))
}

func TestLessThanPredicate(t *testing.T) {
	e := New([]types.Rule{
		{
			SourceMachine: "detector", SourceTransition: "person_detected",
			TargetMachine: "surveillance", TargetEvent: "lowLight",
			Conditions: map[string]interface{}{"lux": "<10"},
		},
	})

	assert.Len(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"lux": 3}), 1)
	assert.Empty(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"lux": 50}))
}

func TestExactMatchPredicate(t *testing.T) {
	e := New([]types.Rule{
		{
			SourceMachine: "detector", SourceTransition: "person_detected",
			TargetMachine: "surveillance", TargetEvent: "zoneAlert",
			Conditions: map[string]interface{}{"zone": "restricted"},
		},
	})

	assert.Len(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"zone": "restricted"}), 1)
	assert.Empty(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{"zone": "public"}))
}

func TestMissingKeyFailsPredicate(t *testing.T) {
	e := New([]types.Rule{
		{
			SourceMachine: "detector", SourceTransition: "person_detected",
			TargetMachine: "surveillance", TargetEvent: "zoneAlert",
			Conditions: map[string]interface{}{"zone": "restricted"},
		},
	})

	assert.Empty(t, e.TriggeredEvents("detector", "person_detected", map[string]interface{}{}))
}

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	e := Load("/nonexistent/transition-rules.yaml")
	events := e.TriggeredEvents("detector", "person_detected", map[string]interface{}{})
	require.Len(t, events, 1)
	assert.Equal(t, "surveillance", events[0].TargetMachine)
	assert.Equal(t, "foundPersons", events[0].Event.Name)
}
